package domain

import (
	"fmt"
	"time"
)

// AuditEvent names a row in the audit log.
type AuditEvent string

const (
	AuditBoardCreated     AuditEvent = "board_created"
	AuditBoardUpdated     AuditEvent = "board_updated"
	AuditMemberRegistered AuditEvent = "member_registered"
	AuditMemberPlaced     AuditEvent = "member_placed"
	AuditMemberReentered  AuditEvent = "member_reentered"
	AuditInstanceCycled   AuditEvent = "instance_cycled"
	AuditSubtreeCycled    AuditEvent = "subtree_cycled"
	AuditCommissionFailed AuditEvent = "commission_failed"
)

// AuditArchive names the event written after a cold-storage export of kind.
func AuditArchive(kind string) AuditEvent {
	return AuditEvent("archive." + kind)
}

// AuditEntry is a single audit log row. BoardID and MemberID are lifted
// from the detail's board_id and member_id keys when present.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     AuditEvent     `json:"event"`
	BoardID   string         `json:"board_id,omitempty"`
	MemberID  string         `json:"member_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditSubject extracts the board and member a detail map refers to.
func AuditSubject(detail map[string]any) (boardID, memberID string) {
	str := func(key string) string {
		v, ok := detail[key]
		if !ok || v == nil {
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return str("board_id"), str("member_id")
}
