package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BonusType identifies what a ledger entry pays for.
type BonusType string

const (
	BonusReferral BonusType = "REFERRAL"
	BonusMatrix   BonusType = "MATRIX"
	BonusMatching BonusType = "MATCHING"
	BonusCycle    BonusType = "CYCLE"
)

// LedgerStatus tracks settlement of an entry. Entries only move from
// PENDING to PAID or FAILED.
type LedgerStatus string

const (
	LedgerStatusPending LedgerStatus = "PENDING"
	LedgerStatusPaid    LedgerStatus = "PAID"
	LedgerStatusFailed  LedgerStatus = "FAILED"
)

// LedgerEntry records the intent to credit a member. (SourcePositionID,
// Type, Level) is unique; Level is the chain depth for MATRIX and MATCHING
// entries and 0 otherwise.
//
// REFERRAL and MATCHING entries also carry SourceMemberID, the purchasing
// member, and (SourceMemberID, Type, Level) is unique as well: a member
// earns their sponsor chain these bonuses once, on their first purchase.
type LedgerEntry struct {
	ID               string          `json:"id"`
	RecipientID      string          `json:"recipient_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Type             BonusType       `json:"type"`
	SourcePositionID string          `json:"source_position_id"`
	SourceMemberID   string          `json:"source_member_id,omitempty"`
	Level            int             `json:"level"`
	BoardID          string          `json:"board_id"`
	Status           LedgerStatus    `json:"status"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	SettledAt        *time.Time      `json:"settled_at,omitempty"`
}
