package domain

import "time"

// PositionStatus is the lifecycle state of a slot.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusFilled PositionStatus = "FILLED"
	PositionStatusCycled PositionStatus = "CYCLED"
)

// Occupied reports whether the slot has ever been filled.
func (s PositionStatus) Occupied() bool {
	return s == PositionStatusFilled || s == PositionStatusCycled
}

// Position is one slot of one tree instance.
type Position struct {
	ID          string         `json:"id"`
	BoardID     string         `json:"board_id"`
	InstanceID  string         `json:"instance_id"`
	SlotIndex   int            `json:"slot_index"`
	OccupantID  string         `json:"occupant_id,omitempty"`
	Status      PositionStatus `json:"status"`
	FilledBelow int            `json:"filled_below"` // FILLED or CYCLED descendants
	FilledAt    *time.Time     `json:"filled_at,omitempty"`
	CycledAt    *time.Time     `json:"cycled_at,omitempty"`
	// Reentered is set once a cycled occupant has been recycled (or the
	// re-entry was deliberately skipped); RecycledInto names the new
	// instance when there is one.
	Reentered    bool   `json:"reentered"`
	RecycledInto string `json:"recycled_into,omitempty"`
	// Commissioned is set once the placement's commissions are on the
	// ledger. Re-entry roots post nothing and start commissioned.
	Commissioned bool      `json:"commissioned"`
	CreatedAt    time.Time `json:"created_at"`
}

// InstanceStatus is the lifecycle state of a tree instance.
type InstanceStatus string

const (
	InstanceStatusOpen   InstanceStatus = "open"
	InstanceStatusCycled InstanceStatus = "cycled"
)

// Instance is one independently filling occurrence of a board's tree.
type Instance struct {
	ID           string `json:"id"`
	BoardID      string `json:"board_id"`
	RootMemberID string `json:"root_member_id"`
	// OriginPositionID is the cycled position whose occupant re-entered
	// into this instance; empty for purchase-driven instances.
	OriginPositionID string         `json:"origin_position_id,omitempty"`
	Status           InstanceStatus `json:"status"`
	Filled           int            `json:"filled"`
	Capacity         int            `json:"capacity"`
	CreatedAt        time.Time      `json:"created_at"`
	CycledAt         *time.Time     `json:"cycled_at,omitempty"`
}

// InstanceAllocation describes a new instance and its root slot.
type InstanceAllocation struct {
	BoardID          string
	RootMemberID     string
	RootFilled       bool // false reserves the root for a pending occupant
	OriginPositionID string
	Capacity         int
	MaxInstances     int
	At               time.Time
}

// SlotClaim is an atomic "set FILLED iff OPEN" request. Ancestors are the
// claimed slot's ancestors, nearest first.
type SlotClaim struct {
	BoardID    string
	InstanceID string
	SlotIndex  int
	MemberID   string
	Ancestors  []int
	At         time.Time
}

// NodeState is a post-claim snapshot of one slot on the claimed path.
type NodeState struct {
	PositionID  string
	SlotIndex   int
	OccupantID  string
	Status      PositionStatus
	FilledBelow int
}

// ClaimResult is the outcome of a successful claim: the filled position and
// the updated state of its ancestors, nearest first.
type ClaimResult struct {
	Position  Position
	Instance  Instance
	Ancestors []NodeState
}

// CycleCompletion is the atomic "mark CYCLED iff FILLED and post the cycle
// bonus" request.
type CycleCompletion struct {
	InstanceID string
	SlotIndex  int
	IsRoot     bool
	Entry      *LedgerEntry // nil when there is nothing to pay
	At         time.Time
}

// InstanceCounts summarises instances of one board.
type InstanceCounts struct {
	Total        int64
	Open         int64
	Cycled       int64
	FilledOpen   int64 // filled slots across open instances
	CapacityOpen int64 // slot capacity across open instances
}
