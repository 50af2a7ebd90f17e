package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BoardStore persists the board catalog.
type BoardStore interface {
	Create(ctx context.Context, board Board) error
	Update(ctx context.Context, board Board) error
	GetByID(ctx context.Context, id string) (Board, error)
	List(ctx context.Context, filter BoardFilter) ([]Board, error)
	// HasPositions reports whether any position references the board.
	HasPositions(ctx context.Context, boardID string) (bool, error)
}

// MemberStore persists members and their fixed referral sponsor.
type MemberStore interface {
	// Register inserts the member if absent and returns the stored record.
	// An existing member keeps its original sponsor.
	Register(ctx context.Context, member Member) (Member, bool, error)
	GetByID(ctx context.Context, id string) (Member, error)
}

// InstanceStore persists tree instances.
type InstanceStore interface {
	// Allocate creates an instance and its root position in one step. It
	// fails with ErrBoardFull when the board already has MaxInstances open
	// instances, and with ErrAlreadyExists when OriginPositionID was used.
	Allocate(ctx context.Context, alloc InstanceAllocation) (Instance, Position, error)
	GetByID(ctx context.Context, id string) (Instance, error)
	FindByOrigin(ctx context.Context, originPositionID string) (Instance, error)
	// FindPendingRoot returns the oldest open instance of the board whose
	// root is reserved for, but not yet filled by, the member. A full
	// instance waiting on its root must never be skipped.
	FindPendingRoot(ctx context.Context, boardID, memberID string) (Instance, error)
	ListByBoard(ctx context.Context, boardID string, opts ListOpts) ([]Instance, error)
	Counts(ctx context.Context, boardID string) (InstanceCounts, error)
	// ListFullOpen returns open instances whose every slot is filled; these
	// are completions that were interrupted before the cycle was recorded.
	ListFullOpen(ctx context.Context, limit int) ([]Instance, error)
	ListCycledBefore(ctx context.Context, before time.Time, limit int) ([]Instance, error)
}

// PositionStore persists matrix slots.
type PositionStore interface {
	// Claim fills a slot iff it is OPEN (or absent) and bumps the
	// filled-below counter of every ancestor in the same transaction.
	// Returns ErrSlotTaken on a lost race, ErrInstanceClosed when the
	// instance already cycled and ErrMemberAlreadyPlaced when the member
	// holds another slot of the instance.
	Claim(ctx context.Context, claim SlotClaim) (ClaimResult, error)
	// CompleteCycle marks the slot CYCLED iff it is FILLED and records the
	// cycle ledger entry atomically. applied is false for a no-op.
	CompleteCycle(ctx context.Context, c CycleCompletion) (applied bool, err error)
	GetByID(ctx context.Context, id string) (Position, error)
	GetSlot(ctx context.Context, instanceID string, slotIndex int) (Position, error)
	ListByInstance(ctx context.Context, instanceID string) ([]Position, error)
	ListByOccupant(ctx context.Context, memberID string) ([]Position, error)
	// ListActiveByOccupant returns the member's OPEN (reserved) and FILLED
	// slots on open instances of the board, newest instance first.
	ListActiveByOccupant(ctx context.Context, boardID, memberID string) ([]Position, error)
	ListCycledAwaitingReentry(ctx context.Context, limit int) ([]Position, error)
	MarkReentered(ctx context.Context, positionID, instanceID string) error
	// ListUncommissioned returns occupied slots whose placement commissions
	// were never confirmed posted, oldest fill first.
	ListUncommissioned(ctx context.Context, limit int) ([]Position, error)
	MarkCommissioned(ctx context.Context, positionID string) error
}

// LedgerStore persists commission ledger entries.
type LedgerStore interface {
	// PostBatch inserts entries, ignoring any whose (source position,
	// type, level) or (source member, type, level) already exists, and
	// returns the entries actually inserted.
	PostBatch(ctx context.Context, entries []LedgerEntry) ([]LedgerEntry, error)
	GetByID(ctx context.Context, id string) (LedgerEntry, error)
	ListPending(ctx context.Context, limit int) ([]LedgerEntry, error)
	// MarkStatus moves a PENDING entry to PAID or FAILED. Entries in any
	// other state are left alone and ErrNotFound is returned.
	MarkStatus(ctx context.Context, id string, status LedgerStatus, reason string, at time.Time) error
	ListByRecipient(ctx context.Context, memberID string, opts ListOpts) ([]LedgerEntry, error)
	SumByRecipient(ctx context.Context, memberID string) (map[BonusType]decimal.Decimal, error)
	ListSettledBefore(ctx context.Context, before time.Time, limit int) ([]LedgerEntry, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event AuditEvent, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// ListByMember returns the member's entries, newest first.
	ListByMember(ctx context.Context, memberID string, opts ListOpts) ([]AuditEntry, error)
}
