package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/matrixnet/internal/matrix"
)

// BonusTable holds the payout percentages of a board. Matrix is paid per
// ancestor level; the others are paid once per event.
type BonusTable struct {
	Referral decimal.Decimal `json:"referral"`
	Matrix   decimal.Decimal `json:"matrix"`
	Matching decimal.Decimal `json:"matching"`
	Cycle    decimal.Decimal `json:"cycle"`
}

// Sum returns the total of all four percentages.
func (t BonusTable) Sum() decimal.Decimal {
	return t.Referral.Add(t.Matrix).Add(t.Matching).Add(t.Cycle)
}

// Board is a purchasable plan: the matrix geometry plus its payout table.
type Board struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Width       int             `json:"width"`
	Depth       int             `json:"depth"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	Currency    string          `json:"currency"`
	Bonuses     BonusTable      `json:"bonuses"`
	MatrixDepth int             `json:"matrix_depth"` // 0 means every ancestor level (D-1)
	// MatchingDepth is the number of referral generations paid a matching
	// bonus; 0 is treated as 1.
	MatchingDepth int       `json:"matching_depth"`
	NextBoardID   string    `json:"next_board_id,omitempty"`
	CycleSubtrees bool      `json:"cycle_subtrees"`
	MaxInstances  int       `json:"max_instances"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Geometry returns the slot arithmetic for the board.
func (b Board) Geometry() matrix.Geometry {
	return matrix.Geometry{Width: b.Width, Depth: b.Depth}
}

// BonusDepth returns how many ancestor levels receive a matrix bonus.
func (b Board) BonusDepth() int {
	if b.MatrixDepth <= 0 || b.MatrixDepth > b.Depth-1 {
		return b.Depth - 1
	}
	return b.MatrixDepth
}

// MatchingGenerations returns the matching bonus depth, at least 1.
func (b Board) MatchingGenerations() int {
	if b.MatchingDepth < 1 {
		return 1
	}
	return b.MatchingDepth
}

// RecycleBoardID returns the board a cycled occupant re-enters.
func (b Board) RecycleBoardID() string {
	if b.NextBoardID != "" {
		return b.NextBoardID
	}
	return b.ID
}

// BoardFilter narrows board listings.
type BoardFilter struct {
	ActiveOnly bool
	Currency   string
}
