package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

func TestCommissionPostsAllBonusTypes(t *testing.T) {
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("comm", 2, 3))
	h.place(t, board.ID, "A", "")
	h.place(t, board.ID, "B", "A")
	c := h.place(t, board.ID, "C", "B")
	assert.Equal(t, 3, c.Position.SlotIndex)

	byKey := make(map[string]domain.LedgerEntry)
	for _, e := range c.Entries {
		byKey[string(e.Type)+"/"+e.RecipientID] = e
		assert.Equal(t, c.Position.ID, e.SourcePositionID)
		assert.Equal(t, domain.LedgerStatusPending, e.Status)
		assert.Equal(t, "USD", e.Currency)
	}
	require.Len(t, c.Entries, 4)

	assert.True(t, byKey["REFERRAL/B"].Amount.Equal(decimal.NewFromInt(10)))
	assert.True(t, byKey["MATCHING/A"].Amount.Equal(decimal.RequireFromString("0.30")))
	assert.Equal(t, 1, byKey["MATCHING/A"].Level)
	assert.True(t, byKey["MATRIX/B"].Amount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 1, byKey["MATRIX/B"].Level)
	assert.True(t, byKey["MATRIX/A"].Amount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 2, byKey["MATRIX/A"].Level)
}

func TestCommissionConservation(t *testing.T) {
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("conserve", 2, 3))
	depthCap := int64(board.BonusDepth())
	// 100 * (10 + 5*depthCap + 3 + 15) / 100
	limit := decimal.NewFromInt(10 + 5*depthCap + 3 + 15)

	h.place(t, board.ID, "A", "")
	sponsors := map[string]string{"B": "A", "C": "B", "D": "C", "E": "A", "F": "B", "G": "A"}
	for _, m := range []string{"B", "C", "D", "E", "F", "G"} {
		p := h.place(t, board.ID, m, sponsors[m])
		total := decimal.Zero
		for _, e := range p.Entries {
			assert.False(t, e.Amount.IsNegative())
			total = total.Add(e.Amount)
		}
		for _, oc := range p.Cycles {
			require.NotNil(t, oc.Entry)
			total = total.Add(oc.Entry.Amount)
		}
		assert.True(t, total.LessThanOrEqual(limit), "member %s total %s", m, total)
	}

	seen := make(map[string]bool)
	for _, e := range h.allEntries(t) {
		key := e.SourcePositionID + "/" + string(e.Type) + "/" + string(rune('0'+e.Level))
		assert.False(t, seen[key], "duplicate posting %s", key)
		seen[key] = true
	}
}

func TestCommissionMatrixDepthCap(t *testing.T) {
	h := newHarness(t, 5)
	b := standardBoard("capped-depth", 2, 4)
	b.MatrixDepth = 1
	board := h.createBoard(t, b)
	h.place(t, board.ID, "A", "")
	h.place(t, board.ID, "B", "A")
	h.place(t, board.ID, "C", "A")
	p := h.place(t, board.ID, "D", "A")
	assert.Equal(t, 3, p.Position.SlotIndex)

	var matrix []domain.LedgerEntry
	for _, e := range p.Entries {
		if e.Type == domain.BonusMatrix {
			matrix = append(matrix, e)
		}
	}
	require.Len(t, matrix, 1)
	assert.Equal(t, "B", matrix[0].RecipientID)
}

func TestCommissionMatchingGenerations(t *testing.T) {
	h := newHarness(t, 5)
	b := standardBoard("deep-match", 3, 3)
	b.MatchingDepth = 2
	board := h.createBoard(t, b)
	h.place(t, board.ID, "A", "")
	h.place(t, board.ID, "B", "A")
	h.place(t, board.ID, "C", "B")
	p := h.place(t, board.ID, "D", "C")

	var matching []domain.LedgerEntry
	for _, e := range p.Entries {
		if e.Type == domain.BonusMatching {
			matching = append(matching, e)
		}
	}
	require.Len(t, matching, 2)
	assert.Equal(t, "B", matching[0].RecipientID)
	assert.Equal(t, 1, matching[0].Level)
	assert.Equal(t, "A", matching[1].RecipientID)
	assert.Equal(t, 2, matching[1].Level)
}

func TestCommissionSkipsReferralOnReentry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("reentry", 2, 3))
	h.place(t, board.ID, "A", "")
	b := h.place(t, board.ID, "B", "A")

	entries, err := h.commission.Compute(ctx, PlacementEvent{Board: board, Position: b.Position, Reentry: true})
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = h.commission.Compute(ctx, PlacementEvent{Board: board, Position: b.Position})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.BonusReferral, entries[0].Type)
}

func TestCommissionRepostIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("repost", 2, 3))
	h.place(t, board.ID, "A", "")
	b := h.place(t, board.ID, "B", "A")
	before := len(h.allEntries(t))

	_, err := h.commission.OnPlacement(ctx, PlacementEvent{
		Board:    board,
		Position: b.Position,
		Ancestors: []domain.NodeState{{
			PositionID: "root", SlotIndex: 0, OccupantID: "A", Status: domain.PositionStatusFilled,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, before, len(h.allEntries(t)))
}

func TestReferralPaidOncePerMember(t *testing.T) {
	h := newHarness(t, 5)
	x := h.createBoard(t, standardBoard("x", 2, 2))
	y := h.createBoard(t, standardBoard("y", 2, 2))
	h.place(t, x.ID, "S", "")

	first := h.place(t, x.ID, "M", "S")
	var types []domain.BonusType
	for _, e := range first.Entries {
		types = append(types, e.Type)
		if e.Type == domain.BonusReferral {
			assert.Equal(t, "M", e.SourceMemberID)
		}
	}
	assert.Contains(t, types, domain.BonusReferral)

	n := h.place(t, x.ID, "N", "S")
	require.Len(t, n.Cycles, 1)

	// M buys again on the same board and on another one.
	again := h.place(t, x.ID, "M", "S")
	for _, e := range again.Entries {
		assert.NotEqual(t, domain.BonusReferral, e.Type)
	}
	assert.Len(t, h.entries(t, "S", domain.BonusMatrix), 3)

	other := h.place(t, y.ID, "M", "S")
	assert.Empty(t, other.Entries)

	referrals := h.entries(t, "S", domain.BonusReferral)
	require.Len(t, referrals, 2)
	from := map[string]bool{}
	for _, e := range referrals {
		from[e.SourceMemberID] = true
	}
	assert.Equal(t, map[string]bool{"M": true, "N": true}, from)
}

func TestMatchingPaidOncePerMember(t *testing.T) {
	h := newHarness(t, 5)
	x := h.createBoard(t, standardBoard("mx", 3, 2))
	y := h.createBoard(t, standardBoard("my", 3, 2))
	h.place(t, x.ID, "A", "")
	h.place(t, x.ID, "B", "A")
	h.place(t, x.ID, "C", "B")
	h.place(t, y.ID, "C", "B")

	matching := h.entries(t, "A", domain.BonusMatching)
	require.Len(t, matching, 1)
	assert.Equal(t, "C", matching[0].SourceMemberID)
}

func TestPercentOfTruncatesToCents(t *testing.T) {
	got := percentOf(decimal.RequireFromString("33.33"), decimal.RequireFromString("3"))
	assert.Equal(t, "0.99", got.StringFixed(2))
}
