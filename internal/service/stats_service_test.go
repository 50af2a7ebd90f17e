package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

func TestOverviewCompletion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("ov", 2, 3))
	h.place(t, board.ID, "A", "")
	h.place(t, board.ID, "B", "A")
	h.place(t, board.ID, "C", "A")
	h.place(t, board.ID, "D", "A")

	ov, err := h.stats.Overview(ctx, "A")
	require.NoError(t, err)
	require.Len(t, ov.Positions, 1)
	// 3 of 6 slots below the root.
	assert.InDelta(t, 50.0, ov.Positions[0].Completion, 0.001)
	assert.InDelta(t, 50.0, ov.CompletionPercentage, 0.001)
	assert.Zero(t, ov.Cycles)
	assert.True(t, ov.Earnings[domain.BonusReferral].Equal(decimal.NewFromInt(30)))

	ov, err = h.stats.Overview(ctx, "D")
	require.NoError(t, err)
	require.Len(t, ov.Positions, 1)
	assert.InDelta(t, 100.0, ov.Positions[0].Completion, 0.001)
}

func TestOverviewCountsCycles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("ovc", 2, 2))
	h.place(t, board.ID, "A", "")
	h.place(t, board.ID, "B", "A")
	h.place(t, board.ID, "C", "A")

	ov, err := h.stats.Overview(ctx, "A")
	require.NoError(t, err)
	require.Len(t, ov.Positions, 2)
	assert.Equal(t, 1, ov.Cycles)
	// The re-entry root is empty below, the cycled root is complete.
	assert.InDelta(t, 50.0, ov.CompletionPercentage, 0.001)
	assert.True(t, ov.Earnings[domain.BonusCycle].Equal(decimal.NewFromInt(15)))
}

func TestMemberWithoutPositions(t *testing.T) {
	h := newHarness(t, 5)
	ov, err := h.stats.Overview(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, ov.Positions)
	assert.Zero(t, ov.CompletionPercentage)
}

func TestGenealogy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("gen", 2, 3))
	h.place(t, board.ID, "A", "")
	h.place(t, board.ID, "B", "A")
	h.place(t, board.ID, "C", "A")
	h.place(t, board.ID, "D", "B")

	g, err := h.stats.Genealogy(ctx, "B", board.ID)
	require.NoError(t, err)
	require.NotNil(t, g.Root)
	assert.Equal(t, 1, g.Root.SlotIndex)
	assert.Equal(t, "B", g.Root.MemberID)
	require.Len(t, g.Root.Children, 1)
	assert.Equal(t, "D", g.Root.Children[0].MemberID)
	assert.Equal(t, 3, g.Root.Children[0].SlotIndex)
	assert.Equal(t, 1, g.Root.Children[0].Depth)

	_, err = h.stats.Genealogy(ctx, "Z", board.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBoardStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("bs", 2, 2))
	h.place(t, board.ID, "A", "")
	h.place(t, board.ID, "B", "A")
	h.place(t, board.ID, "C", "A")

	st, err := h.stats.BoardStats(ctx, board.ID)
	require.NoError(t, err)
	// The cycled instance plus A's re-entry instance.
	assert.Equal(t, int64(2), st.Instances)
	assert.Equal(t, int64(1), st.OpenInstances)
	assert.Equal(t, int64(1), st.Cycled)
	assert.InDelta(t, 33.33, st.FillRate, 0.001)
	assert.InDelta(t, 50.0, st.CompletionRate, 0.001)

	_, err = h.stats.BoardStats(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
