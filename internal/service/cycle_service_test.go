package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

func fillBinary(t *testing.T, h *harness, boardID string) Placement {
	t.Helper()
	h.place(t, boardID, "A", "")
	var last Placement
	for _, m := range []string{"B", "C", "D", "E", "F", "G"} {
		last = h.place(t, boardID, m, "A")
	}
	return last
}

func TestEvaluateCycledRootIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("noop", 2, 3))
	last := fillBinary(t, h, board.ID)
	require.Len(t, last.Cycles, 1)

	for i := 0; i < 3; i++ {
		applied, err := h.cycles.Evaluate(ctx, last.Instance.ID, 0)
		require.NoError(t, err)
		assert.False(t, applied)
	}
	assert.Len(t, h.entries(t, "A", domain.BonusCycle), 1)

	rep, err := h.cycles.ReplayPending(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{}, rep)
}

func TestEvaluateIncompleteInstance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("partial", 2, 3))
	h.place(t, board.ID, "A", "")
	p := h.place(t, board.ID, "B", "A")

	applied, err := h.cycles.Evaluate(ctx, p.Instance.ID, 0)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = h.cycles.Evaluate(ctx, p.Instance.ID, 5)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestReplayPendingRetriesFailedReentry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("replay", 2, 2))

	h.cycles.BindPlacer(failingReenterer{})
	h.place(t, board.ID, "A", "")
	h.place(t, board.ID, "B", "A")
	last := h.place(t, board.ID, "C", "A")
	require.Len(t, last.Cycles, 1)
	assert.Empty(t, last.Cycles[0].ReentryInstanceID)

	pending, err := h.store.Positions().ListCycledAwaitingReentry(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	h.cycles.BindPlacer(h.placement)
	rep, err := h.cycles.ReplayPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reentered)
	assert.Zero(t, rep.Failed)

	rep, err = h.cycles.ReplayPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, rep.Reentered)

	pos, err := h.store.Positions().GetByID(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.True(t, pos.Reentered)
	inst, err := h.store.Instances().FindByOrigin(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", inst.RootMemberID)
}

func TestReplayPendingCompletesInterruptedCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("crash", 2, 2))
	h.place(t, board.ID, "A", "")
	first := h.place(t, board.ID, "B", "A")

	// Fill the last slot behind the service's back, as if the process died
	// between the claim and the cycle check.
	_, err := h.store.Positions().Claim(ctx, domain.SlotClaim{
		BoardID: board.ID, InstanceID: first.Instance.ID, SlotIndex: 2, MemberID: "C", Ancestors: []int{0},
	})
	require.NoError(t, err)
	assert.Empty(t, h.entries(t, "A", domain.BonusCycle))

	rep, err := h.cycles.ReplayPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Evaluated)
	assert.Equal(t, 1, rep.Cycled)
	assert.Len(t, h.entries(t, "A", domain.BonusCycle), 1)

	inst, err := h.store.Instances().GetByID(ctx, first.Instance.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusCycled, inst.Status)
}

func TestReplayPendingPostsMissedCommissions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("lost", 2, 3))
	a := h.place(t, board.ID, "A", "")
	_, _, err := h.store.Members().Register(ctx, domain.Member{ID: "B", SponsorID: "A"})
	require.NoError(t, err)

	// B holds the slot, but the process died before its commissions posted.
	_, err = h.store.Positions().Claim(ctx, domain.SlotClaim{
		BoardID: board.ID, InstanceID: a.Instance.ID, SlotIndex: 1, MemberID: "B", Ancestors: []int{0},
	})
	require.NoError(t, err)
	assert.Empty(t, h.entries(t, "A", domain.BonusReferral))

	rep, err := h.cycles.ReplayPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Commissioned)
	assert.Zero(t, rep.Failed)
	assert.Len(t, h.entries(t, "A", domain.BonusReferral), 1)
	matrix := h.entries(t, "A", domain.BonusMatrix)
	require.Len(t, matrix, 1)
	assert.Equal(t, 1, matrix[0].Level)

	rep, err = h.cycles.ReplayPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ReplayReport{}, rep)
	assert.Len(t, h.entries(t, "A", domain.BonusReferral), 1)
}

func TestCycleEventsArePublished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, 5)
	board := h.createBoard(t, standardBoard("events", 2, 2))

	ch, err := h.bus.Subscribe(ctx, domain.ChannelCycles)
	require.NoError(t, err)

	h.place(t, board.ID, "A", "")
	h.place(t, board.ID, "B", "A")
	h.place(t, board.ID, "C", "A")

	select {
	case msg := <-ch:
		assert.Contains(t, string(msg), `"instance_cycled"`)
	default:
		t.Fatal("no cycle event published")
	}

	msgs, err := h.bus.StreamRead(ctx, domain.StreamCycles, "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	audit, err := h.store.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	var events []domain.AuditEvent
	for _, e := range audit {
		events = append(events, e.Event)
		if e.Event == domain.AuditInstanceCycled {
			assert.NotEmpty(t, e.BoardID)
			assert.NotEmpty(t, e.MemberID)
		}
	}
	assert.Contains(t, events, domain.AuditInstanceCycled)
	assert.Contains(t, events, domain.AuditMemberReentered)
}
