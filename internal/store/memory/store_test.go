package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

func allocate(t *testing.T, st *Store, root string, filled bool) (domain.Instance, domain.Position) {
	t.Helper()
	inst, pos, err := st.Instances().Allocate(context.Background(), domain.InstanceAllocation{
		BoardID:      "b1",
		RootMemberID: root,
		RootFilled:   filled,
		Capacity:     7,
	})
	require.NoError(t, err)
	return inst, pos
}

func TestClaimFillsSlotAndBumpsAncestors(t *testing.T) {
	ctx := context.Background()
	st := New()
	inst, _ := allocate(t, st, "A", true)
	positions := st.Positions()

	res, err := positions.Claim(ctx, domain.SlotClaim{BoardID: "b1", InstanceID: inst.ID, SlotIndex: 1, MemberID: "B", Ancestors: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusFilled, res.Position.Status)
	assert.Equal(t, 2, res.Instance.Filled)
	require.Len(t, res.Ancestors, 1)
	assert.Equal(t, 1, res.Ancestors[0].FilledBelow)
	assert.Equal(t, "A", res.Ancestors[0].OccupantID)

	res, err = positions.Claim(ctx, domain.SlotClaim{BoardID: "b1", InstanceID: inst.ID, SlotIndex: 3, MemberID: "C", Ancestors: []int{1, 0}})
	require.NoError(t, err)
	require.Len(t, res.Ancestors, 2)
	assert.Equal(t, 1, res.Ancestors[0].FilledBelow)
	assert.Equal(t, 2, res.Ancestors[1].FilledBelow)
}

func TestClaimConflicts(t *testing.T) {
	ctx := context.Background()
	st := New()
	inst, _ := allocate(t, st, "A", true)
	positions := st.Positions()

	_, err := positions.Claim(ctx, domain.SlotClaim{InstanceID: inst.ID, SlotIndex: 1, MemberID: "B", Ancestors: []int{0}})
	require.NoError(t, err)

	_, err = positions.Claim(ctx, domain.SlotClaim{InstanceID: inst.ID, SlotIndex: 1, MemberID: "C", Ancestors: []int{0}})
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	_, err = positions.Claim(ctx, domain.SlotClaim{InstanceID: inst.ID, SlotIndex: 2, MemberID: "B", Ancestors: []int{0}})
	assert.ErrorIs(t, err, domain.ErrMemberAlreadyPlaced)
}

func TestClaimReservedRoot(t *testing.T) {
	ctx := context.Background()
	st := New()
	inst, root := allocate(t, st, "A", false)
	assert.Equal(t, domain.PositionStatusOpen, root.Status)

	pending, err := st.Instances().FindPendingRoot(ctx, "b1", "A")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, pending.ID)

	_, err = st.Positions().Claim(ctx, domain.SlotClaim{InstanceID: inst.ID, SlotIndex: 0, MemberID: "X"})
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	res, err := st.Positions().Claim(ctx, domain.SlotClaim{InstanceID: inst.ID, SlotIndex: 0, MemberID: "A"})
	require.NoError(t, err)
	assert.Equal(t, root.ID, res.Position.ID)

	_, err = st.Instances().FindPendingRoot(ctx, "b1", "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindPendingRootOldestFirst(t *testing.T) {
	ctx := context.Background()
	st := New()
	older, _ := allocate(t, st, "S", false)
	allocate(t, st, "S", false)

	pending, err := st.Instances().FindPendingRoot(ctx, "b1", "S")
	require.NoError(t, err)
	assert.Equal(t, older.ID, pending.ID)
}

func TestUncommissionedPositions(t *testing.T) {
	ctx := context.Background()
	st := New()
	inst, root := allocate(t, st, "A", true)
	_, reserved := allocate(t, st, "R", false)
	_, reentry, err := st.Instances().Allocate(ctx, domain.InstanceAllocation{
		BoardID: "b1", RootMemberID: "A", RootFilled: true, Capacity: 7, OriginPositionID: root.ID,
	})
	require.NoError(t, err)
	assert.True(t, reentry.Commissioned)

	res, err := st.Positions().Claim(ctx, domain.SlotClaim{BoardID: "b1", InstanceID: inst.ID, SlotIndex: 1, MemberID: "B", Ancestors: []int{0}})
	require.NoError(t, err)

	// The reserved root is not occupied yet and the re-entry root posts nothing.
	pending, err := st.Positions().ListUncommissioned(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, root.ID, pending[0].ID)
	assert.Equal(t, res.Position.ID, pending[1].ID)
	for _, p := range pending {
		assert.NotEqual(t, reserved.ID, p.ID)
	}

	require.NoError(t, st.Positions().MarkCommissioned(ctx, root.ID))
	pending, err = st.Positions().ListUncommissioned(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.Position.ID, pending[0].ID)

	assert.ErrorIs(t, st.Positions().MarkCommissioned(ctx, "missing"), domain.ErrNotFound)
}

func TestCompleteCycleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := New()
	inst, root := allocate(t, st, "A", true)
	entry := &domain.LedgerEntry{
		ID: "e1", RecipientID: "A", Amount: decimal.NewFromInt(15), Type: domain.BonusCycle,
		SourcePositionID: root.ID,
	}

	applied, err := st.Positions().CompleteCycle(ctx, domain.CycleCompletion{InstanceID: inst.ID, IsRoot: true, Entry: entry})
	require.NoError(t, err)
	assert.True(t, applied)

	entry2 := *entry
	entry2.ID = "e2"
	applied, err = st.Positions().CompleteCycle(ctx, domain.CycleCompletion{InstanceID: inst.ID, IsRoot: true, Entry: &entry2})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := st.Instances().GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceStatusCycled, got.Status)

	entries, err := st.Ledger().ListByRecipient(ctx, "A", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = st.Positions().Claim(ctx, domain.SlotClaim{InstanceID: inst.ID, SlotIndex: 1, MemberID: "B", Ancestors: []int{0}})
	assert.ErrorIs(t, err, domain.ErrInstanceClosed)
}

func TestAllocateLimits(t *testing.T) {
	ctx := context.Background()
	st := New()
	alloc := domain.InstanceAllocation{BoardID: "b1", RootMemberID: "A", RootFilled: true, Capacity: 3, MaxInstances: 1, OriginPositionID: "p1"}

	_, _, err := st.Instances().Allocate(ctx, alloc)
	require.NoError(t, err)

	_, _, err = st.Instances().Allocate(ctx, alloc)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	alloc.OriginPositionID = "p2"
	_, _, err = st.Instances().Allocate(ctx, alloc)
	assert.ErrorIs(t, err, domain.ErrBoardFull)
}

func TestLedgerPostingAndSettlement(t *testing.T) {
	ctx := context.Background()
	ledger := New().Ledger()
	entries := []domain.LedgerEntry{
		{ID: "1", RecipientID: "A", Amount: decimal.NewFromInt(5), Type: domain.BonusMatrix, SourcePositionID: "p", Level: 1},
		{ID: "2", RecipientID: "B", Amount: decimal.NewFromInt(5), Type: domain.BonusMatrix, SourcePositionID: "p", Level: 2},
		{ID: "3", RecipientID: "A", Amount: decimal.NewFromInt(5), Type: domain.BonusMatrix, SourcePositionID: "p", Level: 1},
	}
	posted, err := ledger.PostBatch(ctx, entries)
	require.NoError(t, err)
	require.Len(t, posted, 2)
	assert.Equal(t, "1", posted[0].ID)
	assert.Equal(t, "2", posted[1].ID)

	pending, err := ledger.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	now := time.Now()
	require.NoError(t, ledger.MarkStatus(ctx, "1", domain.LedgerStatusPaid, "", now))
	assert.ErrorIs(t, ledger.MarkStatus(ctx, "1", domain.LedgerStatusFailed, "late", now), domain.ErrNotFound)

	sums, err := ledger.SumByRecipient(ctx, "A")
	require.NoError(t, err)
	assert.True(t, sums[domain.BonusMatrix].Equal(decimal.NewFromInt(5)))

	settled, err := ledger.ListSettledBefore(ctx, now.Add(time.Second), 0)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, "1", settled[0].ID)
}

func TestLedgerReferralIsUniquePerMember(t *testing.T) {
	ctx := context.Background()
	ledger := New().Ledger()
	first := []domain.LedgerEntry{
		{ID: "r1", RecipientID: "S", Amount: decimal.NewFromInt(10), Type: domain.BonusReferral, SourcePositionID: "p1", SourceMemberID: "M"},
		{ID: "m1", RecipientID: "T", Amount: decimal.NewFromInt(1), Type: domain.BonusMatching, SourcePositionID: "p1", SourceMemberID: "M", Level: 1},
	}
	posted, err := ledger.PostBatch(ctx, first)
	require.NoError(t, err)
	require.Len(t, posted, 2)

	// A later purchase by the same member, on any board, posts neither.
	again := []domain.LedgerEntry{
		{ID: "r2", RecipientID: "S", Amount: decimal.NewFromInt(10), Type: domain.BonusReferral, SourcePositionID: "p2", SourceMemberID: "M"},
		{ID: "m2", RecipientID: "T", Amount: decimal.NewFromInt(1), Type: domain.BonusMatching, SourcePositionID: "p2", SourceMemberID: "M", Level: 1},
		{ID: "x2", RecipientID: "S", Amount: decimal.NewFromInt(5), Type: domain.BonusMatrix, SourcePositionID: "p2", Level: 1},
	}
	posted, err = ledger.PostBatch(ctx, again)
	require.NoError(t, err)
	require.Len(t, posted, 1)
	assert.Equal(t, "x2", posted[0].ID)
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	unlock, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestBusFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus()

	ch, err := bus.Subscribe(ctx, "cycles")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "cycles", []byte("x")))
	assert.Equal(t, []byte("x"), <-ch)

	require.NoError(t, bus.StreamAppend(ctx, "s", []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, "s", []byte("b")))
	msgs, err := bus.StreamRead(ctx, "s", "1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("b"), msgs[0].Payload)
}

func TestRateLimiterPerKey(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter()
	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "a", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "b", 3, time.Minute)
	assert.True(t, ok)
}

func TestAuditByMember(t *testing.T) {
	ctx := context.Background()
	st := New()
	audit := st.Audit()

	require.NoError(t, audit.Log(ctx, domain.AuditBoardCreated, map[string]any{"board_id": "b1"}))
	require.NoError(t, audit.Log(ctx, domain.AuditMemberPlaced, map[string]any{"board_id": "b1", "member_id": "A", "slot": 0}))
	require.NoError(t, audit.Log(ctx, domain.AuditMemberPlaced, map[string]any{"board_id": "b1", "member_id": "B", "slot": 1}))
	require.NoError(t, audit.Log(ctx, domain.AuditInstanceCycled, map[string]any{"board_id": "b1", "member_id": "A"}))

	all, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "b1", all[3].BoardID)
	assert.Empty(t, all[3].MemberID)

	mine, err := audit.ListByMember(ctx, "A", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, domain.AuditInstanceCycled, mine[0].Event)
	assert.Equal(t, domain.AuditMemberPlaced, mine[1].Event)

	page, err := audit.ListByMember(ctx, "A", domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, mine[1].ID, page[0].ID)
}
