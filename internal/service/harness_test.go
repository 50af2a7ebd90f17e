package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/metrics"
	"github.com/alanyoungcy/matrixnet/internal/store/memory"
)

type harness struct {
	store      *memory.Store
	bus        *memory.Bus
	boards     *BoardService
	commission *CommissionService
	cycles     *CycleService
	placement  *PlacementService
	stats      *StatsService
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, retries int) *harness {
	t.Helper()
	logger := quietLogger()
	st := memory.New()
	bus := memory.NewBus()
	m := metrics.New(prometheus.NewRegistry())

	h := &harness{store: st, bus: bus}
	h.boards = NewBoardService(st.Boards(), nil, bus, st.Audit(), logger)
	h.commission = NewCommissionService(st.Members(), st.Positions(), st.Ledger(), bus, m, logger)
	h.cycles = NewCycleService(h.boards, st.Instances(), st.Positions(), h.commission, bus, st.Audit(), nil, m, logger)
	h.placement = NewPlacementService(
		h.boards, st.Members(), st.Instances(), st.Positions(), memory.NewLockManager(),
		h.cycles, h.commission, bus, st.Audit(), m,
		PlacementConfig{MaxClaimRetries: retries}, logger,
	)
	h.stats = NewStatsService(h.boards, st.Instances(), st.Positions(), st.Ledger(), logger)
	return h
}

// standardBoard pays referral 10%, matrix 5% per level, matching 3% and
// cycle 15% on an entry price of 100.
func standardBoard(id string, width, depth int) domain.Board {
	return domain.Board{
		ID:         id,
		Name:       id,
		Width:      width,
		Depth:      depth,
		EntryPrice: decimal.NewFromInt(100),
		Currency:   "USD",
		Bonuses: domain.BonusTable{
			Referral: decimal.NewFromInt(10),
			Matrix:   decimal.NewFromInt(5),
			Matching: decimal.NewFromInt(3),
			Cycle:    decimal.NewFromInt(15),
		},
		Active: true,
	}
}

func (h *harness) createBoard(t *testing.T, b domain.Board) domain.Board {
	t.Helper()
	created, err := h.boards.Create(context.Background(), b)
	require.NoError(t, err)
	return created
}

func (h *harness) place(t *testing.T, boardID, member, sponsor string) Placement {
	t.Helper()
	p, err := h.placement.Place(context.Background(), PlaceRequest{BoardID: boardID, MemberID: member, SponsorID: sponsor})
	require.NoError(t, err)
	return p
}

func (h *harness) entries(t *testing.T, member string, typ domain.BonusType) []domain.LedgerEntry {
	t.Helper()
	all, err := h.store.Ledger().ListByRecipient(context.Background(), member, domain.ListOpts{})
	require.NoError(t, err)
	var out []domain.LedgerEntry
	for _, e := range all {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) allEntries(t *testing.T) []domain.LedgerEntry {
	t.Helper()
	all, err := h.store.Ledger().ListPending(context.Background(), 0)
	require.NoError(t, err)
	return all
}

// failingReenterer stands in for a placer whose re-entry always fails.
type failingReenterer struct{}

func (failingReenterer) Reenter(context.Context, ReentryRequest) (domain.Instance, error) {
	return domain.Instance{}, context.DeadlineExceeded
}

// contendedPositions loses every claim.
type contendedPositions struct {
	domain.PositionStore
}

func (contendedPositions) Claim(context.Context, domain.SlotClaim) (domain.ClaimResult, error) {
	return domain.ClaimResult{}, domain.ErrSlotTaken
}
