package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/metrics"
)

// PlacementEvent describes a slot that has just been FILLED. Ancestors are
// the post-claim states of the slot's ancestors, nearest first.
type PlacementEvent struct {
	Board     domain.Board
	Position  domain.Position
	Ancestors []domain.NodeState
	Reentry   bool
	At        time.Time
}

// CommissionService turns placement and cycle events into ledger entries.
// It records intent only; settlement happens elsewhere.
type CommissionService struct {
	members   domain.MemberStore
	positions domain.PositionStore
	ledger    domain.LedgerStore
	metrics   *metrics.Metrics
	events    emitter
	logger    *slog.Logger
}

func NewCommissionService(
	members domain.MemberStore,
	positions domain.PositionStore,
	ledger domain.LedgerStore,
	bus domain.SignalBus,
	m *metrics.Metrics,
	logger *slog.Logger,
) *CommissionService {
	return &CommissionService{
		members:   members,
		positions: positions,
		ledger:    ledger,
		metrics:   m,
		events:    emitter{name: "commission_service", bus: bus, logger: logger},
		logger:    logger,
	}
}

// OnPlacement computes and posts the REFERRAL, MATRIX and MATCHING entries
// of one placement as a single batch, then marks the position commissioned.
// Entries already on the ledger are skipped by the store, which is how a
// repeat purchase pays no second REFERRAL; only the inserted entries are
// returned.
func (s *CommissionService) OnPlacement(ctx context.Context, ev PlacementEvent) ([]domain.LedgerEntry, error) {
	entries, err := s.Compute(ctx, ev)
	if err != nil {
		return nil, err
	}

	var posted []domain.LedgerEntry
	if len(entries) > 0 {
		posted, err = s.ledger.PostBatch(ctx, entries)
		if err != nil {
			return nil, fmt.Errorf("commission_service: post %d entries for %s: %w", len(entries), ev.Position.ID, err)
		}
		if len(posted) < len(entries) {
			s.logger.DebugContext(ctx, "commission_service: duplicate postings ignored",
				slog.String("position_id", ev.Position.ID),
				slog.Int("duplicates", len(entries)-len(posted)),
			)
		}
	}

	if err := s.positions.MarkCommissioned(ctx, ev.Position.ID); err != nil {
		return posted, fmt.Errorf("commission_service: mark %s commissioned: %w", ev.Position.ID, err)
	}
	if len(posted) == 0 {
		return nil, nil
	}

	counts := make(map[domain.BonusType]int)
	for _, e := range posted {
		counts[e.Type]++
	}
	for typ, c := range counts {
		s.metrics.Posted(string(typ), c)
	}
	s.events.publish(ctx, domain.ChannelLedger, "entries_posted", posted)
	return posted, nil
}

// Recover re-posts the commissions of placements that filled a slot but
// never confirmed their postings, rebuilding each ancestor chain from stored
// state. It returns how many placements were recovered and how many failed.
func (s *CommissionService) Recover(ctx context.Context, boards BoardLookup, limit int) (recovered, failed int, err error) {
	pending, err := s.positions.ListUncommissioned(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("commission_service: list uncommissioned: %w", err)
	}
	for _, pos := range pending {
		if err := s.recoverOne(ctx, boards, pos); err != nil {
			failed++
			s.logger.ErrorContext(ctx, "commission_service: recovery failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}
	return recovered, failed, nil
}

func (s *CommissionService) recoverOne(ctx context.Context, boards BoardLookup, pos domain.Position) error {
	board, err := boards.Get(ctx, pos.BoardID)
	if err != nil {
		return fmt.Errorf("load board %s: %w", pos.BoardID, err)
	}
	path, err := board.Geometry().Ancestors(pos.SlotIndex)
	if err != nil {
		return fmt.Errorf("ancestors of slot %d: %w", pos.SlotIndex, err)
	}
	ancestors := make([]domain.NodeState, 0, len(path))
	for _, idx := range path {
		anc, err := s.positions.GetSlot(ctx, pos.InstanceID, idx)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				ancestors = append(ancestors, domain.NodeState{SlotIndex: idx, Status: domain.PositionStatusOpen})
				continue
			}
			return fmt.Errorf("load ancestor %s/%d: %w", pos.InstanceID, idx, err)
		}
		ancestors = append(ancestors, stateOf(anc))
	}

	at := time.Now().UTC()
	if pos.FilledAt != nil {
		at = *pos.FilledAt
	}
	_, err = s.OnPlacement(ctx, PlacementEvent{
		Board:     board,
		Position:  pos,
		Ancestors: ancestors,
		At:        at,
	})
	return err
}

// Compute builds the ledger entries for a placement without posting them.
// A recipient that cannot be resolved skips only that bonus.
func (s *CommissionService) Compute(ctx context.Context, ev PlacementEvent) ([]domain.LedgerEntry, error) {
	board := ev.Board
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	mk := func(recipient string, amount decimal.Decimal, typ domain.BonusType, level int) domain.LedgerEntry {
		e := domain.LedgerEntry{
			ID:               uuid.NewString(),
			RecipientID:      recipient,
			Amount:           amount,
			Currency:         board.Currency,
			Type:             typ,
			SourcePositionID: ev.Position.ID,
			Level:            level,
			BoardID:          board.ID,
			Status:           domain.LedgerStatusPending,
			CreatedAt:        at,
		}
		// Keyed per purchasing member so only the first purchase pays.
		if typ == domain.BonusReferral || typ == domain.BonusMatching {
			e.SourceMemberID = ev.Position.OccupantID
		}
		return e
	}

	var entries []domain.LedgerEntry

	if !ev.Reentry {
		referral, err := s.referralEntries(ctx, ev, mk)
		if err != nil {
			return nil, err
		}
		entries = append(entries, referral...)
	}

	perLevel := percentOf(board.EntryPrice, board.Bonuses.Matrix)
	if perLevel.IsPositive() {
		depth := board.BonusDepth()
		for i, anc := range ev.Ancestors {
			level := i + 1
			if level > depth {
				break
			}
			if anc.Status != domain.PositionStatusFilled && anc.Status != domain.PositionStatusCycled {
				s.logger.DebugContext(ctx, "commission_service: matrix level skipped",
					slog.String("position_id", ev.Position.ID),
					slog.Int("level", level),
				)
				continue
			}
			entries = append(entries, mk(anc.OccupantID, perLevel, domain.BonusMatrix, level))
		}
	}
	return entries, nil
}

func (s *CommissionService) referralEntries(
	ctx context.Context,
	ev PlacementEvent,
	mk func(string, decimal.Decimal, domain.BonusType, int) domain.LedgerEntry,
) ([]domain.LedgerEntry, error) {
	member, err := s.members.GetByID(ctx, ev.Position.OccupantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("commission_service: load member %s: %w", ev.Position.OccupantID, err)
	}
	if member.SponsorID == "" {
		return nil, nil
	}

	referral := percentOf(ev.Board.EntryPrice, ev.Board.Bonuses.Referral)
	if !referral.IsPositive() {
		return nil, nil
	}
	entries := []domain.LedgerEntry{mk(member.SponsorID, referral, domain.BonusReferral, 0)}

	matching := percentOf(referral, ev.Board.Bonuses.Matching)
	if !matching.IsPositive() {
		return entries, nil
	}
	cur := member.SponsorID
	for gen := 1; gen <= ev.Board.MatchingGenerations(); gen++ {
		sponsor, err := s.members.GetByID(ctx, cur)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				break
			}
			return nil, fmt.Errorf("commission_service: load sponsor %s: %w", cur, err)
		}
		if sponsor.SponsorID == "" {
			break
		}
		entries = append(entries, mk(sponsor.SponsorID, matching, domain.BonusMatching, gen))
		cur = sponsor.SponsorID
	}
	return entries, nil
}

// CycleEntry builds the CYCLE entry for a completed node, or nil when the
// board pays nothing for a cycle.
func (s *CommissionService) CycleEntry(board domain.Board, node domain.NodeState, at time.Time) *domain.LedgerEntry {
	amount := percentOf(board.EntryPrice, board.Bonuses.Cycle)
	if !amount.IsPositive() || node.OccupantID == "" {
		return nil
	}
	return &domain.LedgerEntry{
		ID:               uuid.NewString(),
		RecipientID:      node.OccupantID,
		Amount:           amount,
		Currency:         board.Currency,
		Type:             domain.BonusCycle,
		SourcePositionID: node.PositionID,
		BoardID:          board.ID,
		Status:           domain.LedgerStatusPending,
		CreatedAt:        at,
	}
}

// percentOf returns pct% of amount truncated to cents, so postings never
// exceed the configured share.
func percentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Truncate(2)
}
