package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/matrix"
	"github.com/alanyoungcy/matrixnet/internal/metrics"
)

// BoardLookup resolves board configuration.
type BoardLookup interface {
	Get(ctx context.Context, id string) (domain.Board, error)
}

// Notifier forwards operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Reenterer places a cycled occupant into a fresh instance.
type Reenterer interface {
	Reenter(ctx context.Context, req ReentryRequest) (domain.Instance, error)
}

// CycleOutcome describes one completed node.
type CycleOutcome struct {
	InstanceID        string              `json:"instance_id"`
	SlotIndex         int                 `json:"slot_index"`
	PositionID        string              `json:"position_id"`
	MemberID          string              `json:"member_id"`
	Entry             *domain.LedgerEntry `json:"entry,omitempty"`
	ReentryInstanceID string              `json:"reentry_instance_id,omitempty"`
}

// ReplayReport summarises a recovery pass.
type ReplayReport struct {
	Commissioned int `json:"commissioned"`
	Evaluated    int `json:"evaluated"`
	Cycled       int `json:"cycled"`
	Reentered    int `json:"reentered"`
	Failed       int `json:"failed"`
}

// CycleService detects completed subtrees from the filled-below counters
// returned by a claim, records the cycle and its bonus atomically, and
// re-enters the occupant.
type CycleService struct {
	boards     BoardLookup
	instances  domain.InstanceStore
	positions  domain.PositionStore
	commission *CommissionService
	placer     Reenterer
	bus        domain.SignalBus
	notifier   Notifier
	metrics    *metrics.Metrics
	events     emitter
	logger     *slog.Logger
}

// NewCycleService creates a CycleService. notifier may be nil. The placer
// is bound afterwards with BindPlacer because placement and cycling call
// each other.
func NewCycleService(
	boards BoardLookup,
	instances domain.InstanceStore,
	positions domain.PositionStore,
	commission *CommissionService,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *CycleService {
	return &CycleService{
		boards:     boards,
		instances:  instances,
		positions:  positions,
		commission: commission,
		bus:        bus,
		notifier:   notifier,
		metrics:    m,
		events:     emitter{name: "cycle_service", bus: bus, audit: audit, logger: logger},
		logger:     logger,
	}
}

// BindPlacer sets the component used to re-enter cycled occupants.
func (s *CycleService) BindPlacer(p Reenterer) {
	s.placer = p
}

// OnClaim walks from the claimed slot up to the root, nearest first, and
// completes every node whose subtree is now full. Completeness is monotonic
// up the chain, so the walk stops at the first incomplete node.
func (s *CycleService) OnClaim(ctx context.Context, board domain.Board, res domain.ClaimResult) ([]CycleOutcome, error) {
	geom := board.Geometry()
	path := make([]domain.NodeState, 0, 1+len(res.Ancestors))
	path = append(path, stateOf(res.Position))
	path = append(path, res.Ancestors...)

	var out []CycleOutcome
	for _, node := range path {
		done, below, err := isComplete(geom, node)
		if err != nil {
			return out, fmt.Errorf("cycle_service: check %s/%d: %w", res.Instance.ID, node.SlotIndex, err)
		}
		if !done {
			break
		}
		if !cycles(board, node.SlotIndex, below) {
			continue
		}
		oc, applied, err := s.complete(ctx, board, res.Instance.ID, node)
		if err != nil {
			return out, err
		}
		if applied {
			out = append(out, oc)
		}
	}
	return out, nil
}

// Evaluate re-checks one node from stored state and completes it if its
// subtree is full. A node that already cycled is a no-op.
func (s *CycleService) Evaluate(ctx context.Context, instanceID string, slotIndex int) (bool, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return false, fmt.Errorf("cycle_service: evaluate %s: %w", instanceID, err)
	}
	board, err := s.boards.Get(ctx, inst.BoardID)
	if err != nil {
		return false, fmt.Errorf("cycle_service: evaluate %s: %w", instanceID, err)
	}
	pos, err := s.positions.GetSlot(ctx, instanceID, slotIndex)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("cycle_service: evaluate %s/%d: %w", instanceID, slotIndex, err)
	}

	node := stateOf(pos)
	done, below, err := isComplete(board.Geometry(), node)
	if err != nil || !done || !cycles(board, slotIndex, below) {
		return false, err
	}
	_, applied, err := s.complete(ctx, board, instanceID, node)
	return applied, err
}

// ReplayPending finishes work interrupted by a crash: placements whose
// commissions were never posted, full instances whose cycle was never
// recorded and cycled positions whose occupant was never re-entered.
func (s *CycleService) ReplayPending(ctx context.Context, limit int) (ReplayReport, error) {
	var rep ReplayReport

	recovered, failed, err := s.commission.Recover(ctx, s.boards, limit)
	if err != nil {
		return rep, fmt.Errorf("cycle_service: %w", err)
	}
	rep.Commissioned = recovered
	rep.Failed += failed

	full, err := s.instances.ListFullOpen(ctx, limit)
	if err != nil {
		return rep, fmt.Errorf("cycle_service: list full instances: %w", err)
	}
	for _, inst := range full {
		rep.Evaluated++
		applied, err := s.Evaluate(ctx, inst.ID, 0)
		if err != nil {
			rep.Failed++
			s.logger.ErrorContext(ctx, "cycle_service: replay evaluate failed",
				slog.String("instance_id", inst.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if applied {
			rep.Cycled++
		}
	}

	pending, err := s.positions.ListCycledAwaitingReentry(ctx, limit)
	if err != nil {
		return rep, fmt.Errorf("cycle_service: list pending reentries: %w", err)
	}
	for _, pos := range pending {
		board, err := s.boards.Get(ctx, pos.BoardID)
		if err != nil {
			rep.Failed++
			s.logger.ErrorContext(ctx, "cycle_service: replay board lookup failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := s.recycle(ctx, board, stateOf(pos)); err != nil {
			rep.Failed++
			s.logger.ErrorContext(ctx, "cycle_service: replay reentry failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		rep.Reentered++
	}

	if rep != (ReplayReport{}) {
		s.logger.InfoContext(ctx, "cycle_service: replay finished",
			slog.Int("commissioned", rep.Commissioned),
			slog.Int("evaluated", rep.Evaluated),
			slog.Int("cycled", rep.Cycled),
			slog.Int("reentered", rep.Reentered),
			slog.Int("failed", rep.Failed),
		)
	}
	return rep, nil
}

func (s *CycleService) complete(ctx context.Context, board domain.Board, instanceID string, node domain.NodeState) (CycleOutcome, bool, error) {
	at := time.Now().UTC()
	entry := s.commission.CycleEntry(board, node, at)

	applied, err := s.positions.CompleteCycle(ctx, domain.CycleCompletion{
		InstanceID: instanceID,
		SlotIndex:  node.SlotIndex,
		IsRoot:     node.SlotIndex == 0,
		Entry:      entry,
		At:         at,
	})
	if err != nil {
		return CycleOutcome{}, false, fmt.Errorf("cycle_service: complete %s/%d: %w", instanceID, node.SlotIndex, err)
	}
	if !applied {
		s.logger.DebugContext(ctx, "cycle_service: duplicate completion ignored",
			slog.String("instance_id", instanceID),
			slog.Int("slot", node.SlotIndex),
		)
		return CycleOutcome{}, false, nil
	}

	s.metrics.Cycle(board.ID)
	if entry != nil {
		s.metrics.Posted(string(domain.BonusCycle), 1)
	}

	oc := CycleOutcome{
		InstanceID: instanceID,
		SlotIndex:  node.SlotIndex,
		PositionID: node.PositionID,
		MemberID:   node.OccupantID,
		Entry:      entry,
	}
	s.announce(ctx, board, oc)

	inst, err := s.recycle(ctx, board, node)
	if err != nil {
		// The cycle itself is recorded; ReplayPending retries the re-entry.
		s.logger.ErrorContext(ctx, "cycle_service: reentry failed",
			slog.String("position_id", node.PositionID),
			slog.String("member_id", node.OccupantID),
			slog.String("error", err.Error()),
		)
	} else {
		oc.ReentryInstanceID = inst.ID
	}
	return oc, true, nil
}

func (s *CycleService) recycle(ctx context.Context, board domain.Board, node domain.NodeState) (domain.Instance, error) {
	if s.placer == nil {
		return domain.Instance{}, errors.New("cycle_service: no placer bound")
	}
	return s.placer.Reenter(ctx, ReentryRequest{
		BoardID:          board.RecycleBoardID(),
		MemberID:         node.OccupantID,
		OriginPositionID: node.PositionID,
	})
}

func (s *CycleService) announce(ctx context.Context, board domain.Board, oc CycleOutcome) {
	kind := domain.AuditInstanceCycled
	if oc.SlotIndex != 0 {
		kind = domain.AuditSubtreeCycled
	}
	s.events.publish(ctx, domain.ChannelCycles, string(kind), oc)

	if s.bus != nil {
		if payload, err := json.Marshal(oc); err == nil {
			if err := s.bus.StreamAppend(ctx, domain.StreamCycles, payload); err != nil {
				s.logger.WarnContext(ctx, "cycle_service: stream append failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}

	detail := map[string]any{
		"board_id":    board.ID,
		"instance_id": oc.InstanceID,
		"slot":        oc.SlotIndex,
		"member_id":   oc.MemberID,
	}
	if oc.Entry != nil {
		detail["amount"] = oc.Entry.Amount.String()
	}
	s.events.record(ctx, kind, detail)

	if s.notifier != nil {
		msg := fmt.Sprintf("Member %s completed a %s cycle (instance %s)", oc.MemberID, board.Name, oc.InstanceID)
		if err := s.notifier.Notify(ctx, string(kind), "Cycle completed", msg); err != nil {
			s.logger.WarnContext(ctx, "cycle_service: notify failed",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "cycle_service: node cycled",
		slog.String("board_id", board.ID),
		slog.String("instance_id", oc.InstanceID),
		slog.Int("slot", oc.SlotIndex),
		slog.String("member_id", oc.MemberID),
	)
}

// isComplete reports whether a FILLED node has every descendant slot filled,
// along with the node's capacity below.
func isComplete(geom matrix.Geometry, node domain.NodeState) (bool, int, error) {
	below, err := geom.CapacityBelow(node.SlotIndex)
	if err != nil {
		return false, 0, err
	}
	if node.Status != domain.PositionStatusFilled {
		return false, below, nil
	}
	return node.FilledBelow >= below, below, nil
}

// cycles reports whether a complete node is one that cycles: always the
// root, and inner nodes only on boards that cycle subtrees. Leaves never
// cycle on their own.
func cycles(board domain.Board, slotIndex, below int) bool {
	if slotIndex == 0 {
		return true
	}
	return board.CycleSubtrees && below > 0
}

func stateOf(p domain.Position) domain.NodeState {
	return domain.NodeState{
		PositionID:  p.ID,
		SlotIndex:   p.SlotIndex,
		OccupantID:  p.OccupantID,
		Status:      p.Status,
		FilledBelow: p.FilledBelow,
	}
}
