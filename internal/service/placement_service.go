package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/metrics"
)

// errNoOpenSlot means the sponsor's subtree filled up between lookup and
// search; the placement retries against refreshed state.
var errNoOpenSlot = errors.New("no open slot below sponsor")

// PlacementConfig tunes claim retries and instance allocation.
type PlacementConfig struct {
	MaxClaimRetries   int
	AllocationLockTTL time.Duration
	RetryBackoff      time.Duration
}

// PlaceRequest is a paid purchase of one board entry.
type PlaceRequest struct {
	BoardID   string `json:"board_id"`
	MemberID  string `json:"member_id"`
	SponsorID string `json:"sponsor_id,omitempty"`
}

// ReentryRequest places a cycled occupant as the root of a new instance.
// OriginPositionID makes the request idempotent.
type ReentryRequest struct {
	BoardID          string
	MemberID         string
	OriginPositionID string
}

// Placement is the result of a successful purchase.
type Placement struct {
	Position domain.Position      `json:"position"`
	Instance domain.Instance      `json:"instance"`
	Entries  []domain.LedgerEntry `json:"entries"`
	Cycles   []CycleOutcome       `json:"cycles"`
	Attempts int                  `json:"attempts"`
}

// PlacementService assigns purchases to slots using sponsor-first
// breadth-first spillover. A lost slot claim is retried against a fresh
// snapshot of the instance.
type PlacementService struct {
	boards     BoardLookup
	members    domain.MemberStore
	instances  domain.InstanceStore
	positions  domain.PositionStore
	locks      domain.LockManager
	cycles     *CycleService
	commission *CommissionService
	metrics    *metrics.Metrics
	events     emitter
	cfg        PlacementConfig
	logger     *slog.Logger
}

// NewPlacementService creates a PlacementService and binds it as the
// re-entry target of cycles.
func NewPlacementService(
	boards BoardLookup,
	members domain.MemberStore,
	instances domain.InstanceStore,
	positions domain.PositionStore,
	locks domain.LockManager,
	cycles *CycleService,
	commission *CommissionService,
	bus domain.SignalBus,
	audit domain.AuditStore,
	m *metrics.Metrics,
	cfg PlacementConfig,
	logger *slog.Logger,
) *PlacementService {
	if cfg.MaxClaimRetries <= 0 {
		cfg.MaxClaimRetries = 5
	}
	if cfg.AllocationLockTTL <= 0 {
		cfg.AllocationLockTTL = 5 * time.Second
	}
	s := &PlacementService{
		boards:     boards,
		members:    members,
		instances:  instances,
		positions:  positions,
		locks:      locks,
		cycles:     cycles,
		commission: commission,
		metrics:    m,
		events:     emitter{name: "placement_service", bus: bus, audit: audit, logger: logger},
		cfg:        cfg,
		logger:     logger,
	}
	cycles.BindPlacer(s)
	return s
}

// Place assigns the member to a slot, then runs cycle detection and posts
// the commissions of the placement before returning.
func (s *PlacementService) Place(ctx context.Context, req PlaceRequest) (Placement, error) {
	started := time.Now()
	p, err := s.place(ctx, req)
	s.metrics.ObservePlacement(req.BoardID, placementOutcome(err), started)
	if err != nil {
		s.logger.WarnContext(ctx, "placement_service: placement rejected",
			slog.String("board_id", req.BoardID),
			slog.String("member_id", req.MemberID),
			slog.String("sponsor_id", req.SponsorID),
			slog.String("error", err.Error()),
		)
		return Placement{}, err
	}
	return p, nil
}

func (s *PlacementService) place(ctx context.Context, req PlaceRequest) (Placement, error) {
	if req.BoardID == "" {
		return Placement{}, domain.Invalid("board_id", "required")
	}
	if req.MemberID == "" {
		return Placement{}, domain.Invalid("member_id", "required")
	}
	if req.SponsorID == req.MemberID {
		return Placement{}, domain.Invalid("sponsor_id", "a member cannot sponsor itself")
	}

	board, err := s.boards.Get(ctx, req.BoardID)
	if err != nil {
		return Placement{}, fmt.Errorf("placement_service: load board %s: %w", req.BoardID, err)
	}
	if !board.Active {
		return Placement{}, domain.Invalid("board_id", "board %s is not active", board.ID)
	}

	if req.SponsorID != "" {
		if _, err := s.members.GetByID(ctx, req.SponsorID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return Placement{}, fmt.Errorf("placement_service: sponsor %s: %w", req.SponsorID, domain.ErrSponsorNotFound)
			}
			return Placement{}, fmt.Errorf("placement_service: load sponsor %s: %w", req.SponsorID, err)
		}
	}
	member, created, err := s.members.Register(ctx, domain.Member{
		ID:           req.MemberID,
		SponsorID:    req.SponsorID,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		return Placement{}, fmt.Errorf("placement_service: register member %s: %w", req.MemberID, err)
	}
	if created {
		s.events.record(ctx, domain.AuditMemberRegistered, map[string]any{
			"member_id":  member.ID,
			"sponsor_id": member.SponsorID,
		})
	}
	sponsor := req.SponsorID
	if sponsor == "" {
		sponsor = member.SponsorID
	}

	var (
		res     domain.ClaimResult
		attempt int
	)
	for {
		attempt++
		if attempt > s.cfg.MaxClaimRetries {
			return Placement{}, fmt.Errorf("placement_service: place %s on %s after %d attempts: %w",
				member.ID, board.ID, s.cfg.MaxClaimRetries, domain.ErrPlacementContention)
		}
		res, err = s.attempt(ctx, board, member.ID, sponsor)
		if err == nil {
			break
		}
		if !retryable(err) {
			return Placement{}, err
		}
		s.metrics.ClaimConflict(board.ID)
		s.logger.DebugContext(ctx, "placement_service: claim conflict, retrying",
			slog.String("board_id", board.ID),
			slog.String("member_id", member.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if err := s.pause(ctx, attempt); err != nil {
			return Placement{}, fmt.Errorf("placement_service: place %s: %w", member.ID, err)
		}
	}

	p := Placement{Position: res.Position, Instance: res.Instance, Attempts: attempt}
	s.announce(ctx, board, p, sponsor)

	// The slot is ours from here on; later failures are logged for
	// reconciliation and never un-place the member.
	cycles, err := s.cycles.OnClaim(ctx, board, res)
	if err != nil {
		s.logger.ErrorContext(ctx, "placement_service: cycle check failed",
			slog.String("position_id", res.Position.ID),
			slog.String("error", err.Error()),
		)
	}
	p.Cycles = cycles

	entries, err := s.commission.OnPlacement(ctx, PlacementEvent{
		Board:     board,
		Position:  res.Position,
		Ancestors: res.Ancestors,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "placement_service: commission posting failed",
			slog.String("position_id", res.Position.ID),
			slog.String("error", err.Error()),
		)
		s.events.record(ctx, domain.AuditCommissionFailed, map[string]any{
			"board_id":    board.ID,
			"member_id":   res.Position.OccupantID,
			"position_id": res.Position.ID,
			"error":       err.Error(),
		})
	}
	p.Entries = entries
	return p, nil
}

// attempt resolves the target instance and slot and claims it once.
func (s *PlacementService) attempt(ctx context.Context, board domain.Board, memberID, sponsor string) (domain.ClaimResult, error) {
	pending, err := s.instances.FindPendingRoot(ctx, board.ID, memberID)
	switch {
	case err == nil:
		return s.claim(ctx, board, pending.ID, 0, memberID)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.ClaimResult{}, fmt.Errorf("placement_service: find pending root: %w", err)
	}

	// A single-slot board has no room below anyone.
	if sponsor == "" || board.Geometry().Capacity() == 1 {
		return s.allocateRoot(ctx, board, memberID)
	}

	instanceID, start, err := s.sponsorSlot(ctx, board, sponsor)
	if errors.Is(err, domain.ErrNotFound) {
		instanceID, start, err = s.allocateForSponsor(ctx, board, sponsor)
	}
	if err != nil {
		return domain.ClaimResult{}, err
	}

	target, err := s.findOpenSlot(ctx, board, instanceID, start, memberID)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	return s.claim(ctx, board, instanceID, target, memberID)
}

// sponsorSlot returns the sponsor's slot in their most recent open instance
// that still has room below it.
func (s *PlacementService) sponsorSlot(ctx context.Context, board domain.Board, sponsor string) (string, int, error) {
	geom := board.Geometry()
	slots, err := s.positions.ListActiveByOccupant(ctx, board.ID, sponsor)
	if err != nil {
		return "", 0, fmt.Errorf("placement_service: list sponsor slots: %w", err)
	}
	for _, p := range slots {
		below, err := geom.CapacityBelow(p.SlotIndex)
		if err != nil {
			return "", 0, fmt.Errorf("placement_service: sponsor slot %d: %w", p.SlotIndex, err)
		}
		if p.FilledBelow < below {
			return p.InstanceID, p.SlotIndex, nil
		}
	}
	return "", 0, domain.ErrNotFound
}

// allocateForSponsor creates a new instance with the sponsor as pending
// root. The lock keeps concurrent purchases under one sponsor from each
// allocating their own instance.
func (s *PlacementService) allocateForSponsor(ctx context.Context, board domain.Board, sponsor string) (string, int, error) {
	unlock, err := s.locks.Acquire(ctx, "alloc:"+board.ID+":"+sponsor, s.cfg.AllocationLockTTL)
	if err != nil {
		return "", 0, fmt.Errorf("placement_service: allocation lock: %w", err)
	}
	defer unlock()

	instanceID, start, err := s.sponsorSlot(ctx, board, sponsor)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return instanceID, start, err
	}

	inst, _, err := s.instances.Allocate(ctx, domain.InstanceAllocation{
		BoardID:      board.ID,
		RootMemberID: sponsor,
		RootFilled:   false,
		Capacity:     board.Geometry().Capacity(),
		MaxInstances: board.MaxInstances,
		At:           time.Now().UTC(),
	})
	if err != nil {
		return "", 0, fmt.Errorf("placement_service: allocate instance for %s: %w", sponsor, err)
	}
	s.events.publish(ctx, domain.ChannelPlacements, "instance_allocated", inst)
	s.logger.InfoContext(ctx, "placement_service: instance allocated",
		slog.String("board_id", board.ID),
		slog.String("instance_id", inst.ID),
		slog.String("pending_root", sponsor),
	)
	return inst.ID, 0, nil
}

// allocateRoot places the member as the filled root of a new instance.
func (s *PlacementService) allocateRoot(ctx context.Context, board domain.Board, memberID string) (domain.ClaimResult, error) {
	inst, root, err := s.instances.Allocate(ctx, domain.InstanceAllocation{
		BoardID:      board.ID,
		RootMemberID: memberID,
		RootFilled:   true,
		Capacity:     board.Geometry().Capacity(),
		MaxInstances: board.MaxInstances,
		At:           time.Now().UTC(),
	})
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("placement_service: allocate root for %s: %w", memberID, err)
	}
	return domain.ClaimResult{Position: root, Instance: inst}, nil
}

// findOpenSlot searches breadth-first below start for the first slot that
// has no record or an unreserved OPEN record.
func (s *PlacementService) findOpenSlot(ctx context.Context, board domain.Board, instanceID string, start int, memberID string) (int, error) {
	positions, err := s.positions.ListByInstance(ctx, instanceID)
	if err != nil {
		return 0, fmt.Errorf("placement_service: load instance %s: %w", instanceID, err)
	}
	state := make(map[int]domain.Position, len(positions))
	for _, p := range positions {
		if p.OccupantID == memberID {
			return 0, fmt.Errorf("placement_service: %s in instance %s: %w", memberID, instanceID, domain.ErrMemberAlreadyPlaced)
		}
		state[p.SlotIndex] = p
	}

	target := -1
	err = board.Geometry().BreadthFirst(start, func(i int) bool {
		p, ok := state[i]
		if !ok || (p.Status == domain.PositionStatusOpen && p.OccupantID == "") {
			target = i
			return false
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("placement_service: search below %d: %w", start, err)
	}
	if target < 0 {
		return 0, errNoOpenSlot
	}
	return target, nil
}

func (s *PlacementService) claim(ctx context.Context, board domain.Board, instanceID string, index int, memberID string) (domain.ClaimResult, error) {
	ancestors, err := board.Geometry().Ancestors(index)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("placement_service: ancestors of %d: %w", index, err)
	}
	res, err := s.positions.Claim(ctx, domain.SlotClaim{
		BoardID:    board.ID,
		InstanceID: instanceID,
		SlotIndex:  index,
		MemberID:   memberID,
		Ancestors:  ancestors,
		At:         time.Now().UTC(),
	})
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("placement_service: claim %s/%d: %w", instanceID, index, err)
	}
	return res, nil
}

// Reenter allocates a new instance rooted at the cycled occupant. A repeated
// request for the same origin returns the instance created the first time.
func (s *PlacementService) Reenter(ctx context.Context, req ReentryRequest) (domain.Instance, error) {
	board, err := s.boards.Get(ctx, req.BoardID)
	if err != nil {
		return domain.Instance{}, fmt.Errorf("placement_service: reentry board %s: %w", req.BoardID, err)
	}

	// A one-slot instance would cycle again immediately, forever.
	if board.Geometry().Capacity() == 1 {
		if err := s.positions.MarkReentered(ctx, req.OriginPositionID, ""); err != nil {
			return domain.Instance{}, fmt.Errorf("placement_service: mark reentry skipped %s: %w", req.OriginPositionID, err)
		}
		s.logger.InfoContext(ctx, "placement_service: reentry skipped for single-slot board",
			slog.String("board_id", board.ID),
			slog.String("member_id", req.MemberID),
		)
		return domain.Instance{}, nil
	}

	fresh := true
	inst, _, err := s.instances.Allocate(ctx, domain.InstanceAllocation{
		BoardID:          board.ID,
		RootMemberID:     req.MemberID,
		RootFilled:       true,
		OriginPositionID: req.OriginPositionID,
		Capacity:         board.Geometry().Capacity(),
		MaxInstances:     board.MaxInstances,
		At:               time.Now().UTC(),
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		fresh = false
		inst, err = s.instances.FindByOrigin(ctx, req.OriginPositionID)
	}
	if err != nil {
		return domain.Instance{}, fmt.Errorf("placement_service: reenter %s from %s: %w", req.MemberID, req.OriginPositionID, err)
	}

	if err := s.positions.MarkReentered(ctx, req.OriginPositionID, inst.ID); err != nil {
		return domain.Instance{}, fmt.Errorf("placement_service: mark reentered %s: %w", req.OriginPositionID, err)
	}

	if fresh {
		s.events.publish(ctx, domain.ChannelPlacements, "member_reentered", map[string]any{
			"board_id":    board.ID,
			"member_id":   req.MemberID,
			"instance_id": inst.ID,
			"origin":      req.OriginPositionID,
		})
		s.events.record(ctx, domain.AuditMemberReentered, map[string]any{
			"board_id":    board.ID,
			"member_id":   req.MemberID,
			"instance_id": inst.ID,
			"origin":      req.OriginPositionID,
		})
		s.logger.InfoContext(ctx, "placement_service: member reentered",
			slog.String("board_id", board.ID),
			slog.String("member_id", req.MemberID),
			slog.String("instance_id", inst.ID),
		)
	}
	return inst, nil
}

func (s *PlacementService) announce(ctx context.Context, board domain.Board, p Placement, sponsor string) {
	detail := map[string]any{
		"board_id":    board.ID,
		"instance_id": p.Instance.ID,
		"position_id": p.Position.ID,
		"slot":        p.Position.SlotIndex,
		"member_id":   p.Position.OccupantID,
		"sponsor_id":  sponsor,
		"attempts":    p.Attempts,
	}
	s.events.publish(ctx, domain.ChannelPlacements, "member_placed", detail)
	s.events.record(ctx, domain.AuditMemberPlaced, detail)
	s.logger.InfoContext(ctx, "placement_service: member placed",
		slog.String("board_id", board.ID),
		slog.String("instance_id", p.Instance.ID),
		slog.Int("slot", p.Position.SlotIndex),
		slog.String("member_id", p.Position.OccupantID),
	)
}

func (s *PlacementService) pause(ctx context.Context, attempt int) error {
	if s.cfg.RetryBackoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(attempt) * s.cfg.RetryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrSlotTaken) ||
		errors.Is(err, domain.ErrInstanceClosed) ||
		errors.Is(err, domain.ErrLockHeld) ||
		errors.Is(err, errNoOpenSlot)
}

func placementOutcome(err error) string {
	switch {
	case err == nil:
		return "placed"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrBoardFull):
		return "board_full"
	case errors.Is(err, domain.ErrPlacementContention):
		return "contention"
	case errors.Is(err, domain.ErrSponsorNotFound):
		return "sponsor_not_found"
	case errors.Is(err, domain.ErrMemberAlreadyPlaced):
		return "already_placed"
	default:
		return "error"
	}
}
