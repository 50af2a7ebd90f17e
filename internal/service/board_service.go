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
)

var hundred = decimal.NewFromInt(100)

// BoardService is the board registry: validated creation, lookup and
// updates that refuse geometry changes once positions exist.
type BoardService struct {
	boards domain.BoardStore
	cache  domain.BoardCache
	events emitter
	logger *slog.Logger
}

// NewBoardService creates a BoardService. cache may be nil.
func NewBoardService(
	boards domain.BoardStore,
	cache domain.BoardCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *BoardService {
	return &BoardService{
		boards: boards,
		cache:  cache,
		events: emitter{name: "board_service", bus: bus, audit: audit, logger: logger},
		logger: logger,
	}
}

// Create validates and stores a new board. An empty ID is assigned.
func (s *BoardService) Create(ctx context.Context, b domain.Board) (domain.Board, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := s.validate(ctx, b); err != nil {
		return domain.Board{}, err
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := s.boards.Create(ctx, b); err != nil {
		return domain.Board{}, fmt.Errorf("board_service: create %s: %w", b.ID, err)
	}

	s.events.publish(ctx, domain.ChannelBoards, "board_created", b)
	s.events.record(ctx, domain.AuditBoardCreated, map[string]any{
		"board_id": b.ID,
		"width":    b.Width,
		"depth":    b.Depth,
		"price":    b.EntryPrice.String(),
	})
	s.logger.InfoContext(ctx, "board_service: board created",
		slog.String("board_id", b.ID),
		slog.Int("width", b.Width),
		slog.Int("depth", b.Depth),
	)
	return b, nil
}

// Get returns a board, reading through the cache when one is configured.
func (s *BoardService) Get(ctx context.Context, id string) (domain.Board, error) {
	if s.cache != nil {
		if b, err := s.cache.Get(ctx, id); err == nil {
			return b, nil
		}
	}

	b, err := s.boards.GetByID(ctx, id)
	if err != nil {
		return domain.Board{}, fmt.Errorf("board_service: get %s: %w", id, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, b); err != nil {
			s.logger.WarnContext(ctx, "board_service: cache set failed",
				slog.String("board_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return b, nil
}

func (s *BoardService) List(ctx context.Context, filter domain.BoardFilter) ([]domain.Board, error) {
	boards, err := s.boards.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("board_service: list: %w", err)
	}
	return boards, nil
}

// Update replaces a board's configuration. Width and depth are frozen once
// any position references the board.
func (s *BoardService) Update(ctx context.Context, b domain.Board) (domain.Board, error) {
	cur, err := s.boards.GetByID(ctx, b.ID)
	if err != nil {
		return domain.Board{}, fmt.Errorf("board_service: update %s: %w", b.ID, err)
	}

	if cur.Width != b.Width || cur.Depth != b.Depth {
		used, err := s.boards.HasPositions(ctx, b.ID)
		if err != nil {
			return domain.Board{}, fmt.Errorf("board_service: update %s: %w", b.ID, err)
		}
		if used {
			return domain.Board{}, fmt.Errorf("board_service: update %s: %w", b.ID, domain.ErrBoardLocked)
		}
	}
	if err := s.validate(ctx, b); err != nil {
		return domain.Board{}, err
	}

	b.CreatedAt = cur.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	if err := s.boards.Update(ctx, b); err != nil {
		return domain.Board{}, fmt.Errorf("board_service: update %s: %w", b.ID, err)
	}
	s.invalidate(ctx, b.ID)

	s.events.publish(ctx, domain.ChannelBoards, "board_updated", b)
	s.events.record(ctx, domain.AuditBoardUpdated, map[string]any{
		"board_id": b.ID,
		"active":   b.Active,
	})
	return b, nil
}

// SetActive toggles whether the board accepts purchases.
func (s *BoardService) SetActive(ctx context.Context, id string, active bool) (domain.Board, error) {
	b, err := s.boards.GetByID(ctx, id)
	if err != nil {
		return domain.Board{}, fmt.Errorf("board_service: set active %s: %w", id, err)
	}
	b.Active = active
	return s.Update(ctx, b)
}

func (s *BoardService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "board_service: cache invalidate failed",
			slog.String("board_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *BoardService) validate(ctx context.Context, b domain.Board) error {
	if err := ValidateBoard(b); err != nil {
		return err
	}
	if b.NextBoardID != "" && b.NextBoardID != b.ID {
		if _, err := s.boards.GetByID(ctx, b.NextBoardID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Invalid("next_board_id", "board %s does not exist", b.NextBoardID)
			}
			return fmt.Errorf("board_service: resolve next board %s: %w", b.NextBoardID, err)
		}
	}
	return nil
}

// ValidateBoard checks the self-contained rules of a board definition.
func ValidateBoard(b domain.Board) error {
	if b.Width < 2 {
		return domain.Invalid("width", "must be at least 2, got %d", b.Width)
	}
	if b.Depth < 1 {
		return domain.Invalid("depth", "must be at least 1, got %d", b.Depth)
	}
	if err := b.Geometry().Validate(); err != nil {
		return domain.Invalid("depth", "%v", err)
	}
	if !b.EntryPrice.IsPositive() {
		return domain.Invalid("entry_price", "must be positive")
	}
	if b.Currency == "" {
		return domain.Invalid("currency", "required")
	}

	pcts := []struct {
		field string
		v     decimal.Decimal
	}{
		{"bonuses.referral", b.Bonuses.Referral},
		{"bonuses.matrix", b.Bonuses.Matrix},
		{"bonuses.matching", b.Bonuses.Matching},
		{"bonuses.cycle", b.Bonuses.Cycle},
	}
	for _, p := range pcts {
		if p.v.IsNegative() {
			return domain.Invalid(p.field, "must not be negative")
		}
	}
	if b.Bonuses.Sum().GreaterThan(hundred) {
		return domain.Invalid("bonuses", "percentages sum to %s, above 100", b.Bonuses.Sum())
	}

	if b.MatrixDepth < 0 || b.MatrixDepth > b.Depth-1 {
		return domain.Invalid("matrix_depth", "must be within [0, %d]", b.Depth-1)
	}
	if b.MatchingDepth < 0 {
		return domain.Invalid("matching_depth", "must not be negative")
	}
	if b.MaxInstances < 0 {
		return domain.Invalid("max_instances", "must not be negative")
	}
	return nil
}
