package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

// PositionSummary is one position with its subtree completion.
type PositionSummary struct {
	domain.Position
	BoardName     string  `json:"board_name"`
	CapacityBelow int     `json:"capacity_below"`
	Completion    float64 `json:"completion_pct"`
}

// MemberOverview is a member's dashboard rollup.
type MemberOverview struct {
	MemberID             string                              `json:"member_id"`
	Positions            []PositionSummary                   `json:"positions"`
	CompletionPercentage float64                             `json:"completion_pct"`
	Cycles               int                                 `json:"cycles"`
	Earnings             map[domain.BonusType]decimal.Decimal `json:"earnings"`
}

// GenealogyNode is one slot of a genealogy tree view.
type GenealogyNode struct {
	SlotIndex  int                   `json:"slot_index"`
	Depth      int                   `json:"depth"`
	PositionID string                `json:"position_id,omitempty"`
	MemberID   string                `json:"member_id,omitempty"`
	Status     domain.PositionStatus `json:"status"`
	Children   []*GenealogyNode      `json:"children,omitempty"`
}

// Genealogy is the tree below one of a member's positions.
type Genealogy struct {
	BoardID    string         `json:"board_id"`
	InstanceID string         `json:"instance_id"`
	Root       *GenealogyNode `json:"root"`
}

// BoardStats summarises fill and completion of one board.
type BoardStats struct {
	BoardID        string  `json:"board_id"`
	Instances      int64   `json:"instances"`
	OpenInstances  int64   `json:"open_instances"`
	Cycled         int64   `json:"cycled_instances"`
	FillRate       float64 `json:"fill_rate_pct"`
	CompletionRate float64 `json:"completion_rate_pct"`
}

// StatsService serves read-only rollups over the position store.
type StatsService struct {
	boards    BoardLookup
	instances domain.InstanceStore
	positions domain.PositionStore
	ledger    domain.LedgerStore
	logger    *slog.Logger
}

func NewStatsService(
	boards BoardLookup,
	instances domain.InstanceStore,
	positions domain.PositionStore,
	ledger domain.LedgerStore,
	logger *slog.Logger,
) *StatsService {
	return &StatsService{
		boards:    boards,
		instances: instances,
		positions: positions,
		ledger:    ledger,
		logger:    logger,
	}
}

// Overview lists the member's positions with per-position completion. The
// overall percentage is the mean over positions; a cycled position counts
// as complete.
func (s *StatsService) Overview(ctx context.Context, memberID string) (MemberOverview, error) {
	positions, err := s.positions.ListByOccupant(ctx, memberID)
	if err != nil {
		return MemberOverview{}, fmt.Errorf("stats_service: list positions of %s: %w", memberID, err)
	}

	ov := MemberOverview{MemberID: memberID, Positions: make([]PositionSummary, 0, len(positions))}
	boards := make(map[string]domain.Board)
	var total float64
	for _, p := range positions {
		board, ok := boards[p.BoardID]
		if !ok {
			board, err = s.boards.Get(ctx, p.BoardID)
			if err != nil {
				return MemberOverview{}, fmt.Errorf("stats_service: load board %s: %w", p.BoardID, err)
			}
			boards[p.BoardID] = board
		}
		below, err := board.Geometry().CapacityBelow(p.SlotIndex)
		if err != nil {
			return MemberOverview{}, fmt.Errorf("stats_service: position %s: %w", p.ID, err)
		}

		sum := PositionSummary{Position: p, BoardName: board.Name, CapacityBelow: below}
		switch {
		case p.Status == domain.PositionStatusCycled:
			sum.Completion = 100
			ov.Cycles++
		case below == 0:
			if p.Status == domain.PositionStatusFilled {
				sum.Completion = 100
			}
		default:
			sum.Completion = pct(int64(p.FilledBelow), int64(below))
		}
		total += sum.Completion
		ov.Positions = append(ov.Positions, sum)
	}
	if len(ov.Positions) > 0 {
		ov.CompletionPercentage = round2(total / float64(len(ov.Positions)))
	}

	ov.Earnings, err = s.ledger.SumByRecipient(ctx, memberID)
	if err != nil {
		return MemberOverview{}, fmt.Errorf("stats_service: earnings of %s: %w", memberID, err)
	}
	return ov, nil
}

// Genealogy returns the tree below the member's most recent active position
// on the board, falling back to the most recent cycled one.
func (s *StatsService) Genealogy(ctx context.Context, memberID, boardID string) (Genealogy, error) {
	board, err := s.boards.Get(ctx, boardID)
	if err != nil {
		return Genealogy{}, fmt.Errorf("stats_service: genealogy board %s: %w", boardID, err)
	}
	positions, err := s.positions.ListByOccupant(ctx, memberID)
	if err != nil {
		return Genealogy{}, fmt.Errorf("stats_service: genealogy positions of %s: %w", memberID, err)
	}

	var anchor *domain.Position
	for i := range positions {
		p := &positions[i]
		if p.BoardID != boardID {
			continue
		}
		if p.Status != domain.PositionStatusCycled {
			anchor = p
			break
		}
		if anchor == nil {
			anchor = p
		}
	}
	if anchor == nil {
		return Genealogy{}, fmt.Errorf("stats_service: genealogy of %s on %s: %w", memberID, boardID, domain.ErrNotFound)
	}

	slots, err := s.positions.ListByInstance(ctx, anchor.InstanceID)
	if err != nil {
		return Genealogy{}, fmt.Errorf("stats_service: genealogy instance %s: %w", anchor.InstanceID, err)
	}
	bySlot := make(map[int]domain.Position, len(slots))
	for _, p := range slots {
		bySlot[p.SlotIndex] = p
	}

	root, err := s.subtree(board, bySlot, anchor.SlotIndex, 0)
	if err != nil {
		return Genealogy{}, err
	}
	return Genealogy{BoardID: boardID, InstanceID: anchor.InstanceID, Root: root}, nil
}

func (s *StatsService) subtree(board domain.Board, bySlot map[int]domain.Position, index, depth int) (*GenealogyNode, error) {
	node := &GenealogyNode{SlotIndex: index, Depth: depth, Status: domain.PositionStatusOpen}
	if p, ok := bySlot[index]; ok {
		node.PositionID = p.ID
		node.MemberID = p.OccupantID
		node.Status = p.Status
	}
	children, err := board.Geometry().ChildrenOf(index)
	if err != nil {
		return nil, fmt.Errorf("stats_service: children of %d: %w", index, err)
	}
	for _, c := range children {
		if _, ok := bySlot[c]; !ok {
			continue
		}
		child, err := s.subtree(board, bySlot, c, depth+1)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// BoardStats reports the fill rate over open instances and the share of
// instances that completed.
func (s *StatsService) BoardStats(ctx context.Context, boardID string) (BoardStats, error) {
	if _, err := s.boards.Get(ctx, boardID); err != nil {
		return BoardStats{}, fmt.Errorf("stats_service: board stats %s: %w", boardID, err)
	}
	c, err := s.instances.Counts(ctx, boardID)
	if err != nil {
		return BoardStats{}, fmt.Errorf("stats_service: count instances of %s: %w", boardID, err)
	}
	return BoardStats{
		BoardID:        boardID,
		Instances:      c.Total,
		OpenInstances:  c.Open,
		Cycled:         c.Cycled,
		FillRate:       pct(c.FilledOpen, c.CapacityOpen),
		CompletionRate: pct(c.Cycled, c.Total),
	}, nil
}

func pct(n, d int64) float64 {
	if d <= 0 {
		return 0
	}
	return round2(float64(n) * 100 / float64(d))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
