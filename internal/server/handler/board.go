package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/service"
)

// BoardService is what the board handler needs from the board registry.
type BoardService interface {
	Create(ctx context.Context, b domain.Board) (domain.Board, error)
	Get(ctx context.Context, id string) (domain.Board, error)
	List(ctx context.Context, filter domain.BoardFilter) ([]domain.Board, error)
	Update(ctx context.Context, b domain.Board) (domain.Board, error)
}

// BoardStatsService computes board rollups.
type BoardStatsService interface {
	BoardStats(ctx context.Context, boardID string) (service.BoardStats, error)
}

// BoardHandler serves board configuration endpoints.
type BoardHandler struct {
	boards BoardService
	stats  BoardStatsService
	logger *slog.Logger
}

// NewBoardHandler creates a BoardHandler.
func NewBoardHandler(boards BoardService, stats BoardStatsService, logger *slog.Logger) *BoardHandler {
	return &BoardHandler{boards: boards, stats: stats, logger: logger}
}

type bonusRequest struct {
	Referral string `json:"referral" validate:"omitempty,decimal"`
	Matrix   string `json:"matrix" validate:"omitempty,decimal"`
	Matching string `json:"matching" validate:"omitempty,decimal"`
	Cycle    string `json:"cycle" validate:"omitempty,decimal"`
}

// boardRequest is the body of create and update. Amounts and percentages
// travel as strings so no precision is lost.
type boardRequest struct {
	Name          string       `json:"name" validate:"required,max=120"`
	Width         int          `json:"width" validate:"required,min=2"`
	Depth         int          `json:"depth" validate:"required,min=1"`
	EntryPrice    string       `json:"entry_price" validate:"required,positive"`
	Currency      string       `json:"currency" validate:"required,len=3,uppercase"`
	Bonuses       bonusRequest `json:"bonuses"`
	MatrixDepth   int          `json:"matrix_depth" validate:"gte=0"`
	MatchingDepth int          `json:"matching_depth" validate:"gte=0"`
	NextBoardID   string       `json:"next_board_id" validate:"omitempty,max=64"`
	CycleSubtrees bool         `json:"cycle_subtrees"`
	MaxInstances  int          `json:"max_instances" validate:"gte=0"`
	Active        *bool        `json:"active"`
}

func (req boardRequest) toBoard(id string) domain.Board {
	pct := func(s string) decimal.Decimal {
		if s == "" {
			return decimal.Zero
		}
		return decimal.RequireFromString(s)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return domain.Board{
		ID:         id,
		Name:       req.Name,
		Width:      req.Width,
		Depth:      req.Depth,
		EntryPrice: decimal.RequireFromString(req.EntryPrice),
		Currency:   req.Currency,
		Bonuses: domain.BonusTable{
			Referral: pct(req.Bonuses.Referral),
			Matrix:   pct(req.Bonuses.Matrix),
			Matching: pct(req.Bonuses.Matching),
			Cycle:    pct(req.Bonuses.Cycle),
		},
		MatrixDepth:   req.MatrixDepth,
		MatchingDepth: req.MatchingDepth,
		NextBoardID:   req.NextBoardID,
		CycleSubtrees: req.CycleSubtrees,
		MaxInstances:  req.MaxInstances,
		Active:        active,
	}
}

// ListBoards returns the configured boards.
// GET /api/boards?active=true&currency=USD
func (h *BoardHandler) ListBoards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.BoardFilter{Currency: q.Get("currency")}
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		filter.ActiveOnly = b
	}

	boards, err := h.boards.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list boards", err)
		return
	}
	if boards == nil {
		boards = []domain.Board{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"boards": boards})
}

// CreateBoard registers a new board.
// POST /api/boards
func (h *BoardHandler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	var req boardRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	b, err := h.boards.Create(r.Context(), req.toBoard(""))
	if err != nil {
		writeServiceError(w, r, h.logger, "create board", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBoard returns one board.
// GET /api/boards/{id}
func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	b, err := h.boards.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get board", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// UpdateBoard replaces a board's configuration.
// PUT /api/boards/{id}
func (h *BoardHandler) UpdateBoard(w http.ResponseWriter, r *http.Request) {
	var req boardRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	b, err := h.boards.Update(r.Context(), req.toBoard(pathParam(r, "id")))
	if err != nil {
		writeServiceError(w, r, h.logger, "update board", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// BoardStats returns fill and completion rates.
// GET /api/boards/{id}/stats
func (h *BoardHandler) BoardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.BoardStats(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "board stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
