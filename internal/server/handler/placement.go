package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/matrixnet/internal/service"
)

// Placer places purchases.
type Placer interface {
	Place(ctx context.Context, req service.PlaceRequest) (service.Placement, error)
}

// PlacementHandler serves the purchase endpoint.
type PlacementHandler struct {
	placer Placer
	logger *slog.Logger
}

// NewPlacementHandler creates a PlacementHandler.
func NewPlacementHandler(placer Placer, logger *slog.Logger) *PlacementHandler {
	return &PlacementHandler{placer: placer, logger: logger}
}

type placementRequest struct {
	MemberID  string `json:"member_id" validate:"required,max=64,printascii"`
	SponsorID string `json:"sponsor_id" validate:"omitempty,max=64,printascii,nefield=MemberID"`
}

// Place records a paid purchase of the board in the path.
// POST /api/boards/{id}/placements
func (h *PlacementHandler) Place(w http.ResponseWriter, r *http.Request) {
	var req placementRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.placer.Place(r.Context(), service.PlaceRequest{
		BoardID:   pathParam(r, "id"),
		MemberID:  req.MemberID,
		SponsorID: req.SponsorID,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "place", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
