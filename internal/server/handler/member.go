package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/service"
)

// MemberStats serves per-member rollups.
type MemberStats interface {
	Overview(ctx context.Context, memberID string) (service.MemberOverview, error)
	Genealogy(ctx context.Context, memberID, boardID string) (service.Genealogy, error)
}

// LedgerReader lists a member's ledger entries.
type LedgerReader interface {
	ListByRecipient(ctx context.Context, memberID string, opts domain.ListOpts) ([]domain.LedgerEntry, error)
}

// ActivityReader lists the audit rows recorded against a member.
type ActivityReader interface {
	ListByMember(ctx context.Context, memberID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// MemberHandler serves member dashboard endpoints.
type MemberHandler struct {
	stats    MemberStats
	ledger   LedgerReader
	activity ActivityReader
	logger   *slog.Logger
}

// NewMemberHandler creates a MemberHandler.
func NewMemberHandler(stats MemberStats, ledger LedgerReader, activity ActivityReader, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{stats: stats, ledger: ledger, activity: activity, logger: logger}
}

// Overview returns positions, completion and earnings.
// GET /api/members/{id}/overview
func (h *MemberHandler) Overview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.stats.Overview(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "member overview", err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// Genealogy returns the tree below the member's latest position on a board.
// GET /api/members/{id}/genealogy?board=<board id>
func (h *MemberHandler) Genealogy(w http.ResponseWriter, r *http.Request) {
	boardID := r.URL.Query().Get("board")
	if boardID == "" {
		writeError(w, http.StatusBadRequest, "board query parameter is required")
		return
	}
	g, err := h.stats.Genealogy(r.Context(), pathParam(r, "id"), boardID)
	if err != nil {
		writeServiceError(w, r, h.logger, "genealogy", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// Ledger lists the member's ledger entries, newest first.
// GET /api/members/{id}/ledger?limit=50&offset=0
func (h *MemberHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.ledger.ListByRecipient(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "member ledger", err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// Activity lists the member's registrations, placements, re-entries and
// cycles, newest first.
// GET /api/members/{id}/activity?limit=50&offset=0
func (h *MemberHandler) Activity(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.activity.ListByMember(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "member activity", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activity": entries,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}
