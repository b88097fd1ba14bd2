package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbscanner/internal/domain"
)

// MatchHandler serves confirmed matches and their price history.
type MatchHandler struct {
	matches domain.MatchStore
	history domain.HistoryStore
	logger  *slog.Logger
}

// NewMatchHandler creates a MatchHandler.
func NewMatchHandler(matches domain.MatchStore, history domain.HistoryStore, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{matches: matches, history: history, logger: logger}
}

// List returns matches ordered by fee-adjusted spread, best first.
// GET /api/matches
func (h *MatchHandler) List(w http.ResponseWriter, r *http.Request) {
	matches, err := h.matches.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("list matches", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list matches")
		return
	}
	if matches == nil {
		matches = []domain.ConfirmedMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// Get returns one match by id.
// GET /api/matches/{id}
func (h *MatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}

	m, err := h.matches.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "match not found")
			return
		}
		h.logger.Error("get match", slog.Int64("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load match")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Delete removes a match and, via the schema cascade, its history.
// DELETE /api/matches/{id}
func (h *MatchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}

	if err := h.matches.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "match not found")
			return
		}
		h.logger.Error("delete match", slog.Int64("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to delete match")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History returns a match's price snapshots, newest first.
// GET /api/matches/{id}/history
func (h *MatchHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match id")
		return
	}

	if _, err := h.matches.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "match not found")
			return
		}
		h.logger.Error("get match", slog.Int64("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load match")
		return
	}

	snaps, err := h.history.ListByMatch(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.Error("list history", slog.Int64("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if snaps == nil {
		snaps = []domain.PriceSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}
