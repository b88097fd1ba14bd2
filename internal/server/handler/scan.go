package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbscanner/internal/domain"
	"github.com/alanyoungcy/arbscanner/internal/scheduler"
)

// Scanner is the slice of the scheduler the API needs.
type Scanner interface {
	TriggerNow(ctx context.Context) (*scheduler.CycleResult, error)
	Status() scheduler.ScanStatus
}

// ScanHandler exposes the scanner's status and manual trigger.
type ScanHandler struct {
	scanner Scanner
	logger  *slog.Logger
}

// NewScanHandler creates a ScanHandler.
func NewScanHandler(scanner Scanner, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scanner: scanner, logger: logger}
}

// Status reports both loops' state, stream connectivity and the last cycle.
// GET /api/status
func (h *ScanHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.Status())
}

// Trigger runs a discovery cycle immediately. A cycle already in flight
// yields 409, not a queued run.
// POST /api/scan
func (h *ScanHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	res, err := h.scanner.TriggerNow(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrScanBusy) {
			writeError(w, http.StatusConflict, "scan already in progress")
			return
		}
		h.logger.Error("manual scan failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}
