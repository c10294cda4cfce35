package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/egp/internal/audit"
	"github.com/wonny/egp/pkg/logger"
)

// RunReader reads stored allocation runs
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*audit.RunRecord, error)
	LatestRun(ctx context.Context, strategyID string) (*audit.RunRecord, error)
	ListRuns(ctx context.Context, strategyID string, limit int) ([]*audit.RunRecord, error)
}

// RunHandler serves published allocation runs
type RunHandler struct {
	runs           RunReader
	streamInterval time.Duration
	logger         *logger.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(runs RunReader, log *logger.Logger) *RunHandler {
	return &RunHandler{
		runs:           runs,
		streamInterval: DefaultStreamInterval,
		logger:         logger.OrNop(log).WithComponent("api"),
	}
}

// GetRun returns one run
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.runs.GetRun(r.Context(), mux.Vars(r)["id"])
	h.respondRun(w, rec, err)
}

// LatestRun returns the latest successful run of a strategy
// GET /api/strategies/{strategy}/runs/latest
func (h *RunHandler) LatestRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.runs.LatestRun(r.Context(), mux.Vars(r)["strategy"])
	h.respondRun(w, rec, err)
}

// ListRuns returns recent runs of a strategy, newest first
// GET /api/strategies/{strategy}/runs?limit=20
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer in [1, 500]")
			return
		}
		limit = n
	}

	records, err := h.runs.ListRuns(r.Context(), mux.Vars(r)["strategy"], limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondError(w, http.StatusInternalServerError, "internal", "failed to list runs")
		return
	}
	if records == nil {
		records = []*audit.RunRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  records,
		"count": len(records),
	})
}

func (h *RunHandler) respondRun(w http.ResponseWriter, rec *audit.RunRecord, err error) {
	switch {
	case errors.Is(err, audit.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case err != nil:
		h.logger.WithError(err).Error("Failed to read run")
		respondError(w, http.StatusInternalServerError, "internal", "failed to read run")
	default:
		respondJSON(w, http.StatusOK, rec)
	}
}
