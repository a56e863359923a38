package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/V4T54L/fuel-importer/internal/domain"
)

const (
	defaultFailureCount = 10
	maxFailureCount     = 100
)

// RunController is the part of the scheduler the ops API drives.
type RunController interface {
	Trigger() error
	LastReport() (domain.RunReport, bool)
	Busy() bool
}

// FailureLister lists recent failed runs, newest first.
type FailureLister interface {
	RecentFailures(ctx context.Context, count int64) ([]domain.RunReport, error)
}

// OpsHandler handles the operator endpoints of the importer.
type OpsHandler struct {
	runs     RunController
	failures FailureLister
	logger   *slog.Logger
}

// NewOpsHandler creates a new OpsHandler. failures may be nil.
func NewOpsHandler(runs RunController, failures FailureLister, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{runs: runs, failures: failures, logger: logger.With("component", "ops_handler")}
}

// HealthCheck reports liveness and whether a run is in flight.
// GET /health
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "run_in_progress": h.runs.Busy()})
}

// LastRun returns the report of the most recent finished run.
// GET /runs/last
func (h *OpsHandler) LastRun(w http.ResponseWriter, r *http.Request) {
	report, ok := h.runs.LastReport()
	if !ok {
		http.Error(w, "no run finished yet", http.StatusNotFound)
		return
	}
	h.respondWithJSON(w, http.StatusOK, report)
}

// RecentFailures lists the latest failed runs.
// GET /runs/failures?count=10
func (h *OpsHandler) RecentFailures(w http.ResponseWriter, r *http.Request) {
	if h.failures == nil {
		http.Error(w, "failure history not configured", http.StatusNotImplemented)
		return
	}

	count := int64(defaultFailureCount)
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		var err error
		count, err = strconv.ParseInt(countStr, 10, 64)
		if err != nil || count <= 0 {
			http.Error(w, "invalid count parameter", http.StatusBadRequest)
			return
		}
	}
	count = min(count, maxFailureCount)

	reports, err := h.failures.RecentFailures(r.Context(), count)
	if err != nil {
		h.logger.Error("failed to list recent failures", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []domain.RunReport{}
	}
	h.respondWithJSON(w, http.StatusOK, reports)
}

// TriggerRun starts an out-of-schedule run.
// POST /runs/trigger
func (h *OpsHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	err := h.runs.Trigger()
	switch {
	case err == nil:
		h.logger.Info("manual run triggered", "remote_addr", r.RemoteAddr)
		h.respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
	case errors.Is(err, domain.ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Warn("manual run rejected", "error", err)
		http.Error(w, "scheduler unavailable", http.StatusServiceUnavailable)
	}
}

func (h *OpsHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
