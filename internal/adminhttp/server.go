// Package adminhttp exposes the operator-facing health and status surface:
// the pipeline has no user-facing API, but an operator needs liveness and
// last-run visibility.
package adminhttp

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bionicpro/reports-etl/internal/scheduler"
)

// StatusTracker records the most recent run result so /status can report
// it without touching the mart. The Runner calls Record after every
// scheduled instant.
type StatusTracker struct {
	mu   sync.RWMutex
	last *scheduler.RunResult
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{}
}

// Record stores result as the most recently observed run.
func (t *StatusTracker) Record(result scheduler.RunResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := result
	t.last = &r
}

func (t *StatusTracker) snapshot() *scheduler.RunResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

type statusResponse struct {
	RunID           string    `json:"run_id,omitempty"`
	State           string    `json:"state,omitempty"`
	WindowStart     time.Time `json:"window_start,omitempty"`
	WindowEnd       time.Time `json:"window_end,omitempty"`
	RowsLoaded      int       `json:"rows_loaded"`
	UsersTouched    int       `json:"users_touched"`
	OrphanTelemetry int       `json:"orphan_telemetry"`
	InvalidMetric   int       `json:"invalid_metric"`
	Error           string    `json:"error,omitempty"`
}

// NewRouter builds the admin HTTP surface: /healthz for liveness probes
// and /status for the last completed run's outcome.
func NewRouter(tracker *StatusTracker, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		last := tracker.snapshot()
		if last == nil {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(statusResponse{})
			return
		}

		resp := statusResponse{
			RunID:           last.RunID,
			State:           string(last.State),
			WindowStart:     last.WindowStart,
			WindowEnd:       last.WindowEnd,
			RowsLoaded:      last.RowsLoaded,
			UsersTouched:    last.UsersTouched,
			OrphanTelemetry: last.OrphanTelemetry,
			InvalidMetric:   last.InvalidMetric,
		}
		if last.Err != nil {
			resp.Error = last.Err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Warn("failed to encode status response", zap.Error(err))
		}
	})

	return r
}
