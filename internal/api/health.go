package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/rpcqueue/internal/dispatch"
)

// healthCheckTimeout bounds each dependency check.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status  string                     `json:"status"`
	Version string                     `json:"version"`
	Queues  map[string]dispatch.Status `json:"queues"`
	Checks  map[string]string          `json:"checks,omitempty"`
}

// handleHealth reports "ok" when every queue worker runs and every sink
// check passes, otherwise "degraded" with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Queues:  make(map[string]dispatch.Status),
	}

	for _, st := range s.relay.Stats() {
		resp.Queues[st.Name] = st.Status
	}
	if !s.relay.Healthy() {
		resp.Status = "degraded"
	}

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, hc := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := hc.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
