package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/rpcqueue/internal/dispatch"
)

// Flush timeout bounds for ?timeout=.
const (
	defaultFlushTimeout = 10 * time.Second
	maxFlushTimeout     = 5 * time.Minute
)

// QueueListResponse is returned by GET /api/v1/queues.
type QueueListResponse struct {
	Queues []dispatch.Stats `json:"queues"`
}

func (s *Server) handleListQueues(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, QueueListResponse{Queues: s.relay.Stats()})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.queueStats(chi.URLParam(r, "name"))
	if !ok {
		writeNotFound(w, "queue not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleFlushQueue waits until the queue has drained.
//
// Responds 504 if the queue is still outstanding when the timeout expires,
// which is always the case for a failed worker.
func (s *Server) handleFlushQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	timeout := defaultFlushTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeBadRequest(w, "timeout must be a positive duration such as 5s")
			return
		}
		timeout = min(d, maxFlushTimeout)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	err := s.relay.Flush(ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "queue did not drain within "+timeout.String())
		return
	case writeRelayError(w, err):
		return
	default:
		s.logger.Error("flush failed", "queue", name, "error", err)
		writeInternalError(w, "flush failed")
		return
	}

	stats, _ := s.queueStats(name)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRestartQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.relay.Restart(name); err != nil {
		if !writeRelayError(w, err) {
			s.logger.Error("restart failed", "queue", name, "error", err)
			writeInternalError(w, "restart failed")
		}
		return
	}

	stats, _ := s.queueStats(name)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) queueStats(name string) (dispatch.Stats, bool) {
	for _, st := range s.relay.Stats() {
		if st.Name == name {
			return st, true
		}
	}
	return dispatch.Stats{}, false
}
