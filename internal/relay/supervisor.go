package relay

import (
	"context"
	"errors"
	"sync"

	"k8s.io/utils/clock"

	"github.com/nerrad567/rpcqueue/internal/dispatch"
	"github.com/nerrad567/rpcqueue/internal/infrastructure/config"
)

// supervisor watches one queue and restarts its worker after a fatal
// failure, if the policy allows.
type supervisor struct {
	queue  *dispatch.Queue
	cfg    config.SupervisorConfig
	clock  clock.Clock
	logger Logger

	mu       sync.Mutex
	restarts int
}

func newSupervisor(q *dispatch.Queue, cfg config.SupervisorConfig, clk clock.Clock, logger Logger) *supervisor {
	return &supervisor{queue: q, cfg: cfg, clock: clk, logger: logger}
}

// watch blocks until ctx is done, the queue stops, or the restart budget
// runs out.
func (s *supervisor) watch(ctx context.Context) {
	name := s.queue.Name()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.queue.Done():
		}

		switch s.queue.Status() {
		case dispatch.StatusStopped:
			return
		case dispatch.StatusRunning:
			// Restarted through the API while we were waking up.
			continue
		}

		if !s.cfg.RestartOnFailure {
			s.logger.Warn("restart disabled, queue stays failed until restarted manually",
				"queue", name,
				"error", s.queue.Err(),
			)
			return
		}

		s.mu.Lock()
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		if s.cfg.MaxRestartAttempts > 0 && attempt > s.cfg.MaxRestartAttempts {
			s.logger.Error("max restart attempts reached, queue stays failed",
				"queue", name,
				"attempts", attempt-1,
			)
			return
		}

		s.logger.Info("restarting queue worker",
			"queue", name,
			"attempt", attempt,
			"delay", s.cfg.RestartDelay,
		)

		if s.cfg.RestartDelay > 0 {
			select {
			case <-ctx.Done():
				s.logger.Info("context cancelled, not restarting", "queue", name)
				return
			case <-s.clock.After(s.cfg.RestartDelay):
			}
		}

		if err := s.queue.Restart(); err != nil {
			if errors.Is(err, dispatch.ErrClosed) {
				return
			}
			// ErrNotFailed: someone restarted it during the delay.
			s.logger.Debug("queue restart skipped", "queue", name, "error", err)
		}
	}
}

// attempts returns how many automatic restarts were attempted.
func (s *supervisor) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}
