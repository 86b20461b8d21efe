package cleanup

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
)

// Hook releases one resource. It should honour ctx as a deadline.
type Hook func(ctx context.Context) error

// Logger defines the logging interface for the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

type entry struct {
	name     string
	priority int
	seq      int
	fn       Hook
}

// Registry collects teardown hooks. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	logger  Logger
	entries []entry
	seq     int
}

// New creates an empty registry. A nil logger disables logging.
func New(logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{logger: logger}
}

// Register adds a hook. Higher priorities run first; hooks with equal
// priority run in reverse registration order, like deferred calls.
func (r *Registry) Register(name string, priority int, fn Hook) {
	if fn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.entries = append(r.entries, entry{name: name, priority: priority, seq: r.seq, fn: fn})
}

// pending returns the number of hooks not yet run.
func (r *Registry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run executes every registered hook once and forgets it. A failing hook
// does not stop the ones after it; all errors are combined.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].seq > entries[j].seq
	})

	var errs error
	for _, e := range entries {
		r.logger.Debug("running cleanup hook", "name", e.name, "priority", e.priority)
		if err := e.fn(ctx); err != nil {
			r.logger.Error("cleanup hook failed", "name", e.name, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("cleanup %s: %w", e.name, err))
		}
	}
	return errs
}
