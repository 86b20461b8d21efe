package dispatch

import (
	"container/list"
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/nerrad567/rpcqueue/internal/transport"
)

// Status represents the state of a queue's worker.
type Status string

const (
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
	StatusStopped Status = "stopped"
)

// defaultName is used when Config.Name is empty.
const defaultName = "default"

// Config holds construction-time settings for a Queue. They are fixed for
// the lifetime of the queue.
type Config struct {
	// Name identifies the queue in logs, metrics and errors.
	Name string

	// CapacityBytes bounds the cumulative payload size of admitted tasks
	// that have not yet succeeded. Must be greater than zero.
	CapacityBytes int

	// RetryCount is the attempt budget per execution cycle.
	// Values below 1 mean a single attempt.
	RetryCount int

	// RetryInterval is the sleep after each transient failure.
	RetryInterval time.Duration

	// RequeueBackoff is the pause after a task exhausts its budget and is
	// put back at the front. It doubles on every consecutive exhausted
	// cycle and resets when a task succeeds. Zero requeues immediately.
	RequeueBackoff time.Duration

	// MaxRequeueBackoff caps RequeueBackoff growth. Zero means no cap.
	MaxRequeueBackoff time.Duration

	// Classifier decides whether an operation error is transient.
	// Defaults to transport.IsTransient.
	Classifier transport.Classifier

	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger Logger

	// Observer receives queue events, typically Metrics.Observer.
	Observer Observer

	// Clock drives retry sleeps. Defaults to the real clock.
	Clock clock.Clock

	// OnFatal is called from the worker goroutine when a non-transient
	// failure stops it. It must not block.
	OnFatal func(err *FatalError)
}

// Logger defines the logging interface for the queue.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Queue is a bounded, memory-aware dispatch queue with a single retrying
// worker.
//
// pending, usage and outstanding form one resource guarded by mu. The
// notFull, notEmpty and drained conditions all share mu, so front
// reinsertion and the capacity predicate can never race.
type Queue struct {
	cfg      Config
	logger   Logger
	observer Observer
	clock    clock.Clock
	classify transport.Classifier

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	drained  *sync.Cond

	pending     *list.List
	usage       int
	outstanding int
	closed      bool

	status   Status
	lastErr  *FatalError
	poisoned *Task
	restarts int
	done     chan struct{}
}

// New creates a queue and starts its worker.
//
// Returns:
//   - *Queue: Running queue ready to accept tasks
//   - error: ErrInvalidCapacity if CapacityBytes is not positive
func New(cfg Config) (*Queue, error) {
	if cfg.CapacityBytes <= 0 {
		return nil, ErrInvalidCapacity
	}
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.RetryCount < 1 {
		cfg.RetryCount = 1
	}
	if cfg.RetryInterval < 0 {
		cfg.RetryInterval = 0
	}
	if cfg.RequeueBackoff < 0 {
		cfg.RequeueBackoff = 0
	}

	q := &Queue{
		cfg:      cfg,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		clock:    cfg.Clock,
		classify: cfg.Classifier,
		pending:  list.New(),
		status:   StatusRunning,
		done:     make(chan struct{}),
	}
	if q.logger == nil {
		q.logger = noopLogger{}
	}
	if q.observer == nil {
		q.observer = noopObserver{}
	}
	if q.clock == nil {
		q.clock = clock.RealClock{}
	}
	if q.classify == nil {
		q.classify = transport.IsTransient
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	q.drained = sync.NewCond(&q.mu)

	q.observer.WorkerStatus(StatusRunning)
	q.observer.Levels(0, 0, 0)

	go q.run(q.done)

	return q, nil
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.cfg.Name
}

// Register submits a remote write for background execution.
//
// It returns as soon as the task is admitted; there is no result. While the
// queue is over capacity the calling goroutine blocks until completions free
// enough bytes. After Shutdown the task is dropped and Register returns
// immediately. A nil operation is dropped.
func (q *Queue) Register(op Operation, payload Payload) {
	if op == nil {
		q.logger.Warn("cannot register task: nil operation", "queue", q.cfg.Name)
		q.observer.TaskDropped()
		return
	}
	q.admit(newTask(op, payload))
}

// WaitForFinish blocks until every admitted task has succeeded.
//
// It never returns while the worker is failed and tasks remain; use
// WaitForFinishContext to bound the wait.
func (q *Queue) WaitForFinish() {
	_ = q.WaitForFinishContext(context.Background()) //nolint:errcheck // Background never cancels
}

// WaitForFinishContext blocks until every admitted task has succeeded or
// ctx is done, in which case ctx.Err() is returned.
func (q *Queue) WaitForFinishContext(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waitDrainedLocked(ctx)
}

// waitDrainedLocked waits on drained until outstanding reaches zero.
// mu must be held.
func (q *Queue) waitDrainedLocked(ctx context.Context) error {
	if q.outstanding == 0 {
		return nil
	}

	// Wake the waiter on cancellation. The callback takes mu, so the
	// broadcast cannot land between the ctx check and Wait.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.drained.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for q.outstanding > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.drained.Wait()
	}
	return nil
}

// admit charges the task against capacity and appends it to the tail.
func (q *Queue) admit(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dropLocked(t)
		return
	}

	for q.usage+t.size >= q.cfg.CapacityBytes && !q.closed {
		q.notFull.Wait()
	}

	// Shutdown may have closed the queue while we waited for capacity.
	if q.closed {
		q.dropLocked(t)
		return
	}

	q.usage += t.size
	q.outstanding++
	q.pending.PushBack(t)
	q.notEmpty.Signal()

	q.observer.TaskAdmitted(t.size)
	q.reportLocked()
}

func (q *Queue) dropLocked(t *Task) {
	q.logger.Debug("cannot register task: queue is stopped",
		"queue", q.cfg.Name,
		"task_id", t.ID,
		"size", t.size,
	)
	q.observer.TaskDropped()
}

// take removes and returns the head task, blocking while the queue is
// empty. It reports false once the queue is closed and empty.
func (q *Queue) take() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.pending.Len() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.pending.Len() == 0 {
		return nil, false
	}

	t := q.pending.Remove(q.pending.Front()).(*Task)
	q.reportLocked()
	return t, true
}

// requeueFront puts a retried-out task back at the head. Its charge and
// outstanding count are still held, so accounting is unchanged.
func (q *Queue) requeueFront(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending.PushFront(t)
	q.notEmpty.Signal()
	q.reportLocked()
}

// completeSuccess releases a succeeded task's charge.
func (q *Queue) completeSuccess(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaseLocked(t)
}

func (q *Queue) releaseLocked(t *Task) {
	q.usage -= t.size
	q.outstanding--
	q.notFull.Broadcast()
	if q.outstanding == 0 {
		q.drained.Broadcast()
	}
	q.reportLocked()
}

func (q *Queue) reportLocked() {
	q.observer.Levels(q.usage, q.outstanding, q.pending.Len())
}

// Stats is a point-in-time snapshot of a queue.
type Stats struct {
	Name          string `json:"name"`
	Status        Status `json:"status"`
	UsageBytes    int    `json:"usage_bytes"`
	CapacityBytes int    `json:"capacity_bytes"`
	Outstanding   int    `json:"outstanding"`
	Pending       int    `json:"pending"`
	Closed        bool   `json:"closed"`
	Restarts      int    `json:"restarts"`
	LastError     string `json:"last_error,omitempty"`
}

// Stats returns current statistics for the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Name:          q.cfg.Name,
		Status:        q.status,
		UsageBytes:    q.usage,
		CapacityBytes: q.cfg.CapacityBytes,
		Outstanding:   q.outstanding,
		Pending:       q.pending.Len(),
		Closed:        q.closed,
		Restarts:      q.restarts,
	}
	if q.lastErr != nil {
		stats.LastError = q.lastErr.Error()
	}
	return stats
}

// Status returns the worker's current status.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Err returns the failure that stopped the worker, or nil while it runs.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lastErr == nil {
		return nil
	}
	return q.lastErr
}

// Done returns a channel that is closed when the current worker exits,
// either after Shutdown or on a fatal failure. Restart replaces it.
func (q *Queue) Done() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}
