package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/nerrad567/rpcqueue/internal/cleanup"
	"github.com/nerrad567/rpcqueue/internal/dispatch"
	"github.com/nerrad567/rpcqueue/internal/infrastructure/config"
	"github.com/nerrad567/rpcqueue/internal/wire"
)

// Sink is a remote destination for a run's records.
//
// WriteRecords must classify its errors: transient failures (wrapped with
// transport.Unavailable) are retried by the queue, anything else stops the
// queue's worker.
type Sink interface {
	Name() string
	WriteRecords(ctx context.Context, run string, payload dispatch.Payload) error
}

// BatchChecker is implemented by sinks that cannot deliver some batches at
// all, such as a transport with a message size limit. Submit rejects a batch
// any sink refuses before it reaches a queue.
type BatchChecker interface {
	CheckBatch(run string, payload dispatch.Payload) error
}

// Logger defines the logging interface for the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures a Relay.
type Config struct {
	Queue      config.QueueConfig
	Supervisor config.SupervisorConfig

	// Logger receives queue and supervisor events. Nil disables logging.
	Logger Logger

	// Metrics, if set, observes every queue under its sink name.
	Metrics *dispatch.Metrics

	// Clock drives retry sleeps and restart delays. Defaults to the real clock.
	Clock clock.Clock

	// OnFatal is called when a queue's worker stops on a non-transient error.
	OnFatal func(err *dispatch.FatalError)
}

type route struct {
	sink  Sink
	queue *dispatch.Queue
	sup   *supervisor
}

// Relay owns one dispatch queue per sink.
type Relay struct {
	cfg    Config
	logger Logger
	routes []*route
	byName map[string]*route

	// ctx is handed to sink writes and supervisors; cancelled by Close once
	// the queues have drained.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool
}

// New builds a relay and starts a queue and supervisor per sink.
//
// Returns:
//   - *Relay: Running relay
//   - error: ErrNoSinks, ErrDuplicateSink, or a queue construction error
func New(cfg Config, sinks ...Sink) (*Relay, error) {
	if len(sinks) == 0 {
		return nil, ErrNoSinks
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		cfg:    cfg,
		logger: cfg.Logger,
		byName: make(map[string]*route, len(sinks)),
		ctx:    ctx,
		cancel: cancel,
	}

	for _, sink := range sinks {
		name := sink.Name()
		if _, dup := r.byName[name]; dup {
			r.abort()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSink, name)
		}

		q, err := dispatch.New(r.queueConfig(name))
		if err != nil {
			r.abort()
			return nil, fmt.Errorf("creating queue %s: %w", name, err)
		}

		rt := &route{sink: sink, queue: q}
		rt.sup = newSupervisor(q, cfg.Supervisor, cfg.Clock, r.logger)
		r.routes = append(r.routes, rt)
		r.byName[name] = rt
	}

	for _, rt := range r.routes {
		r.wg.Add(1)
		go func(s *supervisor) {
			defer r.wg.Done()
			s.watch(r.ctx)
		}(rt.sup)
	}

	r.logger.Info("relay started", "queues", r.Names())
	return r, nil
}

func (r *Relay) queueConfig(name string) dispatch.Config {
	qc := dispatch.Config{
		Name:              name,
		CapacityBytes:     r.cfg.Queue.CapacityBytes,
		RetryCount:        r.cfg.Queue.RetryCount,
		RetryInterval:     r.cfg.Queue.RetryInterval,
		RequeueBackoff:    r.cfg.Queue.RequeueBackoff,
		MaxRequeueBackoff: r.cfg.Queue.MaxRequeueBackoff,
		Logger:            r.logger,
		Clock:             r.cfg.Clock,
		OnFatal:           r.cfg.OnFatal,
	}
	if r.cfg.Metrics != nil {
		qc.Observer = r.cfg.Metrics.Observer(name)
	}
	return qc
}

// abort stops queues built before New failed. They hold no tasks yet.
func (r *Relay) abort() {
	for _, rt := range r.routes {
		_ = rt.queue.Close()
	}
	r.cancel()
}

// Names returns the queue names in sink order.
func (r *Relay) Names() []string {
	names := make([]string, len(r.routes))
	for i, rt := range r.routes {
		names[i] = rt.sink.Name()
	}
	return names
}

// Queue returns the queue serving the named sink.
func (r *Relay) Queue(name string) (*dispatch.Queue, error) {
	rt, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return rt.queue, nil
}

// Submit registers one write of payload on every sink queue.
//
// It blocks while any queue is at capacity. Delivery is asynchronous:
// failures surface through the queue's status and metrics, not here. A
// Submit racing Close may be dropped by queues that already closed.
//
// A batch no queue could ever admit, or one a sink refuses, is rejected
// with ErrBatchTooLarge and reaches no queue.
//
// Returns:
//   - error: wire.ErrMissingRun, wire.ErrNoRecords, ErrBatchTooLarge, or ErrClosed
func (r *Relay) Submit(run string, payload dispatch.Payload) error {
	if run == "" {
		return wire.ErrMissingRun
	}
	if len(payload) == 0 {
		return wire.ErrNoRecords
	}
	if err := r.checkBatch(run, payload); err != nil {
		return err
	}

	if r.closed.Load() {
		return ErrClosed
	}

	for _, rt := range r.routes {
		sink := rt.sink
		rt.queue.Register(func(p dispatch.Payload) error {
			return sink.WriteRecords(r.ctx, run, p)
		}, payload)
	}
	return nil
}

// checkBatch applies the admission limits shared by every queue and each
// sink's own limits.
func (r *Relay) checkBatch(run string, payload dispatch.Payload) error {
	// Admission waits while usage+size >= capacity, so a batch of capacity
	// bytes or more would block forever even on an empty queue.
	if size, capacity := payload.Size(), r.cfg.Queue.CapacityBytes; size >= capacity {
		return fmt.Errorf("%w: %d bytes, queue capacity is %d", ErrBatchTooLarge, size, capacity)
	}
	for _, rt := range r.routes {
		checker, ok := rt.sink.(BatchChecker)
		if !ok {
			continue
		}
		if err := checker.CheckBatch(run, payload); err != nil {
			return fmt.Errorf("%w: sink %s: %w", ErrBatchTooLarge, rt.sink.Name(), err)
		}
	}
	return nil
}

// Flush waits until the named queue has drained, or ctx is done.
func (r *Relay) Flush(ctx context.Context, name string) error {
	q, err := r.Queue(name)
	if err != nil {
		return err
	}
	return q.WaitForFinishContext(ctx)
}

// Restart restarts the named queue's failed worker.
func (r *Relay) Restart(name string) error {
	q, err := r.Queue(name)
	if err != nil {
		return err
	}
	if err := q.Restart(); err != nil {
		return err
	}
	r.logger.Info("queue restarted on request", "queue", name)
	return nil
}

// Stats returns a snapshot of every queue in sink order.
func (r *Relay) Stats() []dispatch.Stats {
	stats := make([]dispatch.Stats, len(r.routes))
	for i, rt := range r.routes {
		stats[i] = rt.queue.Stats()
	}
	return stats
}

// Healthy reports whether every queue's worker is running.
func (r *Relay) Healthy() bool {
	for _, rt := range r.routes {
		if rt.queue.Status() != dispatch.StatusRunning {
			return false
		}
	}
	return true
}

// Close stops admissions, drains every queue concurrently and stops the
// supervisors. Sinks are not closed.
//
// A queue whose worker has failed cannot drain; Close then returns when
// ctx is done, with the queue left open.
func (r *Relay) Close(ctx context.Context) error {
	r.closed.Store(true)

	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range r.routes {
		q := rt.queue
		g.Go(func() error {
			return q.Shutdown(gctx)
		})
	}
	err := g.Wait()

	r.cancel()
	r.wg.Wait()

	if err != nil {
		return fmt.Errorf("closing relay: %w", err)
	}
	r.logger.Info("relay stopped")
	return nil
}

// RegisterCleanup adds the relay's drain to reg at dispatch.ShutdownPriority,
// ahead of the sinks it writes to.
func (r *Relay) RegisterCleanup(reg *cleanup.Registry) {
	reg.Register("relay", dispatch.ShutdownPriority, r.Close)
}
