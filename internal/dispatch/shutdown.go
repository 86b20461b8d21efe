package dispatch

import (
	"context"
	"fmt"
)

// ShutdownPriority orders a queue's teardown hook ahead of the sinks and
// stores its operations write to, so the queue drains while they are still
// open.
const ShutdownPriority = 100

// Shutdown drains the queue and closes it to new admissions.
//
// It performs:
//  1. Warns with the number of tasks still outstanding, if any
//  2. Waits until every admitted task has succeeded (drain barrier)
//  3. Marks the queue closed and wakes blocked producers
//  4. Joins the worker
//
// If the worker has failed the barrier never opens; Shutdown then returns
// only when ctx is done. Calling Shutdown again after it succeeded is a
// no-op.
//
// Returns:
//   - error: ctx.Err() wrapped if the wait was abandoned
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		done := q.done
		q.mu.Unlock()
		return q.join(ctx, done)
	}
	if q.outstanding > 0 {
		q.logger.Warn("processing pending tasks in the dispatch queue, please do not kill the process",
			"queue", q.cfg.Name,
			"outstanding", q.outstanding,
			"usage_bytes", q.usage,
		)
	}

	if err := q.waitDrainedLocked(ctx); err != nil {
		outstanding := q.outstanding
		q.mu.Unlock()
		q.logger.Error("dispatch queue did not drain",
			"queue", q.cfg.Name,
			"outstanding", outstanding,
			"error", err,
		)
		return fmt.Errorf("draining queue %s: %w", q.cfg.Name, err)
	}

	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	done := q.done
	q.mu.Unlock()

	q.logger.Debug("no pending tasks left", "queue", q.cfg.Name)
	return q.join(ctx, done)
}

// join waits for the worker owning done to exit.
func (q *Queue) join(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("joining worker of queue %s: %w", q.cfg.Name, ctx.Err())
	}
}

// Close drains and closes the queue without a deadline.
// It blocks forever if the worker has failed with tasks outstanding.
func (q *Queue) Close() error {
	return q.Shutdown(context.Background())
}
