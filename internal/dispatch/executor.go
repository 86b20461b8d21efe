package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// run is the worker loop. done is closed when the loop exits.
func (q *Queue) run(done chan struct{}) {
	defer close(done)

	var backoff time.Duration
	for {
		task, ok := q.take()
		if !ok {
			q.logger.Debug("shutting down dispatch worker", "queue", q.cfg.Name)
			q.setStatus(StatusStopped)
			return
		}

		attempts, err := q.execute(task)
		switch {
		case err == nil:
			q.completeSuccess(task)
			q.observer.TaskCompleted(attempts)
			backoff = 0

		case errors.Is(err, errRetriesExhausted):
			q.requeueFront(task)
			q.observer.TaskRequeued()
			backoff = q.nextBackoff(backoff)
			q.logger.Warn("remote write still unavailable, task requeued at front",
				"queue", q.cfg.Name,
				"task_id", task.ID,
				"attempts", attempts,
				"backoff", backoff,
			)
			if backoff > 0 {
				q.clock.Sleep(backoff)
			}

		default:
			q.fail(task, err)
			return
		}
	}
}

// execute applies the retry policy to one task.
//
// It returns the number of attempts made and nil on success,
// errRetriesExhausted when every attempt failed transiently, or the
// operation's error when a non-transient failure occurred.
func (q *Queue) execute(t *Task) (int, error) {
	for attempt := 1; ; attempt++ {
		err := q.invoke(t)
		if err == nil {
			return attempt, nil
		}

		if !q.classify(err) {
			q.observer.AttemptFailed(false)
			return attempt, err
		}

		q.observer.AttemptFailed(true)
		q.logger.Warn("remote server is unavailable, please check network connection",
			"queue", q.cfg.Name,
			"task_id", t.ID,
			"attempt", attempt,
			"error", err,
		)
		q.clock.Sleep(q.cfg.RetryInterval)

		if attempt >= q.cfg.RetryCount {
			return attempt, errRetriesExhausted
		}
	}
}

// invoke runs the operation, turning a panic into a non-transient error.
func (q *Queue) invoke(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return t.op(t.payload)
}

// nextBackoff returns the pause before the next cycle after a requeue.
func (q *Queue) nextBackoff(prev time.Duration) time.Duration {
	if q.cfg.RequeueBackoff <= 0 {
		return 0
	}
	next := q.cfg.RequeueBackoff
	if prev > 0 {
		next = prev * 2
	}
	if q.cfg.MaxRequeueBackoff > 0 && next > q.cfg.MaxRequeueBackoff {
		next = q.cfg.MaxRequeueBackoff
	}
	return next
}

// fail records the fatal failure that stops the worker. The task keeps its
// charge and outstanding count; only Restart releases them.
func (q *Queue) fail(t *Task, cause error) {
	fatal := &FatalError{Queue: q.cfg.Name, TaskID: t.ID, Err: cause}

	q.mu.Lock()
	q.status = StatusFailed
	q.lastErr = fatal
	q.poisoned = t
	outstanding := q.outstanding
	q.mu.Unlock()

	q.observer.WorkerStatus(StatusFailed)
	q.logger.Error("dispatch worker stopped on non-transient error, queue no longer drains",
		"queue", q.cfg.Name,
		"task_id", t.ID,
		"outstanding", outstanding,
		"error", cause,
	)

	if q.cfg.OnFatal != nil {
		q.cfg.OnFatal(fatal)
	}
}

func (q *Queue) setStatus(s Status) {
	q.mu.Lock()
	q.status = s
	q.mu.Unlock()
	q.observer.WorkerStatus(s)
}

// Restart replaces a failed worker with a new one.
//
// The task that stopped the worker is abandoned: its charge and outstanding
// count are released so that producers and drain waiters can make progress.
// Tasks still pending are executed by the new worker in their original
// order.
//
// Returns:
//   - error: ErrNotFailed if the worker is running, ErrClosed after Shutdown
func (q *Queue) Restart() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.status != StatusFailed {
		q.mu.Unlock()
		return ErrNotFailed
	}

	abandoned := q.poisoned
	cause := q.lastErr
	q.poisoned = nil
	q.lastErr = nil
	if abandoned != nil {
		q.releaseLocked(abandoned)
	}
	q.status = StatusRunning
	q.restarts++
	restarts := q.restarts
	done := make(chan struct{})
	q.done = done
	q.mu.Unlock()

	if abandoned != nil {
		q.logger.Warn("abandoned task that stopped the dispatch worker",
			"queue", q.cfg.Name,
			"task_id", abandoned.ID,
			"size", abandoned.size,
			"error", cause.Err,
		)
		q.observer.TaskAbandoned()
	}
	q.observer.WorkerStatus(StatusRunning)
	q.logger.Info("dispatch worker restarted", "queue", q.cfg.Name, "restarts", restarts)

	go q.run(done)
	return nil
}
