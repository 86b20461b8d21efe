package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for dispatch operations.
var (
	// ErrInvalidCapacity is returned by New when CapacityBytes is not positive.
	ErrInvalidCapacity = errors.New("dispatch: capacity must be greater than zero")

	// ErrWorkerFailed matches every FatalError via errors.Is.
	ErrWorkerFailed = errors.New("dispatch: worker stopped on non-transient error")

	// ErrNotFailed is returned by Restart when the worker is still running.
	ErrNotFailed = errors.New("dispatch: worker has not failed")

	// ErrClosed is returned by Restart after Shutdown has closed the queue.
	ErrClosed = errors.New("dispatch: queue is closed")

	// errRetriesExhausted reports that a task used its whole attempt budget
	// on transient failures. It never leaves the package.
	errRetriesExhausted = errors.New("dispatch: retry budget exhausted")
)

// FatalError describes the non-transient failure that stopped a queue's
// worker.
type FatalError struct {
	// Queue is the name of the queue whose worker stopped.
	Queue string

	// TaskID identifies the task whose operation failed.
	TaskID string

	// Err is the error returned (or the panic recovered) from the operation.
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("dispatch: queue %q worker stopped by task %s: %v", e.Queue, e.TaskID, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrWorkerFailed) hold for every FatalError.
func (e *FatalError) Is(target error) bool {
	return target == ErrWorkerFailed
}
