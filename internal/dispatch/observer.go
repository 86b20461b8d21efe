package dispatch

// Observer receives queue events.
//
// Levels and TaskAdmitted are called with the queue lock held and must not
// call back into the queue.
type Observer interface {
	// TaskAdmitted is called once per admitted task with its size.
	TaskAdmitted(size int)

	// TaskDropped is called when a task is rejected (queue closed or nil
	// operation).
	TaskDropped()

	// AttemptFailed is called after every failed execution attempt.
	AttemptFailed(transient bool)

	// TaskRequeued is called when a task exhausts its budget and returns
	// to the front.
	TaskRequeued()

	// TaskCompleted is called once per succeeded task with the attempts its
	// final cycle took.
	TaskCompleted(attempts int)

	// TaskAbandoned is called when Restart discards the task that stopped
	// the worker.
	TaskAbandoned()

	// WorkerStatus is called on every worker status change.
	WorkerStatus(s Status)

	// Levels reports byte usage, outstanding tasks and pending tasks.
	Levels(usage, outstanding, pending int)
}

type noopObserver struct{}

func (noopObserver) TaskAdmitted(int)     {}
func (noopObserver) TaskDropped()         {}
func (noopObserver) AttemptFailed(bool)   {}
func (noopObserver) TaskRequeued()        {}
func (noopObserver) TaskCompleted(int)    {}
func (noopObserver) TaskAbandoned()       {}
func (noopObserver) WorkerStatus(Status)  {}
func (noopObserver) Levels(int, int, int) {}
