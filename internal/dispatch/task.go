package dispatch

import "github.com/google/uuid"

// KV is one key/value pair of a write payload.
type KV struct {
	Key   []byte
	Value []byte
}

// Payload is the ordered argument of a remote write operation.
//
// The queue never interprets the bytes; it only uses them to size the task.
type Payload []KV

// Size returns the approximate wire size of the payload: the sum of the
// lengths of every key and value.
func (p Payload) Size() int {
	size := 0
	for _, kv := range p {
		size += len(kv.Key) + len(kv.Value)
	}
	return size
}

// Operation is a remote write. It receives the payload it was registered
// with and returns nil on success, a transient error when the remote is
// temporarily unavailable, or any other error for a permanent failure.
type Operation func(payload Payload) error

// Task is a unit of work held by a Queue. It is immutable once admitted and
// is executed until it succeeds exactly once.
type Task struct {
	// ID identifies the task in logs and errors.
	ID string

	op      Operation
	payload Payload
	size    int
}

func newTask(op Operation, payload Payload) *Task {
	return &Task{
		ID:      uuid.NewString(),
		op:      op,
		payload: payload,
		size:    payload.Size(),
	}
}

// Size returns the number of bytes the task is charged against capacity.
func (t *Task) Size() int {
	return t.size
}
