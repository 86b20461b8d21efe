// Package dispatch provides a bounded, memory-aware, retrying dispatch queue
// for remote write operations.
//
// A Queue decouples producers (SDK code emitting writes for a tracked run)
// from a remote service. Producers hand over an opaque Operation together
// with its Payload of key/value byte pairs and return immediately; a single
// background worker executes the operations in order, retrying transient
// failures, so that remote unavailability neither blocks nor loses data for
// the producer.
//
// # Admission
//
// Capacity is expressed in payload bytes, not item count. Register blocks
// while the bytes held by admitted-but-unfinished tasks plus the new task's
// size would reach the capacity. A task's size is charged once at admission
// and released once when it succeeds. A task whose size alone reaches the
// capacity blocks its producer forever, so CapacityBytes must exceed the
// largest expected payload.
//
// # Execution
//
// One worker per queue. Each task is attempted up to RetryCount times,
// sleeping RetryInterval after every transient failure. A task that is still
// failing transiently after its budget is put back at the front of the queue
// and retried on the next cycle, ahead of anything admitted after it. Any
// other failure stops the worker: the queue keeps buffering up to capacity
// but nothing drains until Restart is called. The failure is reported by
// Status, Err, Done and the OnFatal callback.
//
// # Shutdown
//
// Shutdown is a drain barrier: it waits until every admitted task has
// succeeded, then closes the queue to new admissions and joins the worker.
// Tasks registered after Shutdown are dropped with a debug log line. If the
// worker has failed, the barrier never opens; pass a context with a deadline
// to bound the wait.
//
// # Usage
//
//	q, err := dispatch.New(dispatch.Config{
//	    Name:          "runs",
//	    CapacityBytes: 64 << 20,
//	    RetryCount:    3,
//	    RetryInterval: time.Second,
//	})
//	if err != nil {
//	    return err
//	}
//
//	q.Register(func(p dispatch.Payload) error {
//	    return client.Write(ctx, p)
//	}, dispatch.Payload{{Key: []byte("loss"), Value: encoded}})
//
//	q.WaitForFinish()
//
// Thread Safety: all methods are safe for concurrent use from multiple
// goroutines.
package dispatch
