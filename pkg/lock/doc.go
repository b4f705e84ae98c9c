// Package lock provides the synchronization primitives used by the
// responder and the daemon.
//
// It offers:
//   - Cond: a condition variable whose Wait accepts a timeout
//   - Thread: a named goroutine that can be joined for its error
//   - Task: a worker goroutine consuming a FIFO queue of elements, each
//     tracked by a cancelable Token
//
// # Timeouts
//
// All timeouts are relative durations. A zero timeout means wait forever.
//
// # Task lifecycle
//
// A Task is created stopped. Elements queued before Start are kept and
// processed in FIFO order once the task runs. Stop pauses the worker and
// returns only after the element being processed (if any) has completed.
// Destroy terminates the worker for good and completes every queued token
// with ErrFlushed.
package lock
