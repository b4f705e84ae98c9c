package lock

import (
	"sync"
	"time"
)

// Token tracks one element queued on a Task.
type Token struct {
	done   chan struct{}
	err    error
	remove func(*Token) bool
}

func newToken(remove func(*Token) bool) *Token {
	return &Token{
		done:   make(chan struct{}),
		remove: remove,
	}
}

// complete must be called exactly once, by whoever took the token off the
// queue.
func (tok *Token) complete(err error) {
	tok.err = err
	close(tok.done)
}

// Done reports whether the element has been processed, canceled or flushed.
func (tok *Token) Done() bool {
	select {
	case <-tok.done:
		return true
	default:
		return false
	}
}

// Err returns the result of the element. It is only meaningful once Done
// reports true.
func (tok *Token) Err() error {
	if !tok.Done() {
		return nil
	}
	return tok.err
}

// Sync waits for the element to complete and returns the error produced
// by the task function. If the timeout expires first the element is
// canceled; when it was still queued Sync returns ErrTimeout, otherwise it
// keeps waiting for the running element to finish.
func (tok *Token) Sync(timeout time.Duration) error {
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-tok.done:
			return tok.err
		case <-timer.C:
			tok.cancel(ErrTimeout)
		}
	}

	<-tok.done
	return tok.err
}

// Cancel removes the element from the queue if it has not started yet and
// completes it with ErrCanceled. A running or completed element is left
// untouched. Cancel may be called any number of times.
func (tok *Token) Cancel() {
	tok.cancel(ErrCanceled)
}

func (tok *Token) cancel(err error) {
	if tok.remove != nil && tok.remove(tok) {
		tok.complete(err)
	}
}

type taskEntry[T any] struct {
	elm T
	tok *Token
}

// Task processes queued elements one at a time, in FIFO order, on a
// dedicated goroutine.
type Task[T any] struct {
	name string
	fn   func(T) error

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []taskEntry[T]
	running bool
	busy    bool
	closed  bool

	thread *Thread
}

// NewTask creates a stopped task calling fn for every queued element.
func NewTask[T any](name string, fn func(T) error) *Task[T] {
	t := &Task[T]{
		name: name,
		fn:   fn,
	}
	t.cond = sync.NewCond(&t.mu)
	t.thread = Go(name, t.run)
	return t
}

// Name returns the task name.
func (t *Task[T]) Name() string {
	return t.name
}

func (t *Task[T]) run() error {
	t.mu.Lock()
	for {
		for !t.closed && (!t.running || len(t.queue) == 0) {
			t.cond.Wait()
		}
		if t.closed {
			t.mu.Unlock()
			return nil
		}

		e := t.queue[0]
		t.queue[0] = taskEntry[T]{}
		t.queue = t.queue[1:]
		t.busy = true
		t.mu.Unlock()

		e.tok.complete(t.fn(e.elm))

		t.mu.Lock()
		t.busy = false
		t.cond.Broadcast()
	}
}

// Start lets the worker process queued elements.
func (t *Task[T]) Start() {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

// Stop pauses the worker. It returns once the element being processed, if
// any, has completed. Queued elements stay queued.
func (t *Task[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	for t.busy {
		t.cond.Wait()
	}
}

// Running reports whether the task is started.
func (t *Task[T]) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Flush completes every queued element with ErrFlushed.
func (t *Task[T]) Flush() {
	t.mu.Lock()
	queue := t.queue
	t.queue = nil
	t.mu.Unlock()

	for _, e := range queue {
		e.tok.complete(ErrFlushed)
	}
}

// Destroy stops the worker goroutine, waits for it to exit and flushes the
// queue. The task cannot be used afterwards.
func (t *Task[T]) Destroy() {
	t.mu.Lock()
	t.closed = true
	t.running = false
	t.mu.Unlock()
	t.cond.Broadcast()

	_ = t.thread.Join()
	t.Flush()
}

// Enqueue appends elm to the queue and returns the token tracking it.
func (t *Task[T]) Enqueue(elm T) (*Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	tok := newToken(t.remove)
	t.queue = append(t.queue, taskEntry[T]{elm: elm, tok: tok})
	t.cond.Broadcast()
	return tok, nil
}

// EnqueueAutoclear appends elm to the queue without tracking its result.
func (t *Task[T]) EnqueueAutoclear(elm T) error {
	_, err := t.Enqueue(elm)
	return err
}

func (t *Task[T]) remove(tok *Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.queue {
		if e.tok == tok {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			return true
		}
	}
	return false
}
