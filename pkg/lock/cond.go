package lock

import (
	"errors"
	"sync"
	"time"
)

// Lock errors.
var (
	ErrTimeout  = errors.New("lock: timed out")
	ErrCanceled = errors.New("lock: canceled")
	ErrFlushed  = errors.New("lock: flushed")
	ErrClosed   = errors.New("lock: task closed")
)

// Cond is a condition variable associated with a Locker.
//
// Unlike sync.Cond, Wait takes a timeout and reports whether it expired.
// Each waiter gets its own channel, so a signal delivered while a waiter
// times out is never lost: that waiter reports success instead.
type Cond struct {
	L sync.Locker

	mu      sync.Mutex
	waiters []chan struct{}
}

// NewCond returns a new Cond with Locker l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l}
}

// Wait atomically unlocks c.L and suspends the calling goroutine until it
// is signalled or the timeout expires. c.L is locked again before Wait
// returns. A zero timeout waits forever.
func (c *Cond) Wait(timeout time.Duration) error {
	ch := make(chan struct{})

	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	c.L.Unlock()
	defer c.L.Lock()

	if timeout <= 0 {
		<-ch
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return ErrTimeout
		}
	}

	// Signalled concurrently with the timeout.
	return nil
}

// Signal wakes one waiting goroutine, if there is any.
func (c *Cond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return
	}
	close(c.waiters[0])
	c.waiters = c.waiters[1:]
}

// Broadcast wakes all waiting goroutines.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
}
