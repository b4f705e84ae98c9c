package service

import (
	"context"
	"sync"
)

// pool runs a group of goroutines that are stopped together: the sessions
// of a listener, the buffer workers, the session of one USB pipe. Stopping
// cancels the pool context and closes every tracked stream, so that
// goroutines blocked on I/O return.
type pool struct {
	parent context.Context
	conns  *connTracker

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	running int
	wg      sync.WaitGroup
}

func newPool(parent context.Context) *pool {
	p := &pool{parent: parent, conns: newConnTracker()}
	p.ctx, p.cancel = context.WithCancel(parent)
	return p
}

// Context returns the context canceled by Stop.
func (p *pool) Context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

// Go runs fn on its own goroutine with the pool context.
func (p *pool) Go(fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	ctx := p.ctx
	p.running++
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			p.running--
			p.mu.Unlock()
			p.wg.Done()
		}()
		fn(ctx)
	}()
	return nil
}

// Track makes Stop close c. The returned function untracks it. A stopped
// pool closes c right away.
func (p *pool) Track(c trackedConn) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		_ = c.Close()
		return nil, ErrPoolStopped
	}
	p.conns.Add(c)
	return func() { p.conns.Remove(c) }, nil
}

// Count returns the number of goroutines still running.
func (p *pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop cancels the pool context and closes the tracked streams without
// waiting.
func (p *pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cancel()
	p.mu.Unlock()

	p.conns.CloseAll()
}

// Wait blocks until every goroutine started by Go has returned.
func (p *pool) Wait() {
	p.wg.Wait()
}

// StopAndWait stops the pool and waits for its goroutines.
func (p *pool) StopAndWait() {
	p.Stop()
	p.Wait()
}

// Restart waits for a stopped pool to drain and makes it usable again.
func (p *pool) Restart() {
	p.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel()
	p.ctx, p.cancel = context.WithCancel(p.parent)
	p.stopped = false
}
