package sim

import (
	"sync"
	"time"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/lock"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

type eventStream struct {
	sim *Sim
	dev int

	mu     sync.Mutex
	cond   *lock.Cond
	queue  []model.Event
	closed bool
}

var _ backend.EventStream = (*eventStream)(nil)

// OpenEventStream implements backend.Backend.
func (s *Sim) OpenEventStream(dev int) (backend.EventStream, error) {
	if s.ctx.Device(dev) == nil {
		return nil, wire.ENODEV
	}

	es := &eventStream{sim: s, dev: dev}
	es.cond = lock.NewCond(&es.mu)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, wire.EBADF
	}
	s.streams[dev] = append(s.streams[dev], es)
	return es, nil
}

// PushEvent delivers ev to every stream open on device dev.
func (s *Sim) PushEvent(dev int, ev model.Event) {
	s.mu.Lock()
	streams := append([]*eventStream(nil), s.streams[dev]...)
	s.mu.Unlock()

	for _, es := range streams {
		es.mu.Lock()
		if !es.closed {
			es.queue = append(es.queue, ev)
			es.cond.Signal()
		}
		es.mu.Unlock()
	}
}

func (s *Sim) generateEvents(dev int, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			seq++
			s.PushEvent(dev, model.Event{ID: seq, Timestamp: now.UnixNano()})
		}
	}
}

func (es *eventStream) Read(nonblock bool) (model.Event, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	for len(es.queue) == 0 && !es.closed {
		if nonblock {
			return model.Event{}, wire.EAGAIN
		}
		_ = es.cond.Wait(0)
	}
	if es.closed {
		return model.Event{}, wire.EBADF
	}

	ev := es.queue[0]
	es.queue = es.queue[1:]
	return ev, nil
}

func (es *eventStream) Close() error {
	es.mu.Lock()
	if es.closed {
		es.mu.Unlock()
		return nil
	}
	es.closed = true
	es.mu.Unlock()
	es.cond.Broadcast()

	s := es.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.streams[es.dev]
	for i, other := range list {
		if other == es {
			s.streams[es.dev] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}
