package client

import (
	"sync"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/responder"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// EventStream receives the events of one remote device. A read request is
// always kept pending on the daemon so that events are not missed between
// two calls to Read.
type EventStream struct {
	c   *Client
	dev int
	id  uint16
	io  *responder.IO

	mu  sync.Mutex
	buf [model.EventSize]byte
}

var _ backend.EventStream = (*EventStream)(nil)

// OpenEventStream implements backend.Backend.
func (c *Client) OpenEventStream(dev int) (backend.EventStream, error) {
	if c.resp == nil {
		return nil, ErrNotSupported
	}
	if _, err := c.device(dev); err != nil {
		return nil, err
	}

	es := &EventStream{c: c, dev: dev, id: c.allocEvstreamID()}
	es.io = c.resp.CreateIO(es.id)

	if _, err := es.io.ExecSimpleCommand(wire.Command{Op: wire.OpCreateEvstream, Dev: uint8(dev)}); err != nil {
		es.io.Cancel()
		es.io.Release()
		return nil, err
	}

	// reads block until an event shows up
	es.io.SetTimeout(0)

	if err := es.request(); err != nil {
		es.Close()
		return nil, err
	}
	return es, nil
}

func (es *EventStream) request() error {
	if err := es.io.GetResponseAsync(es.buf[:]); err != nil {
		return err
	}
	return es.io.SendCommand(wire.Command{Op: wire.OpReadEvent, Dev: uint8(es.dev)})
}

// Read implements backend.EventStream. With nonblock set it fails with
// EAGAIN when no event is pending.
func (es *EventStream) Read(nonblock bool) (model.Event, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if nonblock && !es.io.HasResponse() {
		return model.Event{}, wire.EAGAIN
	}
	if _, err := es.io.WaitForResponse(); err != nil {
		return model.Event{}, err
	}

	var ev model.Event
	if err := ev.UnmarshalBinary(es.buf[:]); err != nil {
		return model.Event{}, err
	}
	return ev, es.request()
}

// Close implements backend.EventStream. The free request goes through the
// default conversation since a read may be pending on the stream's own.
func (es *EventStream) Close() error {
	_, err := es.c.resp.DefaultIO().ExecSimpleCommand(wire.Command{
		Op:   wire.OpFreeEvstream,
		Dev:  uint8(es.dev),
		Code: int32(es.id),
	})

	es.io.Cancel()
	es.io.Release()
	return err
}
