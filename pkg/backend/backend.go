// Package backend defines the interface between the daemon and the
// hardware (or whatever stands in for it).
//
// A Backend exposes one context. Buffers are created on a device with a
// channel mask; blocks are allocated from a buffer and cycled through
// Enqueue/Dequeue. Errors returned by implementations should be
// wire.Errno values so they can travel to clients unchanged.
package backend

import (
	"time"

	"github.com/iio-remote/iiod-go/pkg/model"
)

// Backend gives access to one IIO context.
type Backend interface {
	// Context returns the context model. It must not be modified.
	Context() *model.Context

	// ReadAttr returns the raw value of an attribute.
	ReadAttr(ref model.AttrRef) ([]byte, error)

	// WriteAttr writes the raw value of an attribute and returns the
	// number of bytes consumed.
	WriteAttr(ref model.AttrRef, value []byte) (int, error)

	// GetTrigger returns the index of the trigger device associated with
	// dev.
	GetTrigger(dev int) (int, error)

	// SetTrigger associates the trigger device trig with dev. A negative
	// trig removes the association.
	SetTrigger(dev, trig int) error

	// SetTimeout sets how long blocking operations may wait. Zero means
	// forever.
	SetTimeout(d time.Duration) error

	// CreateBuffer creates buffer idx of device dev streaming the
	// channels in mask.
	CreateBuffer(dev, idx int, mask *model.ChannelMask) (Buffer, error)

	// OpenEventStream opens the event stream of device dev.
	OpenEventStream(dev int) (EventStream, error)

	Close() error
}

// Buffer is a hardware buffer.
type Buffer interface {
	// Mask returns the channels actually streamed. It may differ from
	// the mask passed to CreateBuffer.
	Mask() *model.ChannelMask

	Enable() error
	Disable() error

	// Cancel aborts blocked operations. The buffer can only be closed
	// afterwards.
	Cancel()

	CreateBlock(size int) (Block, error)

	Close() error
}

// Block is a chunk of buffer memory exchanged with the hardware.
type Block interface {
	// Data returns the whole block memory.
	Data() []byte

	// Enqueue hands the block to the hardware. For output buffers the
	// first bytesUsed bytes are sent; a cyclic block is repeated until
	// the buffer is closed.
	Enqueue(bytesUsed int, cyclic bool) error

	// Dequeue waits for the hardware to give the block back. With
	// nonblock set it fails with EBUSY instead of waiting.
	Dequeue(nonblock bool) error

	Close() error
}

// EventStream delivers hardware events.
type EventStream interface {
	// Read returns the next event. With nonblock set it fails with
	// EAGAIN when no event is pending.
	Read(nonblock bool) (model.Event, error)

	Close() error
}
