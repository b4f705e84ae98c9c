package model

import (
	"encoding/binary"
	"fmt"
)

// EventSize is the size of an encoded Event.
const EventSize = 16

// Event is one hardware event, as produced by the kernel.
type Event struct {
	ID        uint64
	Timestamp int64
}

// Type returns the event type field of the ID (threshold, magnitude, ...).
func (e Event) Type() uint8 {
	return uint8(e.ID >> 56)
}

// Direction returns the direction field of the ID.
func (e Event) Direction() uint8 {
	return uint8(e.ID>>48) & 0x7f
}

// ChannelType returns the channel type field of the ID.
func (e Event) ChannelType() uint8 {
	return uint8(e.ID >> 32)
}

// Channel returns the channel number the event refers to.
func (e Event) Channel() int16 {
	return int16(e.ID)
}

// MarshalBinary encodes the event.
func (e Event) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, EventSize)
	b = binary.LittleEndian.AppendUint64(b, e.ID)
	b = binary.LittleEndian.AppendUint64(b, uint64(e.Timestamp))
	return b, nil
}

// UnmarshalBinary decodes an event.
func (e *Event) UnmarshalBinary(b []byte) error {
	if len(b) < EventSize {
		return fmt.Errorf("model: short event (%d bytes)", len(b))
	}
	e.ID = binary.LittleEndian.Uint64(b)
	e.Timestamp = int64(binary.LittleEndian.Uint64(b[8:]))
	return nil
}

// String returns a readable form of the event.
func (e Event) String() string {
	return fmt.Sprintf("event(id=0x%016x type=%d dir=%d chn=%d ts=%d)",
		e.ID, e.Type(), e.Direction(), e.Channel(), e.Timestamp)
}
