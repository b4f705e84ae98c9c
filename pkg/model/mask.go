package model

import "github.com/iio-remote/iiod-go/pkg/wire"

// ChannelMask is a bitset over the channels of one device.
type ChannelMask struct {
	words []uint32
}

// NewChannelMask returns an empty mask for nbChannels channels.
func NewChannelMask(nbChannels int) *ChannelMask {
	return &ChannelMask{words: make([]uint32, wire.MaskWords(nbChannels))}
}

// MaskFromWords builds a mask from raw words. The slice is copied.
func MaskFromWords(words []uint32) *ChannelMask {
	return &ChannelMask{words: append([]uint32(nil), words...)}
}

// Words returns a copy of the raw words.
func (m *ChannelMask) Words() []uint32 {
	return append([]uint32(nil), m.words...)
}

// NbWords returns the number of 32-bit words.
func (m *ChannelMask) NbWords() int {
	return len(m.words)
}

// Set enables bit i.
func (m *ChannelMask) Set(i int) {
	if i/32 < len(m.words) {
		m.words[i/32] |= 1 << (i % 32)
	}
}

// Clear disables bit i.
func (m *ChannelMask) Clear(i int) {
	if i/32 < len(m.words) {
		m.words[i/32] &^= 1 << (i % 32)
	}
}

// Test reports whether bit i is set.
func (m *ChannelMask) Test(i int) bool {
	if i < 0 || i/32 >= len(m.words) {
		return false
	}
	return m.words[i/32]&(1<<(i%32)) != 0
}

// Empty reports whether no bit is set.
func (m *ChannelMask) Empty() bool {
	for _, w := range m.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (m *ChannelMask) Clone() *ChannelMask {
	return MaskFromWords(m.words)
}

// Or sets every bit that is set in o.
func (m *ChannelMask) Or(o *ChannelMask) {
	for i := range m.words {
		if i < len(o.words) {
			m.words[i] |= o.words[i]
		}
	}
}

// Contains reports whether every bit of o is also set in m.
func (m *ChannelMask) Contains(o *ChannelMask) bool {
	for i, w := range o.words {
		var mw uint32
		if i < len(m.words) {
			mw = m.words[i]
		}
		if w&^mw != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether both masks have the same bits set.
func (m *ChannelMask) Equal(o *ChannelMask) bool {
	return m.Contains(o) && o.Contains(m)
}

// String returns the text protocol representation of the mask.
func (m *ChannelMask) String() string {
	return wire.FormatMaskHex(m.words)
}
