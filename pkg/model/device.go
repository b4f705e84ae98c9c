package model

import (
	"errors"
	"strings"
)

// Model errors.
var (
	ErrDeviceNotFound  = errors.New("model: device not found")
	ErrChannelNotFound = errors.New("model: channel not found")
	ErrAttrNotFound    = errors.New("model: attribute not found")
	ErrMaskSize        = errors.New("model: mask does not match device")
	ErrEmptyMask       = errors.New("model: no channel enabled")
)

// Context is the root of the model.
type Context struct {
	Name        string
	Description string
	Attrs       []ContextAttr
	Devices     []*Device
}

// Device returns the device at index i, or nil.
func (c *Context) Device(i int) *Device {
	if i < 0 || i >= len(c.Devices) {
		return nil
	}
	return c.Devices[i]
}

// FindDevice looks a device up by ID, label or name, in that order.
func (c *Context) FindDevice(s string) (*Device, bool) {
	for _, d := range c.Devices {
		if d.ID == s {
			return d, true
		}
	}
	for _, d := range c.Devices {
		if d.Label != "" && d.Label == s {
			return d, true
		}
	}
	for _, d := range c.Devices {
		if d.Name != "" && d.Name == s {
			return d, true
		}
	}
	return nil, false
}

// Index fixes the Index and Number fields of every device and channel. It
// must be called after the tree has been built or modified.
func (c *Context) Index() {
	for i, d := range c.Devices {
		d.Index = i
		for j, ch := range d.Channels {
			ch.Number = j
		}
	}
}

// Device is one IIO device or trigger.
type Device struct {
	ID    string
	Name  string
	Label string

	Channels    []*Channel
	Attrs       []Attr
	DebugAttrs  []Attr
	BufferAttrs []Attr

	// Index is the position of the device in its context.
	Index int
}

// Channel returns the channel at index i, or nil.
func (d *Device) Channel(i int) *Channel {
	if i < 0 || i >= len(d.Channels) {
		return nil
	}
	return d.Channels[i]
}

// FindChannel looks a channel up by ID or name and direction.
func (d *Device) FindChannel(s string, output bool) (*Channel, bool) {
	for _, ch := range d.Channels {
		if ch.Output == output && (ch.ID == s || (ch.Name != "" && ch.Name == s)) {
			return ch, true
		}
	}
	return nil, false
}

// AttrList returns the attribute list selected by kind. AttrChannel has
// no device-level list and returns nil.
func (d *Device) AttrList(kind AttrKind) []Attr {
	switch kind {
	case AttrDevice:
		return d.Attrs
	case AttrDebug:
		return d.DebugAttrs
	case AttrBuffer:
		return d.BufferAttrs
	default:
		return nil
	}
}

// FindAttr returns the index of the named attribute in the list selected
// by kind, or -1.
func (d *Device) FindAttr(kind AttrKind, name string) int {
	return findAttr(d.AttrList(kind), name)
}

// IsTrigger reports whether the device is a trigger.
func (d *Device) IsTrigger() bool {
	return strings.HasPrefix(d.ID, "trigger")
}

// IsTx reports whether the device has output scan elements, i.e. its
// buffers are written rather than read.
func (d *Device) IsTx() bool {
	for _, ch := range d.Channels {
		if ch.Output && ch.ScanElement {
			return true
		}
	}
	return false
}

// NbWords returns the number of mask words for this device.
func (d *Device) NbWords() int {
	return (len(d.Channels) + 31) / 32
}

// NewMask returns an empty channel mask sized for this device.
func (d *Device) NewMask() *ChannelMask {
	return NewChannelMask(len(d.Channels))
}

// EnableChannel enables channel i in mask. Channels that are not scan
// elements are ignored.
func (d *Device) EnableChannel(mask *ChannelMask, i int) {
	ch := d.Channel(i)
	if ch != nil && ch.ScanElement && ch.Index >= 0 {
		mask.Set(i)
	}
}

// CleanMask returns a copy of mask with every channel that cannot be
// streamed cleared.
func (d *Device) CleanMask(mask *ChannelMask) *ChannelMask {
	out := d.NewMask()
	for i := range d.Channels {
		if mask.Test(i) {
			d.EnableChannel(out, i)
		}
	}
	return out
}

// Channel is one channel of a device.
type Channel struct {
	ID     string
	Name   string
	Output bool

	// ScanElement is set for channels that can be streamed.
	ScanElement bool

	// Index is the scan index, or -1.
	Index  int
	Format DataFormat

	Attrs []Attr

	// Number is the position of the channel in its device.
	Number int
}

// FindAttr returns the index of the named channel attribute, or -1.
func (c *Channel) FindAttr(name string) int {
	return findAttr(c.Attrs, name)
}

func findAttr(attrs []Attr, name string) int {
	for i, a := range attrs {
		if a.Name == name {
			return i
		}
	}
	return -1
}
