package model

import "fmt"

// AttrKind tells which attribute list of an object an attribute lives in.
type AttrKind uint8

const (
	AttrDevice AttrKind = iota
	AttrDebug
	AttrBuffer
	AttrChannel
)

// String returns the kind name.
func (k AttrKind) String() string {
	switch k {
	case AttrDevice:
		return "device"
	case AttrDebug:
		return "debug"
	case AttrBuffer:
		return "buffer"
	case AttrChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Attr describes one attribute.
type Attr struct {
	Name string

	// Filename is the sysfs file backing a channel attribute, if different
	// from Name.
	Filename string
}

// AttrRef addresses one attribute by index.
type AttrRef struct {
	Kind AttrKind
	Dev  int

	// Chn is the channel index for AttrChannel.
	Chn int

	// Buf is the buffer index for AttrBuffer.
	Buf int

	// Attr is the index in the attribute list selected by Kind.
	Attr int
}

// String returns a readable form of the reference.
func (r AttrRef) String() string {
	switch r.Kind {
	case AttrChannel:
		return fmt.Sprintf("dev%d/chn%d/attr%d", r.Dev, r.Chn, r.Attr)
	case AttrBuffer:
		return fmt.Sprintf("dev%d/buf%d/attr%d", r.Dev, r.Buf, r.Attr)
	default:
		return fmt.Sprintf("dev%d/%s/attr%d", r.Dev, r.Kind, r.Attr)
	}
}

// ContextAttr is a static name/value pair of a context.
type ContextAttr struct {
	Name  string
	Value string
}
