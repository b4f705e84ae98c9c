package log

import (
	"time"

	"github.com/iio-remote/iiod-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// LocalRole indicates whether this end is the daemon or a client.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port, serial port path...).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Device is the IIO device id the event refers to, if any.
	Device string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Command     *CommandEvent     `cbor:"11,keyasint,omitempty"` // Binary protocol
	Text        *TextEvent        `cbor:"12,keyasint,omitempty"` // Legacy protocol
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the byte stream layer.
	LayerTransport Layer = 0
	// LayerWire is the command layer (binary headers or text lines).
	LayerWire Layer = 1
	// LayerService is the daemon/client layer.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryCommand indicates a binary command or response header.
	CategoryCommand Category = 0
	// CategoryText indicates a legacy text protocol line.
	CategoryText Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryCommand:
		return "COMMAND"
	case CategoryText:
		return "TEXT"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which end of the connection logged the event.
type Role uint8

const (
	// RoleServer indicates the daemon side.
	RoleServer Role = 0
	// RoleClient indicates the client side.
	RoleClient Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw bytes at the transport layer.
type FrameEvent struct {
	// Size is the number of bytes transferred.
	Size int `cbor:"1,keyasint"`

	// Data is the raw bytes (may be truncated for large transfers).
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// CommandEvent captures one binary command header.
type CommandEvent struct {
	ClientID uint16  `cbor:"1,keyasint"`
	Op       wire.Op `cbor:"2,keyasint"`
	Dev      uint8   `cbor:"3,keyasint"`
	Code     int32   `cbor:"4,keyasint"`

	// PayloadSize is the number of bytes following the header, when known.
	PayloadSize int `cbor:"5,keyasint,omitempty"`

	// ProcessingTime is the time between command receipt and the
	// handler returning (server side only).
	ProcessingTime *time.Duration `cbor:"6,keyasint,omitempty"`
}

// TextEvent captures one legacy protocol line.
type TextEvent struct {
	// Line is the command or reply line without its terminator.
	Line string `cbor:"1,keyasint"`

	// Result is the integer reply, for command lines that got one.
	Result *int64 `cbor:"2,keyasint,omitempty"`
}

// StateChangeEvent captures connection, session and buffer lifecycle events.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySession indicates a protocol session change (e.g. BINARY upgrade).
	StateEntitySession StateEntity = 1
	// StateEntityBuffer indicates a device buffer worker change.
	StateEntityBuffer StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityBuffer:
		return "BUFFER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Code is the protocol error code (negative errno), if applicable.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
