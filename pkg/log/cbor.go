package log

import (
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Capture file header.
const (
	// Magic starts every capture file written by FileLogger.
	Magic = "iiod-capture"

	// FormatVersion is the version of the event encoding.
	FormatVersion = 1
)

// FileHeader is the first record of a capture file. It uses key 0, which
// no Event field uses, so Reader can tell it apart from events.
type FileHeader struct {
	Magic   string    `cbor:"0,keyasint"`
	Format  uint8     `cbor:"1,keyasint"`
	Created time.Time `cbor:"2,keyasint"`

	// Tool names the program that opened the file (iiod, iio-shell...).
	Tool string `cbor:"3,keyasint,omitempty"`
	Host string `cbor:"4,keyasint,omitempty"`
}

// Events are written canonically with nanosecond RFC 3339 timestamps.
var encMode = mustEncMode(cbor.EncOptions{
	Sort:          cbor.SortCanonical,
	IndefLength:   cbor.IndefLengthForbidden,
	NilContainers: cbor.NilContainerAsNull,
	Time:          cbor.TimeRFC3339Nano,
})

// Captures from older writers may carry duplicate or unknown keys.
var decMode = mustDecMode(cbor.DecOptions{
	DupMapKey:         cbor.DupMapKeyQuiet,
	IndefLength:       cbor.IndefLengthAllowed,
	ExtraReturnErrors: cbor.ExtraDecErrorNone,
})

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	m, err := opts.EncMode()
	if err != nil {
		panic("log: bad CBOR encoding options: " + err.Error())
	}
	return m
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	m, err := opts.DecMode()
	if err != nil {
		panic("log: bad CBOR decoding options: " + err.Error())
	}
	return m
}

// EncodeEvent encodes an Event to CBOR.
func EncodeEvent(event Event) ([]byte, error) {
	return encMode.Marshal(event)
}

// DecodeEvent decodes one CBOR Event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := decMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// decodeHeader returns the header encoded in raw, if raw is one.
func decodeHeader(raw cbor.RawMessage) (FileHeader, bool) {
	var hdr FileHeader
	if err := decMode.Unmarshal(raw, &hdr); err != nil || hdr.Magic != Magic {
		return FileHeader{}, false
	}
	return hdr, true
}

// NewEncoder creates a CBOR encoder for log records that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a CBOR decoder for log records that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
