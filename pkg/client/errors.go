package client

import (
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// Error is a client-side failure that still maps onto a protocol code, so
// that a daemon re-exporting a remote context can forward it.
type Error struct {
	msg   string
	errno wire.Errno
}

func (e *Error) Error() string     { return e.msg }
func (e *Error) Errno() wire.Errno { return e.errno }

// Is matches both the sentinel itself and its protocol code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(wire.Errno); ok {
		return t == e.errno
	}
	return target == e
}

// Client errors.
var (
	// ErrNoTrigger is returned by GetTrigger for devices without a trigger.
	ErrNoTrigger = &Error{"client: no trigger associated", wire.ENODEV}

	// ErrBadResponse is returned when the daemon replies with something
	// that cannot be parsed.
	ErrBadResponse = &Error{"client: malformed response", wire.EBADMSG}

	// ErrNotSupported is returned for calls the negotiated protocol cannot
	// carry, e.g. blocks over the legacy protocol.
	ErrNotSupported = &Error{"client: not supported by the negotiated protocol", wire.ENOSYS}

	// ErrNoSamples is returned by ReadSamples when every READBUF it
	// issued was ended before the first sample.
	ErrNoSamples = &Error{"client: daemon returned no samples", wire.EAGAIN}
)
