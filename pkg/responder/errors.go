package responder

import (
	"errors"
	"fmt"

	"github.com/iio-remote/iiod-go/pkg/lock"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// Error is a local responder failure. It matches both itself and the
// wire.Errno it is reported as.
type Error struct {
	msg   string
	errno wire.Errno
}

func (e *Error) Error() string { return e.msg }

// Errno implements wire.Coder.
func (e *Error) Errno() wire.Errno { return e.errno }

// Is reports whether target is e or e's errno.
func (e *Error) Is(target error) bool {
	if t, ok := target.(wire.Errno); ok {
		return t == e.errno
	}
	return target == e
}

// Responder errors.
var (
	ErrTimeout      = &Error{msg: "responder: timed out", errno: wire.ETIMEDOUT}
	ErrCanceled     = &Error{msg: "responder: canceled", errno: wire.EINTR}
	ErrDisconnected = &Error{msg: "responder: disconnected", errno: wire.ENOTCONN}
	ErrBusy         = &Error{msg: "responder: write already pending", errno: wire.EIO}
)

func disconnected(cause error) error {
	if cause == nil || errors.Is(cause, ErrDisconnected) {
		return ErrDisconnected
	}
	return fmt.Errorf("%w: %w", ErrDisconnected, cause)
}

// fromLock maps the lock package errors onto responder errors.
func fromLock(err, stored error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lock.ErrTimeout):
		return ErrTimeout
	case errors.Is(err, lock.ErrCanceled):
		return ErrCanceled
	case errors.Is(err, lock.ErrFlushed), errors.Is(err, lock.ErrClosed):
		if stored != nil {
			return stored
		}
		return ErrCanceled
	}
	return err
}
