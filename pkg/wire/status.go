package wire

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Errno is a protocol error code. On the wire it is sent negated.
type Errno int32

// Error codes used by the protocol, with Linux numbering.
const (
	EPERM      Errno = 1
	ENOENT     Errno = 2
	EINTR      Errno = 4
	EIO        Errno = 5
	ENXIO      Errno = 6
	EBADF      Errno = 9
	EAGAIN     Errno = 11
	ENOMEM     Errno = 12
	EBUSY      Errno = 16
	ENODEV     Errno = 19
	EINVAL     Errno = 22
	ENOSPC     Errno = 28
	EPIPE      Errno = 32
	ERANGE     Errno = 34
	ENOSYS     Errno = 38
	ENODATA    Errno = 61
	EBADMSG    Errno = 74
	EOVERFLOW  Errno = 75
	EOPNOTSUPP Errno = 95
	ECONNRESET Errno = 104
	ENOTCONN   Errno = 107
	ETIMEDOUT  Errno = 110
)

var errnoNames = map[Errno]struct{ name, text string }{
	EPERM:      {"EPERM", "operation not permitted"},
	ENOENT:     {"ENOENT", "no such file or directory"},
	EINTR:      {"EINTR", "interrupted"},
	EIO:        {"EIO", "input/output error"},
	ENXIO:      {"ENXIO", "no such device or address"},
	EBADF:      {"EBADF", "bad file descriptor"},
	EAGAIN:     {"EAGAIN", "resource temporarily unavailable"},
	ENOMEM:     {"ENOMEM", "out of memory"},
	EBUSY:      {"EBUSY", "device or resource busy"},
	ENODEV:     {"ENODEV", "no such device"},
	EINVAL:     {"EINVAL", "invalid argument"},
	ENOSPC:     {"ENOSPC", "no space left on device"},
	EPIPE:      {"EPIPE", "broken pipe"},
	ERANGE:     {"ERANGE", "result out of range"},
	ENOSYS:     {"ENOSYS", "function not implemented"},
	ENODATA:    {"ENODATA", "no data available"},
	EBADMSG:    {"EBADMSG", "bad message"},
	EOVERFLOW:  {"EOVERFLOW", "value too large"},
	EOPNOTSUPP: {"EOPNOTSUPP", "operation not supported"},
	ECONNRESET: {"ECONNRESET", "connection reset by peer"},
	ENOTCONN:   {"ENOTCONN", "not connected"},
	ETIMEDOUT:  {"ETIMEDOUT", "timed out"},
}

// Error implements error.
func (e Errno) Error() string {
	if n, ok := errnoNames[e]; ok {
		return n.text
	}
	return fmt.Sprintf("errno %d", int32(e))
}

// Name returns the symbolic name, e.g. "EINVAL".
func (e Errno) Name() string {
	if n, ok := errnoNames[e]; ok {
		return n.name
	}
	return fmt.Sprintf("E%d", int32(e))
}

// Code returns the value sent on the wire for this error.
func (e Errno) Code() int32 {
	return -int32(e)
}

// Coder is implemented by errors that map onto a protocol error code.
type Coder interface {
	Errno() Errno
}

// CodeOf converts err to a wire code. A nil error maps to 0. Errors that
// carry no protocol code map to -EIO.
func CodeOf(err error) int32 {
	if err == nil {
		return 0
	}

	var e Errno
	if errors.As(err, &e) {
		return e.Code()
	}

	var c Coder
	if errors.As(err, &c) {
		return c.Errno().Code()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ETIMEDOUT.Code()
	case errors.Is(err, context.Canceled):
		return EINTR.Code()
	}
	return EIO.Code()
}

// ErrorOf converts a wire code to an error. Non-negative codes are
// successes and map to nil.
func ErrorOf(code int32) error {
	if code >= 0 {
		return nil
	}
	return Errno(-code)
}
