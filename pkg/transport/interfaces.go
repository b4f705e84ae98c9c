package transport

import (
	"net"
	"time"
)

// ReadDeadliner is implemented by connections whose reads can time out.
// Stream forwards SetReadDeadline to it; serial ports and USB pipes do not
// implement it.
type ReadDeadliner interface {
	SetReadDeadline(t time.Time) error
}

var (
	_ ReadDeadliner = (net.Conn)(nil)
	_ ReadDeadliner = (*Stream)(nil)
)
