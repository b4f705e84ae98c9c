package testharness

import (
	"net"
	"strings"
	"testing"

	"github.com/iio-remote/iiod-go/pkg/transport"
)

// StreamPair returns two connected in-memory streams. Both are closed when
// the test ends.
func StreamPair(t testing.TB) (*transport.Stream, *transport.Stream) {
	t.Helper()
	a, b := net.Pipe()
	sa := transport.NewStream(a, "pipe-a")
	sb := transport.NewStream(b, "pipe-b")
	t.Cleanup(func() {
		sa.Close()
		sb.Close()
	})
	return sa, sb
}

// TextHandler answers one command line of the text protocol. A nil reply
// hangs up.
type TextHandler func(line string) []byte

// TextPeer plays a minimal daemon speaking the text protocol only.
type TextPeer struct {
	// Lines records every command line received, without terminator.
	Lines chan string

	st      *transport.Stream
	handler TextHandler
}

// NewTextPeer serves st with handler until the stream closes.
func NewTextPeer(st *transport.Stream, handler TextHandler) *TextPeer {
	p := &TextPeer{
		Lines:   make(chan string, 64),
		st:      st,
		handler: handler,
	}
	go p.run()
	return p
}

func (p *TextPeer) run() {
	defer close(p.Lines)
	defer p.st.Close()

	for {
		line, err := p.st.ReadLine()
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		select {
		case p.Lines <- line:
		default:
		}

		reply := p.handler(line)
		if reply == nil {
			return
		}
		if _, err := p.st.Write(reply); err != nil {
			return
		}
	}
}
