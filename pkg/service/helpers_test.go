package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/backend/sim"
)

const testTimeout = 5 * time.Second

// startDaemon runs a daemon serving a default simulated context on a
// loopback port. It is stopped when the test ends.
func startDaemon(t *testing.T, modify ...func(*Config)) (*Daemon, *sim.Sim) {
	t.Helper()

	s, err := sim.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return startDaemonWith(t, s, modify...), s
}

// startDaemonWith runs a daemon serving b. The backend is not closed.
func startDaemonWith(t *testing.T, b backend.Backend, modify ...func(*Config)) *Daemon {
	t.Helper()

	cfg := DefaultConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.Advertise = false
	for _, m := range modify {
		m(&cfg)
	}

	d, err := New(b, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-d.Ready():
	case <-time.After(testTimeout):
		t.Fatal("daemon not ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(testTimeout):
			t.Error("daemon did not stop")
		}
	})
	return d
}

// textConn speaks the text protocol to a daemon.
type textConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialText(t *testing.T, d *Daemon) *textConn {
	t.Helper()
	conn, err := net.Dial("tcp", d.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(testTimeout)))
	t.Cleanup(func() { conn.Close() })
	return &textConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *textConn) send(format string, args ...any) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, format, args...)
	require.NoError(c.t, err)
}

func (c *textConn) write(b []byte) {
	c.t.Helper()
	_, err := c.conn.Write(b)
	require.NoError(c.t, err)
}

func (c *textConn) line() string {
	c.t.Helper()
	s, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(s, "\r\n")
}

func (c *textConn) value() int {
	c.t.Helper()
	l := c.line()
	v, err := strconv.Atoi(l)
	require.NoError(c.t, err, "reply %q", l)
	return v
}

// cmd sends one command line and returns the value reply.
func (c *textConn) cmd(format string, args ...any) int {
	c.t.Helper()
	c.send(format+"\r\n", args...)
	return c.value()
}

func (c *textConn) read(n int) []byte {
	c.t.Helper()
	b := make([]byte, n)
	_, err := io.ReadFull(c.r, b)
	require.NoError(c.t, err)
	return b
}

// payload reads a value of n bytes followed by a newline.
func (c *textConn) payload(n int) []byte {
	c.t.Helper()
	b := c.read(n + 1)
	require.Equal(c.t, byte('\n'), b[n])
	return b[:n]
}
