package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/iio-remote/iiod-go/pkg/log"
)

// Stream constants.
const (
	// DefaultPort is the iiod TCP port.
	DefaultPort = 30431

	// MaxLineLength is the longest legacy protocol line accepted.
	MaxLineLength = 4096

	// MaxLogFrameDataSize is the maximum chunk size included in log events.
	// Larger chunks are truncated.
	MaxLogFrameDataSize = 4096

	readBufferSize = 64 * 1024
)

// ErrLineTooLong is returned by ReadLine for lines over MaxLineLength.
var ErrLineTooLong = errors.New("transport: line too long")

// Stream is a buffered byte stream over any io.ReadWriteCloser.
// Reads must come from one goroutine at a time; writes are serialized.
type Stream struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	remoteAddr string
	connID     string
	role       log.Role
	logger     log.Logger
}

// NewStream wraps rwc. remoteAddr is only used for logging.
func NewStream(rwc io.ReadWriteCloser, remoteAddr string) *Stream {
	return &Stream{
		rwc:        rwc,
		r:          bufio.NewReaderSize(rwc, readBufferSize),
		closed:     make(chan struct{}),
		remoteAddr: remoteAddr,
	}
}

// SetLogger enables capture of the raw traffic. Pass nil to disable it.
func (s *Stream) SetLogger(logger log.Logger, connID string, role log.Role) {
	s.logger = logger
	s.connID = connID
	s.role = role
}

// ConnID returns the connection identifier given to SetLogger.
func (s *Stream) ConnID() string {
	return s.connID
}

// RemoteAddr returns the peer description given to NewStream.
func (s *Stream) RemoteAddr() string {
	return s.remoteAddr
}

// Read reads buffered data.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.logChunk(p[:n], log.DirectionIn)
	}
	return n, err
}

// Write writes p in full.
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.rwc.Write(p)
	if n > 0 {
		s.logChunk(p[:n], log.DirectionOut)
	}
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// WriteString writes a string.
func (s *Stream) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Printf formats and writes a string.
func (s *Stream) Printf(format string, args ...any) error {
	_, err := s.WriteString(fmt.Sprintf(format, args...))
	return err
}

// Discard skips up to n buffered or inbound bytes.
func (s *Stream) Discard(n int) (int, error) {
	return s.r.Discard(n)
}

// Buffered returns the number of bytes that can be read without blocking.
func (s *Stream) Buffered() int {
	return s.r.Buffered()
}

// Peek returns the next n bytes without consuming them.
func (s *Stream) Peek(n int) ([]byte, error) {
	return s.r.Peek(n)
}

// ReadLine reads one line and returns it without its "\n" or "\r\n"
// terminator.
func (s *Stream) ReadLine() (string, error) {
	var sb strings.Builder
	for {
		frag, isPrefix, err := s.r.ReadLine()
		if err != nil {
			return "", err
		}
		sb.Write(frag)
		if sb.Len() > MaxLineLength {
			return "", ErrLineTooLong
		}
		if !isPrefix {
			break
		}
	}

	line := sb.String()
	s.logChunk([]byte(line), log.DirectionIn)
	return line, nil
}

// SetReadDeadline sets the deadline for future reads when the underlying
// stream supports it; otherwise it does nothing. A zero time clears it.
func (s *Stream) SetReadDeadline(t time.Time) error {
	if d, ok := s.rwc.(ReadDeadliner); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

// Close closes the underlying stream. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}

// Done returns a channel closed by Close.
func (s *Stream) Done() <-chan struct{} {
	return s.closed
}

func (s *Stream) logChunk(data []byte, dir log.Direction) {
	if s.logger == nil {
		return
	}

	ev := &log.FrameEvent{Size: len(data)}
	if len(data) > MaxLogFrameDataSize {
		data = data[:MaxLogFrameDataSize]
		ev.Truncated = true
	}
	ev.Data = append([]byte(nil), data...)

	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryCommand,
		LocalRole:    s.role,
		RemoteAddr:   s.remoteAddr,
		Frame:        ev,
	})
}
