package log

import (
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// FileLoggerConfig tunes a FileLogger.
type FileLoggerConfig struct {
	// Tool is recorded in the header of a new file.
	Tool string

	// MaxFrameData bounds the raw bytes kept per frame event. Zero keeps
	// what the stream captured.
	MaxFrameData int
}

// FileLogger appends protocol events to a capture file. A new file starts
// with a FileHeader. It is safe for concurrent use.
type FileLogger struct {
	config  FileLoggerConfig
	file    *os.File
	encoder *cbor.Encoder

	mu      sync.Mutex
	closed  bool
	written int
	err     error
}

// NewFileLogger opens path for appending with the default settings.
func NewFileLogger(path string) (*FileLogger, error) {
	return NewFileLoggerWithConfig(path, FileLoggerConfig{})
}

// NewFileLoggerWithConfig opens path for appending, creating it with mode
// 0644 if needed.
func NewFileLoggerWithConfig(path string, config FileLoggerConfig) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l := &FileLogger{
		config:  config,
		file:    f,
		encoder: NewEncoder(f),
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		host, _ := os.Hostname()
		hdr := FileHeader{
			Magic:   Magic,
			Format:  FormatVersion,
			Created: time.Now(),
			Tool:    config.Tool,
			Host:    host,
		}
		if err := l.encoder.Encode(hdr); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Log appends an event. Write errors do not reach the caller; see Err.
func (l *FileLogger) Log(event Event) {
	if max := l.config.MaxFrameData; max > 0 && event.Frame != nil && len(event.Frame.Data) > max {
		frame := *event.Frame
		frame.Data = frame.Data[:max]
		frame.Truncated = true
		event.Frame = &frame
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if err := l.encoder.Encode(event); err != nil {
		if l.err == nil {
			l.err = err
		}
		return
	}
	l.written++
}

// Written returns the number of events stored so far.
func (l *FileLogger) Written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Err returns the first write error, if any.
func (l *FileLogger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close closes the file. Later calls to Log are ignored; Close may be
// called more than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
