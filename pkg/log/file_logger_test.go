package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iio-remote/iiod-go/pkg/wire"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ilog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, ev)
	}
}

func TestFileLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.ilog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("log file was not created")
	}
}

func TestFileLoggerCloseIdempotent(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "x.ilog"))
	if err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	logger.Log(Event{})
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.ilog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				logger.Log(Event{Timestamp: time.Now(), Command: &CommandEvent{ClientID: uint16(i)}})
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if got := len(readAll(t, r)); got != 80 {
		t.Errorf("got %d events, want 80", got)
	}
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "conn-1", Direction: DirectionIn, Layer: LayerWire, Category: CategoryCommand, Device: "iio:device0",
			Command: &CommandEvent{Op: wire.OpReadAttr}},
		{Timestamp: base.Add(time.Second), ConnectionID: "conn-2", Direction: DirectionOut, Layer: LayerWire, Category: CategoryText,
			Text: &TextEvent{Line: "PRINT"}},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "conn-1", Direction: DirectionIn, Layer: LayerService, Category: CategoryState, Device: "iio:device1",
			StateChange: &StateChangeEvent{Entity: StateEntityBuffer, NewState: "enabled"}},
	}
	path := createTestLogFile(t, events)

	dirIn := DirectionIn
	layerWire := LayerWire
	catState := CategoryState
	end := base.Add(2 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"connection", Filter{ConnectionID: "conn-1"}, 2},
		{"direction", Filter{Direction: &dirIn}, 2},
		{"layer", Filter{Layer: &layerWire}, 2},
		{"category", Filter{Category: &catState}, 1},
		{"device", Filter{Device: "iio:device0"}, 1},
		{"time window", Filter{TimeStart: &base, TimeEnd: &end}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			if got := len(readAll(t, r)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "nope.ilog")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFileLoggerWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.ilog")
	logger, err := NewFileLoggerWithConfig(path, FileLoggerConfig{Tool: "iiod"})
	if err != nil {
		t.Fatal(err)
	}
	logger.Log(Event{ConnectionID: "c1"})
	logger.Close()

	// Reopening appends without a second header.
	logger, err = NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	logger.Log(Event{ConnectionID: "c2"})
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	hdr, ok := r.Header()
	if !ok {
		t.Fatal("header not found")
	}
	if hdr.Magic != Magic || hdr.Format != FormatVersion || hdr.Tool != "iiod" {
		t.Errorf("header = %+v", hdr)
	}
}

func TestFileLoggerTruncatesFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.ilog")
	logger, err := NewFileLoggerWithConfig(path, FileLoggerConfig{MaxFrameData: 4})
	if err != nil {
		t.Fatal(err)
	}
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	logger.Log(Event{Layer: LayerTransport, Frame: &FrameEvent{Size: len(data), Data: data}})
	logger.Log(Event{Layer: LayerTransport, Frame: &FrameEvent{Size: 2, Data: data[:2]}})
	if logger.Written() != 2 {
		t.Errorf("Written = %d, want 2", logger.Written())
	}
	if err := logger.Err(); err != nil {
		t.Errorf("Err = %v", err)
	}
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	events := readAll(t, r)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	long := events[0].Frame
	if long.Size != 8 || len(long.Data) != 4 || !long.Truncated {
		t.Errorf("long frame = %+v", long)
	}
	short := events[1].Frame
	if len(short.Data) != 2 || short.Truncated {
		t.Errorf("short frame = %+v", short)
	}
	if len(data) != 8 {
		t.Error("caller's frame data was modified")
	}
}
