package interactive

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iio-remote/iiod-go/internal/testharness"
	"github.com/iio-remote/iiod-go/pkg/backend/sim"
	"github.com/iio-remote/iiod-go/pkg/connection"
	"github.com/iio-remote/iiod-go/pkg/model"
)

func newShell(t *testing.T, legacy bool) (*Shell, *bytes.Buffer, *testharness.Daemon) {
	t.Helper()
	d := testharness.StartDaemon(t)

	cfg := connection.DefaultManagerConfig(d.URI())
	cfg.Client.Timeout = testharness.Timeout
	cfg.Client.Legacy = legacy
	mgr := connection.NewManager(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	out := &bytes.Buffer{}
	return NewWithOutput(mgr, out), out, d
}

func exec(t *testing.T, s *Shell, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	require.True(t, s.Exec(context.Background(), line))
	return out.String()
}

func TestShellAttributes(t *testing.T) {
	for _, legacy := range []bool{false, true} {
		name := "binary"
		if legacy {
			name = "text"
		}
		t.Run(name, func(t *testing.T) {
			s, out, _ := newShell(t, legacy)

			assert.Contains(t, exec(t, s, out, "devices"), "sim-adc")
			assert.Equal(t, "1000\n", exec(t, s, out, "read iio:device0 sampling_frequency"))
			assert.Equal(t, "200\n", exec(t, s, out, "read sim-adc input voltage1 raw"))
			assert.Equal(t, "0x0\n", exec(t, s, out, "read iio:device0 debug direct_reg_access"))

			assert.Equal(t, "Wrote 3 bytes\n", exec(t, s, out, "write iio:device0 sampling_frequency 500"))
			assert.Equal(t, "500\n", exec(t, s, out, "read iio:device0 sampling_frequency"))

			assert.Contains(t, exec(t, s, out, "read iio:device0 nosuch"), "Error: no attribute")
			assert.Contains(t, exec(t, s, out, "read nosuchdev attr"), "Error: no device")
		})
	}
}

func TestShellTrigger(t *testing.T) {
	s, out, _ := newShell(t, false)

	assert.Equal(t, "trigger0 (sim-trigger)\n", exec(t, s, out, "trigger iio:device0"))
	assert.Empty(t, exec(t, s, out, "trigger iio:device0 none"))
	assert.Equal(t, "none\n", exec(t, s, out, "trigger iio:device0"))
	assert.Empty(t, exec(t, s, out, "trigger iio:device0 trigger0"))
	assert.Equal(t, "trigger0 (sim-trigger)\n", exec(t, s, out, "trigger iio:device0"))
}

func TestShellCapture(t *testing.T) {
	for _, legacy := range []bool{false, true} {
		t.Run(map[bool]string{false: "binary", true: "text"}[legacy], func(t *testing.T) {
			s, out, _ := newShell(t, legacy)

			lines := strings.Split(strings.TrimSpace(exec(t, s, out, "capture iio:device0 4 voltage0,voltage1")), "\n")
			require.Len(t, lines, 5)
			assert.Equal(t, []string{"voltage0", "voltage1"}, strings.Fields(lines[0]))
			for i := 0; i < 4; i++ {
				fields := strings.Fields(lines[i+1])
				require.Len(t, fields, 2)
				assert.Equal(t, decodeRamp(0, i), fields[0])
				assert.Equal(t, decodeRamp(1, i), fields[1])
			}
		})
	}
}

// decodeRamp formats the simulated sample the way capture prints it.
func decodeRamp(chn, sample int) string {
	f, _ := model.ParseDataFormat("le:s12/16>>0")
	v := uint16(sim.Ramp(chn, uint64(sample)))
	return strconv.FormatInt(decodeValue(f, []byte{byte(v), byte(v >> 8)}), 10)
}

func TestShellEvents(t *testing.T) {
	s, out, d := newShell(t, false)

	go func() {
		time.Sleep(50 * time.Millisecond)
		d.Sim.PushEvent(0, model.Event{ID: 7, Timestamp: 99})
	}()
	assert.Contains(t, exec(t, s, out, "events iio:device0"), "ts=99")
}

func TestShellMisc(t *testing.T) {
	s, out, _ := newShell(t, true)

	assert.Contains(t, exec(t, s, out, "help"), "IIO Shell Commands")
	assert.Contains(t, exec(t, s, out, "frobnicate"), "Unknown command")
	assert.Contains(t, exec(t, s, out, "info iio:device0"), "channel input voltage0 index=0 format=le:s12/16>>0")
	assert.Empty(t, exec(t, s, out, "timeout 1000"))
	assert.Contains(t, exec(t, s, out, "status"), "Protocol: text")
	assert.Contains(t, exec(t, s, out, "events iio:device0"), "Error:")
	assert.False(t, s.Exec(context.Background(), "quit"))
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		format string
		data   []byte
		want   int64
	}{
		{"le:s12/16>>0", []byte{0xff, 0x0f}, -1},
		{"le:s12/16>>0", []byte{0xff, 0x07}, 2047},
		{"le:u12/16>>4", []byte{0xf0, 0xff}, 4095},
		{"be:u16/16>>0", []byte{0x12, 0x34}, 0x1234},
		{"le:s64/64>>0", []byte{1, 0, 0, 0, 0, 0, 0, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			f, err := model.ParseDataFormat(tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decodeValue(f, tt.data))
		})
	}
}
