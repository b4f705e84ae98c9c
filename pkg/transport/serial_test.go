package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestParseSerialConfig(t *testing.T) {
	tests := []struct {
		spec string
		want SerialConfig
	}{
		{"/dev/ttyS0", SerialConfig{Port: "/dev/ttyS0", BaudRate: 57600, DataBits: 8, Parity: 'n', StopBits: 1}},
		{"/dev/ttyS0,115200", SerialConfig{Port: "/dev/ttyS0", BaudRate: 115200, DataBits: 8, Parity: 'n', StopBits: 1}},
		{"/dev/ttyUSB1,9600,7e2", SerialConfig{Port: "/dev/ttyUSB1", BaudRate: 9600, DataBits: 7, Parity: 'e', StopBits: 2}},
		{"/dev/ttyUSB1,9600,8o1x", SerialConfig{Port: "/dev/ttyUSB1", BaudRate: 9600, DataBits: 8, Parity: 'o', StopBits: 1, Flow: 'x'}},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseSerialConfig(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSerialConfigString(t *testing.T) {
	assert.Equal(t, "/dev/ttyS0,57600,8n1", DefaultSerialConfig("/dev/ttyS0").String())

	cfg, err := ParseSerialConfig("/dev/ttyS0,9600,7e2r")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS0,9600,7e2r", cfg.String())
}

func TestParseSerialConfigInvalid(t *testing.T) {
	for _, spec := range []string{
		"",
		",9600",
		"/dev/ttyS0,fast",
		"/dev/ttyS0,-1",
		"/dev/ttyS0,9600,9n1",
		"/dev/ttyS0,9600,8q1",
		"/dev/ttyS0,9600,8n3",
		"/dev/ttyS0,9600,8n1d",
		"/dev/ttyS0,9600,8n",
		"/dev/ttyS0,9600,8n1,extra",
	} {
		_, err := ParseSerialConfig(spec)
		assert.ErrorIs(t, err, ErrSerialConfig, "spec %q", spec)
	}
}

func TestSerialMode(t *testing.T) {
	cfg, err := ParseSerialConfig("/dev/ttyS0,19200,7m2")
	require.NoError(t, err)

	m := cfg.mode()
	assert.Equal(t, 19200, m.BaudRate)
	assert.Equal(t, 7, m.DataBits)
	assert.Equal(t, serial.MarkParity, m.Parity)
	assert.Equal(t, serial.TwoStopBits, m.StopBits)
}

func TestOpenSerialRejectsFlowControl(t *testing.T) {
	cfg := DefaultSerialConfig("/dev/null")
	cfg.Flow = 'r'

	_, err := OpenSerial(cfg)
	assert.ErrorIs(t, err, ErrFlowControlNotSup)
}
