package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iio-remote/iiod-go/pkg/wire"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri  string
		host string
		port int
	}{
		{"ip:", "", DefaultPort},
		{"ip:192.168.2.1", "192.168.2.1", DefaultPort},
		{"ip:pluto.local:1234", "pluto.local", 1234},
		{"ip:[fe80::1%eth0]:30000", "fe80::1%eth0", 30000},
		{"ip:[::1]", "::1", DefaultPort},
		{"ip:fe80::1", "fe80::1", DefaultPort},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			u, err := ParseURI(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, SchemeIP, u.Scheme)
			assert.Equal(t, tt.host, u.Host)
			assert.Equal(t, tt.port, u.Port)
		})
	}
}

func TestParseURIErrors(t *testing.T) {
	tests := []struct {
		uri  string
		want error
	}{
		{"pluto", wire.EINVAL},
		{"ip:host:0", wire.EINVAL},
		{"ip:host:70000", wire.EINVAL},
		{"ip:[::1", wire.EINVAL},
		{"ip:[::1]x", wire.EINVAL},
		{"ip::30431", wire.EINVAL},
		{"serial:", wire.EINVAL},
		{"usb:1.2.3", wire.ENOSYS},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			_, err := ParseURI(tt.uri)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseSerialURI(t *testing.T) {
	u, err := ParseURI("serial:/dev/ttyUSB0,115200")
	require.NoError(t, err)
	assert.Equal(t, SchemeSerial, u.Scheme)
	assert.Equal(t, "/dev/ttyUSB0", u.Serial.Port)
	assert.Equal(t, 115200, u.Serial.BaudRate)
	assert.Equal(t, 8, u.Serial.DataBits)
}

func TestURIString(t *testing.T) {
	for _, s := range []string{"ip:", "ip:10.0.0.1:30431", "ip:[fe80::1]:1"} {
		u, err := ParseURI(s)
		require.NoError(t, err)
		assert.Equal(t, s, u.String())
	}
}
