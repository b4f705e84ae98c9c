package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":30431", cfg.ListenAddress)
	assert.Equal(t, DefaultNbBlocks, cfg.NbBlocks)
	assert.Equal(t, DefaultNbPipes, cfg.NbPipes)
	assert.True(t, cfg.Advertise)
	assert.False(t, cfg.ServerDemux)
	assert.NoError(t, cfg.validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"no listener", func(c *Config) { c.ListenAddress = "" }, false},
		{"serial only", func(c *Config) { c.ListenAddress = ""; c.Serial = "/dev/ttyGS0,115200" }, true},
		{"bad serial", func(c *Config) { c.Serial = "/dev/ttyGS0,fast" }, false},
		{"usb pipes", func(c *Config) { c.FFSMount = "/dev/ffs"; c.NbPipes = MaxNbPipes }, true},
		{"too many pipes", func(c *Config) { c.FFSMount = "/dev/ffs"; c.NbPipes = MaxNbPipes + 1 }, false},
		{"no blocks", func(c *Config) { c.NbBlocks = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestServiceStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "UNKNOWN", ServiceState(42).String())
}
