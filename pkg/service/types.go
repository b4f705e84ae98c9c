package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/iio-remote/iiod-go/pkg/discovery"
	"github.com/iio-remote/iiod-go/pkg/log"
	"github.com/iio-remote/iiod-go/pkg/transport"
)

// Defaults.
const (
	// DefaultNbBlocks is the number of blocks a buffer worker allocates
	// unless SET BUFFERS_COUNT says otherwise.
	DefaultNbBlocks = 4

	// DefaultNbPipes is the number of USB pipes exposed over FunctionFS.
	DefaultNbPipes = 3

	// MaxNbPipes is the FunctionFS endpoint limit.
	MaxNbPipes = 7
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrPoolStopped    = errors.New("thread pool stopped")
)

// ServiceState represents the daemon state.
type ServiceState uint8

const (
	// StateIdle - daemon created but not started.
	StateIdle ServiceState = iota

	// StateStarting - listeners are being set up.
	StateStarting

	// StateRunning - daemon is serving clients.
	StateRunning

	// StateStopping - daemon is shutting down or restarting.
	StateStopping

	// StateStopped - daemon has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Daemon.
type Config struct {
	// ListenAddress is the TCP address to listen on (e.g. ":30431").
	// Empty disables the network listener.
	ListenAddress string

	// Serial is a serial port specification, "/dev/ttyGS0,115200,8n1".
	// Empty disables the serial listener.
	Serial string

	// FFSMount is the FunctionFS mount point. Empty disables USB.
	FFSMount string

	// NbPipes is the number of USB pipes exposed over FunctionFS.
	NbPipes int

	// ServerDemux makes buffer workers send each legacy subscriber only
	// the channels it asked for. By default the whole block goes out and
	// clients demux.
	ServerDemux bool

	// NbBlocks is the default number of blocks of a buffer worker.
	NbBlocks int

	// Advertise publishes the daemon over DNS-SD.
	Advertise bool

	// Discovery configures the DNS-SD advertiser. Its Port is filled
	// from the listener.
	Discovery discovery.AdvertiserConfig

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures traffic and state changes (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the iiod defaults: network listener on
// transport.DefaultPort, DNS-SD advertisement, four blocks per buffer.
func DefaultConfig() Config {
	return Config{
		ListenAddress: fmt.Sprintf(":%d", transport.DefaultPort),
		NbPipes:       DefaultNbPipes,
		NbBlocks:      DefaultNbBlocks,
		Advertise:     true,
		Discovery:     discovery.DefaultAdvertiserConfig(),
	}
}

func (c Config) validate() error {
	if c.ListenAddress == "" && c.Serial == "" && c.FFSMount == "" {
		return fmt.Errorf("%w: no listener enabled", ErrInvalidConfig)
	}
	if c.FFSMount != "" && (c.NbPipes < 1 || c.NbPipes > MaxNbPipes) {
		return fmt.Errorf("%w: invalid number of USB pipes %d", ErrInvalidConfig, c.NbPipes)
	}
	if c.NbBlocks < 1 {
		return fmt.Errorf("%w: invalid number of blocks %d", ErrInvalidConfig, c.NbBlocks)
	}
	if c.Serial != "" {
		if _, err := transport.ParseSerialConfig(c.Serial); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}
