package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// Serial errors.
var (
	ErrSerialConfig      = errors.New("transport: invalid serial configuration")
	ErrFlowControlNotSup = errors.New("transport: serial flow control not supported")
)

// SerialConfig describes a UART link.
type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   byte // 'n', 'o', 'e', 'm' or 's'
	StopBits int  // 1 or 2
	Flow     byte // 0, 'x' (XON/XOFF) or 'r' (RTS/CTS)
}

// DefaultSerialConfig returns 57600 baud, 8n1, no flow control.
func DefaultSerialConfig(port string) SerialConfig {
	return SerialConfig{
		Port:     port,
		BaudRate: 57600,
		DataBits: 8,
		Parity:   'n',
		StopBits: 1,
	}
}

// ParseSerialConfig parses "port[,baud[,<bits><parity><stop>[<flow>]]]",
// e.g. "/dev/ttyUSB0,115200,8n1r".
func ParseSerialConfig(spec string) (SerialConfig, error) {
	fields := strings.Split(spec, ",")
	if fields[0] == "" || len(fields) > 3 {
		return SerialConfig{}, fmt.Errorf("%w: %q", ErrSerialConfig, spec)
	}

	cfg := DefaultSerialConfig(fields[0])

	if len(fields) > 1 {
		baud, err := strconv.Atoi(fields[1])
		if err != nil || baud <= 0 {
			return SerialConfig{}, fmt.Errorf("%w: bad baud rate %q", ErrSerialConfig, fields[1])
		}
		cfg.BaudRate = baud
	}

	if len(fields) > 2 {
		f := fields[2]
		if len(f) < 3 || len(f) > 4 {
			return SerialConfig{}, fmt.Errorf("%w: bad frame format %q", ErrSerialConfig, f)
		}
		cfg.DataBits = int(f[0] - '0')
		cfg.Parity = f[1]
		cfg.StopBits = int(f[2] - '0')
		if len(f) == 4 {
			cfg.Flow = f[3]
		}
	}

	if err := cfg.validate(); err != nil {
		return SerialConfig{}, err
	}
	return cfg, nil
}

func (c SerialConfig) validate() error {
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("%w: %d data bits", ErrSerialConfig, c.DataBits)
	}
	switch c.Parity {
	case 'n', 'o', 'e', 'm', 's':
	default:
		return fmt.Errorf("%w: parity %q", ErrSerialConfig, c.Parity)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("%w: %d stop bits", ErrSerialConfig, c.StopBits)
	}
	switch c.Flow {
	case 0, 'x', 'r':
	default:
		return fmt.Errorf("%w: flow control %q", ErrSerialConfig, c.Flow)
	}
	return nil
}

// String formats the config the way ParseSerialConfig reads it.
func (c SerialConfig) String() string {
	s := fmt.Sprintf("%s,%d,%d%c%d", c.Port, c.BaudRate, c.DataBits, c.Parity, c.StopBits)
	if c.Flow != 0 {
		s += string(c.Flow)
	}
	return s
}

func (c SerialConfig) mode() *serial.Mode {
	m := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: serial.OneStopBit,
	}
	if c.StopBits == 2 {
		m.StopBits = serial.TwoStopBits
	}
	switch c.Parity {
	case 'o':
		m.Parity = serial.OddParity
	case 'e':
		m.Parity = serial.EvenParity
	case 'm':
		m.Parity = serial.MarkParity
	case 's':
		m.Parity = serial.SpaceParity
	default:
		m.Parity = serial.NoParity
	}
	return m
}

// OpenSerial opens and configures a UART and wraps it in a Stream.
func OpenSerial(cfg SerialConfig) (*Stream, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Flow != 0 {
		return nil, fmt.Errorf("%w: %q", ErrFlowControlNotSup, cfg.Flow)
	}

	port, err := serial.Open(cfg.Port, cfg.mode())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}
	return NewStream(port, cfg.Port), nil
}
