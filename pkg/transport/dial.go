package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/iio-remote/iiod-go/pkg/log"
)

// DialConfig configures outgoing TCP connections.
type DialConfig struct {
	// ConnectTimeout bounds the TCP connect (default: 5s).
	ConnectTimeout time.Duration

	// Logger for protocol capture (optional).
	Logger log.Logger
}

// DefaultDialConfig returns the client connect settings.
func DefaultDialConfig() DialConfig {
	return DialConfig{ConnectTimeout: 5 * time.Second}
}

// Dial connects to an iiod at address ("host:port").
func Dial(ctx context.Context, address string, config DialConfig) (*Stream, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 5 * time.Second
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     10 * time.Second,
			Interval: 10 * time.Second,
			Count:    6,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	stream := NewStream(conn, conn.RemoteAddr().String())
	if config.Logger != nil {
		stream.SetLogger(config.Logger, uuid.New().String(), log.RoleClient)
	}
	return stream, nil
}
