package testharness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iio-remote/iiod-go/pkg/backend/sim"
	"github.com/iio-remote/iiod-go/pkg/service"
)

// Timeout bounds every wait of the fixtures.
const Timeout = 5 * time.Second

// Daemon is a running daemon serving a simulated context on loopback.
type Daemon struct {
	*service.Daemon
	Sim *sim.Sim
}

// URI returns the client URI of the daemon.
func (d *Daemon) URI() string {
	return "ip:" + d.Addr().String()
}

// StartDaemon runs a daemon for the default simulated context. modify
// may adjust the configuration before the daemon is created. The daemon
// is stopped when the test ends.
func StartDaemon(t testing.TB, modify ...func(*service.Config)) *Daemon {
	t.Helper()

	s, err := sim.New(nil)
	require.NoError(t, err)

	cfg := service.DefaultConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.Advertise = false
	for _, m := range modify {
		m(&cfg)
	}

	d, err := service.New(s, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-d.Ready():
	case <-time.After(Timeout):
		cancel()
		t.Fatal("daemon not ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("daemon: Run returned %v", err)
			}
		case <-time.After(Timeout):
			t.Error("daemon did not stop")
		}
		s.Close()
	})
	return &Daemon{Daemon: d, Sim: s}
}
