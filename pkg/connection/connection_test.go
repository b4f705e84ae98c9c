package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iio-remote/iiod-go/internal/testharness"
	"github.com/iio-remote/iiod-go/pkg/client"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
			30 * time.Second,
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()
			if base != exp {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()

		seen := make(map[time.Duration]bool)
		for i := 0; i < 10; i++ {
			d := b.Next()
			b.Reset()
			if d < InitialBackoff || d > InitialBackoff+InitialBackoff/4 {
				t.Errorf("Sample %d: %v out of range", i, d)
			}
			seen[d] = true
		}
		if len(seen) < 2 {
			t.Error("jitter does not vary")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Attempts() != 5 {
			t.Errorf("Attempts() = %d, want 5", b.Attempts())
		}

		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("Current() = %v after reset, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 2.0,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			500 * time.Millisecond,
			500 * time.Millisecond,
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("Attempt %d: got %v, want %v", i, got, exp)
			}
		}
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Max: time.Millisecond})
		if got := b.Next(); got != time.Second {
			t.Errorf("Next() = %v, want 1s", got)
		}
		if got := b.Current(); got != time.Second {
			t.Errorf("Current() = %v, want 1s", got)
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// fastConfig returns a manager configuration for d that retries almost at
// once.
func fastConfig(d *testharness.Daemon) ManagerConfig {
	cfg := DefaultManagerConfig(d.URI())
	cfg.Client.Timeout = testharness.Timeout
	cfg.Backoff = BackoffConfig{Initial: time.Millisecond, Max: 10 * time.Millisecond}
	return cfg
}

// runManager runs m until the test ends.
func runManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(testharness.Timeout):
			t.Error("manager did not stop")
		}
	})
}

func waitClient(t *testing.T, m *Manager) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testharness.Timeout)
	defer cancel()
	c, err := m.Wait(ctx)
	require.NoError(t, err)
	return c
}

func TestManagerConnects(t *testing.T) {
	d := testharness.StartDaemon(t)

	var (
		mu     sync.Mutex
		states []State
	)
	cfg := fastConfig(d)
	cfg.OnStateChange = func(_, s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}
	m := NewManager(cfg)

	_, err := m.Client()
	assert.ErrorIs(t, err, ErrNotConnected)

	runManager(t, m)
	c := waitClient(t, m)
	assert.True(t, c.Binary())
	assert.Equal(t, StateConnected, m.State())

	got, err := m.Client()
	require.NoError(t, err)
	assert.Same(t, c, got)

	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateConnected}, states)
	mu.Unlock()
}

func TestManagerRetriesWithBackoff(t *testing.T) {
	d := testharness.StartDaemon(t)
	errRefused := errors.New("refused")

	var (
		mu       sync.Mutex
		attempts []int
		calls    int
	)
	cfg := fastConfig(d)
	cfg.Dial = func(ctx context.Context) (*client.Client, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 3 {
			return nil, errRefused
		}
		return client.Dial(ctx, d.URI(), cfg.Client)
	}
	cfg.OnReconnecting = func(attempt int, _ time.Duration, err error) {
		assert.ErrorIs(t, err, errRefused)
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()
	}

	m := NewManager(cfg)
	runManager(t, m)
	waitClient(t, m)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	mu.Unlock()
	assert.Zero(t, m.BackoffAttempts())
}

func TestManagerReconnectsAfterRestart(t *testing.T) {
	d := testharness.StartDaemon(t)

	connected := make(chan *client.Client, 4)
	cfg := fastConfig(d)
	cfg.OnConnected = func(c *client.Client) { connected <- c }
	m := NewManager(cfg)
	runManager(t, m)

	first := <-connected
	require.NoError(t, d.Restart())

	select {
	case second := <-connected:
		assert.NotSame(t, first, second)
		_, err := second.GetTrigger(0)
		assert.NoError(t, err)
	case <-time.After(testharness.Timeout):
		t.Fatal("manager did not reconnect")
	}
}

func TestManagerConnectionLost(t *testing.T) {
	d := testharness.StartDaemon(t)

	connected := make(chan *client.Client, 4)
	cfg := fastConfig(d)
	cfg.Client.Legacy = true
	cfg.OnConnected = func(c *client.Client) { connected <- c }
	m := NewManager(cfg)
	runManager(t, m)

	first := <-connected
	require.False(t, first.Binary())

	m.NotifyConnectionLost(first)
	select {
	case second := <-connected:
		assert.NotSame(t, first, second)
	case <-time.After(testharness.Timeout):
		t.Fatal("manager did not reconnect")
	}

	// a stale report does not drop the new client
	m.NotifyConnectionLost(first)
	select {
	case <-connected:
		t.Fatal("unexpected reconnection")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManagerClosed(t *testing.T) {
	d := testharness.StartDaemon(t)
	m := NewManager(fastConfig(d))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	waitClient(t, m)

	assert.ErrorIs(t, m.Run(ctx), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, m.State())

	_, err := m.Client()
	assert.ErrorIs(t, err, ErrManagerClosed)
	_, err = m.Wait(context.Background())
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, m.Run(context.Background()), ErrManagerClosed)
}
