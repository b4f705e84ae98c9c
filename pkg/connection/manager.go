package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/iio-remote/iiod-go/pkg/client"
)

// Connection errors.
var (
	ErrNotConnected   = errors.New("not connected to iiod")
	ErrManagerClosed  = errors.New("connection manager closed")
	ErrAlreadyRunning = errors.New("connection manager already running")
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected - no connection, Run not called yet.
	StateDisconnected State = iota

	// StateConnecting - first connection attempt in progress.
	StateConnecting

	// StateConnected - the client is usable.
	StateConnected

	// StateReconnecting - the connection was lost, dialing again.
	StateReconnecting

	// StateClosed - Run has returned.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc opens a connection to the daemon.
type DialFunc func(ctx context.Context) (*client.Client, error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// URI of the daemon, e.g. "ip:192.168.2.1". Ignored when Dial is set.
	URI string

	// Client configures every client the manager dials.
	Client client.Config

	// Dial replaces client.Dial (optional).
	Dial DialFunc

	// Backoff paces the reconnection attempts.
	Backoff BackoffConfig

	// Logger is the optional operational logger.
	Logger *slog.Logger

	// OnStateChange is called on every state change (optional).
	OnStateChange func(old, new State)

	// OnConnected is called with each new client (optional).
	OnConnected func(c *client.Client)

	// OnReconnecting is called before each wait between attempts
	// (optional).
	OnReconnecting func(attempt int, delay time.Duration, err error)
}

// DefaultManagerConfig returns a configuration for uri with the default
// client settings and backoff.
func DefaultManagerConfig(uri string) ManagerConfig {
	return ManagerConfig{
		URI:     uri,
		Client:  client.DefaultConfig(),
		Backoff: DefaultBackoffConfig(),
	}
}

// Manager keeps one client connected to an iiod.
type Manager struct {
	config  ManagerConfig
	backoff *Backoff
	dial    DialFunc

	mu      sync.RWMutex
	state   State
	running bool
	client  *client.Client
	changed chan struct{}

	lost chan *client.Client
}

// NewManager creates a manager. Nothing is dialed until Run.
func NewManager(config ManagerConfig) *Manager {
	m := &Manager{
		config:  config,
		backoff: NewBackoffWithConfig(config.Backoff),
		dial:    config.Dial,
		changed: make(chan struct{}),
		lost:    make(chan *client.Client, 1),
	}
	if m.dial == nil {
		m.dial = func(ctx context.Context) (*client.Client, error) {
			return client.Dial(ctx, config.URI, config.Client)
		}
	}
	return m
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.config.Logger != nil {
		m.config.Logger.Debug(msg, args...)
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Client returns the connected client.
func (m *Manager) Client() (*client.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.state == StateClosed:
		return nil, ErrManagerClosed
	case m.client == nil:
		return nil, ErrNotConnected
	}
	return m.client, nil
}

// Wait blocks until a client is connected, the manager is closed or ctx
// ends.
func (m *Manager) Wait(ctx context.Context) (*client.Client, error) {
	for {
		m.mu.RLock()
		c, state, changed := m.client, m.state, m.changed
		m.mu.RUnlock()

		switch {
		case state == StateClosed:
			return nil, ErrManagerClosed
		case c != nil:
			return c, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// BackoffAttempts returns the number of failed attempts since the last
// successful connection.
func (m *Manager) BackoffAttempts() int {
	return m.backoff.Attempts()
}

// NotifyConnectionLost reports that c stopped working. The manager drops
// it and dials again. Reports about a client that was already replaced are
// ignored.
func (m *Manager) NotifyConnectionLost(c *client.Client) {
	select {
	case m.lost <- c:
	default:
	}
}

func (m *Manager) setState(state State, c *client.Client) {
	m.mu.Lock()
	old := m.state
	m.state = state
	m.client = c
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	if old == state {
		return
	}
	m.debugLog("connection: state changed", "from", old.String(), "to", state.String())
	if m.config.OnStateChange != nil {
		m.config.OnStateChange(old, state)
	}
}

// Run dials the daemon and keeps it connected until ctx is canceled. The
// client is closed when Run returns.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	defer m.setState(StateClosed, nil)

	next := StateConnecting
	for {
		m.setState(next, nil)
		c, err := m.connect(ctx)
		if err != nil {
			return nil
		}
		m.setState(StateConnected, c)
		if m.config.OnConnected != nil {
			m.config.OnConnected(c)
		}

		if !m.watch(ctx, c) {
			c.Close()
			return nil
		}
		m.debugLog("connection: lost, reconnecting")
		c.Close()
		next = StateReconnecting
	}
}

// connect dials until it succeeds or ctx ends.
func (m *Manager) connect(ctx context.Context) (*client.Client, error) {
	for {
		c, err := m.dial(ctx)
		if err == nil {
			m.backoff.Reset()
			return c, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()
		m.debugLog("connection: attempt failed", "attempt", attempt, "delay", delay, "error", err)
		if m.config.OnReconnecting != nil {
			m.config.OnReconnecting(attempt, delay, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// watch waits for c to go away. It returns false when ctx ended first.
func (m *Manager) watch(ctx context.Context, c *client.Client) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.Done():
			return true
		case lost := <-m.lost:
			if lost == c {
				return true
			}
		}
	}
}
