package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iio-remote/iiod-go/pkg/log"
)

// Server errors.
var (
	ErrNoHandler      = errors.New("transport: OnConnect is required")
	ErrServerRunning  = errors.New("transport: server already running")
	ErrTooManyClients = errors.New("transport: connection limit reached")
)

// Delays between retries of a failing Accept.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ServerConfig configures the iiod TCP listener.
type ServerConfig struct {
	// Address to listen on, ":30431" or "127.0.0.1:0".
	Address string

	// KeepAlive configures TCP keep-alive probes on accepted connections.
	KeepAlive net.KeepAliveConfig

	// MaxConnections refuses clients beyond this many. Zero is unlimited.
	MaxConnections int

	// Logger captures the traffic of every accepted Stream. Optional.
	Logger log.Logger

	// OnConnect serves one connection on its own goroutine. The stream
	// is closed when it returns.
	OnConnect func(ctx context.Context, s *Stream)

	// OnError reports accept failures and refused clients.
	OnError func(err error)
}

// DefaultServerConfig returns the listener settings of the daemon: all
// interfaces on DefaultPort, keep-alive after 10s idle, probing every 10s,
// giving up after 6 probes.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address: fmt.Sprintf(":%d", DefaultPort),
		KeepAlive: net.KeepAliveConfig{
			Enable:   true,
			Idle:     10 * time.Second,
			Interval: 10 * time.Second,
			Count:    6,
		},
	}
}

// Server accepts TCP connections. Every connection gets a Stream with a
// fresh connection ID and is served on its own goroutine.
type Server struct {
	config ServerConfig

	mu       sync.Mutex
	listener net.Listener
	streams  map[string]*Stream
	stopping bool
	stop     func() bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewServer creates a server. It does not listen until Start.
func NewServer(config ServerConfig) (*Server, error) {
	if config.OnConnect == nil {
		return nil, ErrNoHandler
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	return &Server{config: config}, nil
}

// Start listens and accepts connections until Stop or until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrServerRunning
	}

	lc := net.ListenConfig{KeepAliveConfig: s.config.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", s.config.Address, err)
	}

	s.listener = ln
	s.streams = make(map[string]*Stream)
	s.stopping = false
	s.done = make(chan struct{})
	s.stop = context.AfterFunc(ctx, func() { _ = s.Stop() })

	s.wg.Add(1)
	go s.accept(ctx, ln)
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to return. Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.listener == nil || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.stop()
	close(s.done)
	err := s.listener.Close()
	for _, st := range s.streams {
		st.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Addr returns the listen address, or nil when the server is not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of connections being served.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *Server) accept(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(fmt.Errorf("transport: accept: %w", err))

			// Usually EMFILE; give the serving goroutines time to close
			// some descriptors.
			delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
			select {
			case <-time.After(delay):
				continue
			case <-s.done:
				return
			}
		}
		delay = 0

		st, ok := s.register(conn)
		if !ok {
			continue
		}
		s.wg.Add(1)
		go s.serve(ctx, st)
	}
}

// register wraps conn in a Stream and records it, unless the server is
// stopping or full.
func (s *Server) register(conn net.Conn) (*Stream, bool) {
	remote := conn.RemoteAddr().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		conn.Close()
		return nil, false
	}
	if limit := s.config.MaxConnections; limit > 0 && len(s.streams) >= limit {
		conn.Close()
		s.reportError(fmt.Errorf("%w: refused %s", ErrTooManyClients, remote))
		return nil, false
	}

	st := NewStream(conn, remote)
	st.SetLogger(s.config.Logger, uuid.NewString(), log.RoleServer)
	s.streams[st.ConnID()] = st
	return st, true
}

func (s *Server) serve(ctx context.Context, st *Stream) {
	defer s.wg.Done()

	s.logState(st, "", "CONNECTED")
	s.config.OnConnect(ctx, st)
	st.Close()

	s.mu.Lock()
	delete(s.streams, st.ConnID())
	s.mu.Unlock()
	s.logState(st, "CONNECTED", "DISCONNECTED")
}

func (s *Server) reportError(err error) {
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}

func (s *Server) logState(st *Stream, from, to string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: st.ConnID(),
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    log.RoleServer,
		RemoteAddr:   st.RemoteAddr(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from,
			NewState: to,
		},
	})
}
