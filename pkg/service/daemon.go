package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/discovery"
	"github.com/iio-remote/iiod-go/pkg/log"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/transport"
	"github.com/iio-remote/iiod-go/pkg/version"
)

var (
	errRestart = errors.New("restart requested")
	errStop    = errors.New("stop requested")
)

// serialRetryDelay spaces the reopening of a serial port that failed.
const serialRetryDelay = time.Second

// Daemon serves one backend to remote clients over TCP, a serial port and
// USB FunctionFS pipes.
type Daemon struct {
	config  Config
	backend backend.Backend
	ctx     *model.Context
	xml     []byte
	zxml    []byte
	plog    log.Logger

	mu       sync.RWMutex
	state    ServiceState
	cancel   context.CancelCauseFunc
	sessions *pool
	reg      *registry
	tcp      *transport.Server
	ready    chan struct{}
}

// New creates a daemon for b. Nothing is served until Run.
func New(b backend.Backend, config Config) (*Daemon, error) {
	if config.NbBlocks == 0 {
		config.NbBlocks = DefaultNbBlocks
	}
	if config.NbPipes == 0 {
		config.NbPipes = DefaultNbPipes
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	ctx := b.Context()
	xml, zxml, err := contextXML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build context description: %w", err)
	}

	return &Daemon{
		config:  config,
		backend: b,
		ctx:     ctx,
		xml:     xml,
		zxml:    zxml,
		plog:    log.OrNoop(config.ProtocolLogger),
		ready:   make(chan struct{}),
	}, nil
}

func (d *Daemon) debugLog(msg string, args ...any) {
	if d.config.Logger != nil {
		d.config.Logger.Debug(msg, args...)
	}
}

// State returns the current daemon state.
func (d *Daemon) State() ServiceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Daemon) setState(state ServiceState) {
	d.mu.Lock()
	old := d.state
	d.state = state
	d.mu.Unlock()

	if old == state {
		return
	}
	d.debugLog("daemon: state changed", "from", old.String(), "to", state.String())
	d.plog.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		LocalRole: log.RoleServer,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: old.String(),
			NewState: state.String(),
		},
	})
}

// Ready returns a channel closed once the listeners of the first run are
// set up.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the TCP listen address, or nil when not listening.
func (d *Daemon) Addr() net.Addr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.tcp == nil {
		return nil
	}
	return d.tcp.Addr()
}

// SessionCount returns the number of connected clients.
func (d *Daemon) SessionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.sessions == nil {
		return 0
	}
	return d.sessions.conns.Len()
}

// Sessions lists the connected clients, oldest first.
func (d *Daemon) Sessions() []SessionInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.sessions == nil {
		return nil
	}
	return d.sessions.conns.Snapshot()
}

// Run serves clients until ctx is canceled or Stop is called. Restart
// makes it drop every client and set the listeners up again.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.state == StateStarting || d.state == StateRunning {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.mu.Unlock()

	defer d.setState(StateStopped)
	for {
		err := d.serve(ctx)
		if !errors.Is(err, errRestart) {
			return err
		}
		d.debugLog("daemon: restarting")
	}
}

// Restart drops every client and sets the listeners up again. It is what
// SIGUSR1 triggers.
func (d *Daemon) Restart() error {
	return d.cancelRun(errRestart)
}

// Stop makes Run return.
func (d *Daemon) Stop() error {
	return d.cancelRun(errStop)
}

func (d *Daemon) cancelRun(cause error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cancel == nil || d.state != StateRunning {
		return ErrNotStarted
	}
	d.cancel(cause)
	return nil
}

// serve runs one generation of listeners, sessions and buffer workers.
func (d *Daemon) serve(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	sessions := newPool(ctx)
	workers := newPool(ctx)
	reg := newRegistry(d.backend, workers, d.config)

	d.mu.Lock()
	d.cancel = cancel
	d.sessions = sessions
	d.reg = reg
	d.mu.Unlock()
	d.setState(StateStarting)

	g, gctx := errgroup.WithContext(ctx)

	var adv *discovery.Advertiser
	if d.config.ListenAddress != "" {
		srv, err := transport.NewServer(transport.ServerConfig{
			Address:   d.config.ListenAddress,
			KeepAlive: transport.DefaultServerConfig().KeepAlive,
			Logger:    d.config.ProtocolLogger,
			OnConnect: func(_ context.Context, st *transport.Stream) {
				err := d.serveStream(sessions, reg, st)
				d.debugLog("daemon: client disconnected", "remote", st.RemoteAddr(), "error", err)
			},
			OnError: func(err error) {
				d.debugLog("daemon: listener error", "error", err)
			},
		})
		if err != nil {
			return err
		}
		if err := srv.Start(gctx); err != nil {
			return err
		}

		d.mu.Lock()
		d.tcp = srv
		d.mu.Unlock()

		g.Go(func() error {
			<-gctx.Done()
			return srv.Stop()
		})

		if d.config.Advertise {
			adv = d.advertise(srv.Addr())
		}
	}

	if d.config.Serial != "" {
		g.Go(func() error { return d.serveSerial(gctx, sessions, reg) })
	}
	if d.config.FFSMount != "" {
		g.Go(func() error { return d.serveUSB(gctx, reg) })
	}

	g.Go(func() error {
		<-gctx.Done()
		d.setState(StateStopping)
		sessions.StopAndWait()
		workers.StopAndWait()
		return nil
	})

	d.setState(StateRunning)
	select {
	case <-d.ready:
	default:
		close(d.ready)
	}

	err := g.Wait()
	if adv != nil {
		adv.Stop()
	}

	d.mu.Lock()
	d.tcp = nil
	d.mu.Unlock()

	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errRestart):
		return errRestart
	case errors.Is(cause, errStop), parent.Err() != nil:
		return nil
	}
	return err
}

func (d *Daemon) advertise(addr net.Addr) *discovery.Advertiser {
	config := d.config.Discovery
	if tcp, ok := addr.(*net.TCPAddr); ok {
		config.Port = tcp.Port
	}
	if config.Logger == nil {
		config.Logger = d.config.Logger
	}
	if config.TXT == nil {
		config.TXT = discovery.TXTRecordMap{
			discovery.TXTKeyVersion: version.Current.String(),
		}
	}

	adv := discovery.NewAdvertiser(config)
	if err := adv.Start(); err != nil {
		// clients can still connect with an explicit address
		d.debugLog("daemon: unable to advertise", "error", err)
		return nil
	}
	return adv
}

// ServeConn runs a session on st until the client leaves or the daemon
// stops. It is how streams that are not accepted by the daemon itself get
// served.
func (d *Daemon) ServeConn(st *transport.Stream) error {
	d.mu.RLock()
	sessions, reg := d.sessions, d.reg
	d.mu.RUnlock()
	if sessions == nil {
		return ErrNotStarted
	}
	return d.serveStream(sessions, reg, st)
}

func (d *Daemon) serveStream(sessions *pool, reg *registry, st *transport.Stream) error {
	if st.ConnID() == "" {
		st.SetLogger(d.config.ProtocolLogger, uuid.New().String(), log.RoleServer)
	}
	untrack, err := sessions.Track(st)
	if err != nil {
		return err
	}
	defer untrack()

	d.debugLog("daemon: client connected", "remote", st.RemoteAddr(), "conn", st.ConnID())

	return newSession(d, reg, st).run()
}

func (d *Daemon) serveSerial(ctx context.Context, sessions *pool, reg *registry) error {
	cfg, err := transport.ParseSerialConfig(d.config.Serial)
	if err != nil {
		return err
	}

	for ctx.Err() == nil {
		st, err := transport.OpenSerial(cfg)
		if err != nil {
			return fmt.Errorf("serial: %w", err)
		}

		err = d.serveStream(sessions, reg, st)
		st.Close()
		if err != nil && ctx.Err() == nil {
			d.debugLog("daemon: serial session ended", "port", cfg.Port, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(serialRetryDelay):
			}
		}
	}
	return nil
}

func (d *Daemon) serveUSB(ctx context.Context, reg *registry) error {
	ffs, err := transport.OpenFunctionFS(d.config.FFSMount, d.config.NbPipes)
	if err != nil {
		return fmt.Errorf("usb: %w", err)
	}

	pipes := make([]*pool, ffs.NbPipes())
	for i := range pipes {
		pipes[i] = newPool(ctx)
	}
	defer func() {
		for _, p := range pipes {
			p.StopAndWait()
		}
	}()

	go func() {
		<-ctx.Done()
		ffs.Close()
	}()

	openPipe := func(id int) {
		if id >= len(pipes) {
			d.debugLog("daemon: invalid USB pipe", "pipe", id)
			return
		}
		p := pipes[id]
		p.StopAndWait()
		p.Restart()

		st, err := ffs.OpenPipe(id)
		if err != nil {
			d.debugLog("daemon: unable to open USB pipe", "pipe", id, "error", err)
			return
		}
		if err := p.Go(func(context.Context) {
			defer st.Close()
			err := d.serveStream(p, reg, st)
			d.debugLog("daemon: USB pipe closed", "pipe", id, "error", err)
		}); err != nil {
			st.Close()
		}
	}

	for {
		ev, err := ffs.ReadEvent()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrShortEvent) {
				continue
			}
			return fmt.Errorf("usb: %w", err)
		}

		if ev.Type == transport.FFSEventSetup {
			switch ev.Request {
			case transport.USBCmdResetPipes:
				for _, p := range pipes {
					p.Stop()
				}
			case transport.USBCmdOpenPipe:
				openPipe(int(ev.Value))
			case transport.USBCmdClosePipe:
				if int(ev.Value) < len(pipes) {
					pipes[ev.Value].Stop()
				}
			}
		}

		ffs.ClearErrors()
	}
}
