package responder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/iio-remote/iiod-go/pkg/lock"
	"github.com/iio-remote/iiod-go/pkg/log"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// Transport is the byte stream a Responder runs on.
type Transport interface {
	io.Reader
	io.Writer

	// Discard skips up to n inbound bytes and returns how many were
	// skipped.
	Discard(n int) (int, error)
}

// Handler receives every inbound frame that is not a response.
type Handler interface {
	// HandleCommand processes cmd. The payload, if any, must be consumed
	// through data before returning. A non-nil error stops the reader.
	HandleCommand(cmd wire.Command, data *CommandData) error

	// OnDisconnect is called once, from the reader goroutine, after the
	// reader exits.
	OnDisconnect(err error)
}

// Config configures a Responder.
type Config struct {
	// Timeout is the default timeout of new conversations. Zero waits
	// forever.
	Timeout time.Duration

	// Logger is the optional operational logger.
	Logger *slog.Logger

	// ProtocolLogger receives one event per frame header. Nil disables
	// capture.
	ProtocolLogger log.Logger

	// ConnectionID, RemoteAddr and Role tag protocol log events.
	ConnectionID string
	RemoteAddr   string
	Role         log.Role
}

// DefaultConfig returns a Config with an infinite timeout and no logging.
func DefaultConfig() Config {
	return Config{}
}

type writeReq struct {
	cmd  wire.Command
	bufs [][]byte
	raw  []byte
}

// Responder pairs commands and responses over one Transport.
type Responder struct {
	config    Config
	transport Transport
	handler   Handler
	plog      log.Logger

	mu        sync.Mutex
	ios       map[uint16]*IO
	readers   []*IO
	defaultIO *IO
	timeout   time.Duration
	stopped   bool
	err       error

	writer *lock.Task[writeReq]
	reader *lock.Thread

	// response payloads land here first; reader goroutine only
	scratch []byte
}

// New starts a responder on t. handler may be nil on a pure client, in
// which case any inbound command stops the responder.
func New(t Transport, handler Handler, config Config) *Responder {
	r := &Responder{
		config:    config,
		transport: t,
		handler:   handler,
		plog:      log.OrNoop(config.ProtocolLogger),
		ios:       make(map[uint16]*IO),
		timeout:   config.Timeout,
	}

	r.defaultIO = r.newIO(0)
	r.ios[0] = r.defaultIO

	r.writer = lock.NewTask("iiod-responder-writer", r.write)
	r.writer.Start()
	r.reader = lock.Go("iiod-responder-reader", r.readLoop)

	return r
}

func (r *Responder) debugLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, args...)
	}
}

// DefaultIO returns the shared conversation with ID 0. The caller does not
// own a reference to it.
func (r *Responder) DefaultIO() *IO {
	return r.defaultIO
}

// CreateIO returns the conversation with the given ID, creating it if
// needed. The caller owns one reference and must Release it.
func (r *Responder) CreateIO(id uint16) *IO {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(id)
}

func (r *Responder) getOrCreateLocked(id uint16) *IO {
	if io, ok := r.ios[id]; ok {
		io.refs.Add(1)
		return io
	}
	io := r.newIO(id)
	r.ios[id] = io
	return io
}

// SetTimeout sets the default timeout of conversations created from now on
// and of the default conversation.
func (r *Responder) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
	r.defaultIO.SetTimeout(d)
}

// Timeout returns the current default timeout.
func (r *Responder) Timeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeout
}

// Err returns the error that stopped the reader, or nil while it runs.
func (r *Responder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop asks the reader to exit. The transport is closed if it implements
// io.Closer, which unblocks a pending read.
func (r *Responder) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	if c, ok := r.transport.(io.Closer); ok {
		_ = c.Close()
	}
}

// Done returns a channel closed once the reader has exited and every
// pending conversation has been woken.
func (r *Responder) Done() <-chan struct{} {
	return r.reader.Done()
}

// WaitDone blocks until the reader has exited.
func (r *Responder) WaitDone() {
	_ = r.reader.Join()
}

// Destroy stops the responder and releases its resources.
func (r *Responder) Destroy() {
	r.Stop()
	r.WaitDone()
	r.writer.Destroy()
}

func (r *Responder) readLoop() error {
	err := r.run()

	r.mu.Lock()
	if r.stopped {
		r.err = ErrCanceled
	} else {
		r.err = disconnected(err)
	}
	stored := r.err
	code := wire.CodeOf(stored)
	for _, io := range r.readers {
		io.queued = false
		io.finishLocked(code, stored)
	}
	r.readers = nil
	r.mu.Unlock()

	r.debugLog("responder: reader exited", "conn", r.config.ConnectionID, "error", err)
	r.logState("running", "stopped", stored)

	if c, ok := r.transport.(io.Closer); ok {
		_ = c.Close()
	}
	r.writer.Stop()
	r.writer.Flush()

	if r.handler != nil {
		r.handler.OnDisconnect(stored)
	}
	return err
}

func (r *Responder) run() error {
	hdr := make([]byte, wire.CommandSize)

	for {
		if _, err := io.ReadFull(r.transport, hdr); err != nil {
			return err
		}

		if wire.IsBinaryHandshake(hdr) {
			// A new peer on a persistent link (serial) restarting the
			// handshake.
			r.debugLog("responder: BINARY handshake in binary mode", "conn", r.config.ConnectionID)
			if err := r.enqueue(writeReq{raw: []byte(wire.BinaryAck)}); err != nil {
				return err
			}
			continue
		}

		var cmd wire.Command
		if err := cmd.UnmarshalBinary(hdr); err != nil {
			return err
		}

		if cmd.Op == wire.OpResponse {
			if err := r.dispatchResponse(cmd); err != nil {
				return err
			}
			continue
		}

		if r.handler == nil {
			r.logCommand(log.DirectionIn, cmd, 0, nil)
			return fmt.Errorf("unexpected command %s", cmd)
		}

		start := time.Now()
		err := r.handler.HandleCommand(cmd, &CommandData{r: r, cmd: cmd})
		elapsed := time.Since(start)
		r.logCommand(log.DirectionIn, cmd, 0, &elapsed)
		if err != nil {
			return err
		}
	}
}

func (r *Responder) dispatchResponse(cmd wire.Command) error {
	r.mu.Lock()
	var target *IO
	for i, io := range r.readers {
		if io.id == cmd.ClientID {
			target = io
			r.readers = append(r.readers[:i], r.readers[i+1:]...)
			break
		}
	}

	if target == nil {
		r.mu.Unlock()
		r.logCommand(log.DirectionIn, cmd, 0, nil)
		r.debugLog("responder: dropping unexpected response", "client_id", cmd.ClientID, "code", cmd.Code)
		if cmd.Code > 0 {
			return r.discard(int(cmd.Code))
		}
		return nil
	}

	target.queued = false
	gen := target.rgen
	want := 0
	if cmd.Code > 0 {
		want = min(int(cmd.Code), totalLen(target.rbufs))
	}
	r.mu.Unlock()

	// The waiter may time out while the payload is arriving, so nothing
	// is written to its buffers until the whole payload is here.
	if cap(r.scratch) < want {
		r.scratch = make([]byte, want)
	}
	payload := r.scratch[:want]

	var err error
	n := 0
	if want > 0 {
		n, err = io.ReadFull(r.transport, payload)
	}
	if err == nil && int(cmd.Code) > want {
		err = r.discard(int(cmd.Code) - want)
	}
	r.logCommand(log.DirectionIn, cmd, n, nil)

	r.mu.Lock()
	if target.rgen == gen {
		if err != nil {
			derr := disconnected(err)
			target.finishLocked(wire.CodeOf(derr), derr)
		} else {
			scatter(target.rbufs, payload)
			target.finishLocked(cmd.Code, nil)
		}
	}
	r.mu.Unlock()

	return err
}

func totalLen(bufs [][]byte) int {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	return n
}

// scatter copies src into bufs in order.
func scatter(bufs [][]byte, src []byte) {
	for _, b := range bufs {
		if len(src) == 0 {
			return
		}
		src = src[copy(b, src):]
	}
}

func (r *Responder) discard(n int) error {
	for n > 0 {
		m, err := r.transport.Discard(n)
		n -= m
		if err != nil {
			return err
		}
	}
	return nil
}

// enqueue hands req to the writer, or fails with the stored error once
// the reader has exited.
func (r *Responder) enqueue(req writeReq) error {
	_, err := r.enqueueTracked(req)
	return err
}

func (r *Responder) enqueueTracked(req writeReq) (*lock.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enqueueLocked(req)
}

func (r *Responder) enqueueLocked(req writeReq) (*lock.Token, error) {
	if r.err != nil {
		return nil, r.err
	}
	tok, err := r.writer.Enqueue(req)
	if err != nil {
		return nil, fromLock(err, r.err)
	}
	return tok, nil
}

func (r *Responder) write(req writeReq) error {
	if req.raw != nil {
		_, err := r.transport.Write(req.raw)
		if err != nil {
			return disconnected(err)
		}
		return nil
	}

	hdr, _ := req.cmd.AppendBinary(make([]byte, 0, wire.CommandSize))
	bufs := make(net.Buffers, 0, 1+len(req.bufs))
	bufs = append(bufs, hdr)
	size := 0
	for _, b := range req.bufs {
		if len(b) > 0 {
			bufs = append(bufs, b)
			size += len(b)
		}
	}

	r.logCommand(log.DirectionOut, req.cmd, size, nil)
	if _, err := bufs.WriteTo(r.transport); err != nil {
		r.debugLog("responder: write failed", "cmd", req.cmd.String(), "error", err)
		return disconnected(err)
	}
	return nil
}

func (r *Responder) logCommand(dir log.Direction, cmd wire.Command, payload int, elapsed *time.Duration) {
	if r.config.ProtocolLogger == nil {
		return
	}
	r.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: r.config.ConnectionID,
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryCommand,
		LocalRole:    r.config.Role,
		RemoteAddr:   r.config.RemoteAddr,
		Command: &log.CommandEvent{
			ClientID:       cmd.ClientID,
			Op:             cmd.Op,
			Dev:            cmd.Dev,
			Code:           cmd.Code,
			PayloadSize:    payload,
			ProcessingTime: elapsed,
		},
	})
}

func (r *Responder) logState(from, to string, reason error) {
	if r.config.ProtocolLogger == nil {
		return
	}
	ev := &log.StateChangeEvent{
		Entity:   log.StateEntitySession,
		OldState: from,
		NewState: to,
	}
	if reason != nil && !errors.Is(reason, ErrCanceled) {
		ev.Reason = reason.Error()
	}
	r.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: r.config.ConnectionID,
		Layer:        log.LayerService,
		Category:     log.CategoryState,
		LocalRole:    r.config.Role,
		RemoteAddr:   r.config.RemoteAddr,
		StateChange:  ev,
	})
}

func (r *Responder) removeReaderLocked(io *IO) {
	for i, rd := range r.readers {
		if rd == io {
			r.readers = append(r.readers[:i], r.readers[i+1:]...)
			break
		}
	}
	io.queued = false
}

// CommandData gives a Handler access to the payload of the command being
// processed and to the conversations of the responder.
type CommandData struct {
	r   *Responder
	cmd wire.Command
}

// Read reads exactly len(p) payload bytes.
func (d *CommandData) Read(p []byte) (int, error) {
	n, err := io.ReadFull(d.r.transport, p)
	if err != nil {
		return n, disconnected(err)
	}
	return n, nil
}

// Discard skips n payload bytes.
func (d *CommandData) Discard(n int) error {
	if err := d.r.discard(n); err != nil {
		return disconnected(err)
	}
	return nil
}

// IO returns the conversation matching the command's client ID. The
// caller owns one reference and must Release it.
func (d *CommandData) IO() *IO {
	return d.r.CreateIO(d.cmd.ClientID)
}

// DefaultIO returns the shared conversation with ID 0.
func (d *CommandData) DefaultIO() *IO {
	return d.r.defaultIO
}

// Responder returns the responder the command arrived on.
func (d *CommandData) Responder() *Responder {
	return d.r
}
