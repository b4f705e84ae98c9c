package responder

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iio-remote/iiod-go/pkg/lock"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// IO is one conversation: a client ID with at most one pending outbound
// frame and at most one pending response.
//
// Conversations are reference counted. Both the goroutine driving the
// conversation and the responder registry hold references; the
// conversation leaves the registry when the last one is released.
type IO struct {
	r    *Responder
	id   uint16
	refs atomic.Int32
	cond *lock.Cond

	// serializes the synchronous senders and ExecCommand callers
	sendMu sync.Mutex
	execMu sync.Mutex

	// guarded by r.mu
	timeout time.Duration
	wtoken  *lock.Token
	wstart  time.Time

	rbufs  [][]byte
	rcode  int32
	rerr   error
	rdone  bool
	rstart time.Time
	rgen   uint64
	queued bool
}

func (r *Responder) newIO(id uint16) *IO {
	io := &IO{
		r:       r,
		id:      id,
		cond:    lock.NewCond(&r.mu),
		timeout: r.timeout,
	}
	io.refs.Store(1)
	return io
}

// ID returns the conversation's client ID.
func (io *IO) ID() uint16 {
	return io.id
}

// SetTimeout sets the timeout of the conversation. Zero waits forever.
func (io *IO) SetTimeout(d time.Duration) {
	io.r.mu.Lock()
	io.timeout = d
	io.r.mu.Unlock()
}

// Timeout returns the timeout of the conversation.
func (io *IO) Timeout() time.Duration {
	io.r.mu.Lock()
	defer io.r.mu.Unlock()
	return io.timeout
}

// Ref takes an additional reference.
func (io *IO) Ref() {
	io.refs.Add(1)
}

// Release drops a reference. Dropping the last one removes the
// conversation from the registry and cancels whatever it still has
// pending.
func (io *IO) Release() {
	r := io.r

	r.mu.Lock()
	if io.refs.Add(-1) > 0 {
		r.mu.Unlock()
		return
	}
	if r.ios[io.id] == io {
		delete(r.ios, io.id)
	}
	r.removeReaderLocked(io)
	tok := io.wtoken
	io.wtoken = nil
	r.mu.Unlock()

	if tok != nil {
		tok.Cancel()
	}
}

func (io *IO) finishLocked(code int32, err error) {
	io.rcode = code
	io.rerr = err
	io.rdone = true
	io.cond.Broadcast()
}

// SendCommandAsync queues cmd, followed by bufs, on the writer. The client
// ID of cmd is replaced by the conversation's. The buffers must stay
// untouched until the command is done.
func (io *IO) SendCommandAsync(cmd wire.Command, bufs ...[]byte) error {
	cmd.ClientID = io.id
	return io.enqueue(cmd, bufs)
}

// SendResponseAsync queues a response carrying code, followed by bufs.
func (io *IO) SendResponseAsync(code int32, bufs ...[]byte) error {
	return io.enqueue(wire.Command{ClientID: io.id, Op: wire.OpResponse, Code: code}, bufs)
}

func (io *IO) enqueue(cmd wire.Command, bufs [][]byte) error {
	r := io.r

	r.mu.Lock()
	defer r.mu.Unlock()

	if io.wtoken != nil {
		return ErrBusy
	}

	tok, err := r.enqueueLocked(writeReq{cmd: cmd, bufs: bufs})
	if err != nil {
		return err
	}
	io.wtoken = tok
	io.wstart = time.Now()
	return nil
}

// CommandIsDone reports whether the pending outbound frame has been
// written, or has timed out.
func (io *IO) CommandIsDone() bool {
	io.r.mu.Lock()
	defer io.r.mu.Unlock()

	if io.wtoken != nil && io.wtoken.Done() {
		return true
	}
	return io.timeout > 0 && time.Since(io.wstart) > io.timeout
}

// WaitForCommandDone waits for the pending outbound frame to be written
// and returns the write result. It returns nil when nothing is pending.
func (io *IO) WaitForCommandDone() error {
	r := io.r

	r.mu.Lock()
	tok := io.wtoken
	io.wtoken = nil
	timeout := io.timeout
	start := io.wstart
	r.mu.Unlock()

	if tok == nil {
		return nil
	}

	var remaining time.Duration
	if timeout > 0 {
		remaining = timeout - time.Since(start)
		if remaining <= 0 {
			remaining = time.Nanosecond
		}
	}

	return fromLock(tok.Sync(remaining), r.Err())
}

// SendCommand sends cmd and waits until it has been written.
func (io *IO) SendCommand(cmd wire.Command, bufs ...[]byte) error {
	io.sendMu.Lock()
	defer io.sendMu.Unlock()

	if err := io.SendCommandAsync(cmd, bufs...); err != nil {
		return err
	}
	return io.WaitForCommandDone()
}

// SendResponse sends a response and waits until it has been written.
func (io *IO) SendResponse(code int32, bufs ...[]byte) error {
	io.sendMu.Lock()
	defer io.sendMu.Unlock()

	if err := io.SendResponseAsync(code, bufs...); err != nil {
		return err
	}
	return io.WaitForCommandDone()
}

// SendResponseCode sends a payload-less response carrying the wire code of
// err, or value when err is nil.
func (io *IO) SendResponseCode(value int32, err error) error {
	if err != nil {
		value = wire.CodeOf(err)
	}
	return io.SendResponse(value)
}

// GetResponseAsync registers the conversation as waiting for a response.
// A response payload is read into bufs, in order, up to their total size.
// Calling it again before the response arrives only replaces the buffers.
func (io *IO) GetResponseAsync(bufs ...[]byte) error {
	r := io.r

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	io.rbufs = bufs
	io.rdone = false
	io.rerr = nil
	io.rcode = 0
	io.rstart = time.Now()
	io.rgen++

	if !io.queued {
		io.queued = true
		r.readers = append(r.readers, io)
	}
	return nil
}

// HasResponse reports whether the response has arrived, or the wait for
// it has timed out.
func (io *IO) HasResponse() bool {
	io.r.mu.Lock()
	defer io.r.mu.Unlock()

	if io.rdone {
		return true
	}
	return io.timeout > 0 && time.Since(io.rstart) > io.timeout
}

// WaitForResponse waits for the response requested by GetResponseAsync
// and returns its code. Negative codes are returned as wire.Errno errors.
//
// On timeout the conversation leaves the readers list and ErrTimeout is
// returned, even while the payload of its response is still arriving. The
// buffers are only written once a payload has been received in full, so
// a late response never touches them.
func (io *IO) WaitForResponse() (int32, error) {
	r := io.r

	r.mu.Lock()
	defer r.mu.Unlock()

	for !io.rdone {
		var wait time.Duration
		if io.timeout > 0 {
			wait = io.timeout - time.Since(io.rstart)
			if wait <= 0 {
				io.expireLocked()
				break
			}
		}

		err := io.cond.Wait(wait)
		if errors.Is(err, lock.ErrTimeout) && !io.rdone {
			io.expireLocked()
		}
	}

	if io.rerr != nil {
		return io.rcode, io.rerr
	}
	return io.rcode, wire.ErrorOf(io.rcode)
}

func (io *IO) expireLocked() {
	io.r.removeReaderLocked(io)
	io.rgen++
	io.finishLocked(wire.ETIMEDOUT.Code(), ErrTimeout)
}

// CancelResponse wakes a WaitForResponse caller with ErrCanceled.
func (io *IO) CancelResponse() {
	r := io.r

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeReaderLocked(io)
	if io.rdone && errors.Is(io.rerr, ErrCanceled) {
		return
	}
	// A late response for this request must not complete the next one.
	io.rgen++
	io.finishLocked(wire.EINTR.Code(), ErrCanceled)
}

// Cancel drops the pending outbound frame if it has not been written yet
// and wakes any response waiter with ErrCanceled. A frame the writer has
// already started is finished in the background; Cancel does not wait for
// it. It may be called any number of times.
func (io *IO) Cancel() {
	r := io.r

	r.mu.Lock()
	r.removeReaderLocked(io)
	tok := io.wtoken
	io.wtoken = nil
	r.mu.Unlock()

	if tok != nil {
		tok.Cancel()
	}

	io.CancelResponse()
}

// ExecCommand sends cmd with the send buffers and waits for the response,
// whose payload is read into the receive buffers. Calls on the same
// conversation are serialized.
func (io *IO) ExecCommand(cmd wire.Command, send, recv [][]byte) (int32, error) {
	io.execMu.Lock()
	defer io.execMu.Unlock()

	if err := io.GetResponseAsync(recv...); err != nil {
		return 0, err
	}

	if err := io.SendCommand(cmd, send...); err != nil {
		io.Cancel()
		return 0, err
	}

	return io.WaitForResponse()
}

// ExecSimpleCommand sends a payload-less command and returns the code of
// its payload-less response.
func (io *IO) ExecSimpleCommand(cmd wire.Command) (int32, error) {
	return io.ExecCommand(cmd, nil, nil)
}
