package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/log"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// A cyclic buffer admits a single subscriber. An OPEN racing with the
// CLOSE of the previous cyclic client retries for cyclicRetries *
// cyclicRetryDelay before giving up.
const (
	cyclicRetries    = 500
	cyclicRetryDelay = 100 * time.Microsecond
)

// subscriber is one legacy session streaming from or to a device. The
// transfer state, from nb on, is protected by the device entry lock.
type subscriber struct {
	sess       *session
	entry      *devEntry
	mask       *model.ChannelMask
	samples    int
	sampleSize int

	nb          int // bytes left in the current transfer
	rem         int // bytes left when the worker released the subscriber
	err         error
	active      bool
	isWriter    bool
	newClient   bool
	waitForOpen bool

	wake chan struct{}
}

// signalLocked releases the subscriber with the number of bytes left, or
// an error.
func (s *subscriber) signalLocked(rem int, err error) {
	s.rem = rem
	s.err = err
	s.nb = 0
	s.active = false

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// devEntry is the buffer worker of one device, shared by its subscribers.
// Only the worker goroutine touches buf and blocks, except for the Cancel
// in remove that wakes it up.
type devEntry struct {
	reg      *registry
	dev      *model.Device
	nbBlocks int
	cyclic   bool

	mu      sync.Mutex
	rwReady *sync.Cond

	subs       []*subscriber
	buf        backend.Buffer
	blocks     []backend.Block
	curr       int
	mask       *model.ChannelMask
	sampleSize int
	samples    int

	updateMask bool
	cancelled  bool
	closed     bool
}

// registry holds the buffer workers of one daemon generation, at most one
// per device.
type registry struct {
	backend     backend.Backend
	workers     *pool
	serverDemux bool
	logger      *slog.Logger
	plog        log.Logger

	mu        sync.Mutex
	entries   map[int]*devEntry
	nbBlocks  map[int]int
	defBlocks int
}

func newRegistry(b backend.Backend, workers *pool, config Config) *registry {
	nb := config.NbBlocks
	if nb < 1 {
		nb = DefaultNbBlocks
	}
	return &registry{
		backend:     b,
		workers:     workers,
		serverDemux: config.ServerDemux,
		logger:      config.Logger,
		plog:        log.OrNoop(config.ProtocolLogger),
		entries:     make(map[int]*devEntry),
		nbBlocks:    make(map[int]int),
		defBlocks:   nb,
	}
}

func (r *registry) debugLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *registry) logState(dev *model.Device, from, to string, reason error) {
	ev := log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		LocalRole: log.RoleServer,
		Device:    dev.ID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityBuffer,
			OldState: from,
			NewState: to,
		},
	}
	if reason != nil {
		ev.StateChange.Reason = reason.Error()
	}
	r.plog.Log(ev)
}

// setBuffersCount sets the number of blocks used by the next worker of
// dev.
func (r *registry) setBuffersCount(dev *model.Device, n int) error {
	if n < 1 {
		return wire.EINVAL
	}
	r.mu.Lock()
	r.nbBlocks[dev.Index] = n
	r.mu.Unlock()
	return nil
}

// isOpen reports whether dev has a live worker.
func (r *registry) isOpen(dev *model.Device) bool {
	r.mu.Lock()
	e := r.entries[dev.Index]
	r.mu.Unlock()
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed
}

// open subscribes sess to dev and waits until the worker has provisioned a
// buffer covering mask.
func (r *registry) open(sess *session, dev *model.Device, samples int, mask *model.ChannelMask, cyclic bool) (*subscriber, error) {
	mask = dev.CleanMask(mask)
	ss, err := dev.SampleSize(mask)
	if err != nil || ss == 0 || samples <= 0 {
		return nil, wire.EINVAL
	}

	s := &subscriber{
		sess:        sess,
		mask:        mask,
		samples:     samples,
		sampleSize:  ss,
		waitForOpen: true,
		wake:        make(chan struct{}, 1),
	}

	for retry := 0; ; retry++ {
		r.mu.Lock()
		e := r.entries[dev.Index]
		if e == nil {
			break
		}

		if cyclic || e.cyclic {
			r.mu.Unlock()
			if retry >= cyclicRetries {
				return nil, wire.EBUSY
			}
			time.Sleep(cyclicRetryDelay)
			continue
		}

		e.mu.Lock()
		if !e.closed {
			r.mu.Unlock()
			s.entry = e
			e.subs = append(e.subs, s)
			e.updateMask = true
			e.rwReady.Signal()
			r.debugLog("worker: subscriber added", "dev", dev.ID, "subscribers", len(e.subs))
			return e.waitOpenLocked(s)
		}
		e.mu.Unlock()
		break
	}

	// r.mu is held: no live worker for dev
	nb := r.defBlocks
	if n, ok := r.nbBlocks[dev.Index]; ok {
		nb = n
	}
	e := &devEntry{
		reg:        r,
		dev:        dev,
		nbBlocks:   nb,
		cyclic:     cyclic,
		subs:       []*subscriber{s},
		mask:       dev.NewMask(),
		updateMask: true,
	}
	e.rwReady = sync.NewCond(&e.mu)
	s.entry = e

	if err := r.workers.Go(func(context.Context) { e.run() }); err != nil {
		r.mu.Unlock()
		return nil, wire.EPIPE
	}
	r.entries[dev.Index] = e
	r.mu.Unlock()

	r.debugLog("worker: started", "dev", dev.ID, "blocks", nb, "cyclic", cyclic)

	e.mu.Lock()
	return e.waitOpenLocked(s)
}

// waitOpenLocked waits for the worker to release s after provisioning. It
// is called with e.mu held and releases it.
func (e *devEntry) waitOpenLocked(s *subscriber) (*subscriber, error) {
	var err error
	for s.waitForOpen {
		if err = e.waitLocked(s); err != nil {
			break
		}
	}
	if err == nil {
		err = s.err
	}
	e.mu.Unlock()

	if err != nil {
		e.remove(s)
		return nil, err
	}
	return s, nil
}

// waitLocked sleeps until s is signaled or its session goes away.
func (e *devEntry) waitLocked(s *subscriber) error {
	e.mu.Unlock()
	defer e.mu.Lock()

	select {
	case <-s.wake:
		return nil
	case <-s.sess.done():
		return wire.EPIPE
	}
}

// remove unsubscribes s. When the last subscriber leaves, the buffer is
// canceled so that the worker wakes up and exits.
func (e *devEntry) remove(s *subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	for i, sub := range e.subs {
		if sub == s {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			break
		}
	}
	e.updateMask = true

	if len(e.subs) == 0 && e.buf != nil {
		e.cancelled = true
		e.buf.Cancel()
	}
	e.rwReady.Signal()
}

// transfer hands nb bytes to the worker and waits for the transfer to end.
// It returns the number of bytes transferred.
func (e *devEntry) transfer(s *subscriber, nb int, write bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, wire.EBADF
	}
	if nb < e.sampleSize {
		return 0, nil
	}
	if s.nb != 0 {
		return 0, wire.EBUSY
	}

	s.newClient = true
	s.nb = nb
	s.rem = 0
	s.err = nil
	s.isWriter = write
	s.active = true
	e.rwReady.Signal()

	for s.active {
		if err := e.waitLocked(s); err != nil {
			return 0, err
		}
	}
	if s.err != nil {
		return 0, s.err
	}

	if s.rem > 0 && s.rem < nb {
		if err := s.sess.printValue(0); err != nil {
			return 0, err
		}
	}
	return nb - s.rem, nil
}

// run is the worker loop. It exits once the last subscriber left, or when
// the buffer cannot be provisioned.
func (e *devEntry) run() {
	reg := e.reg
	reg.logState(e.dev, "", "STARTED", nil)

	var ret error
	e.mu.Lock()
	for {
		if len(e.subs) == 0 {
			break
		}

		maskUpdated := false
		if e.updateMask {
			if ret = e.provisionLocked(); ret != nil {
				reg.debugLog("worker: unable to provision buffer", "dev", e.dev.ID, "error", ret)
				break
			}
			maskUpdated = true
		}

		sampleSize := e.sampleSize
		hasReaders, hasWriters := false, false
		for _, s := range e.subs {
			s.active = s.err == nil && s.nb >= sampleSize
			if maskUpdated && s.active {
				// the layout changed under the transfer: make the client
				// issue it again
				s.signalLocked(s.nb, nil)
			}
			if s.isWriter {
				hasWriters = hasWriters || s.active
			} else {
				hasReaders = hasReaders || s.active
			}
		}

		if !hasReaders && !hasWriters {
			e.rwReady.Wait()
			continue
		}

		block := e.blocks[e.curr]
		e.mu.Unlock()
		err := block.Dequeue(false)
		e.mu.Lock()

		if err != nil {
			reg.debugLog("worker: dequeue failed", "dev", e.dev.ID, "error", err)
			for _, s := range e.activeSubs(false) {
				s.signalLocked(0, err)
			}
			continue
		}
		if e.cancelled {
			continue
		}

		data := block.Data()
		if hasReaders {
			for _, s := range e.activeSubs(false) {
				n, err := e.sendData(s, data)
				if n > 0 {
					s.nb -= n
				}
				if err != nil {
					s.signalLocked(0, err)
				} else if s.nb < sampleSize {
					s.signalLocked(s.nb, nil)
				}
			}
		}

		used := 0
		if hasWriters {
			for _, s := range e.activeSubs(true) {
				n, filled, err := e.receiveData(s, data)
				if n > 0 {
					s.nb -= n
				}
				used = max(used, filled)
				if err != nil {
					s.signalLocked(0, err)
				}
			}
		}
		if used == 0 {
			used = len(data)
		}

		err = block.Enqueue(used, e.cyclic)
		e.curr = (e.curr + 1) % len(e.blocks)

		if e.cancelled {
			continue
		}

		if hasWriters {
			for _, s := range e.activeSubs(true) {
				if err != nil {
					s.signalLocked(0, err)
				} else if s.nb < sampleSize {
					s.signalLocked(s.nb, nil)
				}
			}
		}
	}

	for _, s := range e.subs {
		s.waitForOpen = false
		s.signalLocked(0, ret)
	}
	e.subs = nil
	e.freeBufLocked()
	e.closed = true
	e.mu.Unlock()

	reg.mu.Lock()
	if reg.entries[e.dev.Index] == e {
		delete(reg.entries, e.dev.Index)
	}
	reg.mu.Unlock()

	reg.debugLog("worker: stopped", "dev", e.dev.ID, "error", ret)
	reg.logState(e.dev, "STARTED", "STOPPED", ret)
}

// activeSubs returns the active readers, or writers, in subscription
// order. The slice is a copy: signaled subscribers may leave meanwhile.
func (e *devEntry) activeSubs(writers bool) []*subscriber {
	var out []*subscriber
	for _, s := range e.subs {
		if s.active && s.isWriter == writers {
			out = append(out, s)
		}
	}
	return out
}

// provisionLocked replaces the buffer with one covering the union of the
// subscriber masks, enqueues every block empty, enables it and releases
// the subscribers waiting for their OPEN.
func (e *devEntry) provisionLocked() error {
	e.freeBufLocked()

	mask := e.dev.NewMask()
	samples := 0
	for _, s := range e.subs {
		mask.Or(s.mask)
		samples = max(samples, s.samples)
	}

	buf, err := e.reg.backend.CreateBuffer(e.dev.Index, 0, mask)
	if err != nil {
		return err
	}
	e.buf = buf
	e.mask = buf.Mask()
	e.cancelled = false

	ss, err := e.dev.SampleSize(e.mask)
	if err != nil || ss == 0 {
		return wire.EINVAL
	}

	for i := 0; i < e.nbBlocks; i++ {
		blk, err := buf.CreateBlock(samples * ss)
		if err != nil {
			return err
		}
		e.blocks = append(e.blocks, blk)
	}
	e.curr = 0

	for _, blk := range e.blocks {
		if err := blk.Enqueue(len(blk.Data()), false); err != nil {
			return err
		}
	}
	if err := buf.Enable(); err != nil {
		return err
	}

	for _, s := range e.subs {
		if s.waitForOpen {
			s.waitForOpen = false
			s.signalLocked(0, nil)
		}
	}

	e.updateMask = false
	e.sampleSize = ss
	e.samples = samples

	e.reg.debugLog("worker: buffer provisioned", "dev", e.dev.ID,
		"mask", e.mask.String(), "samples", samples, "sampleSize", ss)
	e.reg.logState(e.dev, "STARTED", "PROVISIONED", nil)
	return nil
}

func (e *devEntry) freeBufLocked() {
	if e.buf == nil {
		return
	}

	e.buf.Cancel()
	for _, blk := range e.blocks {
		_ = blk.Close()
	}
	if err := e.buf.Close(); err != nil {
		e.reg.debugLog("worker: buffer close failed", "dev", e.dev.ID, "error", err)
	}
	e.buf = nil
	e.blocks = nil
}

// sendData writes one chunk of data to a reader: its length, the mask
// line on the first chunk of a transfer, then the samples.
func (e *devEntry) sendData(s *subscriber, data []byte) (int, error) {
	demux := e.reg.serverDemux && s.sampleSize != e.sampleSize

	n := len(data)
	if demux {
		n = n / e.sampleSize * s.sampleSize
	}
	n = min(n, s.nb)

	if err := s.sess.printValue(n); err != nil {
		return 0, err
	}

	if s.newClient {
		mask := e.mask
		if demux {
			mask = s.mask
		}
		if _, err := s.sess.stream.WriteString(wire.FormatMaskHex(mask.Words()) + "\n"); err != nil {
			return 0, err
		}
		s.newClient = false
	}

	out := data
	if demux {
		var err error
		if out, err = e.dev.Demux(data, e.mask, s.mask); err != nil {
			return 0, err
		}
	}
	if _, err := s.sess.stream.Write(out[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

// receiveData reads one chunk from a writer into data. It returns the
// bytes consumed from the client and the bytes of data filled.
func (e *devEntry) receiveData(s *subscriber, data []byte) (int, int, error) {
	if s.newClient {
		if err := s.sess.printValue(0); err != nil {
			return 0, 0, err
		}
		s.newClient = false
	}

	if s.sampleSize == e.sampleSize {
		n := min(s.nb, len(data))
		if _, err := io.ReadFull(s.sess.stream, data[:n]); err != nil {
			return 0, 0, errors.Join(wire.EPIPE, err)
		}
		return n, n, nil
	}

	samples := min(s.nb/s.sampleSize, len(data)/e.sampleSize)
	tmp := make([]byte, samples*s.sampleSize)
	if _, err := io.ReadFull(s.sess.stream, tmp); err != nil {
		return 0, 0, errors.Join(wire.EPIPE, err)
	}
	if _, err := e.dev.Mux(data, e.mask, tmp, s.mask); err != nil {
		return len(tmp), 0, err
	}
	return len(tmp), samples * e.sampleSize, nil
}
