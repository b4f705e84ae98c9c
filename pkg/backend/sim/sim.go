// Package sim implements a simulated backend.
//
// Input buffers produce deterministic ramps (see Ramp), output buffers
// record what is written to them, and events can be injected with
// PushEvent. The daemon can serve it without any hardware, and the tests
// use it as a reference device.
package sim

import (
	"log/slog"
	"sync"
	"time"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

type attrKey struct {
	kind model.AttrKind
	dev  int
	chn  int
	attr int
}

// Sim is a simulated backend.
type Sim struct {
	ctx    *model.Context
	cfg    *Config
	logger *slog.Logger

	mu       sync.Mutex
	values   map[attrKey][]byte
	triggers map[int]int
	timeout  time.Duration
	buffers  map[int]*buffer
	streams  map[int][]*eventStream
	output   map[int][]byte
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ backend.Backend = (*Sim)(nil)

// New creates a simulated backend from cfg.
func New(cfg *Config) (*Sim, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, values, err := cfg.buildContext()
	if err != nil {
		return nil, err
	}

	s := &Sim{
		ctx:      ctx,
		cfg:      cfg,
		logger:   cfg.Logger,
		values:   values,
		triggers: make(map[int]int),
		buffers:  make(map[int]*buffer),
		streams:  make(map[int][]*eventStream),
		output:   make(map[int][]byte),
		stop:     make(chan struct{}),
	}

	for di, dc := range cfg.Devices {
		if dc.Trigger != "" {
			if trig, ok := ctx.FindDevice(dc.Trigger); ok {
				s.triggers[di] = trig.Index
			}
		}
		if dc.EventInterval > 0 {
			s.wg.Add(1)
			go s.generateEvents(di, dc.EventInterval)
		}
	}

	return s, nil
}

func (s *Sim) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

// Context implements backend.Backend.
func (s *Sim) Context() *model.Context {
	return s.ctx
}

func (s *Sim) checkRef(ref model.AttrRef) error {
	d := s.ctx.Device(ref.Dev)
	if d == nil {
		return wire.ENODEV
	}
	var list []model.Attr
	if ref.Kind == model.AttrChannel {
		ch := d.Channel(ref.Chn)
		if ch == nil {
			return wire.ENXIO
		}
		list = ch.Attrs
	} else {
		list = d.AttrList(ref.Kind)
	}
	if ref.Attr < 0 || ref.Attr >= len(list) {
		return wire.ENOENT
	}
	return nil
}

func keyOf(ref model.AttrRef) attrKey {
	k := attrKey{kind: ref.Kind, dev: ref.Dev, attr: ref.Attr}
	if ref.Kind == model.AttrChannel {
		k.chn = ref.Chn
	}
	return k
}

// ReadAttr implements backend.Backend.
func (s *Sim) ReadAttr(ref model.AttrRef) ([]byte, error) {
	if err := s.checkRef(ref); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.values[keyOf(ref)]...), nil
}

// WriteAttr implements backend.Backend.
func (s *Sim) WriteAttr(ref model.AttrRef, value []byte) (int, error) {
	if err := s.checkRef(ref); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[keyOf(ref)] = append([]byte(nil), value...)
	s.debugLog("sim: attribute written", "ref", ref.String(), "len", len(value))
	return len(value), nil
}

// GetTrigger implements backend.Backend.
func (s *Sim) GetTrigger(dev int) (int, error) {
	if s.ctx.Device(dev) == nil {
		return 0, wire.ENODEV
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	trig, ok := s.triggers[dev]
	if !ok {
		return 0, wire.ENOENT
	}
	return trig, nil
}

// SetTrigger implements backend.Backend.
func (s *Sim) SetTrigger(dev, trig int) error {
	if s.ctx.Device(dev) == nil {
		return wire.ENODEV
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if trig < 0 {
		delete(s.triggers, dev)
		return nil
	}
	t := s.ctx.Device(trig)
	if t == nil || !t.IsTrigger() {
		return wire.EINVAL
	}
	s.triggers[dev] = trig
	return nil
}

// SetTimeout implements backend.Backend.
func (s *Sim) SetTimeout(d time.Duration) error {
	if d < 0 {
		return wire.EINVAL
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
	return nil
}

func (s *Sim) currentTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// Output returns a copy of everything written so far to the output
// buffers of device dev.
func (s *Sim) Output(dev int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.output[dev]...)
}

func (s *Sim) recordOutput(dev int, data []byte) {
	s.mu.Lock()
	s.output[dev] = append(s.output[dev], data...)
	s.mu.Unlock()
}

// Close implements backend.Backend. It stops the event generators; open
// buffers and streams are canceled.
func (s *Sim) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var bufs []*buffer
	for _, b := range s.buffers {
		bufs = append(bufs, b)
	}
	var streams []*eventStream
	for _, list := range s.streams {
		streams = append(streams, list...)
	}
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	for _, b := range bufs {
		b.Cancel()
	}
	for _, es := range streams {
		_ = es.Close()
	}
	return nil
}
