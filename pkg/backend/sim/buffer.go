package sim

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/lock"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// Ramp returns the value produced by channel number chn for the given
// sample number. Values are truncated to the channel storage size.
func Ramp(chn int, sample uint64) uint64 {
	return sample + uint64(chn)*1000
}

type buffer struct {
	sim    *Sim
	dev    *model.Device
	idx    int
	mask   *model.ChannelMask
	layout model.Layout
	tx     bool
	rate   float64

	mu       sync.Mutex
	cond     *lock.Cond
	enabled  bool
	canceled bool
	closed   bool
	counter  uint64
	started  time.Time
	blocks   map[*block]struct{}
}

var _ backend.Buffer = (*buffer)(nil)

// CreateBuffer implements backend.Backend. A device supports one buffer
// at a time.
func (s *Sim) CreateBuffer(dev, idx int, mask *model.ChannelMask) (backend.Buffer, error) {
	d := s.ctx.Device(dev)
	if d == nil {
		return nil, wire.ENODEV
	}
	if mask.NbWords() != d.NbWords() {
		return nil, wire.EINVAL
	}
	clean := d.CleanMask(mask)
	if clean.Empty() {
		return nil, wire.EINVAL
	}
	layout, err := d.Layout(clean)
	if err != nil {
		return nil, wire.EINVAL
	}

	b := &buffer{
		sim:    s,
		dev:    d,
		idx:    idx,
		mask:   clean,
		layout: layout,
		tx:     d.IsTx(),
		rate:   s.cfg.Devices[dev].SampleRate,
		blocks: make(map[*block]struct{}),
	}
	b.cond = lock.NewCond(&b.mu)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, wire.EBADF
	}
	if _, busy := s.buffers[dev]; busy {
		return nil, wire.EBUSY
	}
	s.buffers[dev] = b

	s.debugLog("sim: buffer created", "dev", d.ID, "mask", clean.String(), "sampleSize", layout.SampleSize)
	return b, nil
}

func (b *buffer) Mask() *model.ChannelMask {
	return b.mask.Clone()
}

func (b *buffer) Enable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.canceled {
		return wire.EBADF
	}
	b.enabled = true
	b.started = time.Now()
	b.counter = 0
	b.cond.Broadcast()
	return nil
}

func (b *buffer) Disable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return wire.EBADF
	}
	b.enabled = false
	return nil
}

func (b *buffer) Cancel() {
	b.mu.Lock()
	b.canceled = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *buffer) CreateBlock(size int) (backend.Block, error) {
	if size <= 0 {
		return nil, wire.EINVAL
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.canceled {
		return nil, wire.EBADF
	}
	blk := &block{buf: b, data: make([]byte, size)}
	b.blocks[blk] = struct{}{}
	return blk, nil
}

func (b *buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.canceled = true
	b.mu.Unlock()
	b.cond.Broadcast()

	b.sim.mu.Lock()
	if b.sim.buffers[b.dev.Index] == b {
		delete(b.sim.buffers, b.dev.Index)
	}
	b.sim.mu.Unlock()

	b.sim.debugLog("sim: buffer closed", "dev", b.dev.ID)
	return nil
}

// fill writes n ramp samples into data. Called with b.mu held.
func (b *buffer) fill(data []byte) {
	ss := b.layout.SampleSize
	n := len(data) / ss
	for i := 0; i < n; i++ {
		sample := data[i*ss : (i+1)*ss]
		clear(sample)
		for _, slot := range b.layout.Slots {
			ch := b.dev.Channels[slot.Channel]
			putValue(sample[slot.Offset:slot.Offset+ch.Format.StorageBytes()], ch.Format.BigEndian,
				Ramp(slot.Channel, b.counter))
		}
		b.counter++
	}
}

func putValue(dst []byte, bigEndian bool, v uint64) {
	var tmp [8]byte
	if bigEndian {
		binary.BigEndian.PutUint64(tmp[:], v)
		copy(dst, tmp[8-len(dst):])
	} else {
		binary.LittleEndian.PutUint64(tmp[:], v)
		copy(dst, tmp[:len(dst)])
	}
}

type block struct {
	buf *buffer

	data     []byte
	enqueued bool
	used     int
	cyclic   bool
	closed   bool
}

var _ backend.Block = (*block)(nil)

func (k *block) Data() []byte {
	return k.data
}

func (k *block) Enqueue(bytesUsed int, cyclic bool) error {
	b := k.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case k.closed || b.closed || b.canceled:
		return wire.EBADF
	case k.enqueued:
		return wire.EPERM
	case bytesUsed <= 0 || bytesUsed > len(k.data):
		return wire.EINVAL
	case cyclic && !b.tx:
		return wire.EINVAL
	}

	k.enqueued = true
	k.used = bytesUsed
	k.cyclic = cyclic

	if cyclic {
		// The hardware repeats the block forever; record one period.
		b.sim.recordOutput(b.dev.Index, k.data[:bytesUsed])
	}
	b.cond.Broadcast()
	return nil
}

func (k *block) Dequeue(nonblock bool) error {
	b := k.buf
	timeout := b.sim.currentTimeout()

	b.mu.Lock()
	defer b.mu.Unlock()

	if k.closed {
		return wire.EBADF
	}
	if !k.enqueued {
		return wire.EPERM
	}

	for !b.enabled && !b.canceled {
		if nonblock {
			return wire.EBUSY
		}
		if err := b.cond.Wait(timeout); err != nil {
			return wire.ETIMEDOUT
		}
	}
	if b.canceled {
		return wire.EBADF
	}

	if !b.tx && b.rate > 0 {
		n := uint64(k.used / b.layout.SampleSize)
		due := b.started.Add(time.Duration(float64(b.counter+n) / b.rate * float64(time.Second)))
		for wait := time.Until(due); wait > 0 && !b.canceled; wait = time.Until(due) {
			if nonblock {
				return wire.EBUSY
			}
			_ = b.cond.Wait(wait)
		}
		if b.canceled {
			return wire.EBADF
		}
	}

	if b.tx {
		if !k.cyclic {
			b.sim.recordOutput(b.dev.Index, k.data[:k.used])
		}
	} else {
		b.fill(k.data[:k.used])
	}

	k.enqueued = false
	return nil
}

func (k *block) Close() error {
	b := k.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	k.closed = true
	k.enqueued = false
	delete(b.blocks, k)
	return nil
}
