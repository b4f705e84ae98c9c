package client

import (
	"sync"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/responder"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// Buffer is a remote hardware buffer.
type Buffer struct {
	c    *Client
	dev  *model.Device
	idx  uint16
	mask *model.ChannelMask

	mu        sync.Mutex
	nextBlock uint16
	blocks    map[*Block]struct{}
}

var _ backend.Buffer = (*Buffer)(nil)

// CreateBuffer implements backend.Backend. The mask of the returned buffer
// is the one the daemon could honour.
func (c *Client) CreateBuffer(dev, idx int, mask *model.ChannelMask) (backend.Buffer, error) {
	if c.resp == nil {
		return nil, ErrNotSupported
	}
	d, err := c.device(dev)
	if err != nil {
		return nil, err
	}
	if mask.NbWords() != d.NbWords() {
		return nil, wire.EINVAL
	}

	words := wire.EncodeMask(mask.Words())
	reply := make([]byte, len(words))
	cmd := wire.Command{Op: wire.OpCreateBuffer, Dev: uint8(dev), Code: int32(idx)}
	if _, err := c.resp.DefaultIO().ExecCommand(cmd, [][]byte{words}, [][]byte{reply}); err != nil {
		return nil, err
	}

	return &Buffer{
		c:      c,
		dev:    d,
		idx:    uint16(idx),
		mask:   model.MaskFromWords(wire.DecodeMask(reply)),
		blocks: make(map[*Block]struct{}),
	}, nil
}

// Mask implements backend.Buffer.
func (b *Buffer) Mask() *model.ChannelMask {
	return b.mask.Clone()
}

func (b *Buffer) simple(op wire.Op) error {
	_, err := b.c.resp.DefaultIO().ExecSimpleCommand(wire.Command{Op: op, Dev: uint8(b.dev.Index), Code: int32(b.idx)})
	return err
}

// Enable implements backend.Buffer.
func (b *Buffer) Enable() error {
	return b.simple(wire.OpEnableBuffer)
}

// Disable implements backend.Buffer.
func (b *Buffer) Disable() error {
	return b.simple(wire.OpDisableBuffer)
}

// Cancel wakes every caller blocked on one of the buffer's blocks.
func (b *Buffer) Cancel() {
	b.mu.Lock()
	blocks := make([]*Block, 0, len(b.blocks))
	for blk := range b.blocks {
		blocks = append(blocks, blk)
	}
	b.mu.Unlock()

	for _, blk := range blocks {
		blk.io.Cancel()
	}
}

// Close implements backend.Buffer. Blocks must be closed first.
func (b *Buffer) Close() error {
	return b.simple(wire.OpFreeBuffer)
}

// Block is a remote block. Its data is transferred with the TRANSFER_BLOCK
// command; an input block receives the samples in the response.
type Block struct {
	buf  *Buffer
	io   *responder.IO
	idx  uint16
	data []byte
	rx   bool

	mu        sync.Mutex
	bytesUsed []byte
	used      int
	enqueued  bool
	retry     bool
}

var _ backend.Block = (*Block)(nil)

// CreateBlock implements backend.Buffer.
func (b *Buffer) CreateBlock(size int) (backend.Block, error) {
	if size <= 0 {
		return nil, wire.EINVAL
	}

	b.mu.Lock()
	idx := b.nextBlock
	b.nextBlock++
	b.mu.Unlock()

	blk := &Block{
		buf:  b,
		io:   b.c.resp.CreateIO(b.c.allocBlockID()),
		idx:  idx,
		data: make([]byte, size),
		rx:   !b.dev.IsTx(),
	}

	if _, err := blk.io.ExecCommand(blk.command(wire.OpCreateBlock), [][]byte{wire.PutUint64(uint64(size))}, nil); err != nil {
		blk.io.Release()
		return nil, err
	}

	b.mu.Lock()
	b.blocks[blk] = struct{}{}
	b.mu.Unlock()
	return blk, nil
}

func (k *Block) command(op wire.Op) wire.Command {
	return wire.Command{Op: op, Dev: uint8(k.buf.dev.Index), Code: wire.BlockCode(k.buf.idx, k.idx)}
}

// Data implements backend.Block.
func (k *Block) Data() []byte {
	return k.data
}

// Enqueue implements backend.Block. It returns as soon as the request is
// queued; Dequeue collects the result.
func (k *Block) Enqueue(bytesUsed int, cyclic bool) error {
	if bytesUsed < 0 || bytesUsed > len(k.data) {
		return wire.EINVAL
	}

	op := wire.OpTransferBlock
	if cyclic {
		op = wire.OpEnqueueBlockCyclic
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.enqueued {
		return wire.EPERM
	}

	k.used = bytesUsed
	k.bytesUsed = wire.PutUint64(uint64(bytesUsed))
	send := [][]byte{k.bytesUsed}
	var recv [][]byte
	if k.rx {
		recv = [][]byte{k.data[:bytesUsed]}
	} else {
		send = append(send, k.data[:bytesUsed])
	}

	if err := k.io.GetResponseAsync(recv...); err != nil {
		return err
	}
	if err := k.io.SendCommandAsync(k.command(op), send...); err != nil {
		k.io.CancelResponse()
		return err
	}

	k.enqueued = true
	return nil
}

// Dequeue implements backend.Block. With nonblock set it fails with EBUSY
// while the transfer is in progress.
func (k *Block) Dequeue(nonblock bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.enqueued {
		return wire.EPERM
	}

	if k.retry {
		// the previous enqueue went through but its dequeue failed
		var recv [][]byte
		if k.rx {
			recv = [][]byte{k.data[:k.used]}
		}
		if err := k.io.GetResponseAsync(recv...); err != nil {
			return err
		}
		if err := k.io.SendCommandAsync(k.command(wire.OpRetryDequeueBlock)); err != nil {
			k.io.CancelResponse()
			return err
		}
		k.retry = false
	}

	if nonblock && !k.io.CommandIsDone() {
		return wire.EBUSY
	}
	if err := k.io.WaitForCommandDone(); err != nil {
		return err
	}
	if nonblock && !k.io.HasResponse() {
		return wire.EBUSY
	}

	code, err := k.io.WaitForResponse()
	if err == nil {
		k.enqueued = false
		return nil
	}

	if code < 0 && code&0xffff == 0 {
		// low half clear: the block never made it into the queue
		k.enqueued = false
		return wire.ErrorOf(code >> 16)
	}

	k.retry = true
	return err
}

// Close implements backend.Block. Pending transfers are canceled first,
// the free request then goes through the default conversation.
func (k *Block) Close() error {
	k.io.Cancel()
	k.io.Release()

	b := k.buf
	b.mu.Lock()
	delete(b.blocks, k)
	b.mu.Unlock()

	_, err := b.c.resp.DefaultIO().ExecSimpleCommand(k.command(wire.OpFreeBlock))
	return err
}
