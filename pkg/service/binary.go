package service

import (
	"errors"
	"time"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/lock"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/responder"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// errBadPayload stops the reader when a command carries a payload whose
// size cannot be known.
var errBadPayload = errors.New("service: payload of unknown size")

type bufferKey struct {
	dev int
	idx uint16
}

type blockKey struct {
	buf   bufferKey
	block uint16
}

// bufferEntry is a buffer created by a binary client. Blocks go through
// two queues: enqueue hands them to the backend, dequeue waits for them to
// complete and sends the response.
type bufferEntry struct {
	dev     *model.Device
	buf     backend.Buffer
	tx      bool
	enqueue *lock.Task[*blockEntry]
	dequeue *lock.Task[*blockEntry]
}

type blockEntry struct {
	key    blockKey
	entry  *bufferEntry
	block  backend.Block
	io     *responder.IO
	size   int
	used   int
	cyclic bool
}

type evstreamEntry struct {
	es   backend.EventStream
	io   *responder.IO
	read *lock.Task[bool]
}

// binaryHandler serves the binary protocol of one session. Its maps are
// only touched from the responder reader goroutine.
type binaryHandler struct {
	s       *session
	buffers map[bufferKey]*bufferEntry
	blocks  map[blockKey]*blockEntry
	streams map[uint16]*evstreamEntry
}

func newBinaryHandler(s *session) *binaryHandler {
	return &binaryHandler{
		s:       s,
		buffers: make(map[bufferKey]*bufferEntry),
		blocks:  make(map[blockKey]*blockEntry),
		streams: make(map[uint16]*evstreamEntry),
	}
}

// reply answers on the conversation of the command. A failed write is
// left to the reader to notice.
func (h *binaryHandler) reply(data *responder.CommandData, code int32, bufs ...[]byte) error {
	io := data.IO()
	defer io.Release()
	if err := io.SendResponse(code, bufs...); err != nil {
		h.s.debugLog("binary: unable to send response", "error", err)
	}
	return nil
}

func (h *binaryHandler) replyCode(data *responder.CommandData, value int32, err error) error {
	if err != nil {
		value = wire.CodeOf(err)
	}
	return h.reply(data, value)
}

// HandleCommand implements responder.Handler.
func (h *binaryHandler) HandleCommand(cmd wire.Command, data *responder.CommandData) error {
	dev := h.s.d.ctx.Device(int(cmd.Dev))

	switch {
	case cmd.Op == wire.OpPrint:
		return h.reply(data, int32(len(h.s.d.zxml)), h.s.d.zxml)
	case cmd.Op == wire.OpTimeout:
		if cmd.Code < 0 {
			return h.replyCode(data, 0, wire.EINVAL)
		}
		return h.replyCode(data, 0, h.s.d.backend.SetTimeout(time.Duration(cmd.Code)*time.Millisecond))
	case cmd.Op.IsAttrRead():
		return h.readAttr(cmd, dev, data)
	case cmd.Op.IsAttrWrite():
		return h.writeAttr(cmd, dev, data)
	}

	if dev == nil {
		switch cmd.Op {
		case wire.OpCreateBuffer, wire.OpTransferBlock, wire.OpEnqueueBlockCyclic:
			return errBadPayload
		}
		return h.replyCode(data, 0, wire.ENODEV)
	}

	switch cmd.Op {
	case wire.OpGetTrig:
		idx, err := h.s.d.backend.GetTrigger(dev.Index)
		return h.replyCode(data, int32(idx), err)
	case wire.OpSetTrig:
		return h.replyCode(data, 0, h.s.d.backend.SetTrigger(dev.Index, int(cmd.Code)))
	case wire.OpCreateBuffer:
		return h.createBuffer(cmd, dev, data)
	case wire.OpFreeBuffer:
		return h.freeBuffer(cmd, dev, data)
	case wire.OpEnableBuffer, wire.OpDisableBuffer:
		return h.enableBuffer(cmd, dev, data)
	case wire.OpCreateBlock:
		return h.createBlock(cmd, dev, data)
	case wire.OpFreeBlock:
		return h.freeBlock(cmd, dev, data)
	case wire.OpTransferBlock, wire.OpEnqueueBlockCyclic:
		return h.transferBlock(cmd, dev, data)
	case wire.OpRetryDequeueBlock:
		return h.retryDequeue(cmd, dev, data)
	case wire.OpCreateEvstream:
		return h.createEvstream(cmd, dev, data)
	case wire.OpFreeEvstream:
		return h.freeEvstream(cmd, data)
	case wire.OpReadEvent:
		return h.readEvent(cmd, data)
	}

	h.s.debugLog("binary: unknown opcode", "op", cmd.Op)
	return h.replyCode(data, 0, wire.EINVAL)
}

// OnDisconnect implements responder.Handler.
func (h *binaryHandler) OnDisconnect(err error) {
	h.s.debugLog("binary: client disconnected", "error", err)

	for id, e := range h.streams {
		e.close()
		delete(h.streams, id)
	}
	for key := range h.buffers {
		h.dropBuffer(key)
	}
}

// attrRef decodes the attribute addressed by an attribute command.
func (h *binaryHandler) attrRef(cmd wire.Command, dev *model.Device) (model.AttrRef, error) {
	if dev == nil {
		return model.AttrRef{}, wire.ENODEV
	}
	attr, idx := wire.SplitAttrCode(cmd.Code)
	ref := model.AttrRef{Dev: dev.Index, Attr: int(attr)}

	op := cmd.Op
	if op.IsAttrWrite() {
		op -= wire.OpWriteAttr - wire.OpReadAttr
	}
	switch op {
	case wire.OpReadAttr:
		ref.Kind = model.AttrDevice
	case wire.OpReadDbgAttr:
		ref.Kind = model.AttrDebug
	case wire.OpReadBufAttr:
		ref.Kind = model.AttrBuffer
		ref.Buf = int(idx)
		if _, ok := h.buffers[bufferKey{dev.Index, idx}]; !ok {
			return model.AttrRef{}, wire.EBADF
		}
	case wire.OpReadChnAttr:
		ref.Kind = model.AttrChannel
		ref.Chn = int(idx)
	}
	return ref, nil
}

func (h *binaryHandler) readAttr(cmd wire.Command, dev *model.Device, data *responder.CommandData) error {
	ref, err := h.attrRef(cmd, dev)
	if err != nil {
		return h.replyCode(data, 0, err)
	}
	val, err := h.s.d.backend.ReadAttr(ref)
	if err != nil {
		return h.replyCode(data, 0, err)
	}
	return h.reply(data, int32(len(val)), val)
}

func (h *binaryHandler) writeAttr(cmd wire.Command, dev *model.Device, data *responder.CommandData) error {
	var hdr [8]byte
	if _, err := data.Read(hdr[:]); err != nil {
		return err
	}
	size := wire.Uint64(hdr[:])
	if size > maxAttrValueSize {
		if err := data.Discard(int(min(size, 1<<31-1))); err != nil {
			return err
		}
		return h.replyCode(data, 0, wire.EINVAL)
	}

	val := make([]byte, size)
	if _, err := data.Read(val); err != nil {
		return err
	}

	ref, err := h.attrRef(cmd, dev)
	if err != nil {
		return h.replyCode(data, 0, err)
	}
	n, err := h.s.d.backend.WriteAttr(ref, val)
	return h.replyCode(data, int32(n), err)
}

func (h *binaryHandler) createBuffer(cmd wire.Command, dev *model.Device, data *responder.CommandData) error {
	raw := make([]byte, dev.NbWords()*4)
	if _, err := data.Read(raw); err != nil {
		return err
	}

	key := bufferKey{dev.Index, uint16(cmd.Code)}
	if _, ok := h.buffers[key]; ok {
		return h.replyCode(data, 0, wire.EBUSY)
	}

	mask := model.MaskFromWords(wire.DecodeMask(raw))
	buf, err := h.s.d.backend.CreateBuffer(dev.Index, int(key.idx), mask)
	if err != nil {
		return h.replyCode(data, 0, err)
	}

	e := &bufferEntry{dev: dev, buf: buf, tx: dev.IsTx()}
	e.enqueue = lock.NewTask("iiod-enqueue", e.enqueueBlock)
	e.dequeue = lock.NewTask("iiod-dequeue", e.dequeueBlock)
	e.enqueue.Start()
	e.dequeue.Start()
	h.buffers[key] = e

	h.s.debugLog("binary: buffer created", "dev", dev.ID, "idx", key.idx, "mask", buf.Mask().String())
	return h.reply(data, 0, wire.EncodeMask(buf.Mask().Words()))
}

func (h *binaryHandler) freeBuffer(cmd wire.Command, dev *model.Device, data *responder.CommandData) error {
	key := bufferKey{dev.Index, uint16(cmd.Code)}
	if _, ok := h.buffers[key]; !ok {
		return h.replyCode(data, 0, wire.EBADF)
	}
	h.dropBuffer(key)
	return h.replyCode(data, 0, nil)
}

// dropBuffer cancels the buffer, waits for its queues to drain and frees
// its blocks.
func (h *binaryHandler) dropBuffer(key bufferKey) {
	e := h.buffers[key]
	delete(h.buffers, key)

	e.buf.Cancel()
	e.enqueue.Destroy()
	e.dequeue.Destroy()

	for bk, blk := range h.blocks {
		if bk.buf == key {
			blk.close()
			delete(h.blocks, bk)
		}
	}
	if err := e.buf.Close(); err != nil {
		h.s.debugLog("binary: unable to close buffer", "dev", e.dev.ID, "error", err)
	}
}

func (h *binaryHandler) enableBuffer(cmd wire.Command, dev *model.Device, data *responder.CommandData) error {
	e, ok := h.buffers[bufferKey{dev.Index, uint16(cmd.Code)}]
	if !ok {
		return h.replyCode(data, 0, wire.EBADF)
	}
	if cmd.Op == wire.OpEnableBuffer {
		return h.replyCode(data, 0, e.buf.Enable())
	}
	return h.replyCode(data, 0, e.buf.Disable())
}

func (h *binaryHandler) createBlock(cmd wire.Command, dev *model.Device, data *responder.CommandData) error {
	var hdr [8]byte
	if _, err := data.Read(hdr[:]); err != nil {
		return err
	}
	size := wire.Uint64(hdr[:])

	bufIdx, blockIdx := wire.SplitBlockCode(cmd.Code)
	key := blockKey{bufferKey{dev.Index, bufIdx}, blockIdx}

	e, ok := h.buffers[key.buf]
	switch {
	case !ok:
		return h.replyCode(data, 0, wire.EBADF)
	case size == 0 || size > 1<<31-1:
		return h.replyCode(data, 0, wire.EINVAL)
	}
	if _, ok := h.blocks[key]; ok {
		return h.replyCode(data, 0, wire.EBUSY)
	}

	blk, err := e.buf.CreateBlock(int(size))
	if err != nil {
		return h.replyCode(data, 0, err)
	}

	// the block keeps the reference on its conversation until freed
	h.blocks[key] = &blockEntry{
		key:   key,
		entry: e,
		block: blk,
		io:    data.IO(),
		size:  int(size),
	}
	return h.replyCode(data, 0, nil)
}

func (h *binaryHandler) freeBlock(cmd wire.Command, dev *model.Device, data *responder.CommandData) error {
	bufIdx, blockIdx := wire.SplitBlockCode(cmd.Code)
	key := blockKey{bufferKey{dev.Index, bufIdx}, blockIdx}

	blk, ok := h.blocks[key]
	if !ok {
		return h.replyCode(data, 0, wire.ENOENT)
	}
	delete(h.blocks, key)
	blk.close()
	return h.replyCode(data, 0, nil)
}

// enqueueError is the response code of a block that could not be queued.
// The error sits in the upper half so that the client can tell it from a
// dequeue error.
func enqueueError(err error) int32 {
	return wire.CodeOf(err) << 16
}

func (h *binaryHandler) transferBlock(cmd wire.Command, dev *model.Device, data *responder.CommandData) error {
	var hdr [8]byte
	if _, err := data.Read(hdr[:]); err != nil {
		return err
	}
	used := wire.Uint64(hdr[:])
	tx := dev.IsTx()

	bufIdx, blockIdx := wire.SplitBlockCode(cmd.Code)
	key := blockKey{bufferKey{dev.Index, bufIdx}, blockIdx}

	blk, ok := h.blocks[key]
	var err error
	switch {
	case !ok:
		err = wire.ENOENT
	case used == 0 || used > uint64(blk.size):
		err = wire.EINVAL
	}
	if err != nil {
		if tx {
			if derr := data.Discard(int(min(used, 1<<31-1))); derr != nil {
				return derr
			}
		}
		return h.reply(data, enqueueError(err))
	}

	if tx {
		if _, err := data.Read(blk.block.Data()[:used]); err != nil {
			return err
		}
	}
	blk.used = int(used)
	blk.cyclic = cmd.Op == wire.OpEnqueueBlockCyclic

	if err := blk.entry.enqueue.EnqueueAutoclear(blk); err != nil {
		return h.reply(data, enqueueError(wire.EBADF))
	}
	return nil
}

func (h *binaryHandler) retryDequeue(cmd wire.Command, dev *model.Device, data *responder.CommandData) error {
	bufIdx, blockIdx := wire.SplitBlockCode(cmd.Code)
	blk, ok := h.blocks[blockKey{bufferKey{dev.Index, bufIdx}, blockIdx}]
	if !ok {
		return h.replyCode(data, 0, wire.ENOENT)
	}
	if err := blk.entry.dequeue.EnqueueAutoclear(blk); err != nil {
		return h.replyCode(data, 0, wire.EBADF)
	}
	return nil
}

func (e *bufferEntry) enqueueBlock(blk *blockEntry) error {
	if err := blk.block.Enqueue(blk.used, blk.cyclic); err != nil {
		_ = blk.io.SendResponse(enqueueError(err))
		return err
	}
	if blk.cyclic {
		// a cyclic block never completes
		return blk.io.SendResponse(0)
	}
	return e.dequeue.EnqueueAutoclear(blk)
}

func (e *bufferEntry) dequeueBlock(blk *blockEntry) error {
	if err := blk.block.Dequeue(false); err != nil {
		_ = blk.io.SendResponseCode(0, err)
		return err
	}
	if e.tx {
		return blk.io.SendResponse(0)
	}
	return blk.io.SendResponse(int32(blk.used), blk.block.Data()[:blk.used])
}

func (b *blockEntry) close() {
	b.io.Cancel()
	b.io.Release()
	_ = b.block.Close()
}

func (h *binaryHandler) createEvstream(cmd wire.Command, dev *model.Device, data *responder.CommandData) error {
	if _, ok := h.streams[cmd.ClientID]; ok {
		return h.replyCode(data, 0, wire.EBUSY)
	}

	es, err := h.s.d.backend.OpenEventStream(dev.Index)
	if err != nil {
		return h.replyCode(data, 0, err)
	}

	e := &evstreamEntry{es: es, io: data.IO()}
	e.read = lock.NewTask("iiod-evstream", e.readEvent)
	e.read.Start()
	h.streams[cmd.ClientID] = e

	h.s.debugLog("binary: event stream opened", "dev", dev.ID, "id", cmd.ClientID)
	return h.replyCode(data, 0, nil)
}

func (h *binaryHandler) freeEvstream(cmd wire.Command, data *responder.CommandData) error {
	id := uint16(cmd.Code)
	e, ok := h.streams[id]
	if !ok {
		return h.replyCode(data, 0, wire.EBADF)
	}
	delete(h.streams, id)
	e.close()
	return h.replyCode(data, 0, nil)
}

func (h *binaryHandler) readEvent(cmd wire.Command, data *responder.CommandData) error {
	e, ok := h.streams[cmd.ClientID]
	if !ok {
		return h.replyCode(data, 0, wire.EBADF)
	}

	// a non-zero code asks for a read that does not block the reader
	if cmd.Code != 0 {
		_ = e.readEvent(true)
		return nil
	}
	if err := e.read.EnqueueAutoclear(false); err != nil {
		return h.replyCode(data, 0, wire.EBADF)
	}
	return nil
}

func (e *evstreamEntry) readEvent(nonblock bool) error {
	ev, err := e.es.Read(nonblock)
	if err != nil {
		return e.io.SendResponseCode(0, err)
	}
	b, err := ev.MarshalBinary()
	if err != nil {
		return e.io.SendResponseCode(0, err)
	}
	return e.io.SendResponse(int32(len(b)), b)
}

// close stops the stream. Closing it first wakes up a pending read.
func (e *evstreamEntry) close() {
	_ = e.es.Close()
	e.read.Destroy()
	e.io.Cancel()
	e.io.Release()
}
