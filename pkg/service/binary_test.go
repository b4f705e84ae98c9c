package service

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/backend/sim"
	"github.com/iio-remote/iiod-go/pkg/client"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

func dialBinary(t *testing.T, d *Daemon) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	c, err := client.Dial(ctx, "ip:"+d.Addr().String(), client.Config{Timeout: testTimeout})
	require.NoError(t, err)
	require.True(t, c.Binary())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBinaryContext(t *testing.T) {
	d, s := startDaemon(t)
	c := dialBinary(t, d)

	ctx := c.Context()
	require.Len(t, ctx.Devices, len(s.Context().Devices))
	assert.Equal(t, "iio:device0", ctx.Devices[0].ID)
	assert.Equal(t, "sim-adc", ctx.Devices[0].Name)
}

func TestBinaryAttributes(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialBinary(t, d)
	dev := c.Context().Devices[0]

	ref := model.AttrRef{Kind: model.AttrDevice, Dev: 0, Attr: dev.FindAttr(model.AttrDevice, "sampling_frequency")}
	val, err := c.ReadAttr(ref)
	require.NoError(t, err)
	assert.Equal(t, "1000", string(val))

	n, err := c.WriteAttr(ref, []byte("500"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	val, err = c.ReadAttr(ref)
	require.NoError(t, err)
	assert.Equal(t, "500", string(val))

	chref := model.AttrRef{Kind: model.AttrChannel, Dev: 0, Chn: 1, Attr: dev.Channel(1).FindAttr("raw")}
	val, err = c.ReadAttr(chref)
	require.NoError(t, err)
	assert.Equal(t, "200", string(val))

	// buffer attributes need a buffer
	bref := model.AttrRef{Kind: model.AttrBuffer, Dev: 0, Attr: dev.FindAttr(model.AttrBuffer, "watermark")}
	_, err = c.ReadAttr(bref)
	assert.ErrorIs(t, err, wire.EBADF)
}

func TestBinaryTrigger(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialBinary(t, d)

	trig, err := c.GetTrigger(0)
	require.NoError(t, err)
	assert.Equal(t, 2, trig)

	require.NoError(t, c.SetTrigger(0, -1))
	_, err = c.GetTrigger(0)
	assert.ErrorIs(t, err, client.ErrNoTrigger)

	require.NoError(t, c.SetTrigger(0, 2))
	trig, err = c.GetTrigger(0)
	require.NoError(t, err)
	assert.Equal(t, 2, trig)

	assert.ErrorIs(t, c.SetTrigger(0, 1), wire.EINVAL)
}

func TestBinaryInputBuffer(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialBinary(t, d)
	dev := c.Context().Devices[0]

	mask := dev.NewMask()
	mask.Set(0)
	mask.Set(1)
	buf, err := c.CreateBuffer(0, 0, mask)
	require.NoError(t, err)
	assert.True(t, buf.Mask().Equal(mask))

	blocks := make([]backend.Block, 2)
	for i := range blocks {
		blk, err := buf.CreateBlock(32)
		require.NoError(t, err)
		require.NoError(t, blk.Enqueue(32, false))
		blocks[i] = blk
	}
	require.NoError(t, buf.Enable())

	sample := uint64(0)
	for round := 0; round < 2; round++ {
		for _, blk := range blocks {
			require.NoError(t, blk.Dequeue(false))
			data := blk.Data()
			for i := 0; i < 8; i++ {
				assert.Equal(t, uint16(sim.Ramp(0, sample)), binary.LittleEndian.Uint16(data[i*4:]))
				assert.Equal(t, uint16(sim.Ramp(1, sample)), binary.LittleEndian.Uint16(data[i*4+2:]))
				sample++
			}
			require.NoError(t, blk.Enqueue(32, false))
		}
	}

	require.NoError(t, buf.Disable())
	buf.Cancel()
	for _, blk := range blocks {
		require.NoError(t, blk.Close())
	}
	require.NoError(t, buf.Close())

	// the device can be used again
	buf, err = c.CreateBuffer(0, 0, mask)
	require.NoError(t, err)
	require.NoError(t, buf.Close())
}

func TestBinaryOutputBuffer(t *testing.T) {
	d, s := startDaemon(t)
	c := dialBinary(t, d)
	dev := c.Context().Devices[1]

	mask := dev.NewMask()
	mask.Set(0)
	buf, err := c.CreateBuffer(1, 0, mask)
	require.NoError(t, err)
	require.NoError(t, buf.Enable())

	blk, err := buf.CreateBlock(16)
	require.NoError(t, err)
	copy(blk.Data(), []byte("0123456789abcdef"))

	require.NoError(t, blk.Enqueue(16, false))
	require.NoError(t, blk.Dequeue(false))
	assert.Equal(t, []byte("0123456789abcdef"), s.Output(1))

	// a cyclic block completes at once
	copy(blk.Data(), []byte("ABCDEFGH"))
	require.NoError(t, blk.Enqueue(8, true))
	require.NoError(t, blk.Dequeue(false))
	assert.True(t, bytes.HasSuffix(s.Output(1), []byte("ABCDEFGH")))

	require.NoError(t, blk.Close())
	require.NoError(t, buf.Close())
}

func TestBinaryEnqueueError(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialBinary(t, d)
	dev := c.Context().Devices[0]

	mask := dev.NewMask()
	mask.Set(0)
	buf, err := c.CreateBuffer(0, 0, mask)
	require.NoError(t, err)

	blk, err := buf.CreateBlock(16)
	require.NoError(t, err)

	// input blocks cannot be cyclic
	require.NoError(t, blk.Enqueue(16, true))
	assert.ErrorIs(t, blk.Dequeue(false), wire.EINVAL)

	// the block is free again
	require.NoError(t, blk.Enqueue(16, false))
	require.NoError(t, buf.Enable())
	require.NoError(t, blk.Dequeue(false))

	require.NoError(t, blk.Close())
	require.NoError(t, buf.Close())
}

func TestBinaryBufferBusy(t *testing.T) {
	d, _ := startDaemon(t)
	a := dialBinary(t, d)
	b := dialBinary(t, d)

	mask := a.Context().Devices[0].NewMask()
	mask.Set(0)

	_, err := a.CreateBuffer(0, 0, mask)
	require.NoError(t, err)

	_, err = b.CreateBuffer(0, 0, mask)
	assert.ErrorIs(t, err, wire.EBUSY)

	// freed when its owner leaves
	a.Close()
	require.Eventually(t, func() bool {
		buf, err := b.CreateBuffer(0, 0, mask)
		if err != nil {
			return false
		}
		return buf.Close() == nil
	}, testTimeout, 10*time.Millisecond)
}

func TestBinaryEventStream(t *testing.T) {
	d, s := startDaemon(t)
	c := dialBinary(t, d)

	es, err := c.OpenEventStream(0)
	require.NoError(t, err)

	_, err = es.Read(true)
	assert.ErrorIs(t, err, wire.EAGAIN)

	s.PushEvent(0, model.Event{ID: 42, Timestamp: 1234})
	ev, err := es.Read(false)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), ev.ID)
	assert.Equal(t, int64(1234), ev.Timestamp)

	require.NoError(t, es.Close())
}

func TestBinaryUnknownDevice(t *testing.T) {
	d, _ := startDaemon(t)
	c := dialText(t, d)

	require.Equal(t, 0, c.cmd("BINARY"))
	hdr, err := wire.Command{ClientID: 0, Op: wire.OpEnableBuffer, Dev: 200}.MarshalBinary()
	require.NoError(t, err)
	c.write(hdr)

	var resp wire.Command
	require.NoError(t, resp.UnmarshalBinary(c.read(wire.CommandSize)))
	assert.Equal(t, wire.ENODEV.Code(), resp.Code)

	hdr, err = wire.Command{ClientID: 0, Op: wire.Op(200)}.MarshalBinary()
	require.NoError(t, err)
	c.write(hdr)
	require.NoError(t, resp.UnmarshalBinary(c.read(wire.CommandSize)))
	assert.Equal(t, wire.EINVAL.Code(), resp.Code)
}
