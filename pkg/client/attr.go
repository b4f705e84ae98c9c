package client

import (
	"io"

	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// attrCommand builds the binary command addressing ref.
func (c *Client) attrCommand(ref model.AttrRef, write bool) (wire.Command, error) {
	d, err := c.device(ref.Dev)
	if err != nil {
		return wire.Command{}, err
	}

	var (
		op    wire.Op
		nb    int
		index uint16
	)
	switch ref.Kind {
	case model.AttrDevice:
		op, nb = wire.OpReadAttr, len(d.Attrs)
	case model.AttrDebug:
		op, nb = wire.OpReadDbgAttr, len(d.DebugAttrs)
	case model.AttrBuffer:
		op, nb = wire.OpReadBufAttr, len(d.BufferAttrs)
		index = uint16(ref.Buf)
	case model.AttrChannel:
		ch := d.Channel(ref.Chn)
		if ch == nil {
			return wire.Command{}, wire.ENOENT
		}
		op, nb = wire.OpReadChnAttr, len(ch.Attrs)
		index = uint16(ref.Chn)
	default:
		return wire.Command{}, wire.EINVAL
	}
	if ref.Attr < 0 || ref.Attr >= nb {
		return wire.Command{}, wire.ENOENT
	}

	if write {
		op += wire.OpWriteAttr - wire.OpReadAttr
	}
	return wire.Command{Op: op, Dev: uint8(ref.Dev), Code: wire.AttrCode(uint16(ref.Attr), index)}, nil
}

// ReadAttrInto reads the value of an attribute into dst and returns its
// length. A value longer than dst is truncated and io.ErrShortBuffer is
// returned.
func (c *Client) ReadAttrInto(ref model.AttrRef, dst []byte) (int, error) {
	if c.resp == nil {
		return c.readAttrText(ref, dst)
	}

	cmd, err := c.attrCommand(ref, false)
	if err != nil {
		return 0, err
	}
	n, err := c.resp.DefaultIO().ExecCommand(cmd, nil, [][]byte{dst})
	if err != nil {
		return 0, err
	}
	if int(n) > len(dst) {
		return len(dst), io.ErrShortBuffer
	}
	return int(n), nil
}

// ReadAttr implements backend.Backend.
func (c *Client) ReadAttr(ref model.AttrRef) ([]byte, error) {
	buf := make([]byte, maxAttrSize)
	n, err := c.ReadAttrInto(ref, buf)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), buf[:n]...), nil
}

// WriteAttr implements backend.Backend. It returns the number of bytes
// the daemon consumed.
func (c *Client) WriteAttr(ref model.AttrRef, src []byte) (int, error) {
	if c.resp == nil {
		return c.writeAttrText(ref, src)
	}

	cmd, err := c.attrCommand(ref, true)
	if err != nil {
		return 0, err
	}
	n, err := c.resp.DefaultIO().ExecCommand(cmd, [][]byte{wire.PutUint64(uint64(len(src))), src}, nil)
	return int(n), err
}

// GetTrigger implements backend.Backend. ErrNoTrigger is returned for a
// device without trigger.
func (c *Client) GetTrigger(dev int) (int, error) {
	d, err := c.device(dev)
	if err != nil {
		return -1, err
	}
	if c.resp == nil {
		return c.getTriggerText(d)
	}

	n, err := c.resp.DefaultIO().ExecSimpleCommand(wire.Command{Op: wire.OpGetTrig, Dev: uint8(dev)})
	switch {
	case err == nil:
		return int(n), nil
	case n == wire.ENODEV.Code(), n == wire.ENOENT.Code():
		return -1, ErrNoTrigger
	default:
		return -1, err
	}
}

// SetTrigger implements backend.Backend. A negative trig removes the
// trigger.
func (c *Client) SetTrigger(dev, trig int) error {
	d, err := c.device(dev)
	if err != nil {
		return err
	}
	if c.resp == nil {
		return c.setTriggerText(d, trig)
	}

	if trig < 0 {
		trig = -1
	}
	_, err = c.resp.DefaultIO().ExecSimpleCommand(wire.Command{Op: wire.OpSetTrig, Dev: uint8(dev), Code: int32(trig)})
	return err
}
