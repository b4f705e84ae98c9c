package client

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/responder"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// execText sends one text command and returns the integer reply. Negative
// replies are returned as wire.Errno.
func (c *Client) execText(cmd string) (int, error) {
	c.textMu.Lock()
	defer c.textMu.Unlock()
	return c.execTextLocked(cmd)
}

func (c *Client) execTextLocked(cmd string) (int, error) {
	if err := c.writeLocked([]byte(cmd)); err != nil {
		return 0, err
	}
	return c.readIntegerLocked()
}

func (c *Client) writeLocked(b []byte) error {
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("%w: %w", responder.ErrDisconnected, err)
	}
	return nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

func (c *Client) armDeadline() {
	d, ok := c.conn.(readDeadliner)
	if !ok {
		return
	}
	var t time.Time
	if timeout := c.Timeout(); timeout > 0 {
		t = time.Now().Add(timeout)
	}
	_ = d.SetReadDeadline(t)
}

func (c *Client) readError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return responder.ErrTimeout
	}
	return fmt.Errorf("%w: %w", responder.ErrDisconnected, err)
}

// readIntegerLocked reads a decimal reply line, skipping empty lines.
func (c *Client) readIntegerLocked() (int, error) {
	c.armDeadline()

	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			return 0, c.readError(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		v, err := strconv.Atoi(line)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadResponse, line)
		}
		if v < 0 {
			return v, wire.ErrorOf(int32(v))
		}
		return v, nil
	}
}

func (c *Client) readFullLocked(b []byte) error {
	c.armDeadline()
	if _, err := io.ReadFull(c.conn, b); err != nil {
		return c.readError(err)
	}
	return nil
}

func (c *Client) discardLocked(n int) error {
	c.armDeadline()
	if _, err := c.conn.Discard(n); err != nil {
		return c.readError(err)
	}
	return nil
}

// attrPath formats the object part of a READ/WRITE command.
func (c *Client) attrPath(ref model.AttrRef) (string, error) {
	d, err := c.device(ref.Dev)
	if err != nil {
		return "", err
	}

	switch ref.Kind {
	case model.AttrChannel:
		ch := d.Channel(ref.Chn)
		if ch == nil || ref.Attr < 0 || ref.Attr >= len(ch.Attrs) {
			return "", wire.ENOENT
		}
		dir := "INPUT"
		if ch.Output {
			dir = "OUTPUT"
		}
		return fmt.Sprintf("%s %s %s %s", d.ID, dir, ch.ID, ch.Attrs[ref.Attr].Name), nil
	case model.AttrDevice, model.AttrDebug, model.AttrBuffer:
		attrs := d.AttrList(ref.Kind)
		if ref.Attr < 0 || ref.Attr >= len(attrs) {
			return "", wire.ENOENT
		}
		name := attrs[ref.Attr].Name
		switch ref.Kind {
		case model.AttrDebug:
			return fmt.Sprintf("%s DEBUG %s", d.ID, name), nil
		case model.AttrBuffer:
			return fmt.Sprintf("%s BUFFER %s", d.ID, name), nil
		default:
			return fmt.Sprintf("%s %s", d.ID, name), nil
		}
	default:
		return "", wire.EINVAL
	}
}

func (c *Client) readAttrText(ref model.AttrRef, dst []byte) (int, error) {
	path, err := c.attrPath(ref)
	if err != nil {
		return 0, err
	}

	c.textMu.Lock()
	defer c.textMu.Unlock()

	n, err := c.execTextLocked("READ " + path + "\r\n")
	if err != nil {
		return 0, err
	}

	// the value is followed by a newline
	if n+1 > len(dst) {
		if err := c.discardLocked(n + 1); err != nil {
			return 0, err
		}
		return 0, io.ErrShortBuffer
	}
	if err := c.readFullLocked(dst[:n+1]); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Client) writeAttrText(ref model.AttrRef, src []byte) (int, error) {
	path, err := c.attrPath(ref)
	if err != nil {
		return 0, err
	}

	c.textMu.Lock()
	defer c.textMu.Unlock()

	if err := c.writeLocked([]byte(fmt.Sprintf("WRITE %s %d\r\n", path, len(src)))); err != nil {
		return 0, err
	}
	if err := c.writeLocked(src); err != nil {
		return 0, err
	}
	return c.readIntegerLocked()
}

func (c *Client) getTriggerText(d *model.Device) (int, error) {
	c.textMu.Lock()
	defer c.textMu.Unlock()

	n, err := c.execTextLocked("GETTRIG " + d.ID + "\r\n")
	if err != nil {
		return -1, err
	}
	if n == 0 {
		return -1, ErrNoTrigger
	}
	if n > maxAttrSize {
		return -1, ErrBadResponse
	}

	name := make([]byte, n+1)
	if err := c.readFullLocked(name); err != nil {
		return -1, err
	}

	for _, t := range c.ctx.Devices {
		if t.IsTrigger() && (t.Name == string(name[:n]) || t.ID == string(name[:n])) {
			return t.Index, nil
		}
	}
	return -1, wire.ENXIO
}

func (c *Client) setTriggerText(d *model.Device, trig int) error {
	cmd := "SETTRIG " + d.ID + "\r\n"
	if trig >= 0 {
		t, err := c.device(trig)
		if err != nil {
			return err
		}
		cmd = "SETTRIG " + d.ID + " " + t.ID + "\r\n"
	}
	_, err := c.execText(cmd)
	return err
}

// LegacyBuffer is a device stream opened with the text protocol OPEN
// command. Samples are transferred with READBUF/WRITEBUF.
type LegacyBuffer struct {
	c       *Client
	dev     *model.Device
	mask    *model.ChannelMask
	samples int
	cyclic  bool
}

// OpenLegacy opens device dev for streaming samples samples at a time with
// the channels of mask. Only available in legacy mode.
func (c *Client) OpenLegacy(dev, samples int, mask *model.ChannelMask, cyclic bool) (*LegacyBuffer, error) {
	if c.Binary() {
		return nil, ErrNotSupported
	}
	d, err := c.device(dev)
	if err != nil {
		return nil, err
	}
	if mask.NbWords() != d.NbWords() {
		return nil, wire.EINVAL
	}

	cmd := fmt.Sprintf("OPEN %s %d %s", d.ID, samples, wire.FormatMaskHex(mask.Words()))
	if cyclic {
		cmd += " CYCLIC"
	}
	if _, err := c.execText(cmd + "\r\n"); err != nil {
		return nil, err
	}

	return &LegacyBuffer{c: c, dev: d, mask: mask.Clone(), samples: samples, cyclic: cyclic}, nil
}

// Mask returns the channel mask of the samples last read. The daemon
// reports it with every READBUF.
func (b *LegacyBuffer) Mask() *model.ChannelMask {
	b.c.textMu.Lock()
	defer b.c.textMu.Unlock()
	return b.mask.Clone()
}

// Read issues one READBUF for len(dst) bytes. It returns fewer bytes than
// len(dst) when the daemon ends the transfer early, and 0 when it ended
// before the first sample. That happens when another client opens the
// device and the daemon provisions its buffer again with a new mask: the
// caller must then issue another Read, whose samples use the new mask
// (see Mask). ReadSamples does this.
func (b *LegacyBuffer) Read(dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, wire.EINVAL
	}

	c := b.c
	c.textMu.Lock()
	defer c.textMu.Unlock()

	if err := c.writeLocked([]byte(fmt.Sprintf("READBUF %s %d\r\n", b.dev.ID, len(dst)))); err != nil {
		return 0, err
	}

	read := 0
	first := true
	for read < len(dst) {
		n, err := c.readIntegerLocked()
		if err != nil {
			return read, err
		}
		if n == 0 {
			break
		}
		if n > len(dst)-read {
			return read, ErrBadResponse
		}

		if first {
			if err := b.readMaskLocked(); err != nil {
				return read, err
			}
			first = false
		}

		if err := c.readFullLocked(dst[read : read+n]); err != nil {
			return read, err
		}
		read += n
	}
	return read, nil
}

// MaxReissue bounds the READBUF commands ReadSamples issues for one call.
const MaxReissue = 8

// ReadSamples reads like Read but issues READBUF again while the daemon
// ends transfers before the first sample, up to MaxReissue times.
func (b *LegacyBuffer) ReadSamples(dst []byte) (int, error) {
	ss, err := b.dev.SampleSize(b.Mask())
	if err != nil {
		return 0, err
	}
	if len(dst) < ss {
		return 0, wire.EINVAL
	}

	for range MaxReissue {
		n, err := b.Read(dst)
		if n > 0 || err != nil {
			return n, err
		}
		b.c.debugLog("client: READBUF ended early, issuing it again", "dev", b.dev.ID)
	}
	return 0, ErrNoSamples
}

func (b *LegacyBuffer) readMaskLocked() error {
	words := b.dev.NbWords()
	line := make([]byte, words*8+1)
	if err := b.c.readFullLocked(line); err != nil {
		return err
	}
	w, err := wire.ParseMaskHex(string(line[:words*8]), words)
	if err != nil {
		return ErrBadResponse
	}
	b.mask = model.MaskFromWords(w)
	return nil
}

// Write sends samples to an output device.
func (b *LegacyBuffer) Write(src []byte) (int, error) {
	c := b.c
	c.textMu.Lock()
	defer c.textMu.Unlock()

	if _, err := c.execTextLocked(fmt.Sprintf("WRITEBUF %s %d\r\n", b.dev.ID, len(src))); err != nil {
		return 0, err
	}
	if err := c.writeLocked(src); err != nil {
		return 0, err
	}
	if _, err := c.readIntegerLocked(); err != nil {
		return 0, err
	}
	return len(src), nil
}

// Close sends CLOSE for the device.
func (b *LegacyBuffer) Close() error {
	_, err := b.c.execText("CLOSE " + b.dev.ID + "\r\n")
	return err
}
