// Package interactive provides the command loop of iio-shell.
package interactive

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/iio-remote/iiod-go/pkg/client"
	"github.com/iio-remote/iiod-go/pkg/connection"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/responder"
)

// maxCaptureSamples bounds the capture command.
const maxCaptureSamples = 1 << 16

// Shell runs commands against the daemon a connection manager keeps
// connected.
type Shell struct {
	mgr *connection.Manager
	out io.Writer
	rl  *readline.Instance

	// waitTimeout bounds the wait for a connection before each command.
	waitTimeout time.Duration
}

// NewReadline creates the terminal the shell reads commands from.
func NewReadline() (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "iio> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return rl, nil
}

// New creates a shell reading commands from rl.
func New(mgr *connection.Manager, rl *readline.Instance) *Shell {
	s := NewWithOutput(mgr, rl.Stdout())
	s.rl = rl
	return s
}

// NewWithOutput creates a shell without terminal, for Exec.
func NewWithOutput(mgr *connection.Manager, out io.Writer) *Shell {
	return &Shell{mgr: mgr, out: out, waitTimeout: 5 * time.Second}
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("devices"),
		readline.PcItem("info"),
		readline.PcItem("read"),
		readline.PcItem("write"),
		readline.PcItem("trigger"),
		readline.PcItem("capture"),
		readline.PcItem("events"),
		readline.PcItem("timeout"),
		readline.PcItem("status"),
		readline.PcItem("quit"),
	)
}

// Run reads commands until EOF, quit or ctx ends.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if !s.Exec(ctx, line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the shell should
// exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
		return true
	case "quit", "exit", "q":
		return false
	case "status":
		s.cmdStatus()
		return true
	}

	c, err := s.client(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return true
	}

	switch cmd {
	case "devices", "ls":
		err = s.cmdDevices(c)
	case "info", "i":
		err = s.cmdInfo(c, args)
	case "read", "r":
		err = s.cmdRead(c, args)
	case "write", "w":
		err = s.cmdWrite(c, args)
	case "trigger", "t":
		err = s.cmdTrigger(c, args)
	case "capture", "c":
		err = s.cmdCapture(c, args)
	case "events", "e":
		err = s.cmdEvents(ctx, c, args)
	case "timeout":
		err = s.cmdTimeout(c, args)
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		return true
	}

	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		if errors.Is(err, responder.ErrDisconnected) {
			s.mgr.NotifyConnectionLost(c)
		}
	}
	return true
}

func (s *Shell) client(ctx context.Context) (*client.Client, error) {
	if c, err := s.mgr.Client(); err == nil {
		return c, nil
	}
	fmt.Fprintln(s.out, "Waiting for connection...")
	ctx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()
	return s.mgr.Wait(ctx)
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
IIO Shell Commands:
  Context:
    devices                              - List devices
    info <dev>                           - Show attributes and channels of a device
    status                               - Show connection status

  Attributes:
    read <dev> [debug|buffer|input <chn>|output <chn>] <attr>
    write <dev> [debug|buffer|input <chn>|output <chn>] <attr> <value>
    trigger <dev> [<trigger>|none]       - Show or set the trigger of a device

  Streaming:
    capture <dev> <samples> <chn>[,<chn>...] - Read one block of samples
    events <dev> [count]                 - Wait for device events

  General:
    timeout <ms>                         - Set the request timeout
    help                                 - Show this help
    quit                                 - Exit`)
}

func (s *Shell) cmdStatus() {
	fmt.Fprintf(s.out, "State: %s\n", s.mgr.State())
	c, err := s.mgr.Client()
	if err != nil {
		return
	}
	mode := "text"
	if c.Binary() {
		mode = "binary"
	}
	ctx := c.Context()
	fmt.Fprintf(s.out, "Context: %s (%d devices)\nProtocol: %s\nTimeout: %v\n",
		ctx.Name, len(ctx.Devices), mode, c.Timeout())
}

func findDevice(c *client.Client, name string) (*model.Device, error) {
	d, ok := c.Context().FindDevice(name)
	if !ok {
		return nil, fmt.Errorf("no device %q", name)
	}
	return d, nil
}

func (s *Shell) cmdDevices(c *client.Client) error {
	for _, d := range c.Context().Devices {
		kind := "device"
		if d.IsTrigger() {
			kind = "trigger"
		}
		fmt.Fprintf(s.out, "  %-14s %-20s %-8s %d channels\n", d.ID, d.Name, kind, len(d.Channels))
	}
	return nil
}

func (s *Shell) cmdInfo(c *client.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: info <dev>")
	}
	d, err := findDevice(c, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%s (%s)\n", d.ID, d.Name)
	for _, kind := range []model.AttrKind{model.AttrDevice, model.AttrDebug, model.AttrBuffer} {
		for _, a := range d.AttrList(kind) {
			fmt.Fprintf(s.out, "  %-7s %s\n", kind, a.Name)
		}
	}
	for _, ch := range d.Channels {
		dir := "input"
		if ch.Output {
			dir = "output"
		}
		scan := ""
		if ch.ScanElement {
			scan = fmt.Sprintf(" index=%d format=%s", ch.Index, ch.Format)
		}
		fmt.Fprintf(s.out, "  channel %s %s%s\n", dir, ch.ID, scan)
		for _, a := range ch.Attrs {
			fmt.Fprintf(s.out, "    %s\n", a.Name)
		}
	}
	return nil
}

// parseAttr resolves "<dev> [debug|buffer|input <chn>|output <chn>] <attr>"
// and returns the arguments left.
func parseAttr(c *client.Client, args []string) (model.AttrRef, []string, error) {
	if len(args) < 2 {
		return model.AttrRef{}, nil, errors.New("missing attribute")
	}
	d, err := findDevice(c, args[0])
	if err != nil {
		return model.AttrRef{}, nil, err
	}
	ref := model.AttrRef{Kind: model.AttrDevice, Dev: d.Index}
	args = args[1:]

	switch strings.ToLower(args[0]) {
	case "debug":
		ref.Kind, args = model.AttrDebug, args[1:]
	case "buffer":
		ref.Kind, args = model.AttrBuffer, args[1:]
	case "input", "output":
		if len(args) < 2 {
			return ref, nil, errors.New("missing channel")
		}
		ch, ok := d.FindChannel(args[1], strings.ToLower(args[0]) == "output")
		if !ok {
			return ref, nil, fmt.Errorf("no channel %q", args[1])
		}
		ref.Kind, ref.Chn, args = model.AttrChannel, ch.Number, args[2:]
	}
	if len(args) == 0 {
		return ref, nil, errors.New("missing attribute")
	}

	if ref.Kind == model.AttrChannel {
		ref.Attr = d.Channel(ref.Chn).FindAttr(args[0])
	} else {
		ref.Attr = d.FindAttr(ref.Kind, args[0])
	}
	if ref.Attr < 0 {
		return ref, nil, fmt.Errorf("no attribute %q", args[0])
	}
	return ref, args[1:], nil
}

func (s *Shell) cmdRead(c *client.Client, args []string) error {
	ref, rest, err := parseAttr(c, args)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return errors.New("too many arguments")
	}
	val, err := c.ReadAttr(ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, strings.TrimRight(string(val), "\x00\n"))
	return nil
}

func (s *Shell) cmdWrite(c *client.Client, args []string) error {
	ref, rest, err := parseAttr(c, args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return errors.New("missing value")
	}
	n, err := c.WriteAttr(ref, []byte(strings.Join(rest, " ")))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Wrote %d bytes\n", n)
	return nil
}

func (s *Shell) cmdTrigger(c *client.Client, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: trigger <dev> [<trigger>|none]")
	}
	d, err := findDevice(c, args[0])
	if err != nil {
		return err
	}

	if len(args) == 2 {
		trig := -1
		if args[1] != "none" {
			t, err := findDevice(c, args[1])
			if err != nil {
				return err
			}
			trig = t.Index
		}
		return c.SetTrigger(d.Index, trig)
	}

	idx, err := c.GetTrigger(d.Index)
	if errors.Is(err, client.ErrNoTrigger) {
		fmt.Fprintln(s.out, "none")
		return nil
	}
	if err != nil {
		return err
	}
	t := c.Context().Device(idx)
	fmt.Fprintf(s.out, "%s (%s)\n", t.ID, t.Name)
	return nil
}

func (s *Shell) cmdTimeout(c *client.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: timeout <ms>")
	}
	ms, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad timeout %q", args[0])
	}
	return c.SetTimeout(time.Duration(ms) * time.Millisecond)
}

func (s *Shell) cmdCapture(c *client.Client, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: capture <dev> <samples> <chn>[,<chn>...]")
	}
	d, err := findDevice(c, args[0])
	if err != nil {
		return err
	}
	samples, err := strconv.Atoi(args[1])
	if err != nil || samples <= 0 || samples > maxCaptureSamples {
		return fmt.Errorf("bad sample count %q", args[1])
	}

	mask := d.NewMask()
	for _, name := range strings.Split(args[2], ",") {
		ch, ok := d.FindChannel(name, false)
		if !ok {
			return fmt.Errorf("no input channel %q", name)
		}
		d.EnableChannel(mask, ch.Number)
	}
	if mask.Empty() {
		return errors.New("no channel can be streamed")
	}

	data, mask, err := capture(c, d, samples, mask)
	if err != nil {
		return err
	}
	return s.printSamples(d, mask, data)
}

// capture reads one block of samples, with a buffer in binary mode or
// with OPEN/READBUF in text mode.
func capture(c *client.Client, d *model.Device, samples int, mask *model.ChannelMask) ([]byte, *model.ChannelMask, error) {
	ss, err := d.SampleSize(mask)
	if err != nil {
		return nil, nil, err
	}

	if !c.Binary() {
		lb, err := c.OpenLegacy(d.Index, samples, mask, false)
		if err != nil {
			return nil, nil, err
		}
		defer lb.Close()

		data := make([]byte, samples*ss)
		n, err := lb.ReadSamples(data)
		if err != nil {
			return nil, nil, err
		}
		return data[:n], lb.Mask(), nil
	}

	buf, err := c.CreateBuffer(d.Index, 0, mask)
	if err != nil {
		return nil, nil, err
	}
	defer buf.Close()

	mask = buf.Mask()
	if ss, err = d.SampleSize(mask); err != nil {
		return nil, nil, err
	}
	blk, err := buf.CreateBlock(samples * ss)
	if err != nil {
		return nil, nil, err
	}
	defer blk.Close()

	if err := blk.Enqueue(samples*ss, false); err != nil {
		return nil, nil, err
	}
	if err := buf.Enable(); err != nil {
		return nil, nil, err
	}
	defer buf.Disable()

	if err := blk.Dequeue(false); err != nil {
		return nil, nil, err
	}
	return append([]byte(nil), blk.Data()...), mask, nil
}

func (s *Shell) printSamples(d *model.Device, mask *model.ChannelMask, data []byte) error {
	l, err := d.Layout(mask)
	if err != nil {
		return err
	}

	var hdr strings.Builder
	for _, slot := range l.Slots {
		fmt.Fprintf(&hdr, "%12s", d.Channel(slot.Channel).ID)
	}
	fmt.Fprintln(s.out, hdr.String())

	for off := 0; off+l.SampleSize <= len(data); off += l.SampleSize {
		var row strings.Builder
		for _, slot := range l.Slots {
			f := d.Channel(slot.Channel).Format
			v := decodeValue(f, data[off+slot.Offset:off+slot.Offset+f.StorageBytes()])
			fmt.Fprintf(&row, "%12d", v)
		}
		fmt.Fprintln(s.out, row.String())
	}
	return nil
}

// decodeValue converts the first value of a channel to an integer.
func decodeValue(f model.DataFormat, b []byte) int64 {
	var order binary.ByteOrder = binary.LittleEndian
	if f.BigEndian {
		order = binary.BigEndian
	}

	var raw uint64
	switch len(b) {
	case 1:
		raw = uint64(b[0])
	case 2:
		raw = uint64(order.Uint16(b))
	case 4:
		raw = uint64(order.Uint32(b))
	case 8:
		raw = order.Uint64(b)
	default:
		return 0
	}

	raw >>= f.Shift
	bits := f.Bits
	if bits == 0 || bits >= 64 {
		return int64(raw)
	}
	raw &= 1<<bits - 1
	if f.Signed && raw&(1<<(bits-1)) != 0 {
		return int64(raw) - 1<<bits
	}
	return int64(raw)
}

func (s *Shell) cmdEvents(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: events <dev> [count]")
	}
	d, err := findDevice(c, args[0])
	if err != nil {
		return err
	}
	count := 1
	if len(args) == 2 {
		if count, err = strconv.Atoi(args[1]); err != nil || count <= 0 {
			return fmt.Errorf("bad count %q", args[1])
		}
	}

	es, err := c.OpenEventStream(d.Index)
	if err != nil {
		return err
	}
	defer es.Close()

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev, err := es.Read(false)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, ev)
	}
	return nil
}
