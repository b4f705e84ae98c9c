package service

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/version"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// maxAttrValueSize bounds the payload of a text WRITE command.
const maxAttrValueSize = 0x10000

type nextAction int

const (
	nextContinue nextAction = iota
	nextExit
	nextBinary
)

type textCommand func(s *session, args []string) (nextAction, error)

var textCommands = map[string]textCommand{
	"HELP":     (*session).cmdHelp,
	"EXIT":     (*session).cmdExit,
	"QUIT":     (*session).cmdExit,
	"PRINT":    (*session).cmdPrint,
	"ZPRINT":   (*session).cmdZPrint,
	"VERSION":  (*session).cmdVersion,
	"TIMEOUT":  (*session).cmdTimeout,
	"OPEN":     (*session).cmdOpen,
	"CLOSE":    (*session).cmdClose,
	"READ":     (*session).cmdRead,
	"WRITE":    (*session).cmdWrite,
	"READBUF":  (*session).cmdReadBuf,
	"WRITEBUF": (*session).cmdWriteBuf,
	"GETTRIG":  (*session).cmdGetTrig,
	"SETTRIG":  (*session).cmdSetTrig,
	"SET":      (*session).cmdSet,
	"BINARY":   (*session).cmdBinary,
}

// execute runs one text command. Command failures are reported to the
// client; the returned error is only set when the session must end.
func (s *session) execute(line string) (nextAction, error) {
	fields := strings.Fields(line)
	cmd, ok := textCommands[strings.ToUpper(fields[0])]
	if !ok {
		s.debugLog("interpreter: unknown command", "line", line)
		return nextContinue, s.printValue(int(wire.EINVAL.Code()))
	}
	return cmd(s, fields[1:])
}

// reply prints the result of a command that only answers with a value.
func (s *session) reply(n int, err error) (nextAction, error) {
	return nextContinue, s.printResult(n, err)
}

func (s *session) device(name string) (*model.Device, error) {
	d, ok := s.d.ctx.FindDevice(name)
	if !ok {
		return nil, wire.ENODEV
	}
	return d, nil
}

func (s *session) cmdHelp(args []string) (nextAction, error) {
	_, err := s.stream.WriteString(helpText)
	return nextContinue, err
}

func (s *session) cmdExit(args []string) (nextAction, error) {
	return nextExit, nil
}

func (s *session) cmdPrint(args []string) (nextAction, error) {
	return nextContinue, s.printPayload(s.d.xml)
}

func (s *session) cmdZPrint(args []string) (nextAction, error) {
	return nextContinue, s.printPayload(s.d.zxml)
}

func (s *session) cmdVersion(args []string) (nextAction, error) {
	_, err := io.WriteString(s.stream, version.Current.Reply())
	return nextContinue, err
}

func (s *session) cmdTimeout(args []string) (nextAction, error) {
	if len(args) != 1 {
		return s.reply(0, wire.EINVAL)
	}
	ms, err := strconv.ParseUint(args[0], 10, 31)
	if err != nil {
		return s.reply(0, wire.EINVAL)
	}
	return s.reply(0, s.d.backend.SetTimeout(time.Duration(ms)*time.Millisecond))
}

func (s *session) cmdOpen(args []string) (nextAction, error) {
	if len(args) < 3 || len(args) > 4 {
		return s.reply(0, wire.EINVAL)
	}
	cyclic := false
	if len(args) == 4 {
		if !strings.EqualFold(args[3], "CYCLIC") {
			return s.reply(0, wire.EINVAL)
		}
		cyclic = true
	}

	d, err := s.device(args[0])
	if err != nil {
		return s.reply(0, err)
	}
	samples, err := strconv.Atoi(args[1])
	if err != nil {
		return s.reply(0, wire.EINVAL)
	}
	words, err := wire.ParseMaskHex(args[2], d.NbWords())
	if err != nil {
		return s.reply(0, err)
	}
	if _, ok := s.subs[d.Index]; ok {
		return s.reply(0, wire.EBUSY)
	}

	sub, err := s.reg.open(s, d, samples, model.MaskFromWords(words), cyclic)
	if err != nil {
		return s.reply(0, err)
	}
	s.subs[d.Index] = sub
	return s.reply(0, nil)
}

func (s *session) cmdClose(args []string) (nextAction, error) {
	if len(args) != 1 {
		return s.reply(0, wire.EINVAL)
	}
	d, err := s.device(args[0])
	if err != nil {
		return s.reply(0, err)
	}
	sub, ok := s.subs[d.Index]
	if !ok {
		return s.reply(0, wire.ENXIO)
	}
	delete(s.subs, d.Index)
	sub.entry.remove(sub)
	return s.reply(0, nil)
}

// attrTarget is the object addressed by a READ or WRITE command. When all
// is set, ref.Attr is unused and every attribute of the list is addressed.
type attrTarget struct {
	ref model.AttrRef
	nb  int
	all bool
}

// parseAttrTarget resolves "<dev> [DEBUG|BUFFER|INPUT <chn>|OUTPUT <chn>]
// [<attr>]".
func (s *session) parseAttrTarget(args []string) (attrTarget, error) {
	if len(args) == 0 {
		return attrTarget{}, wire.EINVAL
	}
	d, err := s.device(args[0])
	if err != nil {
		return attrTarget{}, err
	}
	t := attrTarget{ref: model.AttrRef{Kind: model.AttrDevice, Dev: d.Index}}
	rest := args[1:]

	if len(rest) > 0 {
		switch kw := strings.ToUpper(rest[0]); kw {
		case "DEBUG":
			t.ref.Kind = model.AttrDebug
			rest = rest[1:]
		case "BUFFER":
			t.ref.Kind = model.AttrBuffer
			rest = rest[1:]
		case "INPUT", "OUTPUT":
			if len(rest) < 2 {
				return attrTarget{}, wire.EINVAL
			}
			ch, ok := d.FindChannel(rest[1], kw == "OUTPUT")
			if !ok {
				return attrTarget{}, wire.ENXIO
			}
			t.ref.Kind = model.AttrChannel
			t.ref.Chn = ch.Number
			rest = rest[2:]
		}
	}
	if len(rest) > 1 {
		return attrTarget{}, wire.EINVAL
	}

	if t.ref.Kind == model.AttrBuffer && !s.reg.isOpen(d) {
		return attrTarget{}, wire.EBADF
	}

	var attrs []model.Attr
	if t.ref.Kind == model.AttrChannel {
		attrs = d.Channel(t.ref.Chn).Attrs
	} else {
		attrs = d.AttrList(t.ref.Kind)
	}

	if len(rest) == 0 {
		if t.ref.Kind == model.AttrBuffer {
			return attrTarget{}, wire.EINVAL
		}
		t.all = true
		t.nb = len(attrs)
		return t, nil
	}

	t.ref.Attr = -1
	for i, a := range attrs {
		if a.Name == rest[0] {
			t.ref.Attr = i
			break
		}
	}
	if t.ref.Attr < 0 {
		return attrTarget{}, wire.ENOENT
	}
	return t, nil
}

func (s *session) cmdRead(args []string) (nextAction, error) {
	t, err := s.parseAttrTarget(args)
	if err != nil {
		return s.reply(0, err)
	}

	if !t.all {
		val, err := s.d.backend.ReadAttr(t.ref)
		if err != nil {
			return s.reply(0, err)
		}
		return nextContinue, s.printPayload(val)
	}

	vals := make([]wire.AttrValue, t.nb)
	for i := range vals {
		ref := t.ref
		ref.Attr = i
		val, err := s.d.backend.ReadAttr(ref)
		if err != nil {
			vals[i] = wire.AttrValue{Code: wire.CodeOf(err)}
			continue
		}
		vals[i] = wire.AttrValue{Data: val}
	}
	return nextContinue, s.printPayload(wire.PackAttrs(vals))
}

func (s *session) cmdWrite(args []string) (nextAction, error) {
	if len(args) < 2 {
		return s.reply(0, wire.EINVAL)
	}
	size, err := strconv.Atoi(args[len(args)-1])
	if err != nil || size < 0 {
		return s.reply(0, wire.EINVAL)
	}
	if size > maxAttrValueSize {
		if _, err := s.stream.Discard(size); err != nil {
			return nextContinue, err
		}
		return s.reply(0, wire.EINVAL)
	}

	// the value always follows the command line, even when it is refused
	buf := make([]byte, size)
	if _, err := io.ReadFull(s.stream, buf); err != nil {
		return nextContinue, err
	}

	t, err := s.parseAttrTarget(args[:len(args)-1])
	if err != nil {
		return s.reply(0, err)
	}

	if !t.all {
		return s.reply(s.d.backend.WriteAttr(t.ref, buf))
	}

	vals, err := wire.UnpackAttrs(t.nb, buf)
	if err != nil {
		return s.reply(0, err)
	}
	for i, v := range vals {
		if v.Code <= 0 {
			continue
		}
		ref := t.ref
		ref.Attr = i
		if _, err := s.d.backend.WriteAttr(ref, v.Data); err != nil {
			s.debugLog("interpreter: attribute write failed", "attr", ref.String(), "error", err)
		}
	}
	return s.reply(size, nil)
}

func (s *session) lookupSub(args []string) (*subscriber, int, error) {
	if len(args) != 2 {
		return nil, 0, wire.EINVAL
	}
	d, err := s.device(args[0])
	if err != nil {
		return nil, 0, err
	}
	nb, err := strconv.Atoi(args[1])
	if err != nil || nb < 0 {
		return nil, 0, wire.EINVAL
	}
	sub, ok := s.subs[d.Index]
	if !ok {
		return nil, 0, wire.EBADF
	}
	return sub, nb, nil
}

func (s *session) cmdReadBuf(args []string) (nextAction, error) {
	sub, nb, err := s.lookupSub(args)
	if err != nil {
		return s.reply(0, err)
	}

	n, err := sub.entry.transfer(sub, nb, false)
	if err != nil || n <= 0 {
		if errors.Is(err, wire.EPIPE) {
			return nextContinue, err
		}
		return s.reply(n, err)
	}
	return nextContinue, nil
}

func (s *session) cmdWriteBuf(args []string) (nextAction, error) {
	sub, nb, err := s.lookupSub(args)
	if err != nil {
		return s.reply(0, err)
	}

	n, err := sub.entry.transfer(sub, nb, true)
	if errors.Is(err, wire.EPIPE) {
		return nextContinue, err
	}
	return s.reply(n, err)
}

func (s *session) cmdGetTrig(args []string) (nextAction, error) {
	if len(args) != 1 {
		return s.reply(0, wire.EINVAL)
	}
	d, err := s.device(args[0])
	if err != nil {
		return s.reply(0, err)
	}

	idx, err := s.d.backend.GetTrigger(d.Index)
	switch {
	case errors.Is(err, wire.ENOENT):
		return s.reply(0, nil)
	case err != nil:
		return s.reply(0, err)
	}

	trig := s.d.ctx.Device(idx)
	if trig == nil {
		return s.reply(0, wire.ENODEV)
	}
	name := trig.Name
	if name == "" {
		name = trig.ID
	}
	return nextContinue, s.printPayload([]byte(name))
}

func (s *session) cmdSetTrig(args []string) (nextAction, error) {
	if len(args) < 1 || len(args) > 2 {
		return s.reply(0, wire.EINVAL)
	}
	d, err := s.device(args[0])
	if err != nil {
		return s.reply(0, err)
	}

	trig := -1
	if len(args) == 2 {
		t, ok := s.d.ctx.FindDevice(args[1])
		if !ok {
			return s.reply(0, wire.ENOENT)
		}
		trig = t.Index
	}
	return s.reply(0, s.d.backend.SetTrigger(d.Index, trig))
}

func (s *session) cmdSet(args []string) (nextAction, error) {
	if len(args) != 3 || !strings.EqualFold(args[1], "BUFFERS_COUNT") {
		return s.reply(0, wire.EINVAL)
	}
	d, err := s.device(args[0])
	if err != nil {
		return s.reply(0, err)
	}
	n, err := strconv.Atoi(args[2])
	if err != nil {
		return s.reply(0, wire.EINVAL)
	}
	return s.reply(0, s.reg.setBuffersCount(d, n))
}

func (s *session) cmdBinary(args []string) (nextAction, error) {
	if _, err := s.stream.WriteString(wire.BinaryAck); err != nil {
		return nextContinue, err
	}
	return nextBinary, nil
}
