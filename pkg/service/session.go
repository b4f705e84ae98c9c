package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/iio-remote/iiod-go/pkg/log"
	"github.com/iio-remote/iiod-go/pkg/responder"
	"github.com/iio-remote/iiod-go/pkg/transport"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

// session is one client connection. It starts with the text interpreter
// and may switch to the binary protocol.
type session struct {
	d      *Daemon
	reg    *registry
	stream *transport.Stream
	logger *slog.Logger
	plog   log.Logger

	// devices opened with OPEN, by device index
	subs map[int]*subscriber
}

func newSession(d *Daemon, reg *registry, st *transport.Stream) *session {
	return &session{
		d:      d,
		reg:    reg,
		stream: st,
		logger: d.config.Logger,
		plog:   d.plog,
		subs:   make(map[int]*subscriber),
	}
}

func (s *session) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, append(args, "conn", s.stream.ConnID())...)
	}
}

// done is closed when the session stream is closed.
func (s *session) done() <-chan struct{} {
	return s.stream.Done()
}

// run serves the session until the client leaves. EXIT and a clean
// disconnect return nil.
func (s *session) run() error {
	defer s.closeAll()

	for {
		line, err := s.stream.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.logText(log.DirectionIn, line, nil)

		next, err := s.execute(line)
		if err != nil {
			return err
		}

		switch next {
		case nextExit:
			return nil
		case nextBinary:
			return s.runBinary()
		}
	}
}

// runBinary hands the stream over to a responder until the client leaves.
func (s *session) runBinary() error {
	s.logState("TEXT", "BINARY")
	s.debugLog("session: switched to binary protocol")

	h := newBinaryHandler(s)
	r := responder.New(s.stream, h, responder.Config{
		Logger:         s.logger,
		ProtocolLogger: s.d.config.ProtocolLogger,
		ConnectionID:   s.stream.ConnID(),
		RemoteAddr:     s.stream.RemoteAddr(),
		Role:           log.RoleServer,
	})

	<-r.Done()
	r.Destroy()

	err := r.Err()
	if errors.Is(err, io.EOF) || errors.Is(err, responder.ErrDisconnected) {
		return nil
	}
	return err
}

// closeAll drops every subscription of the session.
func (s *session) closeAll() {
	for dev, sub := range s.subs {
		sub.entry.remove(sub)
		delete(s.subs, dev)
	}
}

// printValue writes an integer reply line.
func (s *session) printValue(v int) error {
	if _, err := fmt.Fprintf(s.stream, "%d\n", v); err != nil {
		return err
	}
	res := int64(v)
	s.logText(log.DirectionOut, "", &res)
	return nil
}

// printResult writes n, or the code of err when it is not nil.
func (s *session) printResult(n int, err error) error {
	if err != nil {
		return s.printValue(int(wire.CodeOf(err)))
	}
	return s.printValue(n)
}

// printPayload writes the length of b, b itself and a newline.
func (s *session) printPayload(b []byte) error {
	if err := s.printValue(len(b)); err != nil {
		return err
	}
	if _, err := s.stream.Write(b); err != nil {
		return err
	}
	_, err := s.stream.WriteString("\n")
	return err
}

func (s *session) logText(dir log.Direction, line string, result *int64) {
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.stream.ConnID(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryText,
		LocalRole:    log.RoleServer,
		RemoteAddr:   s.stream.RemoteAddr(),
		Text:         &log.TextEvent{Line: line, Result: result},
	})
}

func (s *session) logState(from, to string) {
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.stream.ConnID(),
		Layer:        log.LayerService,
		Category:     log.CategoryState,
		LocalRole:    log.RoleServer,
		RemoteAddr:   s.stream.RemoteAddr(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: from,
			NewState: to,
		},
	})
}
