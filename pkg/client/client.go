package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/iio-remote/iiod-go/pkg/backend"
	"github.com/iio-remote/iiod-go/pkg/log"
	"github.com/iio-remote/iiod-go/pkg/model"
	"github.com/iio-remote/iiod-go/pkg/responder"
	"github.com/iio-remote/iiod-go/pkg/wire"
)

const (
	// DefaultTimeout is the timeout applied when Config.Timeout is zero.
	DefaultTimeout = 5 * time.Second

	// maxXMLSize bounds the PRINT payload in binary mode.
	maxXMLSize = 1 << 20

	// maxAttrSize bounds attribute values read through ReadAttr.
	maxAttrSize = 0x10000

	// firstEvstreamID is the ID of the first event stream conversation.
	// Event streams count down from it, blocks count up from 1.
	firstEvstreamID = 0xffff
)

// Conn is the byte stream a Client runs on. *transport.Stream implements
// it.
type Conn interface {
	io.ReadWriteCloser

	// Discard skips n inbound bytes.
	Discard(n int) (int, error)

	// ReadLine reads one line without its terminator.
	ReadLine() (string, error)
}

// Config configures a Client.
type Config struct {
	// Timeout bounds every request. Half of it is forwarded to the daemon
	// as the backend timeout. Zero selects DefaultTimeout; a negative
	// value waits forever.
	Timeout time.Duration

	// Legacy skips the BINARY handshake and stays in text mode.
	Legacy bool

	// Logger is the optional operational logger.
	Logger *slog.Logger

	// ProtocolLogger captures binary frames (optional).
	ProtocolLogger log.Logger

	// OnDisconnect is called once when the connection is lost in binary
	// mode (optional).
	OnDisconnect func(err error)
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout}
}

// Client is a connection to one iiod.
type Client struct {
	config Config
	conn   Conn
	ctx    *model.Context

	// binary mode
	resp *responder.Responder

	// legacy mode: one command in flight at a time
	textMu sync.Mutex

	timeout atomic.Int64

	idMu         sync.Mutex
	nextBlockID  uint16
	nextEvstream uint16
	closeOnce    sync.Once
}

var _ backend.Backend = (*Client)(nil)

// New negotiates the protocol on conn and fetches the context
// description. conn is owned by the Client from then on.
func New(conn Conn, config Config) (*Client, error) {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	c := &Client{
		config:       config,
		conn:         conn,
		nextBlockID:  1,
		nextEvstream: firstEvstreamID,
	}

	if !config.Legacy {
		if err := c.enableBinary(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	if err := c.SetTimeout(config.Timeout); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to set timeout: %w", err)
	}

	ctx, err := c.fetchContext()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to fetch context: %w", err)
	}
	c.ctx = ctx

	c.debugLog("client: connected", "binary", c.Binary(), "devices", len(ctx.Devices))
	return c, nil
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, args...)
	}
}

func (c *Client) enableBinary() error {
	code, err := c.execText(wire.BinaryHandshake)
	var errno wire.Errno
	if errors.As(err, &errno) {
		code, err = int(errno.Code()), nil
	}
	if err != nil {
		return fmt.Errorf("BINARY handshake failed: %w", err)
	}
	if code != 0 {
		c.debugLog("client: daemon refused BINARY, using text protocol", "code", code)
		return nil
	}

	rconfig := responder.DefaultConfig()
	rconfig.Logger = c.config.Logger
	rconfig.ProtocolLogger = c.config.ProtocolLogger
	rconfig.Role = log.RoleClient
	c.resp = responder.New(c.conn, clientHandler{c}, rconfig)
	return nil
}

// clientHandler rejects inbound commands: a daemon only ever responds.
type clientHandler struct{ c *Client }

func (h clientHandler) HandleCommand(cmd wire.Command, _ *responder.CommandData) error {
	return fmt.Errorf("unexpected command %s from daemon", cmd)
}

func (h clientHandler) OnDisconnect(err error) {
	h.c.debugLog("client: disconnected", "error", err)
	if h.c.config.OnDisconnect != nil {
		h.c.config.OnDisconnect(err)
	}
}

// Binary reports whether the binary protocol was negotiated.
func (c *Client) Binary() bool {
	return c.resp != nil
}

// Context implements backend.Backend.
func (c *Client) Context() *model.Context {
	return c.ctx
}

// Done returns a channel closed when a binary connection is lost or
// closed. It is nil in legacy mode.
func (c *Client) Done() <-chan struct{} {
	if c.resp == nil {
		return nil
	}
	return c.resp.Done()
}

// Close closes the connection. Pending calls fail with
// responder.ErrCanceled.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.resp != nil {
			c.resp.Destroy()
		}
		err = c.conn.Close()
	})
	return err
}

// SetTimeout implements backend.Backend. The daemon gets half of d for its
// own backend; d applies locally. A negative or zero d waits forever.
func (c *Client) SetTimeout(d time.Duration) error {
	if d < 0 {
		d = 0
	}
	remote := int32((d / 2).Milliseconds())

	if c.resp != nil {
		c.resp.SetTimeout(d)
		c.timeout.Store(int64(d))
		_, err := c.resp.DefaultIO().ExecSimpleCommand(wire.Command{Op: wire.OpTimeout, Code: remote})
		return err
	}

	c.timeout.Store(int64(d))
	_, err := c.execText(fmt.Sprintf("TIMEOUT %d\r\n", remote))
	if errors.Is(err, wire.EINVAL) {
		// minimal daemons do not implement TIMEOUT
		c.debugLog("client: unable to set remote timeout")
		return nil
	}
	return err
}

// Timeout returns the current request timeout.
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

func (c *Client) fetchContext() (*model.Context, error) {
	var data []byte

	if c.resp != nil {
		buf := make([]byte, maxXMLSize)
		n, err := c.resp.DefaultIO().ExecCommand(wire.Command{Op: wire.OpPrint}, nil, [][]byte{buf})
		if err != nil {
			return nil, err
		}
		if int(n) > len(buf) {
			return nil, wire.EOVERFLOW
		}
		data = buf[:n]
	} else {
		var err error
		data, err = c.printLegacy()
		if err != nil {
			return nil, err
		}
	}

	if !bytes.HasPrefix(data, []byte(model.XMLPrefix)) {
		c.debugLog("client: received compressed context description", "size", len(data))
		var err error
		data, err = decompressXML(data)
		if err != nil {
			return nil, err
		}
	}

	return model.ParseXML(data)
}

func (c *Client) printLegacy() ([]byte, error) {
	c.textMu.Lock()
	defer c.textMu.Unlock()

	n, err := c.execTextLocked("ZPRINT\r\n")
	if errors.Is(err, wire.EINVAL) {
		n, err = c.execTextLocked("PRINT\r\n")
	}
	if err != nil {
		return nil, err
	}

	// the payload is followed by a newline
	data := make([]byte, n+1)
	if err := c.readFullLocked(data); err != nil {
		return nil, err
	}
	return data[:n], nil
}

var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))

func decompressXML(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wire.EIO, err)
	}
	return out, nil
}

func (c *Client) device(dev int) (*model.Device, error) {
	d := c.ctx.Device(dev)
	if d == nil {
		return nil, wire.ENODEV
	}
	return d, nil
}

func (c *Client) allocBlockID() uint16 {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	id := c.nextBlockID
	c.nextBlockID++
	if c.nextBlockID == 0 {
		c.nextBlockID = 1
	}
	return id
}

func (c *Client) allocEvstreamID() uint16 {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	id := c.nextEvstream
	c.nextEvstream--
	if c.nextEvstream == 0 {
		c.nextEvstream = firstEvstreamID
	}
	return id
}
