// Package channel implements the secure framed transport: a duplex byte
// stream whose payloads are encrypted with a key that is replaced after
// every exchange.
//
// Every write encrypts the payload with the current key, frames it, then
// generates a fresh random key and sends it (encrypted under the key it
// replaces). Every read decrypts the frame with the current key and then
// consumes the peer's replacement key. Reads and writes therefore have to
// happen in lock-step with the peer; a Channel supports one reader and one
// writer at a time.
package channel

import (
	"context"
	"crypto/rand"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/SlappyBacon/pico/internal/cipher"
	"github.com/SlappyBacon/pico/internal/protocol"
	"github.com/SlappyBacon/pico/internal/telemetry"
	"github.com/hashicorp/go-metrics"
)

type Options struct {
	// KeySize is the rotating key length in bytes. Both peers must agree.
	KeySize int
	// BufferSize is the chunk size used by PipeIn/PipeOut.
	BufferSize int
	// MaxFrameSize bounds the payload length accepted from the peer.
	MaxFrameSize int
	MetricSink   metrics.MetricSink
}

func DefaultOptions() Options {
	return Options{
		KeySize:      protocol.DefaultKeySize,
		BufferSize:   protocol.DefaultBufferSize,
		MaxFrameSize: protocol.DefaultMaxFrameSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.KeySize <= 0 {
		o.KeySize = d.KeySize
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = d.MaxFrameSize
	}
	if o.MaxFrameSize < o.BufferSize {
		o.MaxFrameSize = o.BufferSize
	}
	return o
}

type Channel struct {
	conn   net.Conn
	opts   Options
	msink  metrics.MetricSink
	closed atomic.Bool

	// mu is held for the whole of one payload+key exchange.
	mu  sync.Mutex
	key []byte

	// tamper rewrites the bytes PipeOut puts on the wire for a chunk without
	// touching the hash sent after it. Only tests set it.
	tamper func(index, attempt int, chunk []byte) []byte
}

func newChannel(conn net.Conn, opts Options) *Channel {
	opts = opts.withDefaults()
	return &Channel{
		conn:  conn,
		opts:  opts,
		msink: telemetry.Sink(opts.MetricSink),
	}
}

// NewServer wraps the passive side of conn. It generates the first key and
// sends it in clear.
func NewServer(conn net.Conn, opts Options) (*Channel, error) {
	c := newChannel(conn, opts)

	key, err := c.generateKey()
	if err != nil {
		_ = conn.Close()
		return nil, protocol.NewError(protocol.KindConnection, "generate key", err)
	}
	if _, err := conn.Write(key); err != nil {
		_ = conn.Close()
		return nil, protocol.NewError(protocol.KindConnection, "send key", err)
	}

	c.key = key
	return c, nil
}

// NewClient wraps the active side of conn and receives the first key.
func NewClient(conn net.Conn, opts Options) (*Channel, error) {
	c := newChannel(conn, opts)

	key := make([]byte, c.opts.KeySize)
	if _, err := io.ReadFull(conn, key); err != nil {
		_ = conn.Close()
		return nil, protocol.NewError(protocol.KindConnection, "receive key", err)
	}

	c.key = key
	return c, nil
}

// Dial connects to addr and performs the active side of the key exchange.
// A deadline on ctx bounds both the connect and the first key.
func Dial(ctx context.Context, addr string, opts Options) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, protocol.NewError(protocol.KindConnection, "dial "+addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := NewClient(conn, opts)
	if err != nil {
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})
	return c, nil
}

func (c *Channel) generateKey() ([]byte, error) {
	key := make([]byte, c.opts.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()

	c.mu.Lock()
	clear(c.key)
	c.key = nil
	c.mu.Unlock()

	return err
}

func (c *Channel) IsClosed() bool {
	return c.closed.Load()
}

// abort tears the channel down after a failed exchange. Caller holds mu.
func (c *Channel) abort() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
	}
	clear(c.key)
	c.key = nil
}

func (c *Channel) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Channel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Channel) Options() Options {
	return c.opts
}

func (c *Channel) ioError(op string, err error) error {
	if c.closed.Load() {
		return protocol.NewError(protocol.KindClosed, op, err)
	}
	if perr, ok := err.(*protocol.Error); ok {
		return perr
	}
	return protocol.NewError(protocol.KindConnection, op, err)
}

// writePayload sends one encrypted frame followed by the replacement key.
func (c *Channel) writePayload(op string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return protocol.NewError(protocol.KindClosed, op, nil)
	}

	next, err := c.generateKey()
	if err != nil {
		return protocol.NewError(protocol.KindConnection, op, err)
	}

	size := protocol.FrameHeaderSize + len(payload) + len(next)
	buf := make([]byte, 0, size)
	buf = append(buf, protocol.EncodeInt(int32(len(payload)))...)
	buf = append(buf, payload...)
	buf = append(buf, next...)

	cipher.EncryptInPlace(buf[protocol.FrameHeaderSize:], c.key, 0)

	if _, err := c.conn.Write(buf); err != nil {
		err = c.ioError(op, err)
		c.abort()
		return err
	}

	clear(c.key)
	c.key = next
	return nil
}

// readPayload receives one frame and the replacement key that follows it.
func (c *Channel) readPayload(op string) ([]byte, error) {
	return c.readPayloadMax(op, c.opts.MaxFrameSize)
}

// readPayloadMax is readPayload with a frame size limit of limit bytes.
func (c *Channel) readPayloadMax(op string, limit int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, protocol.NewError(protocol.KindClosed, op, nil)
	}

	payload, err := protocol.ReadFrame(c.conn, limit)
	if err != nil {
		err = c.ioError(op, err)
		c.abort()
		return nil, err
	}

	next := make([]byte, c.opts.KeySize)
	if _, err := io.ReadFull(c.conn, next); err != nil {
		err = c.ioError(op, err)
		c.abort()
		return nil, err
	}

	cipher.DecryptInPlace(payload, c.key, 0)
	cipher.DecryptInPlace(next, c.key, len(payload))

	clear(c.key)
	c.key = next
	return payload, nil
}

func (c *Channel) WriteByteArray(b []byte) error {
	return c.writePayload("write bytes", b)
}

func (c *Channel) ReadByteArray() ([]byte, error) {
	return c.readPayload("read bytes")
}

func (c *Channel) WriteText(s string) error {
	return c.writePayload("write text", []byte(s))
}

func (c *Channel) ReadText() (string, error) {
	b, err := c.readPayload("read text")
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", protocol.Errorf(protocol.KindProtocol, "read text", "payload is not valid UTF-8")
	}
	return string(b), nil
}

// Expect reads a text frame and fails with a handshake error unless it
// equals want.
func (c *Channel) Expect(want string) error {
	got, err := c.ReadText()
	if err != nil {
		return err
	}
	if got != want {
		return protocol.Errorf(protocol.KindHandshake, "expect", "expected %q, got %q", want, got)
	}
	return nil
}

func (c *Channel) WriteInt(v int32) error {
	return c.writePayload("write int", protocol.EncodeInt(v))
}

func (c *Channel) ReadInt() (int32, error) {
	b, err := c.readPayload("read int")
	if err != nil {
		return 0, err
	}
	return protocol.DecodeInt(b)
}

func (c *Channel) WriteLong(v int64) error {
	return c.writePayload("write long", protocol.EncodeLong(v))
}

func (c *Channel) ReadLong() (int64, error) {
	b, err := c.readPayload("read long")
	if err != nil {
		return 0, err
	}
	return protocol.DecodeLong(b)
}

func (c *Channel) WriteIntArray(values []int32) error {
	return c.writePayload("write int array", protocol.EncodeIntArray(values))
}

func (c *Channel) ReadIntArray() ([]int32, error) {
	b, err := c.readPayload("read int array")
	if err != nil {
		return nil, err
	}
	return protocol.DecodeIntArray(b)
}
