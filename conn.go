package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tabish121/AMQPerative/internal/auth"
	"github.com/tabish121/AMQPerative/internal/buffer"
	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
	"github.com/tabish121/AMQPerative/internal/transport"
)

const (
	defaultMaxFrameSize = 65536
	minMaxFrameSize     = 512
)

// conn is the per-connection engine: it owns the transport, negotiates
// SASL and Open, and multiplexes frames to/from the sessions opened on it.
type conn struct {
	net         transport.ByteStream
	containerID string
	hostname    string

	maxFrameSize     uint32
	peerMaxFrameSize uint32
	channelMax       uint16
	peerChannelMax   uint16
	idleTimeout      time.Duration
	peerIdleTimeout  time.Duration

	peerOfferedCapabilities encoding.MultiSymbol

	properties map[string]interface{}

	txMu   sync.Mutex
	txBuf  buffer.Buffer
	lastTx time.Time

	mu                sync.Mutex
	sessionsByChannel map[uint16]*Session
	nextChannel       uint16

	rxFrames chan rxFrame

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	closeReq chan *encoding.Error
}

type rxFrame struct {
	channel uint16
	body    frames.FrameBody
}

func (c *conn) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// dialConn runs the full handshake over an already-established transport:
// protocol header exchange, optional SASL negotiation, and the Open
// performative exchange, then starts the connection's background
// goroutines.
func dialConn(ctx context.Context, stream transport.ByteStream, opts *ConnOptions) (*conn, error) {
	c := &conn{
		net:               stream,
		containerID:       nextConnID(),
		maxFrameSize:      defaultMaxFrameSize,
		channelMax:        65535,
		sessionsByChannel: make(map[uint16]*Session),
		rxFrames:          make(chan rxFrame, 16),
		done:              make(chan struct{}),
		closeReq:          make(chan *encoding.Error, 1),
	}

	var cred *auth.Credential
	if opts != nil {
		if opts.ContainerID != "" {
			c.containerID = opts.ContainerID
		}
		c.hostname = opts.HostName
		if opts.MaxFrameSize >= minMaxFrameSize {
			c.maxFrameSize = opts.MaxFrameSize
		}
		if opts.ChannelMax != 0 {
			c.channelMax = opts.ChannelMax
		}
		c.idleTimeout = opts.IdleTimeout
		c.properties = opts.Properties
		cred = opts.SASLType
	}

	if cred != nil {
		if err := c.negotiateProtocol(ctx, frames.ProtoSASL); err != nil {
			return nil, &IOError{inner: err}
		}
		if err := negotiateSASL(ctx, c, *cred); err != nil {
			return nil, err
		}
	}

	if err := c.negotiateProtocol(ctx, frames.ProtoAMQP); err != nil {
		return nil, &IOError{inner: err}
	}

	if err := c.exchangeOpen(ctx); err != nil {
		return nil, err
	}

	go c.rxLoop()
	go c.mux()

	return c, nil
}

// negotiateProtocol exchanges the 8-byte protocol header for id and
// validates the peer echoes the same one.
func (c *conn) negotiateProtocol(ctx context.Context, id frames.ProtoID) error {
	var buf buffer.Buffer
	frames.ProtoHeader{ProtoID: id, Major: 1}.Encode(&buf)
	if _, err := c.net.Write(buf.Bytes()); err != nil {
		return err
	}

	hdr := make([]byte, 8)
	if dl, ok := ctx.Deadline(); ok {
		_ = c.net.SetReadDeadline(dl)
	}
	if _, err := io.ReadFull(c.net, hdr); err != nil {
		return err
	}
	ph, err := frames.ParseProtoHeader(hdr)
	if err != nil {
		return err
	}
	if ph.ProtoID != id {
		return fmt.Errorf("amqp: unexpected protocol id %d, wanted %d", ph.ProtoID, id)
	}
	return nil
}

func (c *conn) exchangeOpen(ctx context.Context) error {
	var idleMs *encoding.Milliseconds
	if c.idleTimeout > 0 {
		ms := encoding.Milliseconds(c.idleTimeout)
		idleMs = &ms
	}

	open := &frames.PerformOpen{
		ContainerID:  c.containerID,
		Hostname:     c.hostname,
		MaxFrameSize: c.maxFrameSize,
		ChannelMax:   c.channelMax,
		IdleTimeout:  idleMs,
		Properties:   toSymbolMap(c.properties),
	}
	logf(1, "TX (open): %s", open)
	if err := c.txFrameRaw(0, open); err != nil {
		return &IOError{inner: err}
	}

	fr, err := c.readOneFrame(ctx)
	if err != nil {
		return &IOError{inner: err}
	}
	remoteOpen, ok := fr.body.(*frames.PerformOpen)
	if !ok {
		if cls, isClose := fr.body.(*frames.PerformClose); isClose {
			logf(1, "RX (close): %s", cls)
			return openRejectedError(cls.Error)
		}
		return fmt.Errorf("amqp: expected open, got %T", fr.body)
	}
	logf(1, "RX (open): %s", remoteOpen)

	c.peerMaxFrameSize = remoteOpen.MaxFrameSize
	if c.peerMaxFrameSize == 0 {
		c.peerMaxFrameSize = 4294967295
	}
	c.peerChannelMax = remoteOpen.ChannelMax
	c.peerOfferedCapabilities = remoteOpen.OfferedCapabilities
	if remoteOpen.IdleTimeout != nil {
		c.peerIdleTimeout = time.Duration(*remoteOpen.IdleTimeout)
	}
	return nil
}

// readOneFrame is used only during the handshake, before rxLoop is running.
func (c *conn) readOneFrame(ctx context.Context) (rxFrame, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.net.SetReadDeadline(dl)
	}
	hdr := make([]byte, frames.HeaderSize)
	if _, err := io.ReadFull(c.net, hdr); err != nil {
		return rxFrame{}, err
	}
	h, err := frames.ParseHeader(hdr)
	if err != nil {
		return rxFrame{}, err
	}
	body := make([]byte, h.Size-frames.HeaderSize)
	if len(body) > 0 {
		if _, err := io.ReadFull(c.net, body); err != nil {
			return rxFrame{}, err
		}
	}
	if len(body) == 0 {
		return rxFrame{channel: h.Channel, body: nil}, nil
	}
	fb, err := frames.ParseBody(buffer.New(body))
	if err != nil {
		return rxFrame{}, err
	}
	return rxFrame{channel: h.Channel, body: fb}, nil
}

// txFrameRaw encodes and writes fr directly to the transport, without the
// closed-connection check txFrame performs; used for the handshake and
// SASL frames, connection-level performatives (Open, Close), heartbeat
// empty frames, and by txFrame itself.
func (c *conn) txFrameRaw(channel uint16, fr frames.FrameBody) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	frameType := frames.TypeAMQP
	switch fr.(type) {
	case *frames.SASLInit, *frames.SASLResponse:
		frameType = frames.TypeSASL
	}

	c.txBuf.Reset()
	if err := frames.Encode(&c.txBuf, frameType, channel, fr); err != nil {
		return err
	}
	if _, err := c.net.Write(c.txBuf.Bytes()); err != nil {
		return err
	}
	c.lastTx = time.Now()
	return nil
}

func (c *conn) sinceLastTx() time.Duration {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return time.Since(c.lastTx)
}

// txFrame is the entry point sessions and links use to write a frame; it
// fails fast once the connection has begun closing.
func (c *conn) txFrame(channel uint16, fr frames.FrameBody) error {
	select {
	case <-c.done:
		if err := c.err(); err != nil {
			return err
		}
		return ErrResourceClosed
	default:
	}
	return c.txFrameRaw(channel, fr)
}

// NewSession allocates a channel, sends Begin, and returns once the
// remote's answering Begin has been observed.
func (c *conn) NewSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	s := &Session{}
	if err := c.bindSession(ctx, s, opts); err != nil {
		return nil, err
	}
	return s, nil
}

// bindSession initializes s (a fresh Session, or an existing one being
// rebound after reconnect) onto a newly allocated channel and runs the
// Begin handshake.
func (c *conn) bindSession(ctx context.Context, s *Session, opts *SessionOptions) error {
	c.mu.Lock()
	channel := c.nextChannel
	c.nextChannel++
	initSession(s, c, channel, opts)
	c.sessionsByChannel[channel] = s
	c.mu.Unlock()

	if err := s.begin(ctx); err != nil {
		c.mu.Lock()
		delete(c.sessionsByChannel, channel)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Close sends Close and waits for the connection to fully unwind.
func (c *conn) Close(ctx context.Context) error {
	select {
	case c.closeReq <- nil:
	default:
	}
	select {
	case <-c.done:
		if _, ok := c.err().(*RemotelyClosedError); ok {
			return nil
		}
		return c.err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rxLoop blocks on transport reads, parses frames, and feeds them to mux.
// It is the only goroutine that reads from c.net.
func (c *conn) rxLoop() {
	// clear any deadline left over from the handshake reads.
	_ = c.net.SetReadDeadline(time.Time{})

	for {
		hdr := make([]byte, frames.HeaderSize)
		if c.idleTimeout > 0 {
			_ = c.net.SetReadDeadline(time.Now().Add(c.idleTimeout))
		}
		if _, err := io.ReadFull(c.net, hdr); err != nil {
			var nerr net.Error
			if c.idleTimeout > 0 && errors.As(err, &nerr) && nerr.Timeout() {
				// the remote fell silent past our advertised idle-timeout.
				cls := &frames.PerformClose{Error: &encoding.Error{
					Condition:   ErrCondResourceLimitExceeded,
					Description: "local idle timeout expired",
				}}
				logf(1, "TX (close): %s", cls)
				_ = c.txFrameRaw(0, cls)
			}
			c.shutdown(&IOError{inner: err})
			return
		}
		h, err := frames.ParseHeader(hdr)
		if err != nil {
			c.shutdown(&IOError{inner: err})
			return
		}
		bodyLen := int(h.Size) - frames.HeaderSize
		var body []byte
		if bodyLen > 0 {
			body = make([]byte, bodyLen)
			if _, err := io.ReadFull(c.net, body); err != nil {
				c.shutdown(&IOError{inner: err})
				return
			}
		}

		var fb frames.FrameBody
		if bodyLen > 0 {
			fb, err = frames.ParseBody(buffer.New(body))
			if err != nil {
				c.shutdown(&IOError{inner: err})
				return
			}
		}

		select {
		case c.rxFrames <- rxFrame{channel: h.Channel, body: fb}:
		case <-c.done:
			return
		}
	}
}

// mux is the connection's single dispatch goroutine: it owns
// sessionsByChannel, routes inbound frames, emits heartbeats, and handles
// connection-level Close.
func (c *conn) mux() {
	var heartbeat <-chan time.Time
	if c.peerIdleTimeout > 0 {
		t := time.NewTicker(c.peerIdleTimeout / 2)
		defer t.Stop()
		heartbeat = t.C
	}

	for {
		select {
		case fr := <-c.rxFrames:
			if fr.body == nil {
				continue // empty frame: heartbeat only
			}
			if err := c.dispatch(fr); err != nil {
				c.shutdown(err)
				return
			}

		case <-heartbeat:
			if c.sinceLastTx() >= c.peerIdleTimeout/2 {
				_ = c.txFrameRaw(0, frames.EmptyFrame{})
			}

		case cond := <-c.closeReq:
			close0 := &frames.PerformClose{Error: cond}
			logf(1, "TX (close): %s", close0)
			_ = c.txFrameRaw(0, close0)
			c.shutdown(nil)
			return

		case <-c.done:
			return
		}
	}
}

func (c *conn) dispatch(fr rxFrame) error {
	if fr.channel == 0 {
		switch b := fr.body.(type) {
		case *frames.PerformClose:
			logf(1, "RX (close): %s", b)
			if b.Error != nil {
				return &RemotelyClosedError{RemoteError: b.Error}
			}
			return errConnClosed
		}
	}

	c.mu.Lock()
	s, ok := c.sessionsByChannel[fr.channel]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("amqp: frame on unknown channel %d", fr.channel)
	}

	if begin, ok := fr.body.(*frames.PerformBegin); ok && s.beginResult == nil {
		s.muxBegin(begin)
		return nil
	}

	select {
	case s.rx <- fr.body:
	case <-s.done:
	case <-c.done:
	}
	return nil
}

// shutdown runs once: it records the cause, closes c.done (unblocking every
// waiter on it, session mux goroutines included), and closes the transport.
func (c *conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		c.mu.Unlock()
		close(c.done)
		_ = c.net.Close()
	})
}

var errConnClosed = &ConnectionError{}

// openRejectedError maps a Close received in place of the answering Open.
// Security conditions become a fatal SecurityError; anything else is a
// plain remote close the reconnect coordinator may retry.
func openRejectedError(remoteErr *encoding.Error) error {
	if remoteErr != nil && remoteErr.Condition == ErrCondUnauthorizedAccess {
		return &SecurityError{inner: &RemotelyClosedError{RemoteError: remoteErr}}
	}
	return &RemotelyClosedError{RemoteError: remoteErr}
}

func toSymbolMap(m map[string]interface{}) map[encoding.Symbol]interface{} {
	if len(m) == 0 {
		return nil
	}
	out := make(map[encoding.Symbol]interface{}, len(m))
	for k, v := range m {
		out[encoding.Symbol(k)] = v
	}
	return out
}
