package amqp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"

	"github.com/tabish121/AMQPerative/internal/transport"
)

// Connection is the imperative facade over a single AMQP 1.0 connection.
// Every blocking method either succeeds, returns an error derived from
// the connection's failure-cause, or respects ctx.
type Connection struct {
	engine *conn

	mu                   sync.Mutex
	defaultSession       *Session
	defaultSessionRecord *sessionRecord
	defaultSender        *Sender

	addr     string
	opts     *ConnOptions
	sessions []*sessionRecord

	reconnect *reconnectCoordinator
}

// Dial establishes a connection to addr, which may be "host:port",
// "amqp://host:port", "amqps://host:port", or "ws(s)://host:port/path".
// opts may be nil to accept every default.
func Dial(ctx context.Context, addr string, opts *ConnOptions) (*Connection, error) {
	if opts != nil {
		cp := *opts
		if cp.Reconnect != nil {
			rcp := *cp.Reconnect
			cp.Reconnect = &rcp
		}
		opts = &cp
	}
	stream, err := dialTransport(ctx, addr, opts)
	if err != nil {
		return nil, &IOError{inner: err}
	}

	engine, err := dialConn(ctx, stream, opts)
	if err != nil {
		_ = stream.Close()
		return nil, err
	}

	c := &Connection{engine: engine, addr: addr, opts: opts}
	if opts != nil && opts.Reconnect != nil && opts.Reconnect.Enabled {
		c.reconnect = newReconnectCoordinator(c)
		go c.reconnect.run()
	}
	return c, nil
}

func dialTransport(ctx context.Context, addr string, opts *ConnOptions) (transport.ByteStream, error) {
	u, err := url.Parse(addr)
	if err != nil || u.Scheme == "" || u.Host == "" {
		// bare "host:port": default to plain TCP.
		return transport.DialTCP(ctx, addr)
	}

	switch u.Scheme {
	case "amqp":
		return transport.DialTCP(ctx, u.Host)
	case "amqps":
		return transport.DialTLS(ctx, u.Host, tlsConfigFor(u, opts))
	case "ws", "amqpws":
		u.Scheme = "ws"
		return transport.DialWS(ctx, u.String(), nil)
	case "wss", "amqpwss":
		u.Scheme = "wss"
		return transport.DialWS(ctx, u.String(), tlsConfigFor(u, opts))
	default:
		return nil, fmt.Errorf("amqp: unsupported scheme %q", u.Scheme)
	}
}

func tlsConfigFor(u *url.URL, opts *ConnOptions) *tls.Config {
	host := u.Hostname()
	if opts != nil && opts.HostName != "" {
		host = opts.HostName
	}
	return &tls.Config{ServerName: host}
}

// NewSession opens a new Session on the connection.
func (c *Connection) NewSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	sess, err := c.currentEngine().NewSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.trackSession(sess, opts)
	return sess, nil
}

// trackSession records sess so the reconnect coordinator can re-Begin it
// (and everything attached under it) after topology loss. A no-op when
// reconnect isn't configured.
func (c *Connection) trackSession(sess *Session, opts *SessionOptions) *sessionRecord {
	if c.reconnect == nil {
		return nil
	}
	rec := &sessionRecord{session: sess, opts: opts}
	c.mu.Lock()
	c.sessions = append(c.sessions, rec)
	c.mu.Unlock()
	return rec
}

// OpenSession is an alias for NewSession, named like the other Open*
// helpers on Connection.
func (c *Connection) OpenSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	return c.NewSession(ctx, opts)
}

// OpenSender opens a Sender to addr on the connection's default session,
// creating that session on first use.
func (c *Connection) OpenSender(ctx context.Context, addr string, opts *SenderOptions) (*Sender, error) {
	sess, rec, err := c.defaultSessionLocked(ctx)
	if err != nil {
		return nil, err
	}
	sender, err := sess.NewSender(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	rec.addSender(sender, addr, opts)
	return sender, nil
}

// OpenReceiver opens a Receiver from addr on the connection's default
// session, creating that session on first use.
func (c *Connection) OpenReceiver(ctx context.Context, addr string, opts *ReceiverOptions) (*Receiver, error) {
	sess, rec, err := c.defaultSessionLocked(ctx)
	if err != nil {
		return nil, err
	}
	receiver, err := sess.NewReceiver(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	rec.addReceiver(receiver, addr, opts)
	return receiver, nil
}

// OpenAnonymousSender opens a sender with a null target, valid only when
// the peer advertised the ANONYMOUS-RELAY capability (relay.go);
// individual messages then carry their destination via Properties.To.
func (c *Connection) OpenAnonymousSender(ctx context.Context, opts *SenderOptions) (*Sender, error) {
	sess, rec, err := c.defaultSessionLocked(ctx)
	if err != nil {
		return nil, err
	}
	sender, err := newAnonymousSender(ctx, sess, opts)
	if err != nil {
		return nil, err
	}
	rec.addSender(sender, "", opts)
	return sender, nil
}

// DefaultSession returns (creating if necessary) the connection's shared
// default session, used by Send and the Open*/DefaultSender helpers.
func (c *Connection) DefaultSession(ctx context.Context) (*Session, error) {
	sess, _, err := c.defaultSessionLocked(ctx)
	return sess, err
}

func (c *Connection) defaultSessionLocked(ctx context.Context) (*Session, *sessionRecord, error) {
	c.mu.Lock()
	if c.defaultSession != nil {
		sess := c.defaultSession
		rec := c.defaultSessionRecord
		c.mu.Unlock()
		return sess, rec, nil
	}
	c.mu.Unlock()

	sess, err := c.currentEngine().NewSession(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	rec := c.trackSession(sess, nil)

	c.mu.Lock()
	c.defaultSession = sess
	c.defaultSessionRecord = rec
	c.mu.Unlock()
	return sess, rec, nil
}

// DefaultSender returns (creating if necessary) a single anonymous sender
// shared by every call to Send.
func (c *Connection) DefaultSender(ctx context.Context) (*Sender, error) {
	c.mu.Lock()
	if c.defaultSender != nil {
		s := c.defaultSender
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	sess, rec, err := c.defaultSessionLocked(ctx)
	if err != nil {
		return nil, err
	}
	sender, err := newAnonymousSender(ctx, sess, nil)
	if err != nil {
		return nil, err
	}
	rec.addSender(sender, "", nil)

	c.mu.Lock()
	c.defaultSender = sender
	c.mu.Unlock()
	return sender, nil
}

// Send encodes and sends msg on the connection's default sender, waiting
// for the remote's Disposition unless the default sender is
// sender-settled.
func (c *Connection) Send(ctx context.Context, msg *Message) (*Tracker, error) {
	sender, err := c.DefaultSender(ctx)
	if err != nil {
		return nil, err
	}
	return sender.Send(ctx, msg)
}

// ContainerID returns this connection's container-id, as sent in Open.
func (c *Connection) ContainerID() string { return c.currentEngine().containerID }

// Close ends the connection gracefully, without an error condition.
func (c *Connection) Close(ctx context.Context) error {
	return c.currentEngine().Close(ctx)
}

// CloseWithError ends the connection, reporting cond to the peer.
func (c *Connection) CloseWithError(ctx context.Context, cond ErrCond, description string) error {
	engine := c.currentEngine()
	select {
	case engine.closeReq <- &Error{Condition: cond, Description: description}:
	default:
	}
	return engine.Close(ctx)
}
