package amqp

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// linkRecord is enough information to re-attach a Sender or Receiver after
// its connection has been torn down and redialed.
type linkRecord struct {
	addr         string
	senderOpts   *SenderOptions
	receiverOpts *ReceiverOptions // nil for a sender record
	sender       *Sender
	receiver     *Receiver
	anonymous    bool
}

// sessionRecord tracks one Session opened through a Connection and every
// link attached under it, so the reconnect coordinator can replay the
// whole topology against a freshly dialed engine.
type sessionRecord struct {
	mu      sync.Mutex
	session *Session
	opts    *SessionOptions
	links   []*linkRecord
}

func (rec *sessionRecord) addSender(s *Sender, addr string, opts *SenderOptions) {
	if rec == nil {
		return
	}
	rec.mu.Lock()
	rec.links = append(rec.links, &linkRecord{addr: addr, senderOpts: opts, sender: s, anonymous: addr == ""})
	rec.mu.Unlock()
}

func (rec *sessionRecord) addReceiver(r *Receiver, addr string, opts *ReceiverOptions) {
	if rec == nil {
		return
	}
	rec.mu.Lock()
	rec.links = append(rec.links, &linkRecord{addr: addr, receiverOpts: opts, receiver: r})
	rec.mu.Unlock()
}

// reconnectCoordinator watches a Connection's underlying engine and, on a
// recoverable failure, redials the broker (trying Hosts in round-robin
// order after the original address), re-Begins every tracked session, and
// re-Attaches every tracked link against the new engine. It fires
// OnInterrupted/OnReconnected/OnFailed from its own goroutine, each
// exactly once per transition.
type reconnectCoordinator struct {
	c       *Connection
	opts    *ReconnectOptions
	hosts   []string
	hostIdx int
}

func newReconnectCoordinator(c *Connection) *reconnectCoordinator {
	rc := &reconnectCoordinator{c: c, opts: c.opts.Reconnect}
	rc.hosts = append(rc.hosts, c.addr)
	rc.hosts = append(rc.hosts, rc.opts.Hosts...)
	return rc
}

// run blocks for the Connection's lifetime, re-dialing on every
// recoverable engine loss until the connection is closed gracefully,
// reconnect gives up, or a fatal error is observed.
func (rc *reconnectCoordinator) run() {
	engine := rc.c.currentEngine()
	for {
		<-engine.done
		err := engine.err()

		if err == nil || !recoverable(err) {
			// graceful Close, or a cause reconnect can't do anything about.
			if err != nil && rc.opts.OnFailed != nil {
				rc.opts.OnFailed(err)
			}
			return
		}

		if rc.opts.OnInterrupted != nil {
			rc.opts.OnInterrupted(err)
		}

		newEngine, err := rc.redial()
		if err != nil {
			if rc.opts.OnFailed != nil {
				rc.opts.OnFailed(err)
			}
			return
		}

		if err := rc.replay(newEngine); err != nil {
			if rc.opts.OnFailed != nil {
				rc.opts.OnFailed(err)
			}
			return
		}

		rc.c.adoptEngine(newEngine)
		if rc.opts.OnReconnected != nil {
			rc.opts.OnReconnected()
		}

		engine = newEngine
	}
}

// recoverable reports whether err represents a transport/protocol failure
// worth retrying, as opposed to one the peer or the local caller can't
// recover from by redialing.
func recoverable(err error) bool {
	switch e := err.(type) {
	case *IOError:
		return true
	case *RemotelyClosedError:
		return true
	case *SecurityError:
		// sys-temp outcomes are worth retrying; auth/sys/sys-perm are not.
		return e.Temporary
	default:
		return false
	}
}

// redial tries each configured host in round-robin order, backing off
// between attempts, until one succeeds or MaxAttempts is exhausted.
func (rc *reconnectCoordinator) redial() (*conn, error) {
	attempt := 0
	var lastErr error
	for rc.opts.MaxAttempts == 0 || attempt < rc.opts.MaxAttempts {
		if d := rc.opts.delayFor(attempt); d > 0 {
			time.Sleep(d)
		}

		addr := rc.hosts[rc.hostIdx%len(rc.hosts)]
		rc.hostIdx++

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout(rc.c.opts))
		stream, err := dialTransport(ctx, addr, rc.c.opts)
		if err == nil {
			engine, derr := dialConn(ctx, stream, rc.c.opts)
			if derr == nil {
				cancel()
				return engine, nil
			}
			_ = stream.Close()
			err = derr
		}
		cancel()

		lastErr = pkgerrors.Wrapf(err, "reconnect to %s", addr)
		if !recoverable(asIOError(err)) {
			return nil, lastErr
		}
		attempt++
	}
	return nil, lastErr
}

func dialTimeout(opts *ConnOptions) time.Duration {
	if opts != nil && opts.Timeout > 0 {
		return opts.Timeout
	}
	return 30 * time.Second
}

func asIOError(err error) error {
	switch err.(type) {
	case *SecurityError, *IOError:
		return err
	default:
		return &IOError{inner: err}
	}
}

// replay re-Begins every tracked session against newEngine and re-Attaches
// every tracked link, reusing each original Source/Target/capability
// configuration and link name. Sessions/Senders/Receivers are rebound in
// place, on the same pointers the caller already holds, so their mux
// goroutines restart against the new engine transparently.
func (rc *reconnectCoordinator) replay(newEngine *conn) error {
	rc.c.mu.Lock()
	records := append([]*sessionRecord(nil), rc.c.sessions...)
	rc.c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout(rc.c.opts))
	defer cancel()

	for _, rec := range records {
		if err := newEngine.bindSession(ctx, rec.session, rec.opts); err != nil {
			return err
		}

		rec.mu.Lock()
		links := append([]*linkRecord(nil), rec.links...)
		rec.mu.Unlock()

		for _, lr := range links {
			var err error
			switch {
			case lr.sender != nil && lr.anonymous:
				err = reattachAnonymousSender(ctx, lr.sender, rec.session, lr.senderOpts)
			case lr.sender != nil:
				err = reattachSender(ctx, lr.sender, rec.session, lr.addr, lr.senderOpts)
			case lr.receiver != nil:
				err = reattachReceiver(ctx, lr.receiver, rec.session, lr.addr, lr.receiverOpts)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// reattachSender rebuilds old's per-connection link state from its
// original options and re-runs the Attach handshake on old itself, keeping
// the original link name.
func reattachSender(ctx context.Context, old *Sender, sess *Session, addr string, opts *SenderOptions) error {
	fresh, err := newSender(addr, sess, opts)
	if err != nil {
		return err
	}
	fresh.key.name = old.key.name
	adoptSender(old, fresh)
	return old.attach(ctx, sess)
}

func reattachAnonymousSender(ctx context.Context, old *Sender, sess *Session, opts *SenderOptions) error {
	if !sess.conn.supportsAnonymousRelay() {
		return ErrUnsupported
	}
	fresh, err := newSender("", sess, opts)
	if err != nil {
		return err
	}
	fresh.key.name = old.key.name
	fresh.target = nil
	adoptSender(old, fresh)
	return old.attach(ctx, sess)
}

func reattachReceiver(ctx context.Context, old *Receiver, sess *Session, addr string, opts *ReceiverOptions) error {
	fresh, err := newReceiver(addr, sess, opts)
	if err != nil {
		return err
	}
	fresh.key.name = old.key.name
	adoptReceiver(old, fresh)
	return old.attach(ctx, sess)
}

// adoptSender copies fresh's configuration into old and resets old's
// delivery tracking; old.attach then re-runs the handshake and restarts
// the mux on old. Trackers for deliveries lost with the previous engine
// were already failed by the old mux's unwind.
func adoptSender(old, fresh *Sender) {
	old.link = fresh.link
	old.detachOnDispositionError = fresh.detachOnDispositionError
	old.autoSettle = fresh.autoSettle

	old.mu.Lock()
	old.unsettled = make(map[uint32]*Tracker)
	old.streaming = false
	old.mu.Unlock()
}

func adoptReceiver(old, fresh *Receiver) {
	old.link = fresh.link
	old.manualCreditor.reset()
	old.creditWindow = fresh.creditWindow
	old.queueCap = fresh.queueCap
	old.inflight = nil

	old.mu.Lock()
	old.messages = fresh.messages
	old.unsettled = make(map[uint32]struct{})
	old.mu.Unlock()
}

func (c *Connection) currentEngine() *conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

func (c *Connection) adoptEngine(e *conn) {
	c.mu.Lock()
	c.engine = e
	c.mu.Unlock()
}
