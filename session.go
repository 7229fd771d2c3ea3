package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
)

const defaultWindow = 5000

// Session multiplexes senders and receivers over a single connection
// channel, tracking handle allocation and the session-level transfer
// windows that bound how many deliveries may be in flight.
type Session struct {
	conn    *conn
	channel uint16 // local channel, assigned by conn at Begin time
	id      string // conn.containerID:channel, used to derive default link names

	incomingWindow uint32
	outgoingWindow uint32
	maxLinks       uint32

	nextDeliveryID uint32 // atomic; next outgoing delivery-id

	// Transfer-window accounting, touched only on the mux goroutine.
	nextOutgoingID       uint32
	nextIncomingID       uint32
	remoteIncomingWindow uint32
	localIncomingWindow  uint32

	rx chan frames.FrameBody // frames addressed to this channel, fed by conn's mux
	tx chan *frames.PerformTransfer

	mu         sync.Mutex
	handles    map[uint32]*link
	nextHandle uint32

	begun       chan struct{} // closed once the remote's Begin is observed
	beginResult *frames.PerformBegin

	done chan struct{}
	err  error

	closeReq chan *encoding.Error
}

func newSession(c *conn, channel uint16, opts *SessionOptions) *Session {
	s := &Session{}
	initSession(s, c, channel, opts)
	return s
}

// initSession (re)initializes s for use on channel of c. Called with a
// zero Session at open time, and again on the same pointer when the
// reconnect coordinator rebinds an existing Session to a fresh engine.
func initSession(s *Session, c *conn, channel uint16, opts *SessionOptions) {
	s.conn = c
	s.channel = channel
	s.id = sessionID(c.containerID, uint32(channel))
	s.incomingWindow = defaultWindow
	s.outgoingWindow = defaultWindow
	s.maxLinks = 4294967295
	s.nextDeliveryID = 0
	s.nextOutgoingID = 0
	s.nextIncomingID = 0
	s.remoteIncomingWindow = 0
	s.localIncomingWindow = 0
	s.rx = make(chan frames.FrameBody)
	s.tx = make(chan *frames.PerformTransfer)
	s.handles = make(map[uint32]*link)
	s.nextHandle = 0
	s.begun = make(chan struct{})
	s.beginResult = nil
	s.done = make(chan struct{})
	s.err = nil
	s.closeReq = make(chan *encoding.Error, 1)

	if opts != nil {
		if opts.IncomingWindow != 0 {
			s.incomingWindow = opts.IncomingWindow
		}
		if opts.OutgoingWindow != 0 {
			s.outgoingWindow = opts.OutgoingWindow
		}
		if opts.MaxLinks != 0 {
			s.maxLinks = opts.MaxLinks
		}
	}
}

// begin sends the Begin performative, waits for the remote's answering
// Begin, and starts the session mux.
func (s *Session) begin(ctx context.Context) error {
	begin := &frames.PerformBegin{
		NextOutgoingID: 0,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.outgoingWindow,
		HandleMax:      s.maxLinks,
	}
	logf(1, "TX (begin): %s", begin)
	if err := s.conn.txFrame(s.channel, begin); err != nil {
		return err
	}

	select {
	case <-s.begun:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.conn.done:
		return s.conn.err()
	}

	go s.mux()
	return nil
}

// muxBegin is invoked by conn's dispatcher the first time a frame arrives
// on a newly allocated channel, completing the handshake begin() is
// waiting on.
func (s *Session) muxBegin(fr *frames.PerformBegin) {
	s.beginResult = fr
	close(s.begun)
}

// NewSender opens a sending link with target address addr.
func (s *Session) NewSender(ctx context.Context, addr string, opts *SenderOptions) (*Sender, error) {
	sender, err := newSender(addr, s, opts)
	if err != nil {
		return nil, err
	}
	if err := sender.attach(ctx, s); err != nil {
		return nil, err
	}
	return sender, nil
}

// NewReceiver opens a receiving link with source address addr.
func (s *Session) NewReceiver(ctx context.Context, addr string, opts *ReceiverOptions) (*Receiver, error) {
	receiver, err := newReceiver(addr, s, opts)
	if err != nil {
		return nil, err
	}
	if err := receiver.attach(ctx, s); err != nil {
		return nil, err
	}
	return receiver, nil
}

// Close ends the session, detaching any links still attached.
func (s *Session) Close(ctx context.Context) error {
	select {
	case s.closeReq <- nil:
	default:
	}
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// allocateHandle assigns l the lowest free handle and registers it so
// inbound frames addressed to that handle reach l.rxAttach()/l.rx.
func (s *Session) allocateHandle(l *link) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(len(s.handles)) >= s.maxLinks {
		return 0, errSessionHandleMax
	}

	for {
		h := s.nextHandle
		s.nextHandle++
		if _, ok := s.handles[h]; !ok {
			s.handles[h] = l
			return h, nil
		}
	}
}

// freeHandle releases a handle previously returned by allocateHandle.
func (s *Session) freeHandle(handle uint32) {
	s.mu.Lock()
	delete(s.handles, handle)
	s.mu.Unlock()
}

// txFrame hands fr to the connection's single writer for encoding onto
// this session's channel. Transfer frames are not sent this way: they go
// through s.tx so the session mux can track the transfer windows.
func (s *Session) txFrame(fr frames.FrameBody) error {
	return s.conn.txFrame(s.channel, fr)
}

// mux dispatches inbound frames to the link registered for their handle,
// serializes outgoing Transfers against the remote's incoming-window, and
// ends the session from either side: a local Close sends End, and a remote
// End is answered with End.
func (s *Session) mux() {
	defer s.muxClose()

	s.nextIncomingID = s.beginResult.NextOutgoingID
	s.remoteIncomingWindow = s.beginResult.IncomingWindow
	s.localIncomingWindow = s.incomingWindow

	for {
		select {
		case fr := <-s.rx:
			if err := s.muxHandleFrame(fr); err != nil {
				s.err = err
				return
			}

		case tr := <-s.tx:
			for s.remoteIncomingWindow == 0 {
				select {
				case fr := <-s.rx:
					if err := s.muxHandleFrame(fr); err != nil {
						s.err = err
						return
					}
				case cond := <-s.closeReq:
					s.err = s.sendEnd(cond)
					return
				case <-s.conn.done:
					s.err = s.conn.err()
					return
				}
			}

			logf(3, "TX (session): %s", tr)
			if err := s.conn.txFrame(s.channel, tr); err != nil {
				s.err = err
				return
			}
			s.nextOutgoingID++
			s.remoteIncomingWindow--

		case cond := <-s.closeReq:
			s.err = s.sendEnd(cond)
			return

		case <-s.conn.done:
			s.err = s.conn.err()
			return
		}
	}
}

func (s *Session) sendEnd(cond *encoding.Error) error {
	end := &frames.PerformEnd{Error: cond}
	logf(1, "TX (end): %s", end)
	return s.conn.txFrame(s.channel, end)
}

// muxFlow resets the local incoming-window and advertises it to the
// remote, along with the current transfer-id positions.
func (s *Session) muxFlow() {
	s.localIncomingWindow = s.incomingWindow
	nextIncomingID := s.nextIncomingID
	fr := &frames.PerformFlow{
		NextIncomingID: &nextIncomingID,
		IncomingWindow: s.incomingWindow,
		NextOutgoingID: s.nextOutgoingID,
		OutgoingWindow: s.outgoingWindow,
	}
	logf(1, "TX (session): %s", fr)
	_ = s.conn.txFrame(s.channel, fr)
}

func (s *Session) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformEnd:
		logf(1, "RX (end): %s", fr)
		_ = s.sendEnd(nil)
		if fr.Error != nil {
			return &RemotelyClosedError{RemoteError: fr.Error}
		}
		return ErrSessionClosed

	case *frames.PerformAttach:
		l := s.linkByHandle(fr.Handle)
		if l == nil {
			return fmt.Errorf("amqp: attach response for unknown handle %d", fr.Handle)
		}
		select {
		case l.rxAttach() <- fr:
		default:
		}
		return nil

	case *frames.PerformFlow:
		if fr.NextIncomingID != nil {
			s.remoteIncomingWindow = *fr.NextIncomingID + fr.IncomingWindow - s.nextOutgoingID
		} else {
			s.remoteIncomingWindow = fr.IncomingWindow
		}
		if fr.Handle == nil {
			// session-level flow only; nothing link-specific to route.
			return nil
		}
		return s.routeToLink(*fr.Handle, fr)

	case *frames.PerformTransfer:
		if fr.DeliveryID != nil {
			if *fr.DeliveryID != s.nextIncomingID {
				return fmt.Errorf("amqp: transfer delivery-id %d out of sequence, expected %d",
					*fr.DeliveryID, s.nextIncomingID)
			}
			s.nextIncomingID++
		}
		if s.localIncomingWindow > 0 {
			s.localIncomingWindow--
		}
		if s.localIncomingWindow < s.incomingWindow/2 {
			s.muxFlow()
		}
		return s.routeToLink(fr.Handle, fr)

	case *frames.PerformDisposition:
		return s.broadcastDisposition(fr)

	case *frames.PerformDetach:
		return s.routeToLink(fr.Handle, fr)

	default:
		return fmt.Errorf("amqp: unexpected frame on session: %T", fr)
	}
}

func (s *Session) linkByHandle(handle uint32) *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[handle]
}

func (s *Session) routeToLink(handle uint32, fr frames.FrameBody) error {
	l := s.linkByHandle(handle)
	if l == nil {
		return fmt.Errorf("amqp: frame for unattached handle %d", handle)
	}
	select {
	case l.rx <- fr:
		return nil
	case <-l.detached:
		return nil
	case <-s.done:
		return s.err
	}
}

// broadcastDisposition routes a Disposition to every sender link, since a
// Disposition does not carry a handle. A sender acts on it only when the
// range's first delivery-id matches one of its trackers, and then updates
// that tracker alone; the rest of the range is not looked up.
func (s *Session) broadcastDisposition(fr *frames.PerformDisposition) error {
	s.mu.Lock()
	links := make([]*link, 0, len(s.handles))
	for _, l := range s.handles {
		links = append(links, l)
	}
	s.mu.Unlock()

	for _, l := range links {
		if l.key.role != encoding.RoleSender {
			continue
		}
		select {
		case l.rx <- fr:
		case <-l.detached:
		case <-s.done:
			return s.err
		}
	}
	return nil
}

// muxClose runs once, via defer, when the session mux unwinds, unblocking
// every waiter on s.done. Links registered on the session notice through
// their own select on s.done.
func (s *Session) muxClose() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

var errSessionHandleMax = errors.New("amqp: session handle-max exceeded")
