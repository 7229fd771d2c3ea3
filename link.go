package amqp

import (
	"context"
	"fmt"

	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
)

// linkKey identifies a link within a session: names must be unique per
// role, matching AMQP 1.0's allowance for a sender and a receiver to share
// a name.
type linkKey struct {
	name string
	role encoding.Role
}

// link holds the state shared by Sender and Receiver: attach/detach
// bookkeeping, handle allocation, and the link-credit/delivery-count
// counters the Sender and Receiver keep for link flow control. Sender and
// Receiver embed it and extend
// the mux loop with their own frame handling.
type link struct {
	key     linkKey
	handle  uint32
	session *Session

	source *encoding.Source
	target *encoding.Target

	senderSettleMode   *encoding.SenderSettleMode
	receiverSettleMode *encoding.ReceiverSettleMode
	maxMessageSize     uint64
	dynamicAddr        bool
	properties         map[encoding.Symbol]interface{}

	// linkCredit/deliveryCount are mutated only on the session/link mux
	// goroutine.
	linkCredit    uint32
	deliveryCount uint32

	rx           chan frames.FrameBody
	close        chan struct{} // closed by the user to request detach
	detached     chan struct{} // closed once the mux has unwound
	err          error
	remoteDetach *frames.PerformDetach // set if the remote detached first
	detachCond   *encoding.Error       // local condition to carry on our own Detach
}

func newLink(name string, role encoding.Role, s *Session) link {
	return link{
		key:      linkKey{name, role},
		session:  s,
		rx:       make(chan frames.FrameBody, 1),
		close:    make(chan struct{}),
		detached: make(chan struct{}),
	}
}

// attachLink sends a PerformAttach built from l's fields (after letting
// beforeSend customize it), waits for the remote's answering Attach, lets
// afterRecv inspect/copy dynamic fields from it, and registers the link's
// handle with the session so inbound frames get routed here.
func (l *link) attachLink(ctx context.Context, s *Session, beforeSend func(*frames.PerformAttach), afterRecv func(*frames.PerformAttach)) error {
	l.session = s
	handle, err := s.allocateHandle(l)
	if err != nil {
		return err
	}
	l.handle = handle

	attach := &frames.PerformAttach{
		Name:           l.key.name,
		Handle:         l.handle,
		Role:           l.key.role,
		Source:         l.source,
		Target:         l.target,
		MaxMessageSize: l.maxMessageSize,
		Properties:     l.properties,
	}
	if l.senderSettleMode != nil {
		attach.SenderSettleMode = *l.senderSettleMode
	}
	if l.receiverSettleMode != nil {
		attach.ReceiverSettleMode = *l.receiverSettleMode
	}
	if l.key.role == encoding.RoleReceiver {
		attach.InitialDeliveryCount = l.deliveryCount
	}
	if beforeSend != nil {
		beforeSend(attach)
	}

	logf(1, "TX (attach): %s", attach)
	if err := s.txFrame(attach); err != nil {
		s.freeHandle(l.handle)
		return err
	}

	select {
	case fr := <-l.rxAttach():
		resp, ok := fr.(*frames.PerformAttach)
		if !ok {
			s.freeHandle(l.handle)
			return fmt.Errorf("amqp: expected attach response, got %T", fr)
		}
		logf(1, "RX (attach): %s", resp)
		if afterRecv != nil {
			afterRecv(resp)
		}
		if l.key.role == encoding.RoleSender && resp.InitialDeliveryCount != 0 {
			l.deliveryCount = resp.InitialDeliveryCount
		}
		return nil
	case <-ctx.Done():
		s.freeHandle(l.handle)
		return ctx.Err()
	case <-s.done:
		s.freeHandle(l.handle)
		return s.err
	}
}

// rxAttach names the handshake use of l.rx: the session delivers the first
// frame on the newly allocated handle (expected to be the answering Attach)
// over it, and attachLink consumes that frame directly before the link's
// own mux loop starts reading.
func (l *link) rxAttach() chan frames.FrameBody {
	return l.rx
}

// closeLink asks the link's mux to detach (the mux sends PerformDetach)
// and waits until the mux has unwound or ctx is done. It does not wait for
// the remote's answering Detach.
func (l *link) closeLink(ctx context.Context) error {
	select {
	case <-l.close:
	default:
		close(l.close)
	}

	select {
	case <-l.detached:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// muxDetach runs exactly once, via defer, when a link's mux loop unwinds.
// It records the failure cause (if any), sends a Detach unless the remote
// already initiated one (l.remoteDetach), frees the link's handle, and
// unblocks every waiter on l.detached.
func (l *link) muxDetach(err error) {
	if l.err == nil {
		l.err = err
	}
	if l.remoteDetach == nil {
		detach := &frames.PerformDetach{Handle: l.handle, Closed: true, Error: l.detachCond}
		logf(1, "TX (detach): %s", detach)
		_ = l.session.txFrame(detach)
	}
	l.session.freeHandle(l.handle)
	select {
	case <-l.detached:
	default:
		close(l.detached)
	}
}

// muxHandleFrame is the default frame handler shared by Sender and
// Receiver for performatives that don't need role-specific behavior.
func (l *link) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformDetach:
		logf(1, "RX (detach): %s", fr)
		l.remoteDetach = fr
		return &DetachError{RemoteError: fr.Error}
	default:
		return fmt.Errorf("amqp: unexpected frame type %T", fr)
	}
}
