package amqp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tabish121/AMQPerative/internal/buffer"
	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
)

// maxTransferFrameHeader is a conservative upper bound on the non-payload
// bytes of a PerformTransfer frame (frame header + composite header +
// fixed-size fields), used to size payload fragments against the peer's
// max-frame-size.
const maxTransferFrameHeader = 128

// Sender sends messages on a single AMQP link.
type Sender struct {
	link
	transfers chan frames.PerformTransfer // sender uses to send transfer frames

	// Indicates whether we should allow detaches on disposition errors or
	// not. Some AMQP servers benefit from keeping the link open on
	// disposition errors (e.g. many parallel sends hitting a throttling
	// error, which is not fatal).
	detachOnDispositionError bool
	autoSettle               bool

	mu              sync.Mutex // protects buf, nextDeliveryTag, unsettled, and streaming
	buf             buffer.Buffer
	nextDeliveryTag uint64
	unsettled       map[uint32]*Tracker
	streaming       bool // a StreamSend is open; plain sends must wait
}

// LinkName is the name of the link used for this Sender.
func (s *Sender) LinkName() string {
	return s.key.name
}

// MaxMessageSize is the maximum size of a single message.
func (s *Sender) MaxMessageSize() uint64 {
	return s.maxMessageSize
}

// Address returns the link's target address.
func (s *Sender) Address() string {
	if s.target == nil {
		return ""
	}
	return s.target.Address
}

// Source returns the link's negotiated source terminus.
func (s *Sender) Source() *encoding.Source { return s.source }

// Target returns the link's negotiated target terminus.
func (s *Sender) Target() *encoding.Target { return s.target }

// Send encodes msg, fragments it into Transfer frames according to the
// peer's max-frame-size, and blocks until the send itself has been handed
// to the session mux, the final Transfer reaches a terminal disposition (if
// the link is not sender-settled), ctx completes, or the link is detached.
//
// Send is safe for concurrent use: since only one message can be in flight
// on a link's wire at a time, concurrent callers queue behind s.mu, but a
// caller waiting on settlement confirmation (receiver-settle-mode=Second)
// does not block later Send calls from allocating their own Tracker.
func (s *Sender) Send(ctx context.Context, msg *Message) (*Tracker, error) {
	select {
	case <-s.detached:
		return nil, s.err
	default:
	}

	tracker, settled, err := s.send(ctx, msg, false)
	if err != nil {
		return nil, err
	}
	if settled {
		// sender-settle-mode=SETTLED: no Disposition will ever arrive.
		tracker.markSentSettled()
		tracker.settlement.complete(nil)
		return tracker, nil
	}

	select {
	case <-tracker.settlement.done:
		if err := tracker.settlement.err; err != nil {
			return tracker, err
		}
		state := tracker.RemoteState()
		if s.autoSettle {
			_ = tracker.Settle(ctx, state)
		}
		if rej, ok := state.(encoding.StateRejected); ok {
			if s.detachOnRejectDisp() {
				return tracker, &DetachError{RemoteError: rej.Error}
			}
			return tracker, rej.Error
		}
		return tracker, nil
	case <-s.detached:
		return tracker, s.err
	case <-ctx.Done():
		return tracker, ctx.Err()
	}
}

// TrySend is Send without the block-on-credit behavior: when the link has
// no credit to transmit right now it fails immediately with ErrNoCredit
// instead of waiting. Unlike Send, it returns the Tracker as soon as the
// transfer is handed to the link, without waiting for the remote's
// Disposition; the outcome is observed through the Tracker.
func (s *Sender) TrySend(ctx context.Context, msg *Message) (*Tracker, error) {
	select {
	case <-s.detached:
		return nil, s.err
	default:
	}

	tracker, settled, err := s.send(ctx, msg, true)
	if err != nil {
		return nil, err
	}
	if settled {
		tracker.markSentSettled()
		tracker.settlement.complete(nil)
	}
	return tracker, nil
}

// send is separated from Send so that the mutex is not held across the
// caller's wait for transfer confirmation. When try is set, the first
// frame's handoff is non-blocking: a sender mux with no credit to spend
// makes send fail with ErrNoCredit.
func (s *Sender) send(ctx context.Context, msg *Message, try bool) (*Tracker, bool, error) {
	if len(msg.DeliveryTag) > encoding.MaxDeliveryTagLength {
		return nil, false, fmt.Errorf("amqp: delivery tag is over the allowed %d bytes, len: %d",
			encoding.MaxDeliveryTagLength, len(msg.DeliveryTag))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming {
		return nil, false, errStreamSendOpen
	}

	s.buf.Reset()
	if err := msg.Marshal(&s.buf); err != nil {
		return nil, false, err
	}

	if s.maxMessageSize != 0 && uint64(s.buf.Len()) > s.maxMessageSize {
		return nil, false, fmt.Errorf("amqp: encoded message size exceeds max of %d", s.maxMessageSize)
	}

	var (
		maxPayloadSize = int64(s.session.conn.peerMaxFrameSize) - maxTransferFrameHeader
		sndSettleMode  = s.senderSettleMode
		senderSettled  = sndSettleMode != nil && (*sndSettleMode == encoding.ModeSettled ||
			(*sndSettleMode == encoding.ModeMixed && msg.SendSettled))
		deliveryID = atomic.AddUint32(&s.session.nextDeliveryID, 1) - 1
	)
	if maxPayloadSize <= 0 {
		maxPayloadSize = int64(s.buf.Len())
		if maxPayloadSize == 0 {
			maxPayloadSize = 1
		}
	}

	deliveryTag := msg.DeliveryTag
	if len(deliveryTag) == 0 {
		deliveryTag = make([]byte, 8)
		binary.BigEndian.PutUint64(deliveryTag, s.nextDeliveryTag)
		s.nextDeliveryTag++
	}

	tracker := newTracker(deliveryID, deliveryTag, msg.Format, s)
	if !senderSettled {
		s.unsettled[deliveryID] = tracker
	}

	fr := frames.PerformTransfer{
		Handle:        s.handle,
		DeliveryID:    &deliveryID,
		DeliveryTag:   deliveryTag,
		MessageFormat: &msg.Format,
		More:          s.buf.Len() > 0,
	}

	first := true
	for {
		n := maxPayloadSize
		if rem := int64(s.buf.Len()); rem < n {
			n = rem
		}
		buf, _ := s.buf.Next(n)
		fr.Payload = append([]byte(nil), buf...)
		fr.More = s.buf.Len() > 0
		if !fr.More {
			fr.Settled = senderSettled
		}

		if try && first {
			// the mux only receives while it has credit to spend, so a
			// refused handoff means the send would have blocked.
			select {
			case s.transfers <- fr:
			case <-s.detached:
				delete(s.unsettled, deliveryID)
				return nil, false, s.err
			default:
				delete(s.unsettled, deliveryID)
				return nil, false, ErrNoCredit
			}
		} else {
			select {
			case s.transfers <- fr:
			case <-s.detached:
				return nil, false, s.err
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}
		first = false

		if !fr.More {
			break
		}

		// clear values that are only required on first message
		fr.DeliveryID = nil
		fr.DeliveryTag = nil
		fr.MessageFormat = nil
	}

	return tracker, senderSettled, nil
}

// Close closes the Sender and its AMQP link.
func (s *Sender) Close(ctx context.Context) error {
	return s.closeLink(ctx)
}

// queueTransfer hands fr to the sender's mux for credit-gated transmission.
func (s *Sender) queueTransfer(ctx context.Context, fr frames.PerformTransfer) error {
	select {
	case s.transfers <- fr:
		return nil
	case <-s.detached:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newSender creates a new sending link, not yet attached.
func newSender(targetAddr string, sess *Session, opts *SenderOptions) (*Sender, error) {
	name := linkID(sess.id)
	s := &Sender{
		link:                     newLink(name, encoding.RoleSender, sess),
		detachOnDispositionError: true,
		unsettled:                make(map[uint32]*Tracker),
	}
	s.target = &encoding.Target{Address: targetAddr}
	s.source = new(encoding.Source)

	if opts == nil {
		return s, nil
	}

	for _, v := range opts.Capabilities {
		s.source.Capabilities = append(s.source.Capabilities, encoding.Symbol(v))
	}
	if opts.Durability > encoding.DurabilityUnsettledState {
		return nil, fmt.Errorf("amqp: invalid Durability %d", opts.Durability)
	}
	s.source.Durable = opts.Durability
	if opts.DynamicAddress {
		s.target.Address = ""
		s.dynamicAddr = opts.DynamicAddress
	}
	if opts.ExpiryPolicy != "" {
		if err := opts.ExpiryPolicy.Validate(); err != nil {
			return nil, err
		}
		s.source.ExpiryPolicy = opts.ExpiryPolicy
	}
	s.source.Timeout = opts.ExpiryTimeout
	s.detachOnDispositionError = !opts.IgnoreDispositionErrors
	s.autoSettle = opts.AutoSettle
	if opts.Name != "" {
		s.key.name = opts.Name
	}
	if opts.Properties != nil {
		s.properties = make(map[encoding.Symbol]interface{})
		for k, v := range opts.Properties {
			if k == "" {
				return nil, errors.New("amqp: link property key must not be empty")
			}
			s.properties[encoding.Symbol(k)] = v
		}
	}
	if opts.RequestedReceiverSettleMode != nil {
		if rsm := *opts.RequestedReceiverSettleMode; rsm > encoding.ModeSecond {
			return nil, fmt.Errorf("amqp: invalid RequestedReceiverSettleMode %d", rsm)
		}
		s.receiverSettleMode = opts.RequestedReceiverSettleMode
	}
	if opts.SettlementMode != nil {
		if ssm := *opts.SettlementMode; ssm > encoding.ModeMixed {
			return nil, fmt.Errorf("amqp: invalid SettlementMode %d", ssm)
		}
		s.senderSettleMode = opts.SettlementMode
	}
	if opts.SourceAddress != "" {
		s.source.Address = opts.SourceAddress
	}
	return s, nil
}

func (s *Sender) attach(ctx context.Context, session *Session) error {
	// Sending unsettled messages when the receiver is in mode-second hangs
	// without a transaction controller (out of scope, see Non-goals), so
	// disallow it up front.
	if senderSettleModeValue(s.senderSettleMode) != encoding.ModeSettled &&
		receiverSettleModeValue(s.receiverSettleMode) == encoding.ModeSecond {
		return errors.New("amqp: sender does not support exactly-once guarantee")
	}

	if err := s.attachLink(ctx, session, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleSender
		if s.dynamicAddr {
			if pa.Target == nil {
				pa.Target = new(encoding.Target)
			}
			pa.Target.Dynamic = true
		}
	}, func(pa *frames.PerformAttach) {
		if s.dynamicAddr {
			if s.target == nil {
				s.target = new(encoding.Target)
			}
			if pa.Target != nil {
				s.target.Address = pa.Target.Address
			}
		}
	}); err != nil {
		return err
	}

	s.transfers = make(chan frames.PerformTransfer)

	go s.mux()

	return nil
}

func (s *Sender) mux() {
	defer func() {
		s.muxDetach(nil)
		s.failUnsettled()
	}()

Loop:
	for {
		var outgoingTransfers chan frames.PerformTransfer
		if s.linkCredit > 0 {
			logf(1, "sender: credit: %d, deliveryCount: %d", s.linkCredit, s.deliveryCount)
			outgoingTransfers = s.transfers
		}

		select {
		case fr := <-s.rx:
			s.err = s.muxHandleFrame(fr)
			if s.err != nil {
				return
			}

		case tr := <-outgoingTransfers:
			logf(3, "TX (sender): %s", &tr)

			for {
				select {
				case s.session.tx <- &tr:
					if !tr.More {
						s.deliveryCount++
						s.linkCredit--
						logf(3, "TX (sender): key:%s, decremented linkCredit: %d", s.key.name, s.linkCredit)
					}
					continue Loop
				case fr := <-s.rx:
					s.err = s.muxHandleFrame(fr)
					if s.err != nil {
						return
					}
				case <-s.close:
					s.err = ErrLinkClosed
					return
				case <-s.session.done:
					s.err = s.session.err
					return
				}
			}

		case <-s.close:
			s.err = ErrLinkClosed
			return
		case <-s.session.done:
			s.err = s.session.err
			return
		}
	}
}

// muxHandleFrame processes fr based on its type.
func (s *Sender) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformFlow:
		logf(3, "RX (sender): %s", fr)
		linkCredit := uint32(0)
		if fr.LinkCredit != nil {
			linkCredit = *fr.LinkCredit
			linkCredit -= s.deliveryCount
			if fr.DeliveryCount != nil {
				linkCredit += *fr.DeliveryCount
			}
		}
		s.linkCredit = linkCredit

		if !fr.Echo {
			return nil
		}

		deliveryCount := s.deliveryCount
		resp := &frames.PerformFlow{
			Handle:        &s.handle,
			DeliveryCount: &deliveryCount,
			LinkCredit:    &linkCredit,
		}
		logf(1, "TX (sender): %s", resp)
		_ = s.session.txFrame(resp)

	case *frames.PerformDisposition:
		logf(3, "RX (sender): %s", fr)
		s.mu.Lock()
		tracker, ok := s.unsettled[fr.First]
		if ok && fr.Settled {
			delete(s.unsettled, fr.First)
		}
		s.mu.Unlock()
		if !ok {
			// outcome for a delivery we no longer track, e.g. a Modified
			// arriving after a send-settled transfer; surface it in the
			// trace log and move on.
			if fr.State != nil {
				logf(2, "RX (sender): untracked disposition, first: %d, state: %v", fr.First, fr.State)
			}
			return nil
		}
		tracker.onDisposition(fr.State, fr.Settled)

		if rej, ok := fr.State.(encoding.StateRejected); ok && s.detachOnRejectDisp() {
			return &DetachError{RemoteError: rej.Error}
		}

		if fr.Settled {
			return nil
		}

		resp := &frames.PerformDisposition{
			Role:    encoding.RoleSender,
			First:   fr.First,
			Last:    fr.Last,
			Settled: true,
		}
		logf(1, "TX (sender): %s", resp)
		_ = s.session.txFrame(resp)

	default:
		return s.link.muxHandleFrame(fr)
	}

	return nil
}

// failUnsettled completes every still-unsettled tracker's settlement
// future with the link's failure cause, so callers blocked on
// SettlementFuture observe the loss instead of waiting for a Disposition
// that can no longer arrive.
func (s *Sender) failUnsettled() {
	s.mu.Lock()
	trackers := make([]*Tracker, 0, len(s.unsettled))
	for id, t := range s.unsettled {
		trackers = append(trackers, t)
		delete(s.unsettled, id)
	}
	s.mu.Unlock()

	err := s.err
	if err == nil {
		err = ErrLinkClosed
	}
	for _, t := range trackers {
		t.settlement.complete(err)
	}
}

func (s *Sender) detachOnRejectDisp() bool {
	// Only detach on rejection when no RSM was requested or in ModeFirst.
	// In ModeSecond, the receiver sends an explicit disposition that must
	// be acked, so it isn't treated as a link error here.
	return s.detachOnDispositionError &&
		(s.receiverSettleMode == nil || *s.receiverSettleMode == encoding.ModeFirst)
}

func senderSettleModeValue(m *encoding.SenderSettleMode) encoding.SenderSettleMode {
	if m == nil {
		return encoding.ModeMixed
	}
	return *m
}

func receiverSettleModeValue(m *encoding.ReceiverSettleMode) encoding.ReceiverSettleMode {
	if m == nil {
		return encoding.ModeFirst
	}
	return *m
}
