package amqp

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
)

// StreamSend is an in-progress multi-transfer delivery: the initial
// sections went out with more=true, and the caller appends further body
// sections with Write until Complete emits the terminal transfer (or
// Abort discards the delivery on the remote).
//
// AMQP does not allow transfers of different deliveries to interleave on
// one link, so the owning Sender rejects plain Send calls while a stream
// send is open.
type StreamSend struct {
	sender  *Sender
	tracker *Tracker
	settled bool

	mu    sync.Mutex
	state streamState
}

type streamState int

const (
	streamActive streamState = iota
	streamCompleted
	streamAborted
)

// BeginStreamSend encodes msg's sections and sends them as the first
// (non-final) transfer of a new delivery, returning a handle the caller
// uses to append further body data and finally complete or abort the
// delivery.
func (s *Sender) BeginStreamSend(ctx context.Context, msg *Message) (*StreamSend, error) {
	select {
	case <-s.detached:
		return nil, s.err
	default:
	}

	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return nil, errStreamSendOpen
	}

	s.buf.Reset()
	if err := msg.Marshal(&s.buf); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	deliveryID := atomic.AddUint32(&s.session.nextDeliveryID, 1) - 1
	deliveryTag := msg.DeliveryTag
	if len(deliveryTag) == 0 {
		deliveryTag = make([]byte, 8)
		binary.BigEndian.PutUint64(deliveryTag, s.nextDeliveryTag)
		s.nextDeliveryTag++
	}

	sndSettleMode := s.senderSettleMode
	senderSettled := sndSettleMode != nil && (*sndSettleMode == encoding.ModeSettled ||
		(*sndSettleMode == encoding.ModeMixed && msg.SendSettled))

	tracker := newTracker(deliveryID, deliveryTag, msg.Format, s)
	if !senderSettled {
		s.unsettled[deliveryID] = tracker
	}
	s.streaming = true
	payload := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()

	first := frames.PerformTransfer{
		Handle:        s.handle,
		DeliveryID:    &deliveryID,
		DeliveryTag:   deliveryTag,
		MessageFormat: &msg.Format,
		More:          true,
		Payload:       nil,
	}
	ss := &StreamSend{sender: s, tracker: tracker, settled: senderSettled}
	if err := ss.sendFragments(ctx, first, payload); err != nil {
		ss.abandon()
		return nil, err
	}
	return ss, nil
}

// Tracker returns the delivery's tracker. Its settlement future resolves
// only after Complete (or with ErrDeliveryAborted after Abort).
func (ss *StreamSend) Tracker() *Tracker { return ss.tracker }

// Write encodes data as an additional Data body section and sends it with
// more=true.
func (ss *StreamSend) Write(ctx context.Context, data []byte) error {
	ss.mu.Lock()
	if ss.state != streamActive {
		ss.mu.Unlock()
		return errStreamSendDone
	}
	ss.mu.Unlock()

	s := ss.sender
	s.mu.Lock()
	s.buf.Reset()
	encoding.WriteDescriptor(&s.buf, encoding.TypeCodeApplicationData)
	if err := encoding.WriteBinary(&s.buf, data); err != nil {
		s.mu.Unlock()
		return err
	}
	payload := append([]byte(nil), s.buf.Bytes()...)
	s.mu.Unlock()

	fr := frames.PerformTransfer{
		Handle: s.handle,
		More:   true,
	}
	return ss.sendFragments(ctx, fr, payload)
}

// Complete sends the delivery's terminal transfer and returns its tracker.
func (ss *StreamSend) Complete(ctx context.Context) (*Tracker, error) {
	ss.mu.Lock()
	if ss.state != streamActive {
		ss.mu.Unlock()
		return nil, errStreamSendDone
	}
	ss.state = streamCompleted
	ss.mu.Unlock()

	fr := frames.PerformTransfer{
		Handle:  ss.sender.handle,
		More:    false,
		Settled: ss.settled,
	}
	if err := ss.sender.queueTransfer(ctx, fr); err != nil {
		return nil, err
	}
	ss.release()

	if ss.settled {
		ss.tracker.markSentSettled()
		ss.tracker.settlement.complete(nil)
	}
	return ss.tracker, nil
}

// Abort sends a transfer with the aborted flag set, telling the remote to
// discard everything received for this delivery. The tracker's settlement
// future resolves with ErrDeliveryAborted.
func (ss *StreamSend) Abort(ctx context.Context) error {
	ss.mu.Lock()
	if ss.state != streamActive {
		ss.mu.Unlock()
		return errStreamSendDone
	}
	ss.state = streamAborted
	ss.mu.Unlock()

	fr := frames.PerformTransfer{
		Handle:  ss.sender.handle,
		More:    false,
		Aborted: true,
	}
	if err := ss.sender.queueTransfer(ctx, fr); err != nil {
		return err
	}
	ss.abandon()
	return nil
}

// sendFragments splits payload against the peer's max-frame-size, sending
// every fragment with fr's flags except that only the first carries the
// delivery-id/tag fields.
func (ss *StreamSend) sendFragments(ctx context.Context, fr frames.PerformTransfer, payload []byte) error {
	s := ss.sender
	maxPayloadSize := int(s.session.conn.peerMaxFrameSize) - maxTransferFrameHeader
	if maxPayloadSize <= 0 {
		maxPayloadSize = len(payload)
	}

	for {
		n := len(payload)
		if n > maxPayloadSize {
			n = maxPayloadSize
		}
		fr.Payload = payload[:n]
		payload = payload[n:]

		if err := s.queueTransfer(ctx, fr); err != nil {
			return err
		}
		if len(payload) == 0 {
			return nil
		}
		fr.DeliveryID = nil
		fr.DeliveryTag = nil
		fr.MessageFormat = nil
	}
}

// release clears the owning sender's stream-busy flag.
func (ss *StreamSend) release() {
	s := ss.sender
	s.mu.Lock()
	s.streaming = false
	s.mu.Unlock()
}

// abandon drops the delivery from unsettled tracking and fails its
// settlement future.
func (ss *StreamSend) abandon() {
	s := ss.sender
	s.mu.Lock()
	delete(s.unsettled, ss.tracker.deliveryID)
	s.streaming = false
	s.mu.Unlock()
	ss.tracker.settlement.complete(ErrDeliveryAborted)
}
