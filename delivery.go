package amqp

import (
	"sync"

	"github.com/tabish121/AMQPerative/internal/buffer"
	"github.com/tabish121/AMQPerative/internal/encoding"
)

// Delivery is one reassembled incoming message, queued for the user by a
// Receiver. Body decoding is lazy: Message() decodes on first call and
// caches the result.
type Delivery struct {
	deliveryID  uint32
	deliveryTag []byte
	format      uint32
	raw         []byte
	receiver    *Receiver

	mu      sync.Mutex
	msg     *Message
	settled bool
}

func newDelivery(id uint32, tag []byte, format uint32, raw []byte, r *Receiver) *Delivery {
	return &Delivery{deliveryID: id, deliveryTag: tag, format: format, raw: raw, receiver: r}
}

// DeliveryID returns the session-scoped delivery-id for this delivery.
func (d *Delivery) DeliveryID() uint32 {
	return d.deliveryID
}

// Message decodes and returns the delivery's body. The decoded Message is
// cached; repeated calls do not re-decode.
func (d *Delivery) Message() (*Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.msg != nil {
		return d.msg, nil
	}
	m := &Message{Format: d.format, DeliveryTag: d.deliveryTag}
	if err := m.Unmarshal(buffer.New(d.raw)); err != nil {
		return nil, err
	}
	d.msg = m
	return m, nil
}

// Accept settles the delivery with the Accepted outcome.
func (d *Delivery) Accept() error { return d.disposition(encoding.StateAccepted{}) }

// Reject settles the delivery with the Rejected outcome, carrying err as
// the rejection reason when non-nil.
func (d *Delivery) Reject(err *Error) error {
	return d.disposition(encoding.StateRejected{Error: err})
}

// Release settles the delivery with the Released outcome, returning it to
// the source for possible redelivery.
func (d *Delivery) Release() error { return d.disposition(encoding.StateReleased{}) }

// Modify settles the delivery with the Modified outcome.
func (d *Delivery) Modify(deliveryFailed, undeliverableHere bool, annotations encoding.Annotations) error {
	return d.disposition(encoding.StateModified{
		DeliveryFailed:     deliveryFailed,
		UndeliverableHere:  undeliverableHere,
		MessageAnnotations: annotations,
	})
}

func (d *Delivery) disposition(state encoding.DeliveryState) error {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return nil
	}
	d.settled = true
	d.mu.Unlock()

	return d.receiver.settle(d.deliveryID, state)
}
