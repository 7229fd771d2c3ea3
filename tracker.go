package amqp

import (
	"context"
	"sync"
	"time"

	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
)

// Tracker is the handle a Sender returns for every outgoing delivery. It
// tracks local/remote settlement and the remote's delivery-state, and
// exposes a future the caller can wait on independently of Sender.Send's
// own blocking behavior.
type Tracker struct {
	mu              sync.Mutex
	deliveryID      uint32
	deliveryTag     []byte
	format          uint32
	localState      encoding.DeliveryState
	remoteState     encoding.DeliveryState
	locallySettled  bool
	remotelySettled bool
	settlement      *future
	sender          *Sender
}

func newTracker(deliveryID uint32, tag []byte, format uint32, sender *Sender) *Tracker {
	return &Tracker{
		deliveryID:  deliveryID,
		deliveryTag: tag,
		format:      format,
		settlement:  newFuture(),
		sender:      sender,
	}
}

// DeliveryID returns the session-scoped delivery-id assigned to this
// delivery.
func (t *Tracker) DeliveryID() uint32 {
	return t.deliveryID
}

// State returns the locally-recorded delivery state, or nil if none has
// been set yet.
func (t *Tracker) State() encoding.DeliveryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localState
}

// RemoteState returns the delivery state most recently reported by the
// remote in a Disposition, or nil if none has arrived yet.
func (t *Tracker) RemoteState() encoding.DeliveryState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteState
}

// RemoteSettled reports whether the remote's most recent Disposition
// carried settled=true.
func (t *Tracker) RemoteSettled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remotelySettled
}

// Settled reports whether this delivery has been settled locally.
func (t *Tracker) Settled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.locallySettled
}

// SettlementFuture blocks until the remote has settled the delivery (or, for
// a sender-settle-mode=SETTLED delivery, returns immediately since no
// Disposition is required).
func (t *Tracker) SettlementFuture(ctx context.Context) error {
	return t.settlement.wait(ctx)
}

// AwaitSettlement is SettlementFuture with a plain timeout; d <= 0 waits
// indefinitely. Expiry surfaces as ErrTimeout.
func (t *Tracker) AwaitSettlement(d time.Duration) error {
	return t.settlement.waitTimeout(d)
}

// markSentSettled records that the delivery went out with the Transfer's
// own settled=true (sender-settle-mode=SETTLED), so no Disposition will
// ever arrive to settle it via Settle.
func (t *Tracker) markSentSettled() {
	t.mu.Lock()
	t.locallySettled = true
	t.mu.Unlock()
}

// Settle marks the delivery locally settled, emitting a Disposition to the
// remote with the given outcome (or Accepted if state is nil). Idempotent:
// a delivery already settled is a no-op.
func (t *Tracker) Settle(ctx context.Context, state encoding.DeliveryState) error {
	t.mu.Lock()
	if t.locallySettled {
		t.mu.Unlock()
		return nil
	}
	t.locallySettled = true
	if state == nil {
		state = encoding.StateAccepted{}
	}
	t.localState = state
	t.mu.Unlock()

	last := t.deliveryID
	return t.sender.session.txFrame(&frames.PerformDisposition{
		Role:    encoding.RoleSender,
		First:   t.deliveryID,
		Last:    &last,
		Settled: true,
		State:   state,
	})
}

// onDisposition is invoked by the sender's mux goroutine when a Disposition
// covering this delivery arrives. It completes the settlement future once
// the remote has settled. Sender-settle-mode=SETTLED deliveries never get
// here: the sender completes their future directly at send time.
func (t *Tracker) onDisposition(state encoding.DeliveryState, settled bool) {
	t.mu.Lock()
	if state != nil {
		t.remoteState = state
	}
	if settled {
		t.remotelySettled = true
	}
	t.mu.Unlock()

	if settled {
		t.settlement.complete(nil)
	}
}
