package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
	"github.com/tabish121/AMQPerative/internal/queue"
)

// inflightDelivery is the reassembly state for one not-yet-complete
// incoming delivery.
type inflightDelivery struct {
	deliveryID uint32
	tag        []byte
	format     uint32
	buf        []byte
}

// Receiver receives messages on a single AMQP link.
type Receiver struct {
	link
	manualCreditor

	creditWindow uint32 // 0 disables the auto-replenish policy
	queueCap     int    // bound on queued + outstanding-credit deliveries

	flowReq  chan struct{} // nudges the mux to flush pending credit/drain bits
	msgAvail chan struct{} // signaled after each enqueue to wake Receive
	inflight *inflightDelivery

	mu        sync.Mutex
	messages  *queue.Ring[*Delivery]
	unsettled map[uint32]struct{}
}

// LinkName is the name of the link used for this Receiver.
func (r *Receiver) LinkName() string { return r.key.name }

// Address returns the link's source address.
func (r *Receiver) Address() string {
	if r.source == nil {
		return ""
	}
	return r.source.Address
}

// Source returns the link's negotiated source terminus.
func (r *Receiver) Source() *encoding.Source { return r.source }

// Target returns the link's negotiated target terminus.
func (r *Receiver) Target() *encoding.Target { return r.target }

// Receive blocks until a Delivery is available, ctx completes, or the
// receiver is closed/detached.
func (r *Receiver) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if d := r.dequeue(); d != nil {
			r.replenish()
			return d, nil
		}
		r.replenish()

		select {
		case <-r.msgAvail:
		case <-r.detached:
			if r.err != nil {
				return nil, r.err
			}
			return nil, ErrLinkClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryReceive returns a Delivery immediately if one is queued, or nil if
// the queue is currently empty.
func (r *Receiver) TryReceive() *Delivery {
	if d := r.dequeue(); d != nil {
		r.replenish()
		return d
	}
	return nil
}

func (r *Receiver) dequeue() *Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.messages.Dequeue(); ok {
		return d
	}
	return nil
}

func (r *Receiver) queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages.Len()
}

// AddCredit grants n additional link-credits to the remote sender. Fails
// with an ErrIllegalState-wrapping error while a Drain is outstanding, and
// with ErrCreditLimitExceeded if granting n would overflow the delivery
// queue.
func (r *Receiver) AddCredit(n uint32) error {
	if r.creditWindow != 0 {
		return errors.New("amqp: AddCredit is not allowed when a credit window is configured")
	}
	if err := r.manualCreditor.IssueCredit(n, &r.link, r.queued(), r.queueCap); err != nil {
		return err
	}
	return r.notifyFlow()
}

// Drain asks the remote sender to exhaust the receiver's outstanding
// credit, by delivery or by advancing delivery-count, and blocks until
// the remote's responding Flow (or the deliveries themselves) consume the
// credit down to zero.
func (r *Receiver) Drain(ctx context.Context) error {
	drained, err := r.manualCreditor.StartDrain()
	if err != nil {
		return err
	}
	if err := r.notifyFlow(); err != nil {
		return err
	}

	select {
	case <-drained:
		return nil
	case <-r.close:
		return r.err
	case <-r.detached:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notifyFlow asks the mux goroutine to flush the creditor's pending
// drain/credit bits into a Flow frame.
func (r *Receiver) notifyFlow() error {
	select {
	case <-r.detached:
		return r.err
	default:
	}
	select {
	case r.flowReq <- struct{}{}:
	default:
		// a nudge is already pending; the mux will pick up these bits too.
	}
	return nil
}

// Close closes the Receiver and its AMQP link.
func (r *Receiver) Close(ctx context.Context) error {
	return r.closeLink(ctx)
}

func newReceiver(sourceAddr string, sess *Session, opts *ReceiverOptions) (*Receiver, error) {
	r := &Receiver{
		link:      newLink(linkID(sess.id), encoding.RoleReceiver, sess),
		unsettled: make(map[uint32]struct{}),
	}
	r.source = &encoding.Source{Address: sourceAddr}
	r.target = new(encoding.Target)

	if opts == nil {
		r.messages = queue.New[*Delivery](1)
		r.queueCap = 1
		return r, nil
	}

	queueSize := opts.Credit
	if opts.CreditWindow != 0 {
		queueSize = opts.CreditWindow
		r.creditWindow = opts.CreditWindow
	}
	if queueSize == 0 {
		queueSize = 1
	}
	r.messages = queue.New[*Delivery](int(queueSize))
	r.queueCap = int(queueSize)

	for _, v := range opts.Capabilities {
		r.source.Capabilities = append(r.source.Capabilities, encoding.Symbol(v))
	}
	if opts.Durability > encoding.DurabilityUnsettledState {
		return nil, fmt.Errorf("amqp: invalid Durability %d", opts.Durability)
	}
	r.source.Durable = opts.Durability
	if opts.DynamicAddress {
		r.source.Address = ""
		r.dynamicAddr = opts.DynamicAddress
	}
	if opts.ExpiryPolicy != "" {
		if err := opts.ExpiryPolicy.Validate(); err != nil {
			return nil, err
		}
		r.source.ExpiryPolicy = opts.ExpiryPolicy
	}
	r.source.Timeout = opts.ExpiryTimeout
	r.source.Filter = opts.Filter
	if opts.Name != "" {
		r.key.name = opts.Name
	}
	if opts.SettlementMode != nil {
		if rsm := *opts.SettlementMode; rsm > encoding.ModeSecond {
			return nil, fmt.Errorf("amqp: invalid SettlementMode %d", rsm)
		}
		r.receiverSettleMode = opts.SettlementMode
	}
	if opts.RequestedSenderSettleMode != nil {
		if ssm := *opts.RequestedSenderSettleMode; ssm > encoding.ModeMixed {
			return nil, fmt.Errorf("amqp: invalid RequestedSenderSettleMode %d", ssm)
		}
		r.senderSettleMode = opts.RequestedSenderSettleMode
	}
	if opts.Properties != nil {
		r.properties = make(map[encoding.Symbol]interface{})
		for k, v := range opts.Properties {
			if k == "" {
				return nil, errors.New("amqp: link property key must not be empty")
			}
			r.properties[encoding.Symbol(k)] = v
		}
	}
	return r, nil
}

func (r *Receiver) attach(ctx context.Context, session *Session) error {
	if err := r.attachLink(ctx, session, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleReceiver
		if pa.Source == nil {
			pa.Source = new(encoding.Source)
		}
		pa.Source.Dynamic = r.dynamicAddr
	}, func(pa *frames.PerformAttach) {
		if r.source == nil {
			r.source = new(encoding.Source)
		}
		if r.dynamicAddr && pa.Source != nil {
			r.source.Address = pa.Source.Address
		}
	}); err != nil {
		return err
	}

	r.flowReq = make(chan struct{}, 1)
	r.msgAvail = make(chan struct{}, 1)

	if r.creditWindow != 0 {
		_ = r.manualCreditor.IssueCredit(r.creditWindow, &r.link, 0, r.queueCap+1)
		select {
		case r.flowReq <- struct{}{}:
		default:
		}
	}

	go r.mux()

	return nil
}

// replenish tops outstanding credit back up to the configured credit
// window after the application has taken delivery of a message. A no-op
// under manual credit management.
func (r *Receiver) replenish() {
	if r.creditWindow == 0 {
		return
	}
	outstanding := r.queued() + int(r.linkCredit)
	if outstanding >= int(r.creditWindow) {
		return
	}
	want := int(r.creditWindow) - outstanding
	if err := r.manualCreditor.IssueCredit(uint32(want), &r.link, r.queued(), int(r.creditWindow)+1); err == nil {
		select {
		case r.flowReq <- struct{}{}:
		default:
		}
	}
}

func (r *Receiver) mux() {
	defer r.muxDetach(nil)

	for {
		select {
		case fr := <-r.rx:
			r.err = r.muxHandleFrame(fr)
			if r.err != nil {
				return
			}
		case <-r.flowReq:
			r.muxSendFlow()
		case <-r.close:
			r.err = ErrLinkClosed
			return
		case <-r.session.done:
			r.err = r.session.err
			return
		}
	}
}

func (r *Receiver) muxSendFlow() {
	drain, credits := r.manualCreditor.FlowBits()
	if credits == 0 && !drain {
		return
	}
	r.linkCredit += credits
	deliveryCount := r.deliveryCount
	linkCredit := r.linkCredit
	fr := &frames.PerformFlow{
		Handle:         &r.handle,
		DeliveryCount:  &deliveryCount,
		LinkCredit:     &linkCredit,
		Drain:          drain,
		IncomingWindow: 2147483647,
		OutgoingWindow: 0,
	}
	logf(1, "TX (receiver): %s", fr)
	_ = r.session.txFrame(fr)
}

func (r *Receiver) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformFlow:
		logf(3, "RX (receiver): %s", fr)
		if fr.DeliveryCount != nil && *fr.DeliveryCount >= r.deliveryCount {
			consumed := *fr.DeliveryCount - r.deliveryCount
			if consumed <= r.linkCredit {
				r.linkCredit -= consumed
			} else {
				r.linkCredit = 0
			}
			r.deliveryCount = *fr.DeliveryCount
		}
		if fr.Drain && r.linkCredit == 0 {
			r.manualCreditor.EndDrain()
		}
		return nil

	case *frames.PerformTransfer:
		logf(3, "RX (receiver): %s", fr)
		return r.muxReceive(fr)

	case *frames.PerformDisposition:
		// Dispositions from the remote about our own settlements are
		// informational only for a receiver; nothing to do.
		return nil

	default:
		return r.link.muxHandleFrame(fr)
	}
}

func (r *Receiver) muxReceive(fr *frames.PerformTransfer) error {
	if r.inflight == nil && r.linkCredit == 0 {
		// a transfer with no preceding credit is a link violation.
		r.detachCond = &encoding.Error{
			Condition:   ErrCondTransferLimitExceeded,
			Description: "transfer received with no link credit outstanding",
		}
		return &DetachError{RemoteError: r.detachCond}
	}

	if r.inflight == nil {
		r.inflight = &inflightDelivery{
			deliveryID: derefU32(fr.DeliveryID, 0),
			tag:        fr.DeliveryTag,
			format:     derefU32(fr.MessageFormat, 0),
		}
	}
	r.inflight.buf = append(r.inflight.buf, fr.Payload...)

	if fr.Aborted {
		r.inflight = nil
		if r.creditWindow != 0 {
			r.replenish()
		}
		return nil
	}

	r.deliveryCount++
	if r.linkCredit > 0 {
		r.linkCredit--
	}
	if r.linkCredit == 0 {
		// a pending drain completes once deliveries consume the credit.
		r.manualCreditor.EndDrain()
	}

	if fr.More {
		return nil
	}

	d := newDelivery(r.inflight.deliveryID, r.inflight.tag, r.inflight.format, r.inflight.buf, r)
	r.inflight = nil

	r.mu.Lock()
	r.unsettled[d.deliveryID] = struct{}{}
	r.messages.Enqueue(d)
	r.mu.Unlock()

	select {
	case r.msgAvail <- struct{}{}:
	default:
	}

	if r.creditWindow != 0 {
		r.replenish()
	}
	return nil
}

// settle emits a Disposition for deliveryID with the given outcome.
func (r *Receiver) settle(deliveryID uint32, state encoding.DeliveryState) error {
	r.mu.Lock()
	_, ok := r.unsettled[deliveryID]
	if ok {
		delete(r.unsettled, deliveryID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	last := deliveryID
	fr := &frames.PerformDisposition{
		Role:    encoding.RoleReceiver,
		First:   deliveryID,
		Last:    &last,
		Settled: true,
		State:   state,
	}
	logf(1, "TX (receiver): %s", fr)
	return r.session.txFrame(fr)
}

func derefU32(p *uint32, def uint32) uint32 {
	if p == nil {
		return def
	}
	return *p
}
