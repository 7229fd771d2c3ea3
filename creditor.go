package amqp

import (
	"fmt"
	"sync"
)

// manualCreditor implements the fixed addCredit(n) credit policy and the
// drain protocol shared by every Receiver regardless of whether it also
// runs the credit-window auto-replenish policy.
type manualCreditor struct {
	mu sync.Mutex

	// future values for the next flow frame.
	pendingDrain bool
	creditsToAdd uint32

	// drained is set when a drain is active and we're waiting
	// for the corresponding flow from the remote.
	drained chan struct{}
}

var (
	errLinkDraining    = fmt.Errorf("%w: link is currently draining, no credits can be added", ErrIllegalState)
	errAlreadyDraining = fmt.Errorf("%w: drain already in process", ErrIllegalState)
)

// ErrCreditLimitExceeded is returned from Receiver.AddCredit when manual
// credit management is enabled. It indicates that the incoming rate of
// messages is greater than the rate at which they are being received, and
// no more credit should be issued until messages have been processed.
var ErrCreditLimitExceeded = fmt.Errorf("%w: link credit exceeded, too many outstanding messages", ErrIllegalState)

// StartDrain begins a drain, returning the channel closed by EndDrain once
// the remote has consumed the outstanding credit.
func (mc *manualCreditor) StartDrain() (<-chan struct{}, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.drained != nil {
		return nil, errAlreadyDraining
	}
	mc.pendingDrain = true
	mc.drained = make(chan struct{})
	return mc.drained, nil
}

// EndDrain ends the current drain, unblocking any active Drain calls. A
// no-op when no drain is pending.
func (mc *manualCreditor) EndDrain() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.drained != nil {
		close(mc.drained)
		mc.drained = nil
	}
}

// FlowBits gets the proper values for the next flow frame and resets the
// internal state.
func (mc *manualCreditor) FlowBits() (bool, uint32) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	drain := mc.drained != nil
	credits := mc.creditsToAdd

	mc.creditsToAdd = 0
	mc.pendingDrain = false

	return drain, credits
}

// IssueCredit queues up additional credits to be requested at the next
// call of FlowBits(), bounded by queueCap so a runaway grant can't
// overflow the receiver's delivery queue.
func (mc *manualCreditor) IssueCredit(credits uint32, l *link, queued, queueCap int) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.drained != nil {
		return errLinkDraining
	}

	if queued+int(l.linkCredit)+int(credits) > queueCap {
		return ErrCreditLimitExceeded
	}

	mc.creditsToAdd += credits
	return nil
}

// reset drops pending credit/drain bits without signalling waiters; used
// when a reconnected link adopts a fresh creditor state. A Drain blocked
// against the old link unblocks through that link's detached channel.
func (mc *manualCreditor) reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.pendingDrain = false
	mc.creditsToAdd = 0
	mc.drained = nil
}
