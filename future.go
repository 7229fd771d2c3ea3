package amqp

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// futureState is the completion state of a future, advanced monotonically:
// incomplete -> completing -> {success, failure}.
type futureState int32

const (
	futureIncomplete futureState = iota
	futureCompleting
	futureSuccess
	futureFailure
)

// spin/yield bounds for the progressive wait, per the completion-future
// discipline: bound the busy work so short operations resolve with low
// latency without turning into an unbounded spin lock.
const (
	futureSpinLimit  = 10
	futureYieldLimit = 100
)

// future is the blocking-completion primitive behind every imperative call
// (open, close, send, receive, drain): a work item is enqueued on a
// connection's event loop, and the calling goroutine waits on a future
// until the loop resolves it, fails it, or ctx is done.
//
// onComplete, if set, runs exactly once on the event-loop goroutine that
// resolves the future, before waiters are released, serializing a
// "complete and signal" side effect (e.g. moving a Tracker into the
// settled set) against concurrent observers of the result.
type future struct {
	state      atomic.Int32
	done       chan struct{}
	once       sync.Once
	err        error
	onComplete func()
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// complete resolves the future with err (nil for success). Only the first
// call has any effect; later calls are no-ops, matching the idempotence
// required of close()/settle().
func (f *future) complete(err error) {
	if !f.state.CompareAndSwap(int32(futureIncomplete), int32(futureCompleting)) {
		return
	}
	f.err = err
	if f.onComplete != nil {
		f.onComplete()
	}
	if err == nil {
		f.state.Store(int32(futureSuccess))
	} else {
		f.state.Store(int32(futureFailure))
	}
	f.once.Do(func() { close(f.done) })
}

// isDone reports whether the future has already been resolved, without
// blocking.
func (f *future) isDone() bool {
	s := futureState(f.state.Load())
	return s == futureSuccess || s == futureFailure
}

// wait blocks until the future resolves or ctx is done, using a progressive
// spin -> yield -> park wait to minimize wakeup latency on fast completions
// while remaining fair to the scheduler on slow ones.
func (f *future) wait(ctx context.Context) error {
	for i := 0; i < futureSpinLimit; i++ {
		if f.isDone() {
			return f.err
		}
	}
	for i := 0; i < futureYieldLimit; i++ {
		if f.isDone() {
			return f.err
		}
		runtime.Gosched()
	}

	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitTimeout is a convenience for callers with a plain duration instead of
// a context (e.g. options carrying a send-timeout). Expiry surfaces as
// ErrTimeout rather than the raw context error.
func (f *future) waitTimeout(d time.Duration) error {
	if d <= 0 {
		<-f.done
		return f.err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := f.wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}
	return nil
}
