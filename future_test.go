package amqp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutureWaitSuccess(t *testing.T) {
	f := newFuture()

	go func() {
		time.Sleep(5 * time.Millisecond)
		f.complete(nil)
	}()

	require.NoError(t, f.wait(context.Background()))
	require.True(t, f.isDone())
}

func TestFutureWaitFailure(t *testing.T) {
	f := newFuture()
	wantErr := errors.New("boom")

	go f.complete(wantErr)

	require.ErrorIs(t, f.wait(context.Background()), wantErr)
}

func TestFutureCompleteOnlyOnce(t *testing.T) {
	f := newFuture()
	calls := 0
	f.onComplete = func() { calls++ }

	f.complete(nil)
	f.complete(errors.New("ignored"))

	require.Equal(t, 1, calls)
	require.NoError(t, f.err)
}

func TestFutureWaitContextDone(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, f.wait(ctx), context.Canceled)
}

func TestFutureConcurrentWaiters(t *testing.T) {
	f := newFuture()
	var wg sync.WaitGroup
	errs := make([]error, 20)

	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.wait(context.Background())
		}(i)
	}

	f.complete(nil)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestFutureWaitTimeout(t *testing.T) {
	f := newFuture()
	err := f.waitTimeout(5 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}
