package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/tabish121/AMQPerative/internal/frames"
	"github.com/tabish121/AMQPerative/internal/mocks"
)

func TestDialConnNegotiatesOpen(t *testing.T) {
	c := dialMockConn(t, func(fr frames.FrameBody) ([]byte, error) {
		t.Fatalf("unexpected frame during handshake-only test: %T", fr)
		return nil, nil
	})

	require.NotEmpty(t, c.containerID)
	require.NotZero(t, c.peerMaxFrameSize)
}

func TestConnNewSessionBegins(t *testing.T) {
	c := dialMockConn(t, func(fr frames.FrameBody) ([]byte, error) {
		if _, ok := fr.(*frames.PerformBegin); ok {
			return mocks.PerformBegin(0)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, sess.beginResult)
}

func TestConnCloseGraceful(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	c := dialMockConn(t, func(fr frames.FrameBody) ([]byte, error) {
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))

	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("conn did not shut down after Close")
	}
}

func TestOpenRejectedErrorMapping(t *testing.T) {
	err := openRejectedError(&Error{
		Condition:   ErrCondUnauthorizedAccess,
		Description: "Anonymous connections not allowed",
	})
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)

	err = openRejectedError(&Error{Condition: ErrCondConnectionForced})
	var rcErr *RemotelyClosedError
	require.ErrorAs(t, err, &rcErr)
	require.Equal(t, ErrCondConnectionForced, rcErr.RemoteError.Condition)
}
