package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
	"github.com/tabish121/AMQPerative/internal/mocks"
)

// senderResponder answers Begin/Attach/Transfer the way a broker that
// grants one credit and accepts every delivery would.
func senderResponder(attachedName *string) func(frames.FrameBody) ([]byte, error) {
	return func(fr frames.FrameBody) ([]byte, error) {
		switch fr := fr.(type) {
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)

		case *frames.PerformAttach:
			if attachedName != nil {
				*attachedName = fr.Name
			}
			attach, err := mocks.SenderAttach(fr.Name, fr.Handle, encoding.ModeMixed)
			if err != nil {
				return nil, err
			}
			flow, err := mocks.Flow(fr.Handle, 0, 1)
			if err != nil {
				return nil, err
			}
			return append(attach, flow...), nil

		case *frames.PerformTransfer:
			return mocks.PerformDisposition(*fr.DeliveryID, encoding.StateAccepted{})

		default:
			return nil, nil
		}
	}
}

func TestReplayReattachesTopologyAfterDrop(t *testing.T) {
	engineA := dialMockConn(t, senderResponder(nil))

	c := &Connection{
		engine: engineA,
		addr:   "hostA:5672",
		opts:   &ConnOptions{Reconnect: &ReconnectOptions{Enabled: true}},
	}
	rc := newReconnectCoordinator(c)
	c.reconnect = rc

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := engineA.NewSession(ctx, nil)
	require.NoError(t, err)
	rec := c.trackSession(sess, nil)

	sender, err := sess.NewSender(ctx, "test", nil)
	require.NoError(t, err)
	rec.addSender(sender, "test", nil)
	originalName := sender.LinkName()

	tracker, err := sender.Send(ctx, NewMessage([]byte("before drop")))
	require.NoError(t, err)
	require.True(t, tracker.RemoteSettled())

	// host A goes away mid-conversation.
	engineA.shutdown(&IOError{})
	select {
	case <-sender.detached:
	case <-time.After(time.Second):
		t.Fatal("sender did not observe the connection loss")
	}

	var reattachedName string
	engineB := dialMockConn(t, senderResponder(&reattachedName))
	require.NoError(t, rc.replay(engineB))
	c.adoptEngine(engineB)

	// the caller's original handles work against host B, same link name.
	require.Equal(t, originalName, reattachedName)

	tracker, err = sender.Send(ctx, NewMessage([]byte("after reconnect")))
	require.NoError(t, err)
	require.Equal(t, encoding.StateAccepted{}, tracker.RemoteState())
}
