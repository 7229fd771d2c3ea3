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

// openSenderSession dials a mock connection and opens a session, answering
// Begin immediately. Frames beyond that (Attach/Transfer/Disposition) are
// routed to resp.
func openSenderSession(t *testing.T, resp func(frames.FrameBody) ([]byte, error)) (*conn, *Session) {
	t.Helper()

	c := dialMockConn(t, func(fr frames.FrameBody) ([]byte, error) {
		if _, ok := fr.(*frames.PerformBegin); ok {
			return mocks.PerformBegin(0)
		}
		return resp(fr)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)
	return c, sess
}

func TestSenderSendSettlesOnAccepted(t *testing.T) {
	_, sess := openSenderSession(t, func(fr frames.FrameBody) ([]byte, error) {
		switch fr := fr.(type) {
		case *frames.PerformAttach:
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
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sender, err := sess.NewSender(ctx, "q1", nil)
	require.NoError(t, err)

	tracker, err := sender.Send(ctx, NewMessage([]byte("hello")))
	require.NoError(t, err)
	require.Equal(t, encoding.StateAccepted{}, tracker.RemoteState())
	require.True(t, tracker.RemoteSettled())
}

func TestSenderSendRejectedDetachesLink(t *testing.T) {
	rej := encoding.StateRejected{Error: &encoding.Error{Condition: "amqp:internal-error"}}

	_, sess := openSenderSession(t, func(fr frames.FrameBody) ([]byte, error) {
		switch fr := fr.(type) {
		case *frames.PerformAttach:
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
			return mocks.PerformDisposition(*fr.DeliveryID, rej)

		default:
			return nil, nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sender, err := sess.NewSender(ctx, "q1", nil)
	require.NoError(t, err)

	_, err = sender.Send(ctx, NewMessage([]byte("hello")))
	require.Error(t, err)

	var detachErr *DetachError
	require.ErrorAs(t, err, &detachErr)
}

func TestSenderSendSettledModeCompletesWithoutDisposition(t *testing.T) {
	_, sess := openSenderSession(t, func(fr frames.FrameBody) ([]byte, error) {
		attach, ok := fr.(*frames.PerformAttach)
		if !ok {
			return nil, nil
		}
		a, err := mocks.SenderAttach(attach.Name, attach.Handle, encoding.ModeSettled)
		if err != nil {
			return nil, err
		}
		flow, err := mocks.Flow(attach.Handle, 0, 1)
		if err != nil {
			return nil, err
		}
		return append(a, flow...), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	settled := encoding.ModeSettled
	sender, err := sess.NewSender(ctx, "q1", &SenderOptions{SettlementMode: &settled})
	require.NoError(t, err)

	tracker, err := sender.Send(ctx, NewMessage([]byte("hello")))
	require.NoError(t, err)
	require.True(t, tracker.Settled())
}

func TestSenderTrySendFailsWithoutCredit(t *testing.T) {
	_, sess := openSenderSession(t, func(fr frames.FrameBody) ([]byte, error) {
		if attach, ok := fr.(*frames.PerformAttach); ok {
			// attach without granting any credit.
			return mocks.SenderAttach(attach.Name, attach.Handle, encoding.ModeMixed)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sender, err := sess.NewSender(ctx, "q1", nil)
	require.NoError(t, err)

	_, err = sender.TrySend(ctx, NewMessage([]byte("hello")))
	require.ErrorIs(t, err, ErrNoCredit)
}

func TestSenderStreamSendCompletes(t *testing.T) {
	var streamDeliveryID uint32

	_, sess := openSenderSession(t, func(fr frames.FrameBody) ([]byte, error) {
		switch fr := fr.(type) {
		case *frames.PerformAttach:
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
			if fr.DeliveryID != nil {
				streamDeliveryID = *fr.DeliveryID
			}
			if fr.More {
				return nil, nil
			}
			return mocks.PerformDisposition(streamDeliveryID, encoding.StateAccepted{})

		default:
			return nil, nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sender, err := sess.NewSender(ctx, "q1", nil)
	require.NoError(t, err)

	stream, err := sender.BeginStreamSend(ctx, NewMessage([]byte("part-one ")))
	require.NoError(t, err)

	// a plain send may not interleave with an open stream.
	_, err = sender.Send(ctx, NewMessage([]byte("interloper")))
	require.ErrorIs(t, err, ErrIllegalState)

	require.NoError(t, stream.Write(ctx, []byte("part-two")))

	tracker, err := stream.Complete(ctx)
	require.NoError(t, err)
	require.NoError(t, tracker.SettlementFuture(ctx))
	require.Equal(t, encoding.StateAccepted{}, tracker.RemoteState())
}

func TestSenderStreamSendAbort(t *testing.T) {
	_, sess := openSenderSession(t, func(fr frames.FrameBody) ([]byte, error) {
		switch fr := fr.(type) {
		case *frames.PerformAttach:
			attach, err := mocks.SenderAttach(fr.Name, fr.Handle, encoding.ModeMixed)
			if err != nil {
				return nil, err
			}
			flow, err := mocks.Flow(fr.Handle, 0, 2)
			if err != nil {
				return nil, err
			}
			return append(attach, flow...), nil

		case *frames.PerformTransfer:
			if fr.Aborted || fr.More {
				return nil, nil
			}
			return mocks.PerformDisposition(*fr.DeliveryID, encoding.StateAccepted{})

		default:
			return nil, nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sender, err := sess.NewSender(ctx, "q1", nil)
	require.NoError(t, err)

	stream, err := sender.BeginStreamSend(ctx, NewMessage([]byte("doomed")))
	require.NoError(t, err)
	require.NoError(t, stream.Abort(ctx))
	require.ErrorIs(t, stream.Tracker().SettlementFuture(ctx), ErrDeliveryAborted)

	// the link is usable again once the stream is gone.
	tracker, err := sender.Send(ctx, NewMessage([]byte("hello")))
	require.NoError(t, err)
	require.True(t, tracker.RemoteSettled())
}
