package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tabish121/AMQPerative/internal/buffer"
	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
	"github.com/tabish121/AMQPerative/internal/mocks"
)

func TestReceiverReceiveAndAccept(t *testing.T) {
	gotDisp := make(chan *frames.PerformDisposition, 1)
	delivered := false

	c := dialMockConn(t, func(fr frames.FrameBody) ([]byte, error) {
		switch fr := fr.(type) {
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)

		case *frames.PerformAttach:
			mode := encoding.ModeFirst
			return mocks.ReceiverAttach(fr.Name, fr.Handle, mode)

		case *frames.PerformFlow:
			if delivered || fr.Handle == nil {
				return nil, nil
			}
			delivered = true
			return mocks.PerformTransfer(*fr.Handle, 0, []byte("hi"))

		case *frames.PerformDisposition:
			gotDisp <- fr
			return nil, nil

		default:
			return nil, nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)

	recv, err := sess.NewReceiver(ctx, "q1", &ReceiverOptions{CreditWindow: 1})
	require.NoError(t, err)

	delivery, err := recv.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(0), delivery.DeliveryID())

	msg, err := delivery.Message()
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), msg.GetData())

	require.NoError(t, delivery.Accept())

	select {
	case fr := <-gotDisp:
		require.Equal(t, uint32(0), fr.First)
		require.Equal(t, encoding.StateAccepted{}, fr.State)
	case <-time.After(time.Second):
		t.Fatal("no disposition observed")
	}
}

func TestReceiverMultiTransferReassembly(t *testing.T) {
	sent := false

	c := dialMockConn(t, func(fr frames.FrameBody) ([]byte, error) {
		switch fr := fr.(type) {
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)

		case *frames.PerformAttach:
			mode := encoding.ModeFirst
			return mocks.ReceiverAttach(fr.Name, fr.Handle, mode)

		case *frames.PerformFlow:
			if sent || fr.Handle == nil {
				return nil, nil
			}
			sent = true

			body := buffer.New(nil)
			encoding.WriteDescriptor(body, encoding.TypeCodeApplicationData)
			if err := encoding.WriteBinary(body, []byte("hello")); err != nil {
				return nil, err
			}
			encoded := body.Detach()
			split := len(encoded) / 2

			deliveryID := uint32(0)
			format := uint32(0)
			first, err := mocks.EncodeFrame(mocks.FrameAMQP, &frames.PerformTransfer{
				Handle:        *fr.Handle,
				DeliveryID:    &deliveryID,
				DeliveryTag:   []byte("tag"),
				MessageFormat: &format,
				More:          true,
				Payload:       encoded[:split],
			})
			if err != nil {
				return nil, err
			}
			second, err := mocks.EncodeFrame(mocks.FrameAMQP, &frames.PerformTransfer{
				Handle:  *fr.Handle,
				More:    false,
				Payload: encoded[split:],
			})
			if err != nil {
				return nil, err
			}
			return append(first, second...), nil

		default:
			return nil, nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)

	recv, err := sess.NewReceiver(ctx, "q1", &ReceiverOptions{CreditWindow: 1})
	require.NoError(t, err)

	delivery, err := recv.Receive(ctx)
	require.NoError(t, err)

	msg, err := delivery.Message()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), msg.GetData())

	require.Nil(t, recv.TryReceive())
}

func TestReceiverDrainCompletesOnFlowResponse(t *testing.T) {
	c := dialMockConn(t, func(fr frames.FrameBody) ([]byte, error) {
		switch fr := fr.(type) {
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)

		case *frames.PerformAttach:
			return mocks.ReceiverAttach(fr.Name, fr.Handle, encoding.ModeFirst)

		case *frames.PerformFlow:
			if fr.Handle == nil || !fr.Drain {
				return nil, nil
			}
			// consume the outstanding credit by advancing delivery-count
			// instead of delivering.
			deliveryCount := uint32(0)
			if fr.DeliveryCount != nil {
				deliveryCount = *fr.DeliveryCount
			}
			if fr.LinkCredit != nil {
				deliveryCount += *fr.LinkCredit
			}
			linkCredit := uint32(0)
			return mocks.EncodeFrame(mocks.FrameAMQP, &frames.PerformFlow{
				Handle:         fr.Handle,
				DeliveryCount:  &deliveryCount,
				LinkCredit:     &linkCredit,
				Drain:          true,
				IncomingWindow: 5000,
				OutgoingWindow: 0,
			})

		default:
			return nil, nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)

	recv, err := sess.NewReceiver(ctx, "q1", &ReceiverOptions{Credit: 7})
	require.NoError(t, err)
	require.NoError(t, recv.AddCredit(7))

	require.NoError(t, recv.Drain(ctx))
	require.Zero(t, recv.linkCredit)
}

func TestReceiverAddCreditDuringDrainIsIllegalState(t *testing.T) {
	c := dialMockConn(t, func(fr frames.FrameBody) ([]byte, error) {
		switch fr := fr.(type) {
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformAttach:
			return mocks.ReceiverAttach(fr.Name, fr.Handle, encoding.ModeFirst)
		default:
			// never answer the drain flow: keep the drain pending.
			return nil, nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sess, err := c.NewSession(ctx, nil)
	require.NoError(t, err)

	recv, err := sess.NewReceiver(ctx, "q1", nil)
	require.NoError(t, err)
	require.NoError(t, recv.AddCredit(1))

	drainCtx, drainCancel := context.WithCancel(context.Background())
	drainErr := make(chan error, 1)
	go func() { drainErr <- recv.Drain(drainCtx) }()

	require.Eventually(t, func() bool {
		return errors.Is(recv.AddCredit(1), errLinkDraining)
	}, time.Second, time.Millisecond)

	drainCancel()
	require.ErrorIs(t, <-drainErr, context.Canceled)
}
