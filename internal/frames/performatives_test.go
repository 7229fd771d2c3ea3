package frames

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/tabish121/AMQPerative/internal/buffer"
	"github.com/tabish121/AMQPerative/internal/encoding"
)

// roundTrip encodes fr into a complete wire frame and parses it back.
func roundTrip(t *testing.T, fr FrameBody) FrameBody {
	t.Helper()

	wr := buffer.New(nil)
	require.NoError(t, Encode(wr, TypeAMQP, 7, fr))
	raw := wr.Detach()

	h, err := ParseHeader(raw)
	require.NoError(t, err)
	require.Equal(t, uint16(7), h.Channel)
	require.EqualValues(t, len(raw), h.Size)

	body, err := ParseBody(buffer.New(raw[HeaderSize:]))
	require.NoError(t, err)
	return body
}

func TestPerformativeRoundTrips(t *testing.T) {
	idle := encoding.Milliseconds(30 * time.Second)
	remoteChannel := uint16(3)
	nextIncomingID := uint32(12)
	handle := uint32(4)
	deliveryCount := uint32(5)
	linkCredit := uint32(100)
	deliveryID := uint32(42)
	format := uint32(0)
	last := uint32(43)

	cases := []FrameBody{
		&PerformOpen{
			ContainerID:         "container-1",
			Hostname:            "broker.example.com",
			MaxFrameSize:        65536,
			ChannelMax:          4095,
			IdleTimeout:         &idle,
			OfferedCapabilities: encoding.MultiSymbol{"ANONYMOUS-RELAY"},
			Properties:          map[encoding.Symbol]interface{}{"product": "amqperative"},
		},
		&PerformBegin{
			RemoteChannel:  &remoteChannel,
			NextOutgoingID: 1,
			IncomingWindow: 5000,
			OutgoingWindow: 1000,
			HandleMax:      255,
		},
		&PerformAttach{
			Name:               "link-1",
			Handle:             handle,
			Role:               encoding.RoleSender,
			SenderSettleMode:   encoding.ModeSettled,
			ReceiverSettleMode: encoding.ModeSecond,
			Source: &encoding.Source{
				Address:      "examples",
				Durable:      encoding.DurabilityConfiguration,
				ExpiryPolicy: encoding.ExpirySessionEnd,
				Timeout:      30,
				Capabilities: encoding.MultiSymbol{"queue"},
			},
			Target: &encoding.Target{
				Address:      "examples",
				ExpiryPolicy: encoding.ExpirySessionEnd,
			},
			InitialDeliveryCount: 2,
			MaxMessageSize:       1 << 20,
		},
		&PerformFlow{
			NextIncomingID: &nextIncomingID,
			IncomingWindow: 2048,
			NextOutgoingID: 13,
			OutgoingWindow: 2048,
			Handle:         &handle,
			DeliveryCount:  &deliveryCount,
			LinkCredit:     &linkCredit,
			Drain:          true,
			Echo:           true,
		},
		&PerformTransfer{
			Handle:        handle,
			DeliveryID:    &deliveryID,
			DeliveryTag:   []byte("tag-0001"),
			MessageFormat: &format,
			More:          true,
			Payload:       []byte("section bytes"),
		},
		&PerformDisposition{
			Role:    encoding.RoleReceiver,
			First:   deliveryID,
			Last:    &last,
			Settled: true,
			State:   encoding.StateAccepted{},
		},
		&PerformDisposition{
			Role:  encoding.RoleReceiver,
			First: deliveryID,
			State: encoding.StateRejected{Error: &encoding.Error{
				Condition:   "amqp:internal-error",
				Description: "something broke",
			}},
		},
		&PerformDetach{
			Handle: handle,
			Closed: true,
			Error: &encoding.Error{
				Condition:   "amqp:link:transfer-limit-exceeded",
				Description: "credit violated",
			},
		},
		&PerformEnd{
			Error: &encoding.Error{Condition: "amqp:session:window-violation"},
		},
		&PerformClose{
			Error: &encoding.Error{Condition: "amqp:connection:forced"},
		},
	}

	for _, fr := range cases {
		t.Run(fmt.Sprintf("%T", fr), func(t *testing.T) {
			got := roundTrip(t, fr)
			if diff := cmp.Diff(fr, got); diff != "" {
				t.Fatalf("round trip mismatch (-sent +parsed):\n%s", diff)
			}
		})
	}
}
