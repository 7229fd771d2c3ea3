package amqp

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tabish121/AMQPerative/internal/frames"
	"github.com/tabish121/AMQPerative/internal/mocks"
	"github.com/tabish121/AMQPerative/internal/transport"
)

// mockStream adapts mocks.MockConnection (a net.Conn fake) to
// transport.ByteStream for tests that exercise conn/Session/Sender/Receiver
// directly, without a real socket.
type mockStream struct {
	*mocks.MockConnection
}

func (mockStream) LocalPrincipal() (*tls.ConnectionState, bool) { return nil, false }

var _ transport.ByteStream = mockStream{}

// dialMockConn drives dialConn through the protocol-header and Open
// handshake against resp, then returns the live engine. resp is invoked
// only for frames beyond that handshake.
func dialMockConn(t *testing.T, resp func(frames.FrameBody) ([]byte, error)) *conn {
	t.Helper()

	netConn := mocks.NewConnection(func(fr frames.FrameBody) ([]byte, error) {
		switch fr.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(mocks.ProtoAMQP)
		}
		if open, ok := fr.(*frames.PerformOpen); ok {
			return mocks.PerformOpen(open.ContainerID + "-remote")
		}
		return resp(fr)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := dialConn(ctx, mockStream{netConn}, nil)
	require.NoError(t, err)
	return c
}
