package amqp

import (
	"context"

	"github.com/tabish121/AMQPerative/internal/encoding"
)

// anonymousRelaySymbol is the capability a peer must offer in its Open
// performative before a sender with a null target is legal, per the AMQP
// anonymous terminus relay extension.
const anonymousRelaySymbol = encoding.Symbol("ANONYMOUS-RELAY")

// newAnonymousSender attaches a sender whose target has a nil address,
// valid only once the peer has advertised ANONYMOUS-RELAY; every message
// sent on it must then carry its destination in Properties.To.
func newAnonymousSender(ctx context.Context, sess *Session, opts *SenderOptions) (*Sender, error) {
	if !sess.conn.supportsAnonymousRelay() {
		return nil, ErrUnsupported
	}

	sender, err := newSender("", sess, opts)
	if err != nil {
		return nil, err
	}
	sender.target = nil

	if err := sender.attach(ctx, sess); err != nil {
		return nil, err
	}
	return sender, nil
}

// supportsAnonymousRelay reports whether the remote's Open performative
// offered the ANONYMOUS-RELAY capability. Only meaningful after the Open
// exchange has completed, which dialConn guarantees before returning.
func (c *conn) supportsAnonymousRelay() bool {
	for _, s := range c.peerOfferedCapabilities {
		if s == anonymousRelaySymbol {
			return true
		}
	}
	return false
}
