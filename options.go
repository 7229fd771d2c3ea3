package amqp

import (
	"time"

	"github.com/tabish121/AMQPerative/internal/auth"
	"github.com/tabish121/AMQPerative/internal/encoding"
)

// ConnOptions configures a Connection. A nil *ConnOptions is equivalent to
// the zero value; every field, and the Reconnect record, is copied into the
// Connection at Dial time, so later mutation of a caller-held ConnOptions
// has no effect on an in-flight connection. Slices and maps held by those
// fields are not copied and stay shared.
type ConnOptions struct {
	// ContainerID overrides the random default container-id.
	ContainerID string

	// HostName is sent as the Open performative's hostname field, and, for
	// amqps/wss transports, used as the TLS server name for certificate
	// verification. The WebSocket handshake's Host header comes from the
	// dialed address, not from HostName.
	HostName string

	// SASLType selects the authentication mechanism and carries its
	// credential material. When nil, the SASL layer is skipped entirely
	// and the connection goes straight to the AMQP header exchange.
	SASLType *auth.Credential

	// MaxFrameSize is the largest frame this connection will accept or send.
	// Values below 512, zero included, keep the default of 65536.
	MaxFrameSize uint32

	// ChannelMax is sent as the Open performative's channel-max field; zero
	// keeps the default. NewSession allocates channels in sequence and does
	// not check them against it.
	ChannelMax uint16

	// IdleTimeout is the longest the connection will go without receiving a
	// frame before closing with amqp:resource-limit-exceeded. Zero disables
	// the idle check.
	IdleTimeout time.Duration

	// Properties is sent as the Open performative's properties field.
	Properties map[string]interface{}

	// Reconnect, if non-nil, enables the reconnect coordinator.
	Reconnect *ReconnectOptions

	// Timeout bounds each reconnect attempt: the redial and the replay of
	// sessions and links that follows it (30 seconds when zero). Dial and
	// the other blocking calls are bounded only by their own ctx.
	Timeout time.Duration
}

// ReconnectOptions configures the reconnect coordinator.
type ReconnectOptions struct {
	// Enabled turns reconnect on. Hosts beyond the dialed one are tried in
	// round-robin order on every subsequent failure.
	Enabled bool

	// Hosts lists alternate "host:port" endpoints tried after the primary.
	Hosts []string

	// MaxAttempts bounds the number of reconnect attempts across the whole
	// host list before failing permanently. Zero means unlimited.
	MaxAttempts int

	// InitialDelay is the backoff before the first reconnect attempt. It is
	// NOT applied to the initial connect.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64

	// UseBackoff disables exponential growth when false, retrying at a
	// constant InitialDelay instead.
	UseBackoff bool

	// OnInterrupted, if set, is called from the coordinator's goroutine
	// exactly once per connection loss, before the first reconnect attempt.
	OnInterrupted func(error)

	// OnReconnected, if set, is called once topology re-creation succeeds.
	OnReconnected func()

	// OnFailed, if set, is called exactly once, when reconnect gives up
	// (MaxAttempts exhausted or a non-retryable failure), after which the
	// Connection is permanently closed.
	OnFailed func(error)
}

func (r *ReconnectOptions) delayFor(attempt int) time.Duration {
	if r == nil || r.InitialDelay <= 0 {
		return 0
	}
	if !r.UseBackoff || attempt <= 0 {
		return r.InitialDelay
	}
	d := r.InitialDelay
	mult := r.BackoffMultiplier
	if mult <= 1 {
		mult = 2
	}
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if r.MaxDelay > 0 && d > r.MaxDelay {
			return r.MaxDelay
		}
	}
	return d
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// IncomingWindow is the initial local incoming-window, in transfer
	// frames, before a Flow is required to top it up.
	IncomingWindow uint32

	// OutgoingWindow is the initial local outgoing-window.
	OutgoingWindow uint32

	// MaxLinks caps the number of concurrently attached links (handles).
	MaxLinks uint32
}

// SenderOptions configures a Sender at attach time.
type SenderOptions struct {
	// Name overrides the randomly generated link name.
	Name string

	// SourceAddress, if set, requests a named source terminus instead of an
	// anonymous one.
	SourceAddress string

	// DynamicAddress requests a server-assigned target address.
	DynamicAddress bool

	// Durability requests terminus durability.
	Durability encoding.Durability

	// ExpiryPolicy requests a non-default terminus expiry policy.
	ExpiryPolicy encoding.ExpiryPolicy

	// ExpiryTimeout is the terminus expiry timeout in seconds.
	ExpiryTimeout uint32

	// Capabilities requests the listed source capabilities.
	Capabilities []string

	// SettlementMode requests a sender-settle-mode.
	SettlementMode *encoding.SenderSettleMode

	// RequestedReceiverSettleMode requests a receiver-settle-mode.
	RequestedReceiverSettleMode *encoding.ReceiverSettleMode

	// Properties is attached as the link's Attach.properties field.
	Properties map[string]interface{}

	// IgnoreDispositionErrors keeps the link open after a Rejected
	// disposition instead of detaching it; see Sender.detachOnRejectDisp.
	IgnoreDispositionErrors bool

	// AutoSettle settles a Tracker locally as soon as a terminal remote
	// state is observed.
	AutoSettle bool
}

// ReceiverOptions configures a Receiver at attach time.
type ReceiverOptions struct {
	Name                      string
	SourceAddress             string
	DynamicAddress            bool
	Durability                encoding.Durability
	ExpiryPolicy              encoding.ExpiryPolicy
	ExpiryTimeout             uint32
	Capabilities              []string
	SettlementMode            *encoding.ReceiverSettleMode
	RequestedSenderSettleMode *encoding.SenderSettleMode
	Properties                map[string]interface{}
	Filter                    encoding.Filter

	// Credit sizes the delivery queue when CreditWindow is zero (manual
	// credit management); zero means a queue of one. No credit is granted at
	// attach: the application grants it with AddCredit, which fails with
	// ErrCreditLimitExceeded once queued deliveries plus outstanding credit
	// would exceed the queue size.
	Credit uint32

	// CreditWindow, when non-zero, switches the receiver to the
	// auto-replenishing credit-window policy, keeping outstanding credit
	// topped up to this value as deliveries are taken.
	CreditWindow uint32
}
