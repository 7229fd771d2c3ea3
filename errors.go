package amqp

import (
	"errors"
	"fmt"

	"github.com/tabish121/AMQPerative/internal/encoding"
)

// ErrCond is an AMQP defined error condition.
// See http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transport-v1.0-os.html#type-amqp-error for info on their meaning.
type ErrCond = encoding.ErrCond

// Error Conditions
const (
	// AMQP Errors
	ErrCondInternalError         ErrCond = "amqp:internal-error"
	ErrCondNotFound              ErrCond = "amqp:not-found"
	ErrCondUnauthorizedAccess    ErrCond = "amqp:unauthorized-access"
	ErrCondDecodeError           ErrCond = "amqp:decode-error"
	ErrCondResourceLimitExceeded ErrCond = "amqp:resource-limit-exceeded"
	ErrCondNotAllowed            ErrCond = "amqp:not-allowed"
	ErrCondInvalidField          ErrCond = "amqp:invalid-field"
	ErrCondNotImplemented        ErrCond = "amqp:not-implemented"
	ErrCondResourceLocked        ErrCond = "amqp:resource-locked"
	ErrCondPreconditionFailed    ErrCond = "amqp:precondition-failed"
	ErrCondResourceDeleted       ErrCond = "amqp:resource-deleted"
	ErrCondIllegalState          ErrCond = "amqp:illegal-state"
	ErrCondFrameSizeTooSmall     ErrCond = "amqp:frame-size-too-small"

	// Connection Errors
	ErrCondConnectionForced   ErrCond = "amqp:connection:forced"
	ErrCondFramingError       ErrCond = "amqp:connection:framing-error"
	ErrCondConnectionRedirect ErrCond = "amqp:connection:redirect"

	// Session Errors
	ErrCondWindowViolation  ErrCond = "amqp:session:window-violation"
	ErrCondErrantLink       ErrCond = "amqp:session:errant-link"
	ErrCondHandleInUse      ErrCond = "amqp:session:handle-in-use"
	ErrCondUnattachedHandle ErrCond = "amqp:session:unattached-handle"

	// Link Errors
	ErrCondDetachForced          ErrCond = "amqp:link:detach-forced"
	ErrCondTransferLimitExceeded ErrCond = "amqp:link:transfer-limit-exceeded"
	ErrCondMessageSizeExceeded   ErrCond = "amqp:link:message-size-exceeded"
	ErrCondLinkRedirect          ErrCond = "amqp:link:redirect"
	ErrCondStolen                ErrCond = "amqp:link:stolen"
)

type Error = encoding.Error

// DetachError is returned by a link (Receiver/Sender) when a detach frame is received.
//
// RemoteError will be nil if the link was detached gracefully.
type DetachError struct {
	RemoteError *Error
}

func (e *DetachError) Error() string {
	return fmt.Sprintf("link detached, reason: %+v", e.RemoteError)
}

// Errors
var (
	// ErrSessionClosed is propagated to Sender/Receivers
	// when Session.Close() is called.
	ErrSessionClosed = errors.New("amqp: session closed")

	// ErrLinkClosed is returned by send and receive operations when
	// Sender.Close() or Receiver.Close() are called. It wraps
	// ErrIllegalState.
	ErrLinkClosed = fmt.Errorf("%w: link closed", ErrIllegalState)
)

// ConnectionError is propagated to Session and Senders/Receivers
// when the connection has been closed or is no longer functional.
type ConnectionError struct {
	inner error
}

func (c *ConnectionError) Error() string {
	if c.inner == nil {
		return "amqp: connection closed"
	}
	return c.inner.Error()
}

// IOError wraps a transport-level failure observed reading or writing the
// underlying byte stream. It is fatal for the connection it occurred on;
// when a ReconnectOptions is configured, the coordinator treats it as
// recoverable and attempts to re-establish the connection.
type IOError struct {
	inner error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("amqp: I/O error: %v", e.inner)
}

func (e *IOError) Unwrap() error { return e.inner }

// RemotelyClosedError is returned when the peer closed the connection,
// session, or link with an explicit error condition.
type RemotelyClosedError struct {
	RemoteError *Error
}

func (e *RemotelyClosedError) Error() string {
	if e.RemoteError == nil {
		return "amqp: remotely closed"
	}
	return fmt.Sprintf("amqp: remotely closed, condition: %s, description: %s",
		e.RemoteError.Condition, e.RemoteError.Description)
}

// SecurityError is returned when SASL authentication or authorization
// fails, or the peer rejects Open for a security reason. Fatal unless
// Temporary is set (SASL sys-temp), in which case the reconnect
// coordinator will retry.
type SecurityError struct {
	SASLCode  string
	Temporary bool
	inner     error
}

func (e *SecurityError) Error() string {
	if e.inner != nil {
		return fmt.Sprintf("amqp: security error: %v", e.inner)
	}
	return fmt.Sprintf("amqp: security error, sasl code: %s", e.SASLCode)
}

func (e *SecurityError) Unwrap() error { return e.inner }

// ErrResourceClosed is returned from an operation attempted against a
// Connection, Session, Sender, or Receiver that has already been closed,
// locally or remotely.
var ErrResourceClosed = errors.New("amqp: resource closed")

// ErrTimeout is returned when a request does not complete within its
// configured or supplied timeout.
var ErrTimeout = errors.New("amqp: operation timed out")

// ErrUnsupported is returned when the remote does not support a requested
// capability, e.g. anonymous-relay.
var ErrUnsupported = errors.New("amqp: unsupported operation")

// ErrIllegalState is returned for programmatic misuse that is detectable
// without consulting the remote: adding credit during an outstanding
// drain, operating on a link after Close (ErrLinkClosed wraps it), and
// similar. A Session or Connection that has already closed reports
// ErrResourceClosed, ErrSessionClosed or its failure cause instead.
var ErrIllegalState = errors.New("amqp: illegal state")

// ErrNoCredit is returned by Sender.TrySend when the link has no credit to
// transmit with right now; Send would have blocked.
var ErrNoCredit = errors.New("amqp: no link credit available")

// ErrDeliveryAborted resolves the settlement future of a streaming send
// whose delivery was aborted before completion.
var ErrDeliveryAborted = errors.New("amqp: delivery aborted")

var (
	errStreamSendOpen = fmt.Errorf("%w: another streaming send is still open on this link", ErrIllegalState)
	errStreamSendDone = fmt.Errorf("%w: streaming send already completed or aborted", ErrIllegalState)
)
