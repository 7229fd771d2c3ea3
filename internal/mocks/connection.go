// Package mocks provides a net.Conn-compatible fake transport, driven by a
// response callback, for exercising the engine without a real broker.
package mocks

import (
	"errors"
	"math"
	"net"
	"time"

	"github.com/tabish121/AMQPerative/internal/buffer"
	"github.com/tabish121/AMQPerative/internal/encoding"
	"github.com/tabish121/AMQPerative/internal/frames"
)

// NewConnection creates a new instance of MockConnection.
// Responder is invoked by Write when a frame is received.
// Return a nil slice/nil error to swallow the frame.
// Return a non-nil error to simulate a write error.
func NewConnection(resp func(frames.FrameBody) ([]byte, error)) *MockConnection {
	return &MockConnection{
		resp: resp,
		// during shutdown, frames can still be written after conn.rxLoop has
		// stopped reading, so nothing consumes their responses. we used a
		// buffered channel to prevent these writes from blocking shutdown.
		// the size was arbitrarily picked.
		readData:  make(chan []byte, 10),
		readClose: make(chan struct{}),
		// callers that never set a read deadline still need Read to block
		// rather than dereference a nil timer.
		readDL: time.NewTimer(24 * time.Hour),
	}
}

// MockConnection is a mock connection that satisfies the net.Conn interface.
type MockConnection struct {
	resp      func(frames.FrameBody) ([]byte, error)
	readDL    *time.Timer
	readData  chan []byte
	readClose chan struct{}
	closed    bool

	// pending holds bytes from a queued response not yet delivered to the
	// caller. conn.rxLoop reads a frame as a fixed-size header followed by
	// a separately-sized body, two Read calls against one queued []byte,
	// so leftovers from the first call must survive for the second.
	pending []byte
}

// NOTE: Read, Write, and Close are all called by separate goroutines!

// Read is invoked by the handshake reads during Dial and then by
// conn.rxLoop to receive frame data.
// It blocks until Write or Close are called, or the read
// deadline expires which will return an error.
func (m *MockConnection) Read(b []byte) (n int, err error) {
	if len(m.pending) > 0 {
		n = copy(b, m.pending)
		m.pending = m.pending[n:]
		return n, nil
	}

	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	default:
	}

	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	case <-m.readDL.C:
		return 0, errors.New("mock connection read deadline exceeded")
	case rd := <-m.readData:
		n = copy(b, rd)
		if n < len(rd) {
			m.pending = rd[n:]
		}
		return n, nil
	}
}

// Write is invoked by conn.txFrameRaw, on whichever goroutine sends the
// frame, when we're being sent frame data.
// Every call to Write will invoke the responder callback that must reply
// with one of three possibilities:
//  1. an encoded frame and nil error
//  2. a non-nil error to simulate a write failure
//  3. a nil slice and nil error indicating the frame should be ignored
func (m *MockConnection) Write(b []byte) (n int, err error) {
	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	default:
	}

	frame, err := decodeFrame(b)
	if err != nil {
		return 0, err
	}
	resp, err := m.resp(frame)
	if err != nil {
		return 0, err
	}
	if resp != nil {
		m.readData <- resp
	}
	return len(b), nil
}

// Close is called by conn.shutdown when the connection is torn down.
func (m *MockConnection) Close() error {
	if m.closed {
		return errors.New("double close")
	}
	m.closed = true
	close(m.readClose)
	return nil
}

func (m *MockConnection) LocalAddr() net.Addr {
	return &net.IPAddr{IP: net.IPv4(127, 0, 0, 2)}
}

func (m *MockConnection) RemoteAddr() net.Addr {
	return &net.IPAddr{IP: net.IPv4(127, 0, 0, 2)}
}

func (m *MockConnection) SetDeadline(t time.Time) error {
	return errors.New("not used")
}

func (m *MockConnection) SetReadDeadline(t time.Time) error {
	// called by the handshake reads and conn.rxLoop before calling Read; stop the last timer if available
	if m.readDL != nil && !m.readDL.Stop() {
		<-m.readDL.C
	}
	until := 24 * time.Hour // a zero time clears the deadline
	if !t.IsZero() {
		until = time.Until(t)
	}
	m.readDL = time.NewTimer(until)
	return nil
}

func (m *MockConnection) SetWriteDeadline(t time.Time) error {
	// not called by the engine; writes carry no deadline
	return nil
}

// ProtoID indicates the type of protocol (mirrors frames.ProtoID).
type ProtoID = frames.ProtoID

const (
	ProtoAMQP = frames.ProtoAMQP
	ProtoTLS  = frames.ProtoTLS
	ProtoSASL = frames.ProtoSASL
)

// ProtoHeader builds the initial handshake frame. This frame, and
// PerformOpen, are needed when calling amqp.Dial() to create a client.
func ProtoHeader(id ProtoID) ([]byte, error) {
	return []byte{'A', 'M', 'Q', 'P', byte(id), 1, 0, 0}, nil
}

// PerformOpen builds a PerformOpen frame with the specified container ID.
func PerformOpen(containerID string) ([]byte, error) {
	return EncodeFrame(FrameAMQP, &frames.PerformOpen{ContainerID: containerID})
}

// PerformBegin builds a PerformBegin frame with the specified remote channel ID.
func PerformBegin(remoteChannel uint16) ([]byte, error) {
	return EncodeFrame(FrameAMQP, &frames.PerformBegin{
		RemoteChannel:  &remoteChannel,
		NextOutgoingID: 0,
		IncomingWindow: 5000,
		OutgoingWindow: 1000,
		HandleMax:      math.MaxInt16,
	})
}

// PerformEnd builds a PerformEnd frame, optionally carrying err.
func PerformEnd(err *encoding.Error) ([]byte, error) {
	return EncodeFrame(FrameAMQP, &frames.PerformEnd{Error: err})
}

// ReceiverAttach builds a PerformAttach frame with the specified values,
// playing the role of a sender attaching to the caller's receiver.
func ReceiverAttach(linkName string, linkHandle uint32, mode encoding.ReceiverSettleMode) ([]byte, error) {
	return EncodeFrame(FrameAMQP, &frames.PerformAttach{
		Name:   linkName,
		Handle: linkHandle,
		Role:   encoding.RoleSender,
		Source: &encoding.Source{
			Address:      "test",
			Durable:      encoding.DurabilityNone,
			ExpiryPolicy: encoding.ExpirySessionEnd,
		},
		ReceiverSettleMode: mode,
		MaxMessageSize:     math.MaxUint32,
	})
}

// SenderAttach builds a PerformAttach frame with the specified values,
// playing the role of a receiver attaching to the caller's sender.
func SenderAttach(linkName string, linkHandle uint32, mode encoding.SenderSettleMode) ([]byte, error) {
	return EncodeFrame(FrameAMQP, &frames.PerformAttach{
		Name:   linkName,
		Handle: linkHandle,
		Role:   encoding.RoleReceiver,
		Target: &encoding.Target{
			Address:      "test",
			Durable:      encoding.DurabilityNone,
			ExpiryPolicy: encoding.ExpirySessionEnd,
		},
		SenderSettleMode: mode,
		MaxMessageSize:   math.MaxUint32,
	})
}

// Flow builds a PerformFlow frame granting the specified link credit.
func Flow(handle uint32, deliveryCount, linkCredit uint32) ([]byte, error) {
	return EncodeFrame(FrameAMQP, &frames.PerformFlow{
		Handle:         &handle,
		DeliveryCount:  &deliveryCount,
		LinkCredit:     &linkCredit,
		IncomingWindow: math.MaxInt32,
		OutgoingWindow: 0,
	})
}

// PerformTransfer builds a PerformTransfer frame with the specified values.
// linkHandle MUST match the linkHandle value specified in ReceiverAttach.
func PerformTransfer(linkHandle, deliveryID uint32, payload []byte) ([]byte, error) {
	format := uint32(0)
	payloadBuf := buffer.New(nil)
	encoding.WriteDescriptor(payloadBuf, encoding.TypeCodeApplicationData)
	if err := encoding.WriteBinary(payloadBuf, payload); err != nil {
		return nil, err
	}
	return EncodeFrame(FrameAMQP, &frames.PerformTransfer{
		Handle:        linkHandle,
		DeliveryID:    &deliveryID,
		DeliveryTag:   []byte("tag"),
		MessageFormat: &format,
		Payload:       payloadBuf.Detach(),
	})
}

// PerformDisposition builds a PerformDisposition frame with the specified
// values. deliveryID MUST match the deliveryID value given to PerformTransfer.
func PerformDisposition(deliveryID uint32, state encoding.DeliveryState) ([]byte, error) {
	return EncodeFrame(FrameAMQP, &frames.PerformDisposition{
		Role:    encoding.RoleSender,
		First:   deliveryID,
		Settled: true,
		State:   state,
	})
}

// AMQPProto is the frame type surfaced to the responder for the initial
// protocol handshake bytes ("AMQP" + version octets).
type AMQPProto struct {
	frames.FrameBody
}

// KeepAlive is the frame type surfaced to the responder for an empty
// (header-only) keep-alive frame.
type KeepAlive struct {
	frames.FrameBody
}

// FrameType mirrors frames.TypeAMQP/frames.TypeSASL for test code that
// builds raw frames without importing internal/frames directly.
type FrameType = uint8

const FrameAMQP FrameType = frames.TypeAMQP

// EncodeFrame wraps f in a complete wire frame (header + body) of type t.
func EncodeFrame(t FrameType, f frames.FrameBody) ([]byte, error) {
	wr := buffer.New(nil)
	if err := frames.Encode(wr, t, 0, f); err != nil {
		return nil, err
	}
	return wr.Detach(), nil
}

func decodeFrame(b []byte) (frames.FrameBody, error) {
	if len(b) >= 4 && b[0] == 'A' && b[1] == 'M' && b[2] == 'Q' && b[3] == 'P' {
		return &AMQPProto{}, nil
	}

	header, err := frames.ParseHeader(b)
	if err != nil {
		return nil, err
	}
	bodySize := int64(header.Size - frames.HeaderSize)
	if bodySize == 0 {
		return &KeepAlive{}, nil
	}

	buf := buffer.New(b[frames.HeaderSize:])
	body, ok := buf.Next(bodySize)
	if !ok {
		return nil, errors.New("mocks: truncated frame body")
	}
	return frames.ParseBody(buffer.New(body))
}
