package frames

import (
	"fmt"

	"github.com/tabish121/AMQPerative/internal/buffer"
	"github.com/tabish121/AMQPerative/internal/encoding"
)

// ParseBody decodes a frame body from buf, dispatching on the composite
// descriptor code that opens it. buf must contain exactly the frame body
// (header already stripped).
func ParseBody(buf *buffer.Buffer) (FrameBody, error) {
	payload := buf.Bytes()
	if len(payload) < 3 || payload[0] != 0x0 {
		return nil, fmt.Errorf("frames: invalid frame body header")
	}

	// payload[1] is the ulong descriptor's own type constructor
	// (smallulong or ulong); the performative code is the byte(s) after.
	var code encoding.AMQPType
	switch payload[1] {
	case byte(encoding.TypeCodeSmallUlong):
		code = encoding.AMQPType(payload[2])
	case byte(encoding.TypeCodeUlong):
		if len(payload) < 10 {
			return nil, fmt.Errorf("frames: truncated frame body descriptor")
		}
		code = encoding.AMQPType(payload[9])
	default:
		return nil, fmt.Errorf("frames: invalid descriptor constructor %#02x", payload[1])
	}

	var body FrameBody
	switch code {
	case encoding.TypeCodeOpen:
		body = new(PerformOpen)
	case encoding.TypeCodeBegin:
		body = new(PerformBegin)
	case encoding.TypeCodeAttach:
		body = new(PerformAttach)
	case encoding.TypeCodeFlow:
		body = new(PerformFlow)
	case encoding.TypeCodeTransfer:
		body = new(PerformTransfer)
	case encoding.TypeCodeDisposition:
		body = new(PerformDisposition)
	case encoding.TypeCodeDetach:
		body = new(PerformDetach)
	case encoding.TypeCodeEnd:
		body = new(PerformEnd)
	case encoding.TypeCodeClose:
		body = new(PerformClose)
	case encoding.TypeCodeSASLMechanisms:
		body = new(SASLMechanisms)
	case encoding.TypeCodeSASLInit:
		body = new(SASLInit)
	case encoding.TypeCodeSASLChallenge:
		body = new(SASLChallenge)
	case encoding.TypeCodeSASLResponse:
		body = new(SASLResponse)
	case encoding.TypeCodeSASLOutcome:
		body = new(SASLOutcome)
	default:
		return nil, fmt.Errorf("frames: unknown performative code %#02x", code)
	}

	if err := body.(interface{ Unmarshal(*buffer.Buffer) error }).Unmarshal(buf); err != nil {
		return nil, err
	}
	return body, nil
}

// EmptyFrame is the zero-length heartbeat frame body exchanged to hold a
// connection open across an otherwise idle period.
type EmptyFrame struct{}

func (EmptyFrame) frameBody()                      {}
func (EmptyFrame) Marshal(wr *buffer.Buffer) error { return nil }
func (EmptyFrame) String() string                  { return "EmptyFrame{}" }

// Encode marshals body and wraps it in a full frame (header included),
// writing it to wr. frameType is TypeAMQP or TypeSASL.
func Encode(wr *buffer.Buffer, frameType uint8, channel uint16, body FrameBody) error {
	sizeIdx := wr.Len()
	Header{DataOffset: 2, FrameType: frameType, Channel: channel}.Encode(wr)

	m, ok := body.(interface{ Marshal(*buffer.Buffer) error })
	if !ok {
		return fmt.Errorf("frames: %T does not implement Marshal", body)
	}
	if err := m.Marshal(wr); err != nil {
		return err
	}

	wr.OverwriteUint32(sizeIdx, uint32(wr.Len()-sizeIdx))
	return nil
}
