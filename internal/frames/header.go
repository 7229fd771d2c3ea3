// Package frames implements the AMQP 1.0 frame header, performatives, and
// SASL frames on top of internal/encoding's type codec.
package frames

import (
	"encoding/binary"
	"fmt"

	"github.com/tabish121/AMQPerative/internal/buffer"
)

// Frame type markers carried in byte 5 of the frame header.
const (
	TypeAMQP uint8 = 0x0
	TypeSASL uint8 = 0x1
)

// HeaderSize is the fixed 8-byte frame header length.
const HeaderSize = 8

// Header is the fixed-size frame header that precedes every frame body.
//
//	header (8 bytes)
//	  0-3: SIZE (total size, at least 8 bytes, uint32)
//	  4:   DOFF (data offset, count of 4-byte words, uint8, min 2)
//	  5:   TYPE (frame type: 0x0 AMQP, 0x1 SASL)
//	  6-7: type-dependent (channel, for AMQP)
type Header struct {
	Size       uint32
	DataOffset uint8
	FrameType  uint8
	Channel    uint16
}

// ParseHeader reads a Header from the first 8 bytes of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("frames: buffer too small for header: %d bytes", len(buf))
	}
	h := Header{
		Size:       binary.BigEndian.Uint32(buf[0:4]),
		DataOffset: buf[4],
		FrameType:  buf[5],
		Channel:    binary.BigEndian.Uint16(buf[6:8]),
	}
	if h.Size < HeaderSize {
		return Header{}, fmt.Errorf("frames: malformed header, size %d smaller than header", h.Size)
	}
	if h.DataOffset < 2 {
		return Header{}, fmt.Errorf("frames: malformed header, data offset %d smaller than 2", h.DataOffset)
	}
	return h, nil
}

// Encode appends the wire encoding of h to wr.
func (h Header) Encode(wr *buffer.Buffer) {
	wr.AppendUint32(h.Size)
	wr.AppendByte(h.DataOffset)
	wr.AppendByte(h.FrameType)
	wr.AppendUint16(h.Channel)
}

// ProtoID identifies which protocol layer a protocol header negotiates.
type ProtoID uint8

const (
	ProtoAMQP ProtoID = 0x0
	ProtoTLS  ProtoID = 0x2
	ProtoSASL ProtoID = 0x3
)

// ProtoHeader is the 8-byte "AMQP" magic sequence exchanged before any
// frames flow, negotiating protocol id and version.
type ProtoHeader struct {
	ProtoID  ProtoID
	Major    uint8
	Minor    uint8
	Revision uint8
}

// Encode appends the wire encoding of h, "AMQP" + id + version octets.
func (h ProtoHeader) Encode(wr *buffer.Buffer) {
	wr.Append([]byte{'A', 'M', 'Q', 'P', byte(h.ProtoID), h.Major, h.Minor, h.Revision})
}

// ParseProtoHeader validates and decodes an 8-byte protocol header.
func ParseProtoHeader(buf []byte) (ProtoHeader, error) {
	if len(buf) < 8 {
		return ProtoHeader{}, fmt.Errorf("frames: buffer too small for protocol header: %d bytes", len(buf))
	}
	if buf[0] != 'A' || buf[1] != 'M' || buf[2] != 'Q' || buf[3] != 'P' {
		return ProtoHeader{}, fmt.Errorf("frames: invalid protocol header %q", buf[:4])
	}
	return ProtoHeader{
		ProtoID:  ProtoID(buf[4]),
		Major:    buf[5],
		Minor:    buf[6],
		Revision: buf[7],
	}, nil
}

// FrameBody is implemented by every performative and SASL frame body.
type FrameBody interface {
	frameBody()
	fmt.Stringer
}
