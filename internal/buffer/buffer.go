/*
Package buffer implements a small growable byte buffer tuned for encoding
and decoding AMQP frames without extra allocations on the hot path.
*/
package buffer

import "encoding/binary"

// Buffer is a simple, non-concurrency-safe byte buffer.
//
// Unlike bytes.Buffer, Next does not copy: it returns a slice aliasing the
// buffer's backing array, which is safe here because each frame body is
// read off the transport into its own freshly allocated slice.
type Buffer struct {
	b   []byte
	off int
}

// New creates a Buffer wrapping b. Writes append to b; reads start at offset 0.
func New(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Reset empties the buffer, retaining its backing array.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.off = 0
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.b) - b.off
}

// Size returns the total number of bytes written.
func (b *Buffer) Size() int {
	return len(b.b)
}

// Bytes returns the unread portion of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.b[b.off:]
}

// Detach returns the full written buffer and leaves b empty.
func (b *Buffer) Detach() []byte {
	out := b.b
	b.b = nil
	b.off = 0
	return out
}

// Skip advances the read offset by n bytes.
func (b *Buffer) Skip(n int) {
	b.off += n
}

// Next returns the next n unread bytes without copying, and advances the
// read offset. ok is false if fewer than n bytes remain.
func (b *Buffer) Next(n int64) (buf []byte, ok bool) {
	if n < 0 || int64(b.Len()) < n {
		return nil, false
	}
	buf = b.b[b.off : b.off+int(n)]
	b.off += int(n)
	return buf, true
}

// ReadByte reads and consumes a single byte.
func (b *Buffer) ReadByte() (byte, error) {
	if b.Len() < 1 {
		return 0, ErrBufferTooSmall
	}
	c := b.b[b.off]
	b.off++
	return c, nil
}

// PeekByte returns the next unread byte without consuming it.
func (b *Buffer) PeekByte() (byte, bool) {
	if b.Len() < 1 {
		return 0, false
	}
	return b.b[b.off], true
}

// Append appends p to the buffer.
func (b *Buffer) Append(p []byte) {
	b.b = append(b.b, p...)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	b.b = append(b.b, c)
}

// AppendString appends s without a length prefix.
func (b *Buffer) AppendString(s string) {
	b.b = append(b.b, s...)
}

// AppendUint16 appends v in network byte order.
func (b *Buffer) AppendUint16(v uint16) {
	b.b = append(b.b, byte(v>>8), byte(v))
}

// AppendUint32 appends v in network byte order.
func (b *Buffer) AppendUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

// AppendUint64 appends v in network byte order.
func (b *Buffer) AppendUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

// OverwriteUint32 rewrites the big-endian uint32 at offset i, used to
// patch in the frame size once the body has been marshaled.
func (b *Buffer) OverwriteUint32(i int, v uint32) {
	binary.BigEndian.PutUint32(b.b[i:i+4], v)
}

// ErrBufferTooSmall is returned when a read runs past the end of the buffer.
var ErrBufferTooSmall = bufferTooSmallError{}

type bufferTooSmallError struct{}

func (bufferTooSmallError) Error() string { return "buffer: not enough bytes" }
