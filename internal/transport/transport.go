// Package transport supplies the byte-stream implementations the engine
// dials: plain TCP, TLS, and WebSocket, all satisfying ByteStream so the
// connection mux never needs to know which one it's holding.
package transport

import (
	"crypto/tls"
	"io"
	"time"
)

// ByteStream is the minimal byte-transport boundary the connection engine
// requires. net.Conn already satisfies everything but LocalPrincipal.
type ByteStream interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error

	// LocalPrincipal returns the peer-observed TLS connection state, if the
	// transport is TLS-backed, for SASL EXTERNAL identity binding.
	LocalPrincipal() (*tls.ConnectionState, bool)
}
