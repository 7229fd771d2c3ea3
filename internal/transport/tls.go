package transport

import (
	"context"
	"crypto/tls"
	"net"
)

// tlsStream wraps a *tls.Conn as a ByteStream, exposing the negotiated
// connection state for SASL EXTERNAL identity binding.
type tlsStream struct {
	*tls.Conn
}

func (t tlsStream) LocalPrincipal() (*tls.ConnectionState, bool) {
	state := t.Conn.ConnectionState()
	return &state, true
}

// DialTLS opens a TLS connection to addr ("host:port") using cfg, which may
// be nil to take Go's default TLS configuration.
func DialTLS(ctx context.Context, addr string, cfg *tls.Config) (ByteStream, error) {
	d := tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return tlsStream{Conn: conn.(*tls.Conn)}, nil
}
