package transport

import (
	"context"
	"crypto/tls"
	"net"
)

// tcpStream wraps a plain net.Conn (TCP) as a ByteStream.
type tcpStream struct {
	net.Conn
}

func (tcpStream) LocalPrincipal() (*tls.ConnectionState, bool) { return nil, false }

// DialTCP opens a plain TCP connection to addr ("host:port").
func DialTCP(ctx context.Context, addr string) (ByteStream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return tcpStream{Conn: conn}, nil
}
