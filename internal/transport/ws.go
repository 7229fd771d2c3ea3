package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsStream adapts a *websocket.Conn, whose Read/Write operate on whole
// messages, to the plain byte-stream Read/Write the engine expects: binary
// messages are concatenated and sliced across Read calls as needed.
type wsStream struct {
	conn     *websocket.Conn
	leftover []byte
}

const wsSubprotocol = "amqp"

// DialWS opens an AMQP-over-WebSocket ("amqpws"/"amqpwss") connection to
// urlStr, negotiating the "amqp" subprotocol.
func DialWS(ctx context.Context, urlStr string, tlsConfig *tls.Config) (ByteStream, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{wsSubprotocol},
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: 45 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, urlStr, http.Header{})
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: conn}, nil
}

func (w *wsStream) Read(p []byte) (int, error) {
	for len(w.leftover) == 0 {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		w.leftover = data
	}
	n := copy(p, w.leftover)
	w.leftover = w.leftover[n:]
	return n, nil
}

func (w *wsStream) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsStream) Close() error { return w.conn.Close() }

func (w *wsStream) SetReadDeadline(t time.Time) error  { return w.conn.SetReadDeadline(t) }
func (w *wsStream) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }

func (w *wsStream) LocalPrincipal() (*tls.ConnectionState, bool) { return nil, false }
