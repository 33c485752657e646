package socket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSocket wraps a gorilla/websocket connection as a StreamSocket,
// giving a Tunnel the identical byte-stream contract TCPSocket presents.
// Grounded on the teacher's shared/networking/transport.go, which wrapped
// the same library in a channel-based async send/recv/error shape; this
// version narrows that to the StreamSocket interface pkg/tunnel expects.
type WebSocketSocket struct {
	conn *websocket.Conn

	reads  chan readResult
	closed chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, url string) (*WebSocketSocket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocketSocket(conn), nil
}

// UpgradeWebSocket upgrades an inbound HTTP request to a WebSocket,
// for cmd/peerd's listener to hand off to a new Tunnel.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (*WebSocketSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocketSocket(conn), nil
}

func newWebSocketSocket(conn *websocket.Conn) *WebSocketSocket {
	s := &WebSocketSocket{conn: conn, reads: make(chan readResult, 1), closed: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *WebSocketSocket) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		select {
		case s.reads <- readResult{data: data, err: err}:
		case <-s.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// Read implements StreamSocket.
func (s *WebSocketSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case r := <-s.reads:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements StreamSocket, sending b as one binary WebSocket
// message.
func (s *WebSocketSocket) Write(ctx context.Context, b []byte) error {
	done := make(chan error, 1)
	go func() {
		done <- s.conn.WriteMessage(websocket.BinaryMessage, b)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemoteAddr implements StreamSocket.
func (s *WebSocketSocket) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// LocalAddr implements StreamSocket.
func (s *WebSocketSocket) LocalAddr() string { return s.conn.LocalAddr().String() }

// Close implements StreamSocket.
func (s *WebSocketSocket) Close() error {
	close(s.closed)
	return s.conn.Close()
}
