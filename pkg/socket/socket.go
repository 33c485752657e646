// Package socket implements the SocketLayer collaborator (spec.md §6,
// SPEC_FULL.md §4.9): TCP, WebSocket and QUIC stream transports sharing one
// StreamSocket contract, plus a UDP datagram transport. Each exposes
// blocking Read/Write (or ReadFrom/WriteTo) methods; errors and disconnects
// come back from those calls, and no transport publishes pkg/events Events.
package socket

import "context"

// StreamSocket is the byte-stream transport contract a Tunnel drives
// without knowing whether the underlying connection is a raw TCP socket
// or a WebSocket tunneling the same bytes through a proxy.
type StreamSocket interface {
	// Read blocks for the next chunk of bytes the peer sent.
	Read(ctx context.Context) ([]byte, error)
	// Write sends b to the peer, blocking until it is queued.
	Write(ctx context.Context, b []byte) error
	// RemoteAddr identifies the peer, for logging and ConnectionMgr
	// bookkeeping.
	RemoteAddr() string
	// LocalAddr identifies this side's bound address, so ConnectionMgr can
	// tell which tunnels ride a network adapter that has gone away.
	LocalAddr() string
	// Close tears down the underlying connection.
	Close() error
}

// DatagramSocket is the UDP transport contract the broadcast discovery
// listener (pkg/discovery) uses.
type DatagramSocket interface {
	// ReadFrom blocks for the next datagram and the address it came from.
	ReadFrom(ctx context.Context) ([]byte, string, error)
	// WriteTo sends b to addr.
	WriteTo(ctx context.Context, b []byte, addr string) error
	// Close tears down the underlying socket.
	Close() error
}
