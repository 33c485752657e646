package tunnel

import "fmt"

// State is a Tunnel's position in the forward-only handshake state machine
// (spec.md §4.5): WAIT_CONNECT -> WAIT_CLIENT_HELLO (acceptor) or
// WAIT_SERVER_HELLO (initiator) -> WAIT_PROMOTE -> WAIT_DATA. No
// transition ever moves backward; a Tunnel that would need to restart its
// handshake tears down and a new one is dialed instead (spec.md §9).
type State int

const (
	// WaitConnect is the state immediately after a socket exists but
	// before either side of the handshake has been sent or received.
	WaitConnect State = iota
	// WaitClientHello is the acceptor's state after accepting a
	// connection, before a ClientHello has arrived.
	WaitClientHello
	// WaitServerHello is the initiator's state after sending ClientHello,
	// before a ServerHello has arrived.
	WaitServerHello
	// WaitPromote is reached by both sides once the key exchange is
	// complete: the acceptor after sending ServerHello and waiting for
	// PromoteConnection; the initiator after receiving ServerHello and
	// sending PromoteConnection.
	WaitPromote
	// WaitData is the steady state: the session cipher and sequence
	// numbers are live and DataPacket/HeartbeatPacket/key-rotation
	// messages flow freely.
	WaitData
)

func (s State) String() string {
	switch s {
	case WaitConnect:
		return "WAIT_CONNECT"
	case WaitClientHello:
		return "WAIT_CLIENT_HELLO"
	case WaitServerHello:
		return "WAIT_SERVER_HELLO"
	case WaitPromote:
		return "WAIT_PROMOTE"
	case WaitData:
		return "WAIT_DATA"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// canAdvanceTo reports whether moving from s to next respects the
// forward-only ordering. Equal states are never a valid transition; a
// caller that would otherwise re-enter its current state has a protocol
// bug upstream.
func (s State) canAdvanceTo(next State) bool {
	return next > s
}
