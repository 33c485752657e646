// Package tunnel implements the Tunnel state machine (spec.md §4.5, §4.6):
// the handshake that brings a raw StreamSocket up to an authenticated,
// replay-protected session, and the steady-state data/heartbeat/rotation
// traffic that flows once it has.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shadowmesh/tunnelmesh/pkg/events"
	"github.com/shadowmesh/tunnelmesh/pkg/socket"
	"github.com/shadowmesh/tunnelmesh/shared/crypto"
	"github.com/shadowmesh/tunnelmesh/shared/fragment"
	"github.com/shadowmesh/tunnelmesh/shared/parser"
	"github.com/shadowmesh/tunnelmesh/shared/session"
	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

// assumedCipherOverhead is shared/crypto.Cipher's ChaCha20-Poly1305
// per-frame overhead (NonceSize + TagSize). Config.maxFragmentPayload
// falls back to it when the caller doesn't supply one, on the assumption
// that the configured KeyRing is shared/crypto's.
const assumedCipherOverhead = 12 + 16

// rotationGracePeriod is how long a superseded session cipher stays
// installed after a successful key rotation, so frames already in flight
// under it still decode (shared/crypto/keyring.go's EvictCipherID note).
const rotationGracePeriod = 30 * time.Second

var (
	// ErrIdentityVerificationFailed is returned when a peer's signed
	// HostIdentity does not verify against the hello it accompanies
	// (spec.md §9's triangle-attack resolution).
	ErrIdentityVerificationFailed = errors.New("tunnel: identity verification failed")
	// ErrSessionVerificationFailed is returned when an inbound frame's
	// session header fails replay verification.
	ErrSessionVerificationFailed = errors.New("tunnel: session verification failed")
	// ErrNotEstablished is returned by operations that require WAIT_DATA.
	ErrNotEstablished = errors.New("tunnel: not yet established")
	// ErrClosed is returned by Send/Recv once a Tunnel has torn down.
	ErrClosed = errors.New("tunnel: closed")
	// ErrUnexpectedMessage is returned when a handshake step receives a
	// message type other than the one it is waiting for.
	ErrUnexpectedMessage = errors.New("tunnel: unexpected message")
	// ErrPeerHostIDMismatch is returned by DialInitiator when the peer's
	// ServerHello names a host id other than the one the caller expected
	// to reach, e.g. ConnectionMgr dialed the wrong address for a host.
	ErrPeerHostIDMismatch = errors.New("tunnel: peer host id mismatch")
)

// Config bundles the collaborators a Tunnel needs, independent of which
// side of the handshake it plays (spec.md §6).
type Config struct {
	HostID   string
	Ring     wire.KeyRing
	Catalog  *wire.Catalog
	Identity *crypto.Identity // optional; nil sends unsigned hellos
	Bus      *events.Bus

	// MaxFragmentPayload bounds fragment.Split's slice size. Zero selects
	// a default sized off wire.MaxCiphertextLength and assumedCipherOverhead.
	MaxFragmentPayload int
}

func (c Config) maxFragmentPayload() int {
	if c.MaxFragmentPayload > 0 {
		return c.MaxFragmentPayload
	}
	return wire.MaxCiphertextLength - wire.FramingOverhead(wire.TypeFragmentPacket, assumedCipherOverhead, true)
}

// Tunnel drives one peer connection through the handshake state machine
// (pkg/tunnel/states.go) to WAIT_DATA and then carries DataPacket payloads
// in both directions. A Tunnel owns exactly one StreamSocket; callers fan
// in from many Tunnels via pkg/connmgr rather than sharing one.
type Tunnel struct {
	mu    sync.Mutex
	state State

	hostID     string
	peerHostID string

	sock    socket.StreamSocket
	sendMu  sync.Mutex // held across all fragment writes of one message
	parser  *parser.StreamParser
	pending [][]byte

	sess     *session.Session
	ring     wire.KeyRing
	catalog  *wire.Catalog
	identity *crypto.Identity
	bus      *events.Bus

	cipher             wire.Cipher
	maxFragmentPayload int
	reassembler        *fragment.Reassembler
	pendingRotationKex *crypto.KeyExchange

	lastRecv time.Time
	lastSent time.Time

	dataCh chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newTunnel(sock socket.StreamSocket, cfg Config) *Tunnel {
	return &Tunnel{
		state:              WaitConnect,
		hostID:             cfg.HostID,
		sock:               sock,
		parser:             parser.NewStreamParser(),
		ring:               cfg.Ring,
		catalog:            cfg.Catalog,
		identity:           cfg.Identity,
		bus:                cfg.Bus,
		maxFragmentPayload: cfg.maxFragmentPayload(),
		dataCh:             make(chan []byte, 64),
		closed:             make(chan struct{}),
	}
}

// HostID returns this side's own host id.
func (t *Tunnel) HostID() string { return t.hostID }

// PeerHostID returns the peer's host id, valid once the handshake has
// progressed past WAIT_CLIENT_HELLO/WAIT_SERVER_HELLO.
func (t *Tunnel) PeerHostID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerHostID
}

// State reports the tunnel's current handshake state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RemoteAddr identifies the peer's transport address.
func (t *Tunnel) RemoteAddr() string { return t.sock.RemoteAddr() }

// LocalAddr identifies this side's transport address, for matching a
// tunnel against a network adapter that has gone away (pkg/connmgr).
func (t *Tunnel) LocalAddr() string { return t.sock.LocalAddr() }

// LastRecv reports when the receive loop last accepted a frame from the
// peer, for ConnectionMgr's idle-timeout sweep (spec.md §4.6).
func (t *Tunnel) LastRecv() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRecv
}

// LastSent reports when this side last wrote a frame to the peer, for
// ConnectionMgr's heartbeat-scheduling sweep (spec.md §4.6).
func (t *Tunnel) LastSent() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSent
}

// SendHeartbeat carries a HeartbeatPacket to the peer, reporting this
// side's own last-observed receive time so the peer can reason about
// round-trip liveness (spec.md §4.6's heartbeat sweep).
func (t *Tunnel) SendHeartbeat(ctx context.Context) error {
	if t.State() != WaitData {
		return ErrNotEstablished
	}
	return t.sendMessage(ctx, &wire.HeartbeatPacket{LastRecvTimeSeen: t.LastRecv().Unix(), Now: time.Now().Unix()})
}

func (t *Tunnel) transition(next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.canAdvanceTo(next) {
		return fmt.Errorf("tunnel: invalid state transition %s -> %s", t.state, next)
	}
	t.state = next
	return nil
}

// DialInitiator performs the connection-initiating side of the handshake
// over sock: send ClientHello under a pre-shared identity cipher, await
// ServerHello, install the derived session cipher, send PromoteConnection
// (spec.md §4.5). The returned Tunnel is in WAIT_DATA and its receive loop
// is already running.
//
// Per the KEM exchange's own roles (shared/crypto/kex.go), the connection
// initiator plays the publishing/decapsulating side: ClientHello.KexParams
// carries a freshly generated public key, and the shared secret is derived
// by decapsulating the ciphertext ServerHello answers with.
//
// expectedPeerHostID, when non-empty, is checked against ServerHello's
// HostID once it arrives; a mismatch fails the dial with
// ErrPeerHostIDMismatch (spec.md §4.6: a caller dialing a known host id
// must not silently adopt a tunnel to someone else). Pass "" when the
// peer's identity isn't known in advance.
func DialInitiator(ctx context.Context, sock socket.StreamSocket, cfg Config, expectedPeerHostID string) (*Tunnel, error) {
	t := newTunnel(sock, cfg)

	identityCipher := t.ring.RandomCipher()
	if identityCipher == nil {
		return nil, crypto.ErrKeyRingEmpty
	}

	kex, err := crypto.NewResponderKeyExchange()
	if err != nil {
		return nil, fmt.Errorf("tunnel: dial: generating key exchange: %w", err)
	}

	hello := &wire.ClientHello{
		HostID:      t.hostID,
		CipherSuite: t.ring.CipherSuite(),
		KexParams:   kex.Params(),
	}
	if t.identity != nil {
		sig, err := t.identity.Sign(hello.KexParams)
		if err != nil {
			return nil, fmt.Errorf("tunnel: dial: signing client hello: %w", err)
		}
		hello.Identity = sig
	}
	if err := t.sendFrame(ctx, identityCipher, nil, hello); err != nil {
		return nil, fmt.Errorf("tunnel: dial: sending client hello: %w", err)
	}
	if err := t.transition(WaitServerHello); err != nil {
		return nil, err
	}

	frame, err := t.nextFrame(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("tunnel: dial: awaiting server hello: %w", err)
	}
	serverHello, ok := frame.Message.(*wire.ServerHello)
	if !ok {
		return nil, fmt.Errorf("%w: got %s, want ServerHello", ErrUnexpectedMessage, frame.Message.Type())
	}
	if serverHello.Identity != nil && !crypto.VerifyIdentity(serverHello.Identity, serverHello.KexParams) {
		return nil, ErrIdentityVerificationFailed
	}
	if expectedPeerHostID != "" && serverHello.HostID != expectedPeerHostID {
		return nil, fmt.Errorf("%w: dialed %q, got %q", ErrPeerHostIDMismatch, expectedPeerHostID, serverHello.HostID)
	}

	sharedSecret, err := kex.DeriveSharedKey(serverHello.KexParams)
	if err != nil {
		return nil, fmt.Errorf("tunnel: dial: deriving shared key: %w", err)
	}
	sessionCipher, err := t.ring.AddCipherKey(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("tunnel: dial: installing session key: %w", err)
	}

	sess, err := session.New()
	if err != nil {
		return nil, fmt.Errorf("tunnel: dial: creating session: %w", err)
	}
	sess.Swap(serverHello.SessionID, serverHello.OutboundSeq)
	sess.AdoptOutbound(serverHello.InboundSeq)

	t.mu.Lock()
	t.sess = sess
	t.cipher = sessionCipher
	t.peerHostID = serverHello.HostID
	t.reassembler = fragment.NewReassembler(t.catalog)
	t.mu.Unlock()

	if err := t.sendMessage(ctx, &wire.PromoteConnection{HostID: t.hostID}); err != nil {
		return nil, fmt.Errorf("tunnel: dial: sending promote: %w", err)
	}
	if err := t.transition(WaitPromote); err != nil {
		return nil, err
	}
	if err := t.transition(WaitData); err != nil {
		return nil, err
	}

	t.publish(events.Event{Kind: events.KindTunnelPromoted, HostID: t.peerHostID})
	t.start()
	return t, nil
}

// AcceptResponder performs the connection-accepting side of the handshake
// over sock: await ClientHello, derive the session cipher, send
// ServerHello, await PromoteConnection (spec.md §4.5). The returned Tunnel
// is in WAIT_DATA and its receive loop is already running.
//
// The acceptor plays the KEM exchange's consuming/encapsulating side: it
// encapsulates against ClientHello.KexParams and answers with the
// resulting ciphertext in ServerHello.KexParams.
func AcceptResponder(ctx context.Context, sock socket.StreamSocket, cfg Config) (*Tunnel, error) {
	t := newTunnel(sock, cfg)

	identityCipher := t.ring.RandomCipher()
	if identityCipher == nil {
		return nil, crypto.ErrKeyRingEmpty
	}

	if err := t.transition(WaitClientHello); err != nil {
		return nil, err
	}

	frame, err := t.nextFrame(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("tunnel: accept: awaiting client hello: %w", err)
	}
	clientHello, ok := frame.Message.(*wire.ClientHello)
	if !ok {
		return nil, fmt.Errorf("%w: got %s, want ClientHello", ErrUnexpectedMessage, frame.Message.Type())
	}
	if clientHello.Identity != nil && !crypto.VerifyIdentity(clientHello.Identity, clientHello.KexParams) {
		return nil, ErrIdentityVerificationFailed
	}

	kex := crypto.NewInitiatorKeyExchange()
	sharedSecret, err := kex.DeriveSharedKey(clientHello.KexParams)
	if err != nil {
		return nil, fmt.Errorf("tunnel: accept: deriving shared key: %w", err)
	}
	sessionCipher, err := t.ring.AddCipherKey(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("tunnel: accept: installing session key: %w", err)
	}

	sess, err := session.New()
	if err != nil {
		return nil, fmt.Errorf("tunnel: accept: creating session: %w", err)
	}

	t.mu.Lock()
	t.sess = sess
	t.cipher = sessionCipher
	t.peerHostID = clientHello.HostID
	t.reassembler = fragment.NewReassembler(t.catalog)
	t.mu.Unlock()

	hello := &wire.ServerHello{
		HostID:      t.hostID,
		SessionID:   sess.ID(),
		InboundSeq:  sess.InboundSeq(),
		OutboundSeq: sess.OutboundSeq(),
		CipherSuite: t.ring.CipherSuite(),
		KexParams:   kex.Params(),
	}
	if t.identity != nil {
		sig, err := t.identity.Sign(hello.KexParams)
		if err != nil {
			return nil, fmt.Errorf("tunnel: accept: signing server hello: %w", err)
		}
		hello.Identity = sig
	}
	// ServerHello must go out under the pre-shared identity cipher, not the
	// session cipher just derived above: the initiator can't possibly hold
	// that key yet, since it only installs it after decoding this very
	// message (spec.md §4.5 — PromoteConnection is the first message under
	// the new cipher, not ServerHello).
	if err := t.sendFrame(ctx, identityCipher, nil, hello); err != nil {
		return nil, fmt.Errorf("tunnel: accept: sending server hello: %w", err)
	}
	if err := t.transition(WaitPromote); err != nil {
		return nil, err
	}

	frame, err = t.nextFrame(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("tunnel: accept: awaiting promote: %w", err)
	}
	if _, ok := frame.Message.(*wire.PromoteConnection); !ok {
		return nil, fmt.Errorf("%w: got %s, want PromoteConnection", ErrUnexpectedMessage, frame.Message.Type())
	}
	if err := t.transition(WaitData); err != nil {
		return nil, err
	}

	t.publish(events.Event{Kind: events.KindTunnelPromoted, HostID: t.peerHostID})
	t.start()
	return t, nil
}

// sendFrame frames and writes a single message under cipher, outside of
// the fragmentation filter. Used for handshake messages, which are always
// small enough to fit one frame.
func (t *Tunnel) sendFrame(ctx context.Context, cipher wire.Cipher, sh *wire.SessionHeader, msg wire.Message) error {
	framed, err := wire.EncodeFrame(cipher, sh, false, msg, t.catalog)
	if err != nil {
		return err
	}
	if err := t.sock.Write(ctx, framed); err != nil {
		return err
	}
	t.mu.Lock()
	t.lastSent = time.Now()
	t.mu.Unlock()
	return nil
}

// sendMessage pipes msg through the fragmentation filter and writes one
// frame per resulting FragmentPacket, each framed under a cipher chosen
// fresh from the key-ring (spec.md §4.5: "a cipher chosen from the
// key-ring at random, to prevent long-lived keys") and its own session
// sequence number (spec.md §4.4, §4.3). Handshake steps that must pin a
// specific cipher (e.g. a rotation reply, which has to go out under the
// still-current key) use sendMessageWithCipher directly instead.
func (t *Tunnel) sendMessage(ctx context.Context, msg wire.Message) error {
	cipher := t.ring.RandomCipher()
	if cipher == nil {
		return crypto.ErrKeyRingEmpty
	}
	return t.sendMessageWithCipher(ctx, cipher, msg)
}

// sendMessageWithCipher is sendMessage with an explicit cipher, for the
// rotation handshake: a ServerKeyExchange answering a ClientKeyExchange
// must go out under the still-current cipher, since the peer has not yet
// derived the new one (shared/crypto/kex.go's handshake ordering).
func (t *Tunnel) sendMessageWithCipher(ctx context.Context, cipher wire.Cipher, msg wire.Message) error {
	t.mu.Lock()
	sess := t.sess
	maxPayload := t.maxFragmentPayload
	t.mu.Unlock()

	// Concurrent senders (Send, heartbeats, rotation) must not interleave
	// fragments or take sequence numbers out of write order.
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	for _, fp := range fragment.Split(msg, maxPayload) {
		sh := sess.NextOutbound()
		if err := t.sendFrame(ctx, cipher, &sh, fp); err != nil {
			return err
		}
	}
	return nil
}

// nextFrame returns the next fully-decoded frame from sock, pulling more
// bytes and feeding the stream parser as needed.
func (t *Tunnel) nextFrame(ctx context.Context, requireSession bool) (*wire.DecodedFrame, error) {
	for {
		if len(t.pending) > 0 {
			raw := t.pending[0]
			t.pending = t.pending[1:]
			return wire.DecodeFrame(raw, t.ring, t.catalog, requireSession)
		}

		data, err := t.sock.Read(ctx)
		if err != nil {
			return nil, err
		}
		feedErr := t.parser.Feed(data, func(raw []byte) error {
			cp := make([]byte, len(raw))
			copy(cp, raw)
			t.pending = append(t.pending, cp)
			return nil
		})
		if feedErr != nil {
			return nil, feedErr
		}
	}
}

// Send carries an application payload to the peer as a single logical
// DataPacket (spec.md §1's example: chunk=1/1), fragmented across as many
// wire frames as max_fragment_payload requires.
func (t *Tunnel) Send(ctx context.Context, payload []byte) error {
	if t.State() != WaitData {
		return ErrNotEstablished
	}
	msg := &wire.DataPacket{HostID: t.hostID, Chunk: 1, Chunks: 1, Bytes: payload}
	return t.sendMessage(ctx, msg)
}

// Recv blocks for the next application payload delivered by the peer, or
// returns ErrClosed once the tunnel has torn down.
func (t *Tunnel) Recv(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-t.dataCh:
		if !ok {
			return nil, ErrClosed
		}
		return payload, nil
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Rotate begins a key rotation as the rotating side: a fresh KEM keypair
// is published via ClientKeyExchange, and the new session cipher is
// installed once the peer's ServerKeyExchange answers it (spec.md §9's
// key-rotation design note).
func (t *Tunnel) Rotate(ctx context.Context) error {
	if t.State() != WaitData {
		return ErrNotEstablished
	}
	kex, err := crypto.NewResponderKeyExchange()
	if err != nil {
		return fmt.Errorf("tunnel: rotate: generating key exchange: %w", err)
	}

	t.mu.Lock()
	t.pendingRotationKex = kex
	t.mu.Unlock()

	return t.sendMessage(ctx, &wire.ClientKeyExchange{CipherSuite: t.ring.CipherSuite(), KexParams: kex.Params()})
}

func (t *Tunnel) start() {
	go t.recvLoop()
}

// recvLoop is the Tunnel's single background goroutine: it owns the
// receive path end to end (parsing, session verification, reassembly,
// rotation bookkeeping) so no two callbacks for this tunnel ever run
// concurrently (SPEC_FULL.md §4.9).
func (t *Tunnel) recvLoop() {
	ctx := context.Background()
	var teardownErr error
	for {
		frame, err := t.nextFrame(ctx, true)
		if err != nil {
			teardownErr = err
			break
		}

		t.mu.Lock()
		t.lastRecv = time.Now()
		t.mu.Unlock()

		if frame.SessionHeader == nil || !t.sess.VerifyInbound(*frame.SessionHeader) {
			teardownErr = ErrSessionVerificationFailed
			break
		}

		fp, ok := frame.Message.(*wire.FragmentPacket)
		if !ok {
			teardownErr = fmt.Errorf("%w: got %s in WAIT_DATA", ErrUnexpectedMessage, frame.Message.Type())
			break
		}

		msg, done, err := t.reassembler.Feed(fp)
		if err != nil {
			// Out-of-order or inconsistent fragment counts drop the
			// fragment and reset the buffer; the tunnel itself survives
			// (shared/fragment/incoming.go).
			continue
		}
		if !done {
			continue
		}

		if err := t.handleMessage(ctx, msg); err != nil {
			teardownErr = err
			break
		}
	}

	t.teardown(teardownErr)
}

func (t *Tunnel) handleMessage(ctx context.Context, msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.DataPacket:
		select {
		case t.dataCh <- m.Bytes:
		default:
			// Application isn't draining Recv fast enough; spec.md has no
			// flow-control mechanism, so the newly arrived payload is
			// dropped rather than blocking the receive loop.
		}
	case *wire.HeartbeatPacket:
		// lastRecv is already updated above; no response required.
	case *wire.ClientKeyExchange:
		return t.handleClientKeyExchange(ctx, m)
	case *wire.ServerKeyExchange:
		return t.handleServerKeyExchange(m)
	default:
		return fmt.Errorf("%w: reassembled unexpected type %s", ErrUnexpectedMessage, msg.Type())
	}
	return nil
}

func (t *Tunnel) handleClientKeyExchange(ctx context.Context, m *wire.ClientKeyExchange) error {
	kex := crypto.NewInitiatorKeyExchange()
	secret, err := kex.DeriveSharedKey(m.KexParams)
	if err != nil {
		return fmt.Errorf("tunnel: rotation: deriving shared key: %w", err)
	}
	newCipher, err := t.ring.AddCipherKey(secret)
	if err != nil {
		return fmt.Errorf("tunnel: rotation: installing new key: %w", err)
	}

	t.mu.Lock()
	old := t.cipher
	t.mu.Unlock()

	// The peer cannot derive newCipher until it has processed this very
	// message, so the answer itself must still go out under old.
	reply := &wire.ServerKeyExchange{CipherSuite: t.ring.CipherSuite(), KexParams: kex.Params()}
	if err := t.sendMessageWithCipher(ctx, old, reply); err != nil {
		return fmt.Errorf("tunnel: rotation: sending server key exchange: %w", err)
	}

	t.mu.Lock()
	t.cipher = newCipher
	t.mu.Unlock()
	t.scheduleEviction(old)
	return nil
}

func (t *Tunnel) handleServerKeyExchange(m *wire.ServerKeyExchange) error {
	t.mu.Lock()
	pending := t.pendingRotationKex
	t.pendingRotationKex = nil
	old := t.cipher
	t.mu.Unlock()

	if pending == nil {
		// No rotation in progress; an unsolicited ServerKeyExchange is
		// dropped rather than torn down over, since it cannot correspond
		// to any pending secret on our side.
		return nil
	}

	secret, err := pending.DeriveSharedKey(m.KexParams)
	if err != nil {
		return fmt.Errorf("tunnel: rotation: deriving shared key: %w", err)
	}
	newCipher, err := t.ring.AddCipherKey(secret)
	if err != nil {
		return fmt.Errorf("tunnel: rotation: installing new key: %w", err)
	}

	t.mu.Lock()
	t.cipher = newCipher
	t.mu.Unlock()

	t.scheduleEviction(old)
	return nil
}

func (t *Tunnel) scheduleEviction(old wire.Cipher) {
	if old == nil {
		return
	}
	time.AfterFunc(rotationGracePeriod, func() {
		t.ring.EvictCipherID(old.KeyID())
	})
}

func (t *Tunnel) publish(ev events.Event) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(ev)
}

// Close tears the tunnel down, closing the underlying socket. Safe to
// call more than once, and from any goroutine.
func (t *Tunnel) Close() error {
	return t.teardown(nil)
}

func (t *Tunnel) teardown(cause error) error {
	var closeErr error
	t.closeOnce.Do(func() {
		close(t.closed)
		closeErr = t.sock.Close()
		t.publish(events.Event{Kind: events.KindTunnelClosed, HostID: t.peerHostID, Err: cause})
	})
	return closeErr
}
