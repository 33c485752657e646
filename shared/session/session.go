// Package session implements the per-tunnel replay-protection record
// (spec.md §3, §4.3): a session id plus independent inbound and outbound
// monotonic sequence numbers.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

// Session tracks one tunnel's replay-protection state. Safe for concurrent
// use: a Tunnel's receive goroutine calls VerifyInbound while senders on
// other goroutines call NextOutbound.
type Session struct {
	mu          sync.Mutex
	id          [16]byte
	inboundSeq  uint64
	outboundSeq uint64
}

// New creates a session with a freshly random id and randomized (not
// zero-based) initial sequence numbers, per spec.md §3's rationale: an
// attacker replaying stale frames across a session restart must guess a
// 64-bit number with birthday-complexity 2^32 to collide.
func New() (*Session, error) {
	s := &Session{}
	if err := s.reset(); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session's 16-byte identifier.
func (s *Session) ID() [16]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Swap adopts a peer's view of a session: spec.md §4.5 requires the
// initiator to "adopt the peer's session state (swapping inbound/outbound
// sequences)" when it receives ServerHello, and the acceptor to send "a
// fresh session (peer-swapped view)" in ServerHello. Concretely: if the
// peer reports its own {id, outbound_seq} as its next-send value, our
// inbound_seq must start there, and our outbound_seq is the value we
// generated and are about to report to them as *their* inbound_seq.
func (s *Session) Swap(id [16]byte, peerOutboundSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.inboundSeq = peerOutboundSeq
}

// AdoptOutbound sets this session's outbound sequence to exactly seq,
// leaving id and the inbound sequence untouched. The connection initiator
// calls this after ServerHello: the acceptor's InboundSeq field names the
// exact sequence number the acceptor expects the initiator's first
// outbound frame to carry (spec.md §4.5's peer-swapped view), so the
// initiator's own outbound counter must start there rather than wherever
// New randomized it.
func (s *Session) AdoptOutbound(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outboundSeq = seq
}

// VerifyInbound accepts and advances the inbound sequence only on an exact
// match of both id and sequence number (spec.md §3, §4.3). Rejection is a
// hard error; the caller tears down the tunnel.
func (s *Session) VerifyInbound(h wire.SessionHeader) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID != s.id || h.Seq != s.inboundSeq {
		return false
	}
	s.inboundSeq++
	return true
}

// NextOutbound returns {id, outbound_seq} then increments outbound_seq
// (spec.md §4.3).
func (s *Session) NextOutbound() wire.SessionHeader {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := wire.SessionHeader{ID: s.id, Seq: s.outboundSeq}
	s.outboundSeq++
	return h
}

// OutboundSeq reports the next value NextOutbound will return, for tests
// asserting monotonicity (spec.md §8).
func (s *Session) OutboundSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outboundSeq
}

// InboundSeq reports the next value VerifyInbound will accept.
func (s *Session) InboundSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inboundSeq
}

// Reset regenerates id and both sequence numbers from the system random
// source (spec.md §4.3).
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reset()
}

func (s *Session) reset() error {
	var idBuf [16]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return err
	}
	s.id = idBuf

	var seqBuf [16]byte
	if _, err := rand.Read(seqBuf[:]); err != nil {
		return err
	}
	s.inboundSeq = binary.BigEndian.Uint64(seqBuf[:8])
	s.outboundSeq = binary.BigEndian.Uint64(seqBuf[8:])
	return nil
}
