package crypto

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"

	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

// ErrKeyRingEmpty is returned by RandomCipher when no key has ever been
// installed.
var ErrKeyRingEmpty = errors.New("crypto: key-ring has no installed ciphers")

// KeyRing implements wire.KeyRing as a set of simultaneously-valid
// ChaCha20-Poly1305 ciphers, keyed by the SHA-256 of each installed key
// (spec.md §3). Unlike pkg/crypto/rotation's RotationManager, which tracks
// a single current/previous key pair for one session, a KeyRing holds
// however many keys a ConnectionMgr's tunnels are concurrently using, so
// the frame decoder can look any of them up by the key-id a peer's
// FrameHeader names.
type KeyRing struct {
	mu      sync.RWMutex
	ciphers map[wire.KeyID]*Cipher
	order   []wire.KeyID // insertion order, for RandomCipher's selection
}

// NewKeyRing returns an empty key-ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{ciphers: make(map[wire.KeyID]*Cipher)}
}

// CipherFor implements wire.KeyRing.
func (r *KeyRing) CipherFor(id wire.KeyID) (wire.Cipher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ciphers[id]
	if !ok {
		return nil, false
	}
	return c, true
}

// RandomCipher implements wire.KeyRing, picking uniformly among the
// currently-installed ciphers. Used by EncodeFrame callers that have no
// session-specific cipher yet (e.g. a discovery Beacon sent under the
// pre-shared identity cipher when more than one is configured).
func (r *KeyRing) RandomCipher() wire.Cipher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(r.order))))
	if err != nil {
		return r.ciphers[r.order[0]]
	}
	return r.ciphers[r.order[n.Int64()]]
}

// AddCipherKey implements wire.KeyRing, installing key as a new cipher.
func (r *KeyRing) AddCipherKey(key []byte) (wire.Cipher, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ciphers[c.KeyID()]; !exists {
		r.order = append(r.order, c.KeyID())
	}
	r.ciphers[c.KeyID()] = c
	return c, nil
}

// EvictCipherID removes and zeroes the cipher named by id, if present
// (spec.md §9's key-rotation design note: the grace-period predecessor key
// is evicted once its rotation window has elapsed).
func (r *KeyRing) EvictCipherID(id wire.KeyID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.ciphers[id]
	if !ok {
		return
	}
	c.Close()
	delete(r.ciphers, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// CreateKeyExchange implements wire.KeyRing, always in the responder role;
// a tunnel playing the initiator role for a given exchange constructs its
// KeyExchange directly via NewInitiatorKeyExchange instead of through the
// key-ring (shared/crypto/kex.go).
func (r *KeyRing) CreateKeyExchange() (wire.KeyExchange, error) {
	return NewResponderKeyExchange()
}

// CipherSuite implements wire.KeyRing.
func (r *KeyRing) CipherSuite() string { return CipherSuiteName }
