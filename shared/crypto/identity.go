package crypto

import (
	"fmt"

	"github.com/shadowmesh/tunnelmesh/pkg/crypto/classical"
	"github.com/shadowmesh/tunnelmesh/pkg/crypto/hybrid"
	"github.com/shadowmesh/tunnelmesh/pkg/crypto/mldsa"
	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

// Identity is a host's long-term hybrid signing keypair, kept across
// tunnel restarts (unlike the ephemeral KEM keypairs KeyExchange
// generates per handshake). Signing a ClientHello/ServerHello with it lets
// a peer bind a key exchange to a host it already trusts, closing the
// triangle-attack open question spec.md §9 leaves unresolved for bare
// PromoteConnection possession-proof.
type Identity struct {
	hostID  string
	keypair *hybrid.HybridKeypair
}

// NewIdentity generates a fresh signing keypair for hostID. Long-lived
// deployments persist the result via pkg/crypto/keystore rather than
// calling this on every start (cmd/peerctl's genkey subcommand).
func NewIdentity(hostID string) (*Identity, error) {
	kp, err := hybrid.GenerateHybridKeypair()
	if err != nil {
		return nil, fmt.Errorf("crypto: generating identity keypair: %w", err)
	}
	return &Identity{hostID: hostID, keypair: kp}, nil
}

// FromKeypair wraps an already-loaded hybrid keypair (e.g. decrypted from
// a keystore file) as an Identity for hostID.
func FromKeypair(hostID string, kp *hybrid.HybridKeypair) *Identity {
	return &Identity{hostID: hostID, keypair: kp}
}

// Sign produces a HostIdentity asserting hostID signed message.
func (id *Identity) Sign(message []byte) (*wire.HostIdentity, error) {
	sig, err := hybrid.HybridSign(message, id.keypair)
	if err != nil {
		return nil, err
	}
	pub := make([]byte, 0, mldsa.PublicKeySize+classical.Ed25519PublicKeySize)
	pub = append(pub, id.keypair.MLDSAPublicKey...)
	pub = append(pub, id.keypair.Ed25519PublicKey...)
	return &wire.HostIdentity{
		HostID:           id.hostID,
		SigningPublicKey: pub,
		Signature:        sig,
	}, nil
}

// VerifyIdentity checks that id.Signature is a valid hybrid signature by
// id.SigningPublicKey over message. A nil id is treated as "unsigned" and
// never verifies; callers that require identity binding reject a nil
// HostIdentity themselves.
func VerifyIdentity(id *wire.HostIdentity, message []byte) bool {
	if id == nil {
		return false
	}
	if len(id.SigningPublicKey) != mldsa.PublicKeySize+classical.Ed25519PublicKeySize {
		return false
	}
	pub := &hybrid.HybridKeypair{
		MLDSAPublicKey:   id.SigningPublicKey[:mldsa.PublicKeySize],
		Ed25519PublicKey: id.SigningPublicKey[mldsa.PublicKeySize:],
	}
	return hybrid.HybridVerify(message, id.Signature, pub)
}

// PublicKeyHash returns the deterministic hash of id's signing public key
// (pkg/crypto/hybrid.PublicKeyHash).
func (id *Identity) PublicKeyHash() ([]byte, error) {
	return hybrid.PublicKeyHash(id.keypair)
}
