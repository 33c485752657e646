package crypto

import (
	"fmt"

	"github.com/shadowmesh/tunnelmesh/pkg/crypto/classical"
	"github.com/shadowmesh/tunnelmesh/pkg/crypto/hybrid"
	"github.com/shadowmesh/tunnelmesh/pkg/crypto/mlkem"
	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

// x25519PublicKeySize is the encoded size of an X25519 public key
// (crypto/ecdh.X25519, 32 bytes); classical does not export a named
// constant for it.
const x25519PublicKeySize = 32

// KeyExchange implements wire.KeyExchange over hybrid ML-KEM-1024 + X25519
// encapsulation (pkg/crypto/hybrid). A ML-KEM/ECDH key exchange is
// asymmetric by construction: one side publishes a public key and
// decapsulates, the other side encapsulates against it. KeyExchange plays
// whichever of those two roles it was constructed for, so both sides still
// present the same two-method wire.KeyExchange shape to pkg/tunnel.
type KeyExchange struct {
	responder bool
	keypair   *hybrid.HybridKeypair // set only in the responder role
	ciphertext []byte               // set only after an initiator's DeriveSharedKey call
}

// NewResponderKeyExchange generates a fresh ephemeral KEM keypair and
// returns a KeyExchange that publishes its public half via Params and
// decapsulates a peer's ciphertext via DeriveSharedKey. Note this is a
// role in the KEM exchange itself (publisher/decapsulator), not a
// statement about which side of the TCP connection is the dialer: per
// spec.md §4.5, ClientHello carries the first KexParams, so the
// connection-initiating side is the one that calls this constructor and
// the accepting side calls NewInitiatorKeyExchange.
func NewResponderKeyExchange() (*KeyExchange, error) {
	kemKP, err := mlkem.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("crypto: kex keypair: %w", err)
	}
	ecdhKP, err := classical.GenerateX25519Keypair()
	if err != nil {
		return nil, fmt.Errorf("crypto: kex keypair: %w", err)
	}
	return &KeyExchange{
		responder: true,
		keypair: &hybrid.HybridKeypair{
			MLKEMPublicKey:   kemKP.PublicKey,
			MLKEMPrivateKey:  kemKP.PrivateKey,
			X25519PublicKey:  ecdhKP.PublicKey,
			X25519PrivateKey: ecdhKP.PrivateKey,
		},
	}, nil
}

// NewInitiatorKeyExchange returns a KeyExchange that, given a peer's
// published public key via DeriveSharedKey, encapsulates against it and
// remembers the resulting ciphertext for the caller to retrieve afterward
// via Params and send back to the peer. This is the role the
// connection-accepting side plays: it receives the dialer's ClientHello
// (built with NewResponderKeyExchange) and answers with a ServerHello
// carrying this KeyExchange's Params as ciphertext.
func NewInitiatorKeyExchange() *KeyExchange {
	return &KeyExchange{}
}

// Params implements wire.KeyExchange. For a responder this is the public
// key to encapsulate against; for an initiator this is nil until
// DeriveSharedKey has run, after which it is the encapsulation ciphertext
// the peer needs to decapsulate.
func (k *KeyExchange) Params() []byte {
	if k.responder {
		return encodeKEMPublicKey(k.keypair)
	}
	return k.ciphertext
}

// DeriveSharedKey implements wire.KeyExchange.
func (k *KeyExchange) DeriveSharedKey(peerParams []byte) ([]byte, error) {
	if k.responder {
		return hybrid.HybridDecapsulate(peerParams, k.keypair)
	}
	peerPub, err := decodeKEMPublicKey(peerParams)
	if err != nil {
		return nil, err
	}
	ciphertext, secret, err := hybrid.HybridEncapsulate(peerPub)
	if err != nil {
		return nil, err
	}
	k.ciphertext = ciphertext
	return secret, nil
}

func encodeKEMPublicKey(kp *hybrid.HybridKeypair) []byte {
	out := make([]byte, 0, len(kp.MLKEMPublicKey)+len(kp.X25519PublicKey))
	out = append(out, kp.MLKEMPublicKey...)
	out = append(out, kp.X25519PublicKey...)
	return out
}

func decodeKEMPublicKey(buf []byte) (*hybrid.HybridKeypair, error) {
	mlkemSize := mlkem.Scheme().PublicKeySize()
	if len(buf) != mlkemSize+x25519PublicKeySize {
		return nil, fmt.Errorf("crypto: %w: kex public key wrong size", wire.ErrShortBuffer)
	}
	return &hybrid.HybridKeypair{
		MLKEMPublicKey:  buf[:mlkemSize],
		X25519PublicKey: buf[mlkemSize:],
	}, nil
}
