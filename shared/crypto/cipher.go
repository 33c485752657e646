package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/shadowmesh/tunnelmesh/pkg/crypto/rotation"
	"github.com/shadowmesh/tunnelmesh/pkg/crypto/symmetric"
	"github.com/shadowmesh/tunnelmesh/shared/wire"
)

// Cipher implements wire.Cipher over ChaCha20-Poly1305, framing each
// ciphertext as nonce || AEAD-sealed-payload. The key-id is not the key
// itself: it is SHA-256(key), so a FrameHeader never leaks key material
// (spec.md §3 names the key-id as an opaque lookup handle only).
type Cipher struct {
	id    wire.KeyID
	key   [symmetric.KeySize]byte
	nonce *symmetric.NonceGenerator
}

// NewCipher installs key (exactly symmetric.KeySize bytes) as a new cipher
// instance with a freshly seeded nonce generator.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != symmetric.KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", symmetric.KeySize, len(key))
	}
	ng, err := symmetric.NewNonceGenerator()
	if err != nil {
		return nil, err
	}
	c := &Cipher{nonce: ng, id: deriveKeyID(key)}
	copy(c.key[:], key)
	return c, nil
}

func deriveKeyID(key []byte) wire.KeyID {
	return sha256.Sum256(key)
}

// KeyID implements wire.Cipher.
func (c *Cipher) KeyID() wire.KeyID { return c.id }

// EncryptAndFrame implements wire.Cipher: nonce || ciphertext||tag.
func (c *Cipher) EncryptAndFrame(plaintext []byte) ([]byte, error) {
	nonce, err := c.nonce.GenerateNonce()
	if err != nil {
		return nil, err
	}
	frame, err := symmetric.Encrypt(plaintext, c.key, nonce)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, symmetric.NonceSize+len(frame.Ciphertext))
	out = append(out, frame.Nonce[:]...)
	out = append(out, frame.Ciphertext...)
	return out, nil
}

// Decrypt implements wire.Cipher.
func (c *Cipher) Decrypt(framed []byte) ([]byte, error) {
	if len(framed) < symmetric.NonceSize {
		return nil, wire.ErrShortBuffer
	}
	frame := &symmetric.EncryptedFrame{Ciphertext: framed[symmetric.NonceSize:]}
	copy(frame.Nonce[:], framed[:symmetric.NonceSize])
	return symmetric.Decrypt(frame, c.key)
}

// MaxFramingOverheadLength implements wire.Cipher.
func (c *Cipher) MaxFramingOverheadLength() int {
	return symmetric.NonceSize + symmetric.TagSize
}

// Rotate derives this cipher's successor key via HKDF over the current key
// and sequence (spec.md §9's key-rotation design note, grounded on
// pkg/crypto/rotation's DeriveRotationKey), zeroing the old key material
// once the new cipher is built.
func (c *Cipher) Rotate(sequence uint64) (*Cipher, error) {
	newKey, err := rotation.DeriveRotationKey(c.key, sequence)
	if err != nil {
		return nil, err
	}
	next, err := NewCipher(newKey[:])
	rotation.SecureZero(&newKey)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Close wipes this cipher's key material (pkg/crypto/rotation.SecureZero).
func (c *Cipher) Close() {
	rotation.SecureZero(&c.key)
}
