package wire

// Cipher is the collaborator contract consumed by the frame codec
// (spec.md §6). Implementations live in shared/crypto.
type Cipher interface {
	// KeyID names this cipher instance inside a key-ring.
	KeyID() KeyID
	// EncryptAndFrame returns iv || ciphertext || mac for plaintext. The
	// caller treats the result as an opaque, length-delimited blob; EtM and
	// an explicit per-frame IV are mandated of the implementation.
	EncryptAndFrame(plaintext []byte) ([]byte, error)
	// Decrypt inverts EncryptAndFrame.
	Decrypt(framed []byte) ([]byte, error)
	// MaxFramingOverheadLength bounds how many bytes EncryptAndFrame adds
	// beyond len(plaintext); used to size fragments (spec.md §4.4).
	MaxFramingOverheadLength() int
}

// KeyExchange is the collaborator contract for deriving a shared symmetric
// key from a peer's key-exchange parameters (spec.md §6).
type KeyExchange interface {
	// Params returns this side's public key-exchange parameters to send to
	// the peer.
	Params() []byte
	// DeriveSharedKey combines this side's private material with the
	// peer's params into a symmetric key.
	DeriveSharedKey(peerParams []byte) ([]byte, error)
}

// KeyRing is the collaborator contract a Tunnel uses to look up ciphers and
// mint key exchanges (spec.md §6).
type KeyRing interface {
	CipherFor(id KeyID) (Cipher, bool)
	RandomCipher() Cipher
	AddCipherKey(key []byte) (Cipher, error)
	// EvictCipherID removes and invalidates the cipher named by id, e.g.
	// a rotation predecessor once its grace period has elapsed.
	EvictCipherID(id KeyID)
	CreateKeyExchange() (KeyExchange, error)
	CipherSuite() string
}
