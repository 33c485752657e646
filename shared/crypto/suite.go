// Package crypto adapts the hybrid post-quantum/classical primitive layer
// in pkg/crypto onto the wire package's Cipher, KeyExchange and KeyRing
// collaborator contracts (SPEC_FULL.md §4.8), so pkg/tunnel never imports
// pkg/crypto's concrete types directly.
package crypto

// CipherSuiteName identifies the fixed combination of primitives this
// package wires together: ML-KEM-1024 + X25519 key agreement, ML-DSA-87 +
// Ed25519 signatures, ChaCha20-Poly1305 record encryption. pkg/tunnel sends
// it in hellos and key-exchange messages but does not compare a peer's
// advertised suite against its own.
const CipherSuiteName = "hybrid-mlkem1024-x25519+mldsa87-ed25519+chacha20poly1305"
