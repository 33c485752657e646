package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestKeyRingAddAndLookup(t *testing.T) {
	ring := NewKeyRing()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generating key: %v", err)
	}
	cipher, err := ring.AddCipherKey(key)
	if err != nil {
		t.Fatalf("AddCipherKey: %v", err)
	}

	found, ok := ring.CipherFor(cipher.KeyID())
	if !ok {
		t.Fatalf("CipherFor did not find the installed cipher")
	}

	plaintext := []byte("keyring roundtrip")
	framed, err := found.EncryptAndFrame(plaintext)
	if err != nil {
		t.Fatalf("EncryptAndFrame: %v", err)
	}
	got, err := found.Decrypt(framed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("roundtrip mismatch via looked-up cipher")
	}

	if ring.CipherSuite() != CipherSuiteName {
		t.Errorf("CipherSuite() = %q, want %q", ring.CipherSuite(), CipherSuiteName)
	}
}

func TestKeyRingRandomCipherEmpty(t *testing.T) {
	ring := NewKeyRing()
	if c := ring.RandomCipher(); c != nil {
		t.Errorf("RandomCipher on an empty ring returned %v, want nil", c)
	}
}

func TestKeyRingEvictRemovesCipher(t *testing.T) {
	ring := NewKeyRing()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generating key: %v", err)
	}
	cipher, err := ring.AddCipherKey(key)
	if err != nil {
		t.Fatalf("AddCipherKey: %v", err)
	}

	ring.EvictCipherID(cipher.KeyID())

	if _, ok := ring.CipherFor(cipher.KeyID()); ok {
		t.Errorf("CipherFor found a cipher that was evicted")
	}
	if c := ring.RandomCipher(); c != nil {
		t.Errorf("RandomCipher after evicting the only cipher returned %v, want nil", c)
	}
}

func TestKeyRingCreateKeyExchangeRoundTrip(t *testing.T) {
	ring := NewKeyRing()

	responder, err := ring.CreateKeyExchange()
	if err != nil {
		t.Fatalf("CreateKeyExchange: %v", err)
	}
	initiator := NewInitiatorKeyExchange()

	initiatorSecret, err := initiator.DeriveSharedKey(responder.Params())
	if err != nil {
		t.Fatalf("initiator DeriveSharedKey: %v", err)
	}
	responderSecret, err := responder.DeriveSharedKey(initiator.Params())
	if err != nil {
		t.Fatalf("responder DeriveSharedKey: %v", err)
	}

	if !bytes.Equal(initiatorSecret, responderSecret) {
		t.Errorf("shared secrets do not match")
	}
}
