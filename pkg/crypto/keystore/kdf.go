// Package keystore provides encrypted storage for ShadowMesh hybrid keypairs.
package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinPassphraseLength is the minimum required passphrase length (12 characters)
	MinPassphraseLength = 12
	// MaxPassphraseLength is the maximum allowed passphrase length (1024 characters)
	MaxPassphraseLength = 1024
	// KeySize is the output key size for AES-256-GCM (32 bytes)
	KeySize = 32
)

var (
	// ErrPassphraseTooShort indicates passphrase is shorter than minimum
	ErrPassphraseTooShort = errors.New("passphrase must be at least 12 characters")
	// ErrPassphraseTooLong indicates passphrase exceeds maximum length
	ErrPassphraseTooLong = errors.New("passphrase must not exceed 1024 characters")
	// ErrEmptyPassphrase indicates passphrase is empty
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
	// ErrInvalidSaltSize indicates salt is not the correct size
	ErrInvalidSaltSize = errors.New("salt must be 32 bytes")
	// ErrInvalidIterations indicates iteration count is invalid
	ErrInvalidIterations = errors.New("iterations must be at least 10000")
)

// Common weak passphrases (lowercase for case-insensitive check)
var weakPassphrases = map[string]bool{
	"123456789012": true,
	"password1234": true,
	"qwerty123456": true,
	"admin1234567": true,
	"letmein12345": true,
	"welcome12345": true,
}

// ValidatePassphrase checks if a passphrase meets security requirements.
// Requirements:
//   - Length: 12-1024 characters (UTF-8)
//   - Not empty or whitespace-only
//   - Not a common weak passphrase
//
// Returns nil if valid, error describing the issue otherwise.
func ValidatePassphrase(passphrase string) error {
	// Check for empty passphrase
	if len(passphrase) == 0 {
		return ErrEmptyPassphrase
	}

	// Count UTF-8 characters (not bytes)
	charCount := utf8.RuneCountInString(passphrase)

	// Check minimum length
	if charCount < MinPassphraseLength {
		return fmt.Errorf("%w (got %d characters, need %d)",
			ErrPassphraseTooShort, charCount, MinPassphraseLength)
	}

	// Check maximum length
	if charCount > MaxPassphraseLength {
		return fmt.Errorf("%w (got %d characters, max %d)",
			ErrPassphraseTooLong, charCount, MaxPassphraseLength)
	}

	// Check for whitespace-only passphrase
	allWhitespace := true
	for _, r := range passphrase {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			allWhitespace = false
			break
		}
	}
	if allWhitespace {
		return errors.New("passphrase cannot be only whitespace")
	}

	// Check against common weak passphrases (case-insensitive)
	// Only check if passphrase is exactly 12-20 chars (weak passphrases are typically short)
	if charCount >= 12 && charCount <= 20 {
		lowercase := ""
		for _, r := range passphrase {
			if r >= 'A' && r <= 'Z' {
				lowercase += string(r + 32) // Convert to lowercase
			} else {
				lowercase += string(r)
			}
		}
		if weakPassphrases[lowercase] {
			return errors.New("passphrase is too common, please choose a stronger one")
		}
	}

	return nil
}

// DeriveKey derives a 32-byte encryption key from a passphrase using PBKDF2-HMAC-SHA256.
//
// Parameters:
//   - passphrase: User-provided passphrase (must pass ValidatePassphrase)
//   - salt: 32-byte random salt (must be unique per keystore)
//   - iterations: PBKDF2 iteration count (minimum 10000, recommended 100000)
//
// Returns:
//   - [32]byte key suitable for AES-256-GCM encryption
//   - error if parameters are invalid
//
// Security Notes:
//   - PBKDF2 is intentionally slow (100k iterations ≈ 50-100ms) to resist brute-force attacks
//   - Salt must be randomly generated and unique per keystore
//   - Iteration count should be >= 100000 for modern security (2025 OWASP recommendation)
//   - Key is deterministic: same (passphrase, salt, iterations) always produces same key
func DeriveKey(passphrase string, salt []byte, iterations int) ([32]byte, error) {
	var key [32]byte

	// Validate passphrase
	if err := ValidatePassphrase(passphrase); err != nil {
		return key, fmt.Errorf("invalid passphrase: %w", err)
	}

	// Validate salt size
	if len(salt) != SaltSize {
		return key, fmt.Errorf("%w: got %d bytes, expected %d", ErrInvalidSaltSize, len(salt), SaltSize)
	}

	// Validate iteration count (minimum 10k for basic security)
	if iterations < 10000 {
		return key, fmt.Errorf("%w: got %d, minimum 10000", ErrInvalidIterations, iterations)
	}

	// Derive key using PBKDF2-HMAC-SHA256
	// - passphraseBytes: Passphrase as UTF-8 bytes
	// - salt: Random 32-byte salt
	// - iterations: Computational cost (100k recommended)
	// - keyLen: Output key size (32 bytes for AES-256)
	// - hashFunc: SHA-256 for HMAC
	derivedKey := pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New)

	// Copy to fixed-size array
	copy(key[:], derivedKey)

	// Zero the slice (defense-in-depth)
	for i := range derivedKey {
		derivedKey[i] = 0
	}

	return key, nil
}

// GenerateSalt creates a cryptographically random 32-byte salt for PBKDF2.
// This function is provided as a convenience for tests and command-line tools.
// Production code should use crypto/rand.Read() directly.
func GenerateSalt() ([32]byte, error) {
	var salt [32]byte

	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
