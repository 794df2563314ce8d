// Package crypto provides the cryptographic primitives for the removal store.
//
// It implements AES-256-GCM authenticated encryption and Argon2id key
// derivation. The Provider type bundles both behind the narrow contract the
// vault's crypto gateway consumes, so tests can substitute cheaper parameters
// without touching call sites.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of key-derivation salts in bytes.
	SaltLength = 16
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the blob is shorter than nonce plus GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// Params holds Argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams follows OWASP recommendations: 64 MB memory, 3 iterations,
// 4 threads.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4}

// TestParams keeps key derivation cheap enough for per-call derivation in
// tests. Never use outside tests.
var TestParams = Params{Time: 1, Memory: 64, Threads: 1}

// DeriveKey derives a 256-bit key from a password and salt using Argon2id.
func DeriveKey(password, salt []byte, p Params) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, KeyLength)
}

// Encrypt encrypts plaintext with AES-256-GCM and returns the nonce followed
// by the ciphertext (with the authentication tag appended) as a single blob.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}

	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts a blob produced by Encrypt, verifying the authentication
// tag before returning the plaintext.
func Decrypt(key, blob []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}

	if len(blob) < NonceLength+gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := blob[:NonceLength], blob[NonceLength:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents the
// compiler from optimizing the writes away. Used to destroy derived keys at
// the end of every gateway call.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// Provider implements the key-derivation and symmetric-cipher contract the
// vault gateway consumes. The salt is fixed per store installation and read
// from the key store at construction time.
type Provider struct {
	salt   []byte
	params Params
}

// NewProvider creates a Provider bound to a salt and Argon2id parameters.
func NewProvider(salt []byte, params Params) *Provider {
	return &Provider{salt: salt, params: params}
}

// DeriveKeyFromPassword derives the key-encryption key from the vault password.
func (p *Provider) DeriveKeyFromPassword(password []byte) []byte {
	return DeriveKey(password, p.salt, p.params)
}

// Encrypt seals plaintext under key, returning a nonce-prefixed blob.
func (p *Provider) Encrypt(plaintext, key []byte) ([]byte, error) {
	return Encrypt(key, plaintext)
}

// Decrypt opens a nonce-prefixed blob under key.
func (p *Provider) Decrypt(blob, key []byte) ([]byte, error) {
	return Decrypt(key, blob)
}
