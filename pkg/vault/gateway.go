package vault

import (
	"fmt"

	"github.com/delistd/delistctl/pkg/crypto"
	"github.com/delistd/delistctl/pkg/keystore"
)

// CryptoProvider is the symmetric-cipher and key-derivation contract the
// gateway consumes. pkg/crypto.Provider is the production implementation.
type CryptoProvider interface {
	DeriveKeyFromPassword(password []byte) []byte
	Encrypt(plaintext, key []byte) ([]byte, error)
	Decrypt(blob, key []byte) ([]byte, error)
}

// Gateway is the sole cryptographic boundary of the store. Every call
// re-derives the working key from the vault password and destroys it before
// returning; no key material is cached between calls. This bounds the
// exposure window at the cost of repeated derivations during bulk mapping.
type Gateway struct {
	keys     keystore.KeyStore
	provider CryptoProvider
}

// NewGateway creates a Gateway over a key store and crypto provider.
func NewGateway(keys keystore.KeyStore, provider CryptoProvider) *Gateway {
	return &Gateway{keys: keys, provider: provider}
}

// deriveWorkingKey resolves the vault password, derives the KEK, and unwraps
// the stored working key. Kept as a named operation so derivation cost can be
// profiled or replaced without touching call sites. The caller owns the
// returned key and must SecureWipe it.
func (g *Gateway) deriveWorkingKey() ([]byte, error) {
	password, err := g.keys.GeneratedPassword()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	if password == nil {
		return nil, ErrAuthRequired
	}

	wrapped, err := g.keys.WrappedKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	if wrapped == nil {
		return nil, ErrNoEncryptionKey
	}

	kek := g.provider.DeriveKeyFromPassword(password)
	defer crypto.SecureWipe(kek)

	workingKey, err := g.provider.Decrypt(wrapped, kek)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unwrap working key: %w", ErrCrypto, err)
	}
	return workingKey, nil
}

// Encrypt seals plaintext under a freshly derived working key.
func (g *Gateway) Encrypt(plaintext []byte) ([]byte, error) {
	key, err := g.deriveWorkingKey()
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(key)

	blob, err := g.provider.Encrypt(plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return blob, nil
}

// Decrypt opens a blob under a freshly derived working key.
func (g *Gateway) Decrypt(blob []byte) ([]byte, error) {
	key, err := g.deriveWorkingKey()
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(key)

	plaintext, err := g.provider.Decrypt(blob, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	return plaintext, nil
}

// WithWorkingKey derives the working key, hands it to fn, and wipes it when
// fn returns. Used to derive subkeys (e.g. the telemetry log HMAC key)
// without the key outliving the call.
func (g *Gateway) WithWorkingKey(fn func(key []byte) error) error {
	key, err := g.deriveWorkingKey()
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(key)
	return fn(key)
}
