// Package vault implements the encrypted storage core of the removal store:
// the crypto gateway, the record mapper, the SQLite storage provider, and the
// secure vault façade combining them.
package vault

import "errors"

// Errors
var (
	// ErrAuthRequired indicates no vault password is available from the key
	// store; the vault cannot derive its working key.
	ErrAuthRequired = errors.New("vault: authentication required, no vault password available")

	// ErrNoEncryptionKey indicates the wrapped working key is missing from
	// the key store.
	ErrNoEncryptionKey = errors.New("vault: no encryption key stored")

	// ErrElementNotFound indicates a lookup by primary or composite key found
	// no row where the caller required one to exist.
	ErrElementNotFound = errors.New("vault: element not found")

	// ErrCrypto wraps key-derivation and encrypt/decrypt failures. Always
	// fatal to the current operation.
	ErrCrypto = errors.New("vault: crypto failure")

	// ErrDatabase wraps storage-engine failures (I/O, constraint violations,
	// corruption).
	ErrDatabase = errors.New("vault: database failure")
)
