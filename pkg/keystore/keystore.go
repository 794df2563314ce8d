// Package keystore manages the vault's key material: the generated vault
// password, the key-derivation salt, and the wrapped working key.
//
// The store never holds a usable key at rest. The working key is persisted
// encrypted under a KEK derived from the password; the crypto gateway unwraps
// it freshly on every call.
package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/delistd/delistctl/pkg/crypto"
)

const (
	PasswordFileName   = "vault.password"
	SaltFileName       = "vault.salt"
	WrappedKeyFileName = "vault.key"

	// PasswordLength is the length of the generated vault password in bytes.
	PasswordLength = 32

	FileMode = 0600 // owner read/write only
	DirMode  = 0700 // owner read/write/execute only
)

var (
	// ErrAlreadyInitialized indicates key material already exists at this path.
	ErrAlreadyInitialized = errors.New("keystore: key material already exists at this path")

	// ErrCorrupted indicates a key material file exists but has the wrong size.
	ErrCorrupted = errors.New("keystore: key material is corrupted")
)

// KeyStore is the contract the crypto gateway consumes. Absence of password
// or wrapped key is reported as (nil, nil): a recoverable "not yet
// initialized" condition, not corruption.
type KeyStore interface {
	// GeneratedPassword returns the vault password, or nil if none is set.
	GeneratedPassword() ([]byte, error)

	// WrappedKey returns the encrypted working key, or nil if none is stored.
	WrappedKey() ([]byte, error)

	// Salt returns the key-derivation salt, or nil if none is stored.
	Salt() ([]byte, error)
}

// FileKeyStore persists key material as 0600 files in a single directory.
type FileKeyStore struct {
	path   string
	params crypto.Params
}

// NewFileKeyStore creates a file-backed key store rooted at path.
func NewFileKeyStore(path string, params crypto.Params) *FileKeyStore {
	return &FileKeyStore{path: path, params: params}
}

// Path returns the key store directory.
func (s *FileKeyStore) Path() string {
	return s.path
}

// Initialize generates fresh key material:
//  1. a random vault password
//  2. a random key-derivation salt
//  3. a random working key, stored wrapped under the password-derived KEK
//
// It fails if material already exists.
func (s *FileKeyStore) Initialize() error {
	if existing, err := s.GeneratedPassword(); err != nil {
		return err
	} else if existing != nil {
		return ErrAlreadyInitialized
	}

	if err := os.MkdirAll(s.path, DirMode); err != nil {
		return fmt.Errorf("keystore: failed to create directory: %w", err)
	}

	password := make([]byte, PasswordLength)
	if _, err := rand.Read(password); err != nil {
		return fmt.Errorf("keystore: failed to generate password: %w", err)
	}

	salt := make([]byte, crypto.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("keystore: failed to generate salt: %w", err)
	}

	workingKey := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(workingKey); err != nil {
		return fmt.Errorf("keystore: failed to generate working key: %w", err)
	}
	defer crypto.SecureWipe(workingKey)

	kek := crypto.DeriveKey(password, salt, s.params)
	defer crypto.SecureWipe(kek)

	wrapped, err := crypto.Encrypt(kek, workingKey)
	if err != nil {
		return fmt.Errorf("keystore: failed to wrap working key: %w", err)
	}

	if err := s.writeFile(PasswordFileName, password); err != nil {
		return err
	}
	if err := s.writeFile(SaltFileName, salt); err != nil {
		return err
	}
	return s.writeFile(WrappedKeyFileName, wrapped)
}

// GeneratedPassword returns the stored vault password, or nil when no
// password has been generated yet.
func (s *FileKeyStore) GeneratedPassword() ([]byte, error) {
	data, err := s.readFile(PasswordFileName)
	if err != nil || data == nil {
		return data, err
	}
	if len(data) != PasswordLength {
		return nil, ErrCorrupted
	}
	return data, nil
}

// WrappedKey returns the encrypted working key blob, or nil when absent.
func (s *FileKeyStore) WrappedKey() ([]byte, error) {
	return s.readFile(WrappedKeyFileName)
}

// Salt returns the key-derivation salt, or nil when absent.
func (s *FileKeyStore) Salt() ([]byte, error) {
	data, err := s.readFile(SaltFileName)
	if err != nil || data == nil {
		return data, err
	}
	if len(data) != crypto.SaltLength {
		return nil, ErrCorrupted
	}
	return data, nil
}

func (s *FileKeyStore) readFile(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.path, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("keystore: failed to read %s: %w", name, err)
	}
	return data, nil
}

func (s *FileKeyStore) writeFile(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(s.path, name), data, FileMode); err != nil {
		return fmt.Errorf("keystore: failed to write %s: %w", name, err)
	}
	return nil
}
