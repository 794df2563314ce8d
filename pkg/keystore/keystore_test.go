package keystore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/delistd/delistctl/pkg/crypto"
)

func TestUninitializedReturnsNil(t *testing.T) {
	s := NewFileKeyStore(t.TempDir(), crypto.TestParams)

	pw, err := s.GeneratedPassword()
	if err != nil || pw != nil {
		t.Errorf("GeneratedPassword = %v, %v; want nil, nil", pw, err)
	}
	wk, err := s.WrappedKey()
	if err != nil || wk != nil {
		t.Errorf("WrappedKey = %v, %v; want nil, nil", wk, err)
	}
	salt, err := s.Salt()
	if err != nil || salt != nil {
		t.Errorf("Salt = %v, %v; want nil, nil", salt, err)
	}
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()
	s := NewFileKeyStore(dir, crypto.TestParams)

	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	pw, err := s.GeneratedPassword()
	if err != nil {
		t.Fatalf("GeneratedPassword failed: %v", err)
	}
	if len(pw) != PasswordLength {
		t.Errorf("password length = %d, want %d", len(pw), PasswordLength)
	}

	salt, err := s.Salt()
	if err != nil {
		t.Fatalf("Salt failed: %v", err)
	}
	if len(salt) != crypto.SaltLength {
		t.Errorf("salt length = %d, want %d", len(salt), crypto.SaltLength)
	}

	wrapped, err := s.WrappedKey()
	if err != nil {
		t.Fatalf("WrappedKey failed: %v", err)
	}

	// The wrapped blob must unwrap to a 32-byte working key under the
	// password-derived KEK.
	kek := crypto.DeriveKey(pw, salt, crypto.TestParams)
	working, err := crypto.Decrypt(kek, wrapped)
	if err != nil {
		t.Fatalf("unwrapping working key failed: %v", err)
	}
	if len(working) != crypto.KeyLength {
		t.Errorf("working key length = %d, want %d", len(working), crypto.KeyLength)
	}

	// Files must be owner-only.
	for _, name := range []string{PasswordFileName, SaltFileName, WrappedKeyFileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			t.Errorf("%s has insecure permissions %04o", name, perm)
		}
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	s := NewFileKeyStore(t.TempDir(), crypto.TestParams)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := s.Initialize(); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitializeIsRandom(t *testing.T) {
	a := NewFileKeyStore(t.TempDir(), crypto.TestParams)
	b := NewFileKeyStore(t.TempDir(), crypto.TestParams)
	if err := a.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := b.Initialize(); err != nil {
		t.Fatal(err)
	}

	pwA, _ := a.GeneratedPassword()
	pwB, _ := b.GeneratedPassword()
	if bytes.Equal(pwA, pwB) {
		t.Error("two stores generated identical passwords")
	}
}

func TestCorruptedSalt(t *testing.T) {
	dir := t.TempDir()
	s := NewFileKeyStore(dir, crypto.TestParams)
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, SaltFileName), []byte("short"), FileMode); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Salt(); !errors.Is(err, ErrCorrupted) {
		t.Errorf("expected ErrCorrupted, got %v", err)
	}
}
