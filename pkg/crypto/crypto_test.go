package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveKey([]byte("password"), make([]byte, SaltLength), TestParams)

	cases := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"ascii", "Jane Doe, Miami FL"},
		{"unicode", "Renée Ólafsdóttir 東京都"},
		{"long", strings.Repeat("1600 Pennsylvania Avenue NW ", 256)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := Encrypt(key, []byte(tc.plaintext))
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			got, err := Decrypt(key, blob)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if string(got) != tc.plaintext {
				t.Errorf("round-trip mismatch: got %q, want %q", got, tc.plaintext)
			}
		})
	}
}

func TestEncryptUniqueNonces(t *testing.T) {
	key := make([]byte, KeyLength)
	a, err := Encrypt(key, []byte("same plaintext"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt(key, []byte("same plaintext"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a[:NonceLength], b[:NonceLength]) {
		t.Error("expected distinct nonces for repeated encryptions")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key := make([]byte, KeyLength)
	blob, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	wrong := make([]byte, KeyLength)
	wrong[0] = 1
	if _, err := Decrypt(wrong, blob); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptTamperedBlob(t *testing.T) {
	key := make([]byte, KeyLength)
	blob, err := Encrypt(key, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	blob[len(blob)-1] ^= 0xff

	if _, err := Decrypt(key, blob); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptTooShort(t *testing.T) {
	key := make([]byte, KeyLength)
	if _, err := Decrypt(key, []byte{1, 2, 3}); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestInvalidKeyLength(t *testing.T) {
	if _, err := Encrypt([]byte("short"), []byte("x")); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("Encrypt: expected ErrInvalidKeyLength, got %v", err)
	}
	if _, err := Decrypt([]byte("short"), make([]byte, 64)); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("Decrypt: expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	k1 := DeriveKey([]byte("password"), salt, TestParams)
	k2 := DeriveKey([]byte("password"), salt, TestParams)
	if !bytes.Equal(k1, k2) {
		t.Error("same password and salt must derive the same key")
	}

	k3 := DeriveKey([]byte("other"), salt, TestParams)
	if bytes.Equal(k1, k3) {
		t.Error("different passwords must derive different keys")
	}
}

func TestSecureWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	SecureWipe(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not wiped: %d", i, v)
		}
	}
}

func TestProvider(t *testing.T) {
	p := NewProvider([]byte("0123456789abcdef"), TestParams)
	key := p.DeriveKeyFromPassword([]byte("vault password"))
	if len(key) != KeyLength {
		t.Fatalf("derived key length = %d, want %d", len(key), KeyLength)
	}

	blob, err := p.Encrypt([]byte("payload"), key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	got, err := p.Decrypt(blob, key)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("round-trip mismatch: %q", got)
	}
}
