package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	passwordSaltLen = 16
	passwordKeyLen  = 64
)

// HashPassword derives a scrypt hash with a fresh random 16-byte salt and
// encodes salt and derived key as "<salt-hex>:<hash-hex>".
func HashPassword(password string) (string, error) {
	salt := make([]byte, passwordSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, passwordKeyLen)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(hash), nil
}

// VerifyPassword re-derives the scrypt hash with the stored salt and
// compares in constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("malformed password hash")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}

	got, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, len(want))
	if err != nil {
		return false, fmt.Errorf("hashing password: %w", err)
	}

	return constantTimeEqual(got, want), nil
}
