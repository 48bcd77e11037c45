// Package crypto implements password hashing for the password identity backend.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (client-grade; accounts are per-device).
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	saltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword hashes password with a fresh per-account salt and returns both.
func HashPassword(password string) (hash, salt []byte, err error) {
	salt, err = RandBytes(saltLen)
	if err != nil {
		return nil, nil, err
	}
	hash = argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hash, salt, nil
}

// VerifyPassword verifies password against the stored Argon2id hash and salt.
func VerifyPassword(password string, salt, expected []byte) bool {
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
