package crypto

import (
	"bytes"
	"testing"
)

func TestHashVerify_RoundTrip(t *testing.T) {
	t.Parallel()
	hash, salt, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if len(hash) == 0 || len(salt) == 0 {
		t.Fatalf("empty hash/salt")
	}
	if !VerifyPassword("s3cret", salt, hash) {
		t.Fatalf("correct password rejected")
	}
	if VerifyPassword("s3cret2", salt, hash) {
		t.Fatalf("wrong password accepted")
	}
}

func TestHashPassword_SaltsDiffer(t *testing.T) {
	t.Parallel()
	h1, s1, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, s2, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if bytes.Equal(s1, s2) {
		t.Fatalf("salts must differ between accounts")
	}
	if bytes.Equal(h1, h2) {
		t.Fatalf("same hash with different salts")
	}
}

func TestRandBytes_Len(t *testing.T) {
	t.Parallel()
	b, err := RandBytes(16)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(b) != 16 {
		t.Fatalf("len = %d, want 16", len(b))
	}
}
