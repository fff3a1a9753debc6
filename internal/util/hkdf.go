package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const HKDFKeyLength = 32

var sessionKeySalt = []byte("terminguard/session-store/v1")

// HKDF derives HKDFKeyLength bytes from seed using HKDF-SHA256.
func HKDF(seed []byte, salt []byte, info []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, HKDFKeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}

// DeriveSessionKey turns an operator supplied secret into the AES key that
// wraps persisted session records. purpose separates keys used for
// different record families.
func DeriveSessionKey(secret, purpose string) ([]byte, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("session secret must be at least 16 characters")
	}
	return HKDF([]byte(secret), sessionKeySalt, []byte(purpose))
}
