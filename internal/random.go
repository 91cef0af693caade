package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

type SessionHandle [16]byte

const refreshSecretSize = 32

func NewSessionHandle() (SessionHandle, error) {
	var h SessionHandle
	_, err := rand.Read(h[:])
	return h, err
}

func (h SessionHandle) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(h[:])
}

func ParseSessionHandle(handle string) (SessionHandle, error) {
	var h SessionHandle

	raw, err := base64.RawURLEncoding.DecodeString(handle)
	if err != nil {
		return h, err
	}
	if len(raw) != len(h) {
		return h, errors.New("invalid session handle size")
	}

	copy(h[:], raw)
	return h, nil
}

// NewOpaqueToken returns a fresh random token string of n raw bytes,
// base64url encoded. Used for refresh tokens and anti-CSRF tokens.
func NewOpaqueToken(n int) (string, error) {
	if n <= 0 {
		n = refreshSecretSize
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
