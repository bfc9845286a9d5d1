package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// RefreshTokenBytes is the entropy of a raw refresh token (256 bits).
const RefreshTokenBytes = 32

// MaxRefreshTokenLength bounds accepted raw input before hashing.
const MaxRefreshTokenLength = 512

func NewRefreshToken() (string, error) {
	b := make([]byte, RefreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func HashRefreshToken(raw, pepper string) string {
	m := hmac.New(sha256.New, []byte(pepper))
	_, _ = m.Write([]byte(raw))
	return hex.EncodeToString(m.Sum(nil))
}
