package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TokenHasher maps high-entropy bearer tokens to their lookup hash.
// Tokens carry enough entropy that no salt is needed; the key, when set,
// turns the hash into an HMAC so a leaked table cannot be brute forced
// without it.
type TokenHasher struct {
	key []byte
}

func NewTokenHasher(key []byte) *TokenHasher {
	return &TokenHasher{key: append([]byte(nil), key...)}
}

// Hash is deterministic: the same token always yields the same hash.
func (t *TokenHasher) Hash(token string) string {
	if len(t.key) == 0 {
		sum := sha256.Sum256([]byte(token))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, t.key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// RandomToken returns n random bytes encoded URL-safe without padding.
func RandomToken(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return encoding.EncodeToString(b), nil
}
