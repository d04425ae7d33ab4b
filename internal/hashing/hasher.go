package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"passwordless-auth/internal/config"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash = errors.New("invalid hash format")
	ErrEmptySecret = errors.New("secret must not be empty")
)

const hashSeparator = ":"

var encoding = base64.RawURLEncoding

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the OWASP argon2id baseline.
func DefaultParams() Argon2Params {
	return Argon2Params{
		Memory:      19 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// ParamsFromConfig overlays configured costs on DefaultParams.
func ParamsFromConfig(cfg config.HashingConfig) Argon2Params {
	p := DefaultParams()
	if cfg.Argon2MemoryCost > 0 {
		p.Memory = uint32(cfg.Argon2MemoryCost)
	}
	if cfg.Argon2TimeCost > 0 {
		p.Iterations = uint32(cfg.Argon2TimeCost)
	}
	if cfg.Argon2Parallelism > 0 {
		p.Parallelism = uint8(cfg.Argon2Parallelism)
	}
	return p
}

// HashResult is a salted digest. String() is the stored "salt:digest" form.
type HashResult struct {
	Salt   string `json:"salt"`
	Digest string `json:"digest"`
}

func (r HashResult) String() string {
	return r.Salt + hashSeparator + r.Digest
}

// SecretHasher is the salted one-way hash applied to OTP codes and
// magic-link secrets. It is safe for concurrent use.
type SecretHasher struct {
	params Argon2Params
	pepper []byte
}

func NewSecretHasher(params Argon2Params, pepper []byte) *SecretHasher {
	return &SecretHasher{
		params: params,
		pepper: append([]byte(nil), pepper...),
	}
}

// Hash derives a digest of raw under a fresh random salt.
func (h *SecretHasher) Hash(raw string) (HashResult, error) {
	if raw == "" {
		return HashResult{}, ErrEmptySecret
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return HashResult{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	return HashResult{
		Salt:   encoding.EncodeToString(salt),
		Digest: encoding.EncodeToString(h.derive(raw, salt)),
	}, nil
}

// Verify checks raw against a stored "salt:digest" value. Malformed
// stored values never verify.
func (h *SecretHasher) Verify(raw, stored string) bool {
	parts := strings.Split(stored, hashSeparator)
	if len(parts) != 2 {
		return false
	}
	return h.VerifyParts(raw, parts[0], parts[1])
}

// VerifyParts recomputes the digest with the given salt and compares it
// in constant time.
func (h *SecretHasher) VerifyParts(raw, salt, digest string) bool {
	saltBytes, err := encoding.DecodeString(salt)
	if err != nil || len(saltBytes) == 0 {
		return false
	}
	want, err := encoding.DecodeString(digest)
	if err != nil || len(want) == 0 {
		return false
	}
	got := h.derive(raw, saltBytes)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (h *SecretHasher) derive(raw string, salt []byte) []byte {
	input := make([]byte, 0, len(raw)+len(h.pepper))
	input = append(input, raw...)
	input = append(input, h.pepper...)
	return argon2.IDKey(input, salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
}
