package hashing_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passwordless-auth/internal/config"
	"passwordless-auth/internal/hashing"
)

func fastParams() hashing.Argon2Params {
	return hashing.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestSecretHasher_RoundTrip(t *testing.T) {
	h := hashing.NewSecretHasher(fastParams(), []byte("pepper"))

	res, err := h.Hash("042917")
	require.NoError(t, err)

	stored := res.String()
	assert.Equal(t, 1, strings.Count(stored, ":"))
	assert.True(t, h.Verify("042917", stored))
	assert.True(t, h.VerifyParts("042917", res.Salt, res.Digest))
	assert.False(t, h.Verify("042918", stored))
	assert.False(t, h.Verify("", stored))
}

func TestSecretHasher_FreshSaltPerCall(t *testing.T) {
	h := hashing.NewSecretHasher(fastParams(), nil)

	a, err := h.Hash("123456")
	require.NoError(t, err)
	b, err := h.Hash("123456")
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Digest, b.Digest)
}

func TestSecretHasher_PepperMatters(t *testing.T) {
	withPepper := hashing.NewSecretHasher(fastParams(), []byte("one"))
	otherPepper := hashing.NewSecretHasher(fastParams(), []byte("two"))

	res, err := withPepper.Hash("secret")
	require.NoError(t, err)

	assert.False(t, otherPepper.Verify("secret", res.String()))
}

func TestSecretHasher_MalformedStoredValueFailsClosed(t *testing.T) {
	h := hashing.NewSecretHasher(fastParams(), nil)

	for _, stored := range []string{
		"",
		"nocolon",
		"a:b:c",
		":",
		"!!!:???",
		"c2FsdA:",
	} {
		t.Run(stored, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, h.Verify("123456", stored))
			})
		})
	}
}

func TestSecretHasher_EmptySecret(t *testing.T) {
	h := hashing.NewSecretHasher(fastParams(), nil)
	_, err := h.Hash("")
	assert.ErrorIs(t, err, hashing.ErrEmptySecret)
}

func TestParamsFromConfig(t *testing.T) {
	p := hashing.ParamsFromConfig(config.HashingConfig{Argon2MemoryCost: 4096, Argon2TimeCost: 3})
	assert.Equal(t, uint32(4096), p.Memory)
	assert.Equal(t, uint32(3), p.Iterations)
	assert.Equal(t, uint8(1), p.Parallelism)
}

func TestTokenHasher(t *testing.T) {
	plain := hashing.NewTokenHasher(nil)
	keyed := hashing.NewTokenHasher([]byte("k"))

	assert.Equal(t, plain.Hash("tok"), plain.Hash("tok"))
	assert.NotEqual(t, plain.Hash("tok"), plain.Hash("tok2"))
	assert.NotEqual(t, plain.Hash("tok"), keyed.Hash("tok"))
	assert.Len(t, keyed.Hash("tok"), 64)
}

func TestRandomToken(t *testing.T) {
	a, err := hashing.RandomToken(32)
	require.NoError(t, err)
	b, err := hashing.RandomToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}
