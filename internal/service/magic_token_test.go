package service_test

import (
	"context"
	"encoding/base64"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passwordless-auth/internal/service"
)

func TestMagicTokenRoundTrip(t *testing.T) {
	token := service.EncodeMagicToken("0190a5e2-7c1d-7000-8000-000000000001", "s3cr3t-_")
	assert.NotContains(t, token, "=")

	id, secret, err := service.DecodeMagicToken(token)
	require.NoError(t, err)
	assert.Equal(t, "0190a5e2-7c1d-7000-8000-000000000001", id)
	assert.Equal(t, "s3cr3t-_", secret)
}

func TestDecodeMagicTokenAcceptsOtherEncodings(t *testing.T) {
	raw := []byte("id-1:secret:with:colons")
	for name, enc := range map[string]*base64.Encoding{
		"std":     base64.StdEncoding,
		"url":     base64.URLEncoding,
		"raw std": base64.RawStdEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			id, secret, err := service.DecodeMagicToken(enc.EncodeToString(raw))
			require.NoError(t, err)
			assert.Equal(t, "id-1", id)
			assert.Equal(t, "secret:with:colons", secret)
		})
	}
}

func TestDecodeMagicTokenMalformed(t *testing.T) {
	for _, token := range []string{
		"",
		"   ",
		"%%%",
		base64.RawURLEncoding.EncodeToString([]byte("no-separator")),
		base64.RawURLEncoding.EncodeToString([]byte(":secret")),
		base64.RawURLEncoding.EncodeToString([]byte("id:")),
	} {
		_, _, err := service.DecodeMagicToken(token)
		assert.ErrorIs(t, err, service.ErrMalformed, token)
	}
}

func TestIssuedCodesAreSixDigits(t *testing.T) {
	h := newHarness(t)
	sixDigits := regexp.MustCompile(`^\d{6}$`)

	for i := 0; i < 20; i++ {
		require.NoError(t, h.issuer.Issue(context.Background(), "a@x.com"))
		assert.Regexp(t, sixDigits, h.dispatcher.lastCode(t))
	}
}

func TestVerifierReportsReasons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.verifier.VerifyOTP(ctx, "a@x.com", "123456")
	assert.ErrorIs(t, err, service.ErrNotFound)

	require.NoError(t, h.issuer.Issue(ctx, "a@x.com"))
	code := h.dispatcher.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}
	_, err = h.verifier.VerifyOTP(ctx, "a@x.com", wrong)
	assert.ErrorIs(t, err, service.ErrSecretMismatch)

	h.clock.Advance(6 * time.Minute)
	_, err = h.verifier.VerifyOTP(ctx, "a@x.com", code)
	assert.ErrorIs(t, err, service.ErrExpired)

	_, err = h.verifier.VerifyMagicLink(ctx, "%%%")
	assert.ErrorIs(t, err, service.ErrMalformed)
}

func TestSessionManager(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	identity, err := h.identities.Create(ctx, "a@x.com")
	require.NoError(t, err)

	token, err := h.manager.CreateSession(ctx, identity)
	require.NoError(t, err)
	assert.Len(t, token, 43)

	other, err := h.manager.CreateSession(ctx, identity)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)

	got, err := h.manager.ResolveSession(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, identity.ID, got.ID)

	require.NoError(t, h.manager.RevokeSession(ctx, token))
	got, err = h.manager.ResolveSession(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, got)

	// revoking one session leaves the other
	got, err = h.manager.ResolveSession(ctx, other)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
