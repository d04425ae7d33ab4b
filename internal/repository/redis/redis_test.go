package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passwordless-auth/internal/client"
	"passwordless-auth/internal/config"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/ratelimit"
	"passwordless-auth/internal/repository/redis"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// newTestClient connects to TEST_REDIS_URL under a unique key prefix.
func newTestClient(t *testing.T) *client.RedisClient {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)

	rc := goredis.NewClient(opts)
	t.Cleanup(func() { _ = rc.Close() })
	require.NoError(t, rc.Ping(context.Background()).Err())

	return client.NewRedisClientFrom(rc, config.RedisConfig{KeyPrefix: "test:" + uuid.NewString() + ":"})
}

func TestCredentialCache(t *testing.T) {
	rc := newTestClient(t)
	ctx := context.Background()
	store := redis.NewCredentialCache(rc)
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := &model.OneTimeCredential{ID: uuid.NewString(), SubjectKey: "a@x.com", SecretHash: "s:d1",
		Purpose: model.PurposeLoginOTP, CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}
	second := &model.OneTimeCredential{ID: uuid.NewString(), SubjectKey: "a@x.com", SecretHash: "s:d2",
		Purpose: model.PurposeLoginOTP, CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}
	require.NoError(t, store.SaveCredential(ctx, first))
	require.NoError(t, store.SaveCredential(ctx, second))

	latest, err := store.FindLatestBySubject(ctx, "a@x.com", model.PurposeLoginOTP)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "s:d2", latest.SecretHash)
	assert.True(t, second.ExpiresAt.Equal(latest.ExpiresAt))

	ok, err := store.DeleteCredential(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.DeleteCredential(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	latest, err = store.FindLatestBySubject(ctx, "a@x.com", model.PurposeLoginOTP)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	require.NoError(t, store.DeleteBySubject(ctx, "a@x.com", model.PurposeLoginOTP))
	latest, err = store.FindLatestBySubject(ctx, "a@x.com", model.PurposeLoginOTP)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSessionAndIdentityCache(t *testing.T) {
	rc := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	identities := redis.NewIdentityCache(rc, fixedClock{now: now})
	created, err := identities.Create(ctx, "a@x.com")
	require.NoError(t, err)
	again, err := identities.Create(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	sessions := redis.NewSessionCache(rc)
	require.NoError(t, sessions.SaveSession(ctx, &model.Session{ID: "s1", TokenHash: "h1", Identity: *created, CreatedAt: now}))

	got, err := sessions.FindByTokenHash(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.Identity.ID)
	assert.Equal(t, "a@x.com", got.Identity.Key)

	require.NoError(t, sessions.DeleteByTokenHash(ctx, "h1"))
	got, err = sessions.FindByTokenHash(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRateLimitCache(t *testing.T) {
	rc := newTestClient(t)
	ctx := context.Background()
	limiter := redis.NewRateLimitCache(rc, ratelimit.DefaultWindows(), fixedClock{now: time.Now()})

	for i := 0; i < 5; i++ {
		require.True(t, limiter.TryConsume(ctx, "a@x.com").Allowed)
	}
	d := limiter.TryConsume(ctx, "a@x.com")
	assert.False(t, d.Allowed)
	assert.Equal(t, 12*time.Second, d.RetryAfter)

	assert.True(t, limiter.TryConsume(ctx, "b@x.com").Allowed)
}
