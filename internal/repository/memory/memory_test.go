package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passwordless-auth/internal/model"
	"passwordless-auth/internal/repository/memory"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func credential(id, subject string, purpose model.Purpose, expiresAt time.Time) *model.OneTimeCredential {
	return &model.OneTimeCredential{
		ID:         id,
		SubjectKey: subject,
		SecretHash: "salt:digest",
		Purpose:    purpose,
		ExpiresAt:  expiresAt,
		CreatedAt:  t0,
	}
}

func TestCredentialStore_LatestWins(t *testing.T) {
	ctx := context.Background()
	s := memory.NewCredentialStore()

	require.NoError(t, s.SaveCredential(ctx, credential("c1", "a@x.com", model.PurposeLoginOTP, t0.Add(5*time.Minute))))
	require.NoError(t, s.SaveCredential(ctx, credential("c2", "a@x.com", model.PurposeLoginOTP, t0.Add(5*time.Minute))))
	require.NoError(t, s.SaveCredential(ctx, credential("m1", "a@x.com", model.PurposeMagicLink, t0.Add(time.Hour))))

	latest, err := s.FindLatestBySubject(ctx, "a@x.com", model.PurposeLoginOTP)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "c2", latest.ID)

	latest, err = s.FindLatestBySubject(ctx, "a@x.com", model.PurposeMagicLink)
	require.NoError(t, err)
	assert.Equal(t, "m1", latest.ID)

	none, err := s.FindLatestBySubject(ctx, "b@x.com", model.PurposeLoginOTP)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCredentialStore_LatestIsLastSaved(t *testing.T) {
	ctx := context.Background()
	s := memory.NewCredentialStore()

	// timestamps never override issue order
	newer := credential("c1", "a@x.com", model.PurposeLoginOTP, t0.Add(10*time.Minute))
	newer.CreatedAt = t0.Add(time.Minute)
	older := credential("c2", "a@x.com", model.PurposeLoginOTP, t0.Add(5*time.Minute))
	require.NoError(t, s.SaveCredential(ctx, newer))
	require.NoError(t, s.SaveCredential(ctx, older))

	latest, err := s.FindLatestBySubject(ctx, "a@x.com", model.PurposeLoginOTP)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "c2", latest.ID)
}

func TestCredentialStore_DeleteBySubjectLeavesOtherPurposes(t *testing.T) {
	ctx := context.Background()
	s := memory.NewCredentialStore()

	require.NoError(t, s.SaveCredential(ctx, credential("c1", "a@x.com", model.PurposeLoginOTP, t0)))
	require.NoError(t, s.SaveCredential(ctx, credential("c2", "a@x.com", model.PurposeLoginOTP, t0)))
	require.NoError(t, s.SaveCredential(ctx, credential("m1", "a@x.com", model.PurposeMagicLink, t0)))
	require.NoError(t, s.SaveCredential(ctx, credential("c3", "b@x.com", model.PurposeLoginOTP, t0)))

	require.NoError(t, s.DeleteBySubject(ctx, "a@x.com", model.PurposeLoginOTP))

	latest, err := s.FindLatestBySubject(ctx, "a@x.com", model.PurposeLoginOTP)
	require.NoError(t, err)
	assert.Nil(t, latest)

	m, err := s.FindCredentialByID(ctx, "m1")
	require.NoError(t, err)
	assert.NotNil(t, m)

	other, err := s.FindCredentialByID(ctx, "c3")
	require.NoError(t, err)
	assert.NotNil(t, other)

	assert.Equal(t, 2, s.Len())
}

func TestCredentialStore_DeleteCredentialReportsWinner(t *testing.T) {
	ctx := context.Background()
	s := memory.NewCredentialStore()
	require.NoError(t, s.SaveCredential(ctx, credential("m1", "a@x.com", model.PurposeMagicLink, t0)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.DeleteCredential(ctx, "m1")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	found, err := s.FindCredentialByID(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCredentialStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.NewCredentialStore()
	require.NoError(t, s.SaveCredential(ctx, credential("c1", "a@x.com", model.PurposeLoginOTP, t0)))

	got, err := s.FindCredentialByID(ctx, "c1")
	require.NoError(t, err)
	got.SecretHash = "tampered"

	again, err := s.FindCredentialByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "salt:digest", again.SecretHash)
}

func TestCredentialStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	s := memory.NewCredentialStore()
	require.NoError(t, s.SaveCredential(ctx, credential("old", "a@x.com", model.PurposeLoginOTP, t0)))
	require.NoError(t, s.SaveCredential(ctx, credential("new", "a@x.com", model.PurposeLoginOTP, t0.Add(time.Hour))))

	assert.Equal(t, 0, s.PurgeExpired(t0), "a credential is valid at its expiry instant")
	assert.Equal(t, 1, s.PurgeExpired(t0.Add(time.Second)))

	latest, err := s.FindLatestBySubject(ctx, "a@x.com", model.PurposeLoginOTP)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)
}

func TestCredentialStore_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := memory.NewCredentialStore()

	err := s.SaveCredential(ctx, credential("c1", "a@x.com", model.PurposeLoginOTP, t0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Len())
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	s := memory.NewSessionStore()

	session := &model.Session{
		ID:        "s1",
		TokenHash: "h1",
		Identity:  model.Identity{ID: "u1", Key: "a@x.com"},
		CreatedAt: t0,
	}
	require.NoError(t, s.SaveSession(ctx, session))

	got, err := s.FindByTokenHash(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a@x.com", got.Identity.Key)

	require.NoError(t, s.DeleteByTokenHash(ctx, "h1"))
	require.NoError(t, s.DeleteByTokenHash(ctx, "h1"), "deleting twice is not an error")

	got, err = s.FindByTokenHash(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestIdentityDirectory(t *testing.T) {
	ctx := context.Background()
	d := memory.NewIdentityDirectory(fixedClock{now: t0})

	none, err := d.FindByKey(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, none)

	created, err := d.Create(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, t0, created.CreatedAt)

	again, err := d.Create(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID, "create is idempotent per key")

	found, err := d.FindByKey(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, 1, d.Len())
}
