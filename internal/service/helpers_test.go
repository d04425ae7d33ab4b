package service_test

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"passwordless-auth/internal/audit"
	"passwordless-auth/internal/hashing"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/ratelimit"
	"passwordless-auth/internal/repository/memory"
	"passwordless-auth/internal/service"
	"passwordless-auth/internal/util"
)

func init() {
	util.Replace(zap.NewNop())
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sent struct {
	address string
	msg     model.Message
}

// captureDispatcher delivers synchronously into memory.
type captureDispatcher struct {
	mu     sync.Mutex
	sent   []sent
	reject bool
}

func (d *captureDispatcher) Dispatch(address string, msg model.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reject {
		return false
	}
	d.sent = append(d.sent, sent{address: address, msg: msg})
	return true
}

func (d *captureDispatcher) last(t *testing.T) sent {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.sent, "nothing dispatched")
	return d.sent[len(d.sent)-1]
}

var codePattern = regexp.MustCompile(`login is: (\d{6})`)

func (d *captureDispatcher) lastCode(t *testing.T) string {
	t.Helper()
	m := codePattern.FindStringSubmatch(d.last(t).msg.Body)
	require.Len(t, m, 2)
	return m[1]
}

var linkPattern = regexp.MustCompile(`https?://\S+`)

func (d *captureDispatcher) lastMagicToken(t *testing.T) string {
	t.Helper()
	link := linkPattern.FindString(d.last(t).msg.Body)
	require.NotEmpty(t, link)
	u, err := url.Parse(link)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(u.Path, "/magic-login"))
	return u.Query().Get("token")
}

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *captureRecorder) Record(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *captureRecorder) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// failingCredentialStore fails every write.
type failingCredentialStore struct {
	*memory.CredentialStore
}

func (failingCredentialStore) SaveCredential(context.Context, *model.OneTimeCredential) error {
	return errors.New("connection refused")
}

type harness struct {
	clock       *fakeClock
	credentials *memory.CredentialStore
	sessions    *memory.SessionStore
	identities  *memory.IdentityDirectory
	dispatcher  *captureDispatcher
	recorder    *captureRecorder
	hasher      *hashing.SecretHasher
	issuer      *service.OtpIssuer
	verifier    *service.CredentialVerifier
	manager     *service.SessionManager
	auth        *service.AuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

func newHarnessWithStore(t *testing.T, store model.CredentialStore) *harness {
	t.Helper()
	h := &harness{
		clock:       &fakeClock{now: t0},
		credentials: memory.NewCredentialStore(),
		sessions:    memory.NewSessionStore(),
		dispatcher:  &captureDispatcher{},
		recorder:    &captureRecorder{},
		hasher: hashing.NewSecretHasher(hashing.Argon2Params{
			Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
		}, []byte("pepper")),
	}
	h.identities = memory.NewIdentityDirectory(h.clock)
	if store == nil {
		store = h.credentials
	}

	limiter := ratelimit.NewMemoryLimiter(ratelimit.DefaultWindows(), ratelimit.WithClock(h.clock))
	h.issuer = service.NewOtpIssuer(store, h.hasher, h.dispatcher, h.clock, 5*time.Minute, time.Hour)
	h.verifier = service.NewCredentialVerifier(store, h.hasher, h.identities, h.clock)
	h.manager = service.NewSessionManager(h.sessions, hashing.NewTokenHasher(nil), h.clock, 32)
	h.auth = service.NewAuthService(limiter, h.issuer, h.verifier, h.manager, h.dispatcher, h.recorder, h.clock,
		"https://app.example.com", 5*time.Second)
	return h
}
