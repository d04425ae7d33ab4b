package service

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"passwordless-auth/internal/hashing"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

const minSessionTokenBytes = 16

// SessionManager issues opaque bearer tokens and stores only their hash.
// Sessions do not expire; revocation is the only way to end one.
type SessionManager struct {
	store      model.SessionStore
	hasher     *hashing.TokenHasher
	clock      model.Clock
	tokenBytes int
}

func NewSessionManager(store model.SessionStore, hasher *hashing.TokenHasher, clock model.Clock, tokenBytes int) *SessionManager {
	if tokenBytes < minSessionTokenBytes {
		tokenBytes = 32
	}
	return &SessionManager{store: store, hasher: hasher, clock: clock, tokenBytes: tokenBytes}
}

// CreateSession returns the raw token. It is not retrievable afterwards.
func (m *SessionManager) CreateSession(ctx context.Context, identity *model.Identity) (string, error) {
	raw, err := hashing.RandomToken(m.tokenBytes)
	if err != nil {
		return "", err
	}

	session := &model.Session{
		ID:        ulid.Make().String(),
		TokenHash: m.hasher.Hash(raw),
		Identity:  *identity,
		CreatedAt: m.clock.Now(),
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		return "", upstream("save session", err)
	}

	util.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("identity_id", identity.ID))
	return raw, nil
}

// ResolveSession returns the identity behind a raw token, or nil when the
// token is empty or unknown.
func (m *SessionManager) ResolveSession(ctx context.Context, raw string) (*model.Identity, error) {
	if raw == "" {
		return nil, nil
	}

	session, err := m.store.FindByTokenHash(ctx, m.hasher.Hash(raw))
	if err != nil {
		return nil, upstream("find session", err)
	}
	if session == nil {
		return nil, nil
	}
	identity := session.Identity
	return &identity, nil
}

// RevokeSession is a no-op for unknown tokens.
func (m *SessionManager) RevokeSession(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := m.store.DeleteByTokenHash(ctx, m.hasher.Hash(raw)); err != nil {
		return upstream("delete session", err)
	}
	return nil
}
