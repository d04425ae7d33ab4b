package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"passwordless-auth/internal/client"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

// SessionCache stores sessions under their token hash with the owning
// identity denormalised into the same hash. Sessions carry no TTL.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

func (c *SessionCache) key(tokenHash string) string {
	return c.client.Key("session", tokenHash)
}

func (c *SessionCache) SaveSession(ctx context.Context, session *model.Session) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err := c.client.Client.HSet(ctx, c.key(session.TokenHash),
		"session_id", session.ID,
		"identity_id", session.Identity.ID,
		"subject_key", session.Identity.Key,
		"identity_created_at", session.Identity.CreatedAt.UTC().Format(time.RFC3339Nano),
		"created_at", session.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		util.Error("Failed to save session", zap.String("session_id", session.ID), zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}

	util.Debug("Session saved", zap.String("session_id", session.ID))
	return nil
}

func (c *SessionCache) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	fields, err := c.client.HGetAll(ctx, c.key(tokenHash))
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	session := &model.Session{
		ID:        fields["session_id"],
		TokenHash: tokenHash,
		Identity: model.Identity{
			ID:  fields["identity_id"],
			Key: fields["subject_key"],
		},
	}
	// timestamps are informational; a corrupt one does not void the session
	session.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	session.Identity.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["identity_created_at"])
	return session, nil
}

func (c *SessionCache) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := c.client.Del(ctx, c.key(tokenHash)); err != nil {
		util.Error("Failed to delete session", zap.Error(err))
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
