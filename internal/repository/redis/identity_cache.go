package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"passwordless-auth/internal/client"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

// IdentityCache is a minimal identity directory for deployments where
// Redis is the only store.
type IdentityCache struct {
	client *client.RedisClient
	clock  model.Clock
}

func NewIdentityCache(client *client.RedisClient, clock model.Clock) *IdentityCache {
	return &IdentityCache{client: client, clock: clock}
}

func (c *IdentityCache) key(subject string) string {
	return c.client.Key("identity", subject)
}

func (c *IdentityCache) FindByKey(ctx context.Context, key string) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.key(key))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	var identity model.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	return &identity, nil
}

// Create uses SETNX so concurrent first logins converge on one identity.
func (c *IdentityCache) Create(ctx context.Context, key string) (*model.Identity, error) {
	identity := &model.Identity{
		ID:        ulid.Make().String(),
		Key:       key,
		CreatedAt: c.clock.Now(),
	}
	raw, err := json.Marshal(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity: %w", err)
	}

	setCtx, cancel := context.WithTimeout(ctx, opTimeout)
	created, err := c.client.SetNX(setCtx, c.key(key), raw, 0)
	cancel()
	if err != nil {
		util.Error("Failed to create identity", zap.Error(err))
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	if created {
		util.Info("Identity created", zap.String("identity_id", identity.ID))
		return identity, nil
	}

	existing, err := c.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("identity for key vanished after create conflict")
	}
	return existing, nil
}
