package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"passwordless-auth/internal/client"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

const (
	opTimeout = 5 * time.Second

	// credentials outlive their expiry briefly so that a late verifier
	// sees "expired" rather than "not found"; both fail the same way
	credentialGrace = time.Minute
)

// CredentialCache stores each credential as a hash and indexes it in a
// per-subject sorted set scored by a global issue sequence, so "latest"
// is the highest score. Redis TTLs do the garbage collection.
type CredentialCache struct {
	client *client.RedisClient
}

func NewCredentialCache(client *client.RedisClient) *CredentialCache {
	return &CredentialCache{client: client}
}

func (c *CredentialCache) credentialKey(id string) string {
	return c.client.Key("credential", id)
}

func (c *CredentialCache) subjectKey(subject string, purpose model.Purpose) string {
	return c.client.Key("credentials", string(purpose), subject)
}

func (c *CredentialCache) SaveCredential(ctx context.Context, cred *model.OneTimeCredential) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	seq, err := c.client.Incr(ctx, c.client.Key("credential_seq"))
	if err != nil {
		return fmt.Errorf("failed to allocate credential sequence: %w", err)
	}

	ttl := cred.ExpiresAt.Sub(cred.CreatedAt) + credentialGrace
	if ttl < credentialGrace {
		ttl = credentialGrace
	}

	credKey := c.credentialKey(cred.ID)
	idxKey := c.subjectKey(cred.SubjectKey, cred.Purpose)

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, credKey,
		"subject_key", cred.SubjectKey,
		"purpose", string(cred.Purpose),
		"secret_hash", cred.SecretHash,
		"expires_at", cred.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"created_at", cred.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.PExpire(ctx, credKey, ttl)
	pipe.ZAdd(ctx, idxKey, redis.Z{Score: float64(seq), Member: cred.ID})
	pipe.PExpire(ctx, idxKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to save credential",
			zap.String("credential_id", cred.ID),
			zap.String("purpose", string(cred.Purpose)),
			zap.Error(err))
		return fmt.Errorf("failed to save credential: %w", err)
	}

	util.Debug("Credential saved",
		zap.String("credential_id", cred.ID),
		zap.String("purpose", string(cred.Purpose)),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *CredentialCache) FindLatestBySubject(ctx context.Context, subjectKey string, purpose model.Purpose) (*model.OneTimeCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	idxKey := c.subjectKey(subjectKey, purpose)
	ids, err := c.client.Client.ZRevRange(ctx, idxKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read credential index: %w", err)
	}

	for _, id := range ids {
		cred, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if cred != nil {
			return cred, nil
		}
		// hash expired ahead of the index entry
		if err := c.client.Client.ZRem(ctx, idxKey, id).Err(); err != nil {
			util.Debug("Failed to prune stale credential index entry",
				zap.String("purpose", string(purpose)),
				zap.String("credential_id", id),
				zap.Error(err))
		}
	}
	return nil, nil
}

func (c *CredentialCache) FindCredentialByID(ctx context.Context, id string) (*model.OneTimeCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.load(ctx, id)
}

func (c *CredentialCache) DeleteBySubject(ctx context.Context, subjectKey string, purpose model.Purpose) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	idxKey := c.subjectKey(subjectKey, purpose)
	ids, err := c.client.Client.ZRange(ctx, idxKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read credential index: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, c.credentialKey(id))
	}
	keys = append(keys, idxKey)

	if _, err := c.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to delete credentials by subject",
			zap.String("purpose", string(purpose)),
			zap.Int("count", len(ids)),
			zap.Error(err))
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

func (c *CredentialCache) DeleteCredential(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	credKey := c.credentialKey(id)
	fields, err := c.client.Client.HMGet(ctx, credKey, "subject_key", "purpose").Result()
	if err != nil {
		return false, fmt.Errorf("failed to read credential: %w", err)
	}

	// DEL is the claim: only one caller sees a count of one
	n, err := c.client.Del(ctx, credKey)
	if err != nil {
		return false, fmt.Errorf("failed to delete credential: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	subject, _ := fields[0].(string)
	purpose, _ := fields[1].(string)
	if subject != "" && purpose != "" {
		if err := c.client.Client.ZRem(ctx, c.subjectKey(subject, model.Purpose(purpose)), id).Err(); err != nil {
			util.Debug("Failed to drop claimed credential from index",
				zap.String("purpose", purpose),
				zap.String("credential_id", id),
				zap.Error(err))
		}
	}
	return true, nil
}

func (c *CredentialCache) load(ctx context.Context, id string) (*model.OneTimeCredential, error) {
	fields, err := c.client.HGetAll(ctx, c.credentialKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	cred := &model.OneTimeCredential{
		ID:         id,
		SubjectKey: fields["subject_key"],
		SecretHash: fields["secret_hash"],
		Purpose:    model.Purpose(fields["purpose"]),
	}
	if cred.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, errors.Join(fmt.Errorf("corrupt credential %s", id), err)
	}
	if cred.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, errors.Join(fmt.Errorf("corrupt credential %s", id), err)
	}
	return cred, nil
}
