package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

type IdentityRepository struct {
	client *ScyllaClient
	clock  model.Clock
}

func NewIdentityRepository(client *ScyllaClient, clock model.Clock) *IdentityRepository {
	return &IdentityRepository{client: client, clock: clock}
}

func (r *IdentityRepository) FindByKey(ctx context.Context, key string) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	identity := &model.Identity{Key: key}
	query := r.client.Query(ctx, `SELECT identity_id, created_at FROM identities_by_key WHERE subject_key = ?`, key)

	err := r.client.ScanWithRetry(query, &identity.ID, &identity.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return identity, nil
}

// Create inserts with IF NOT EXISTS; when another caller won the race the
// row it wrote is returned instead.
func (r *IdentityRepository) Create(ctx context.Context, key string) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	identity := &model.Identity{
		ID:        ulid.Make().String(),
		Key:       key,
		CreatedAt: r.clock.Now(),
	}

	existing := map[string]interface{}{}
	applied, err := r.client.Query(ctx, `INSERT INTO identities_by_key (subject_key, identity_id, created_at)
		VALUES (?, ?, ?) IF NOT EXISTS`, identity.Key, identity.ID, identity.CreatedAt).
		MapScanCAS(existing)
	if err != nil {
		util.Error("Failed to create identity", zap.Error(err))
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	if applied {
		util.Info("Identity created", zap.String("identity_id", identity.ID))
		return identity, nil
	}

	id, _ := existing["identity_id"].(string)
	createdAt, _ := existing["created_at"].(time.Time)
	if id == "" {
		return nil, fmt.Errorf("identity insert conflicted without an existing row")
	}
	return &model.Identity{ID: id, Key: key, CreatedAt: createdAt}, nil
}
