package scylla

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"passwordless-auth/internal/util"
)

// Credential ids are UUIDv7, so the DESC clustering order on
// credentials_by_subject puts the latest issue first.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS credentials_by_id (
		credential_id uuid PRIMARY KEY,
		subject_key text,
		purpose text,
		secret_hash text,
		expires_at timestamp,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS credentials_by_subject (
		subject_key text,
		purpose text,
		credential_id uuid,
		secret_hash text,
		expires_at timestamp,
		created_at timestamp,
		PRIMARY KEY ((subject_key, purpose), credential_id)
	) WITH CLUSTERING ORDER BY (credential_id DESC)`,
	`CREATE TABLE IF NOT EXISTS sessions_by_token_hash (
		token_hash text PRIMARY KEY,
		session_id text,
		identity_id text,
		subject_key text,
		identity_created_at timestamp,
		created_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS identities_by_key (
		subject_key text PRIMARY KEY,
		identity_id text,
		created_at timestamp
	)`,
}

// EnsureSchema creates any missing tables in the session keyspace.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Query(ctx, stmt).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	util.Info("ScyllaDB schema ensured", zap.Int("tables", len(schema)))
	return nil
}
