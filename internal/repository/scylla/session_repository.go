package scylla

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

// SessionRepository keeps sessions keyed by token hash with the owning
// identity copied into the row. Sessions carry no TTL.
type SessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(client *ScyllaClient) *SessionRepository {
	return &SessionRepository{client: client}
}

func (r *SessionRepository) SaveSession(ctx context.Context, session *model.Session) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := r.client.Query(ctx, `INSERT INTO sessions_by_token_hash
		(token_hash, session_id, identity_id, subject_key, identity_created_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.TokenHash, session.ID, session.Identity.ID, session.Identity.Key,
		session.Identity.CreatedAt, session.CreatedAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to save session",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}

	util.Debug("Session saved", zap.String("session_id", session.ID))
	return nil
}

func (r *SessionRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	session := &model.Session{TokenHash: tokenHash}
	query := r.client.Query(ctx, `SELECT session_id, identity_id, subject_key, identity_created_at, created_at
		FROM sessions_by_token_hash WHERE token_hash = ?`, tokenHash)

	err := r.client.ScanWithRetry(query,
		&session.ID, &session.Identity.ID, &session.Identity.Key,
		&session.Identity.CreatedAt, &session.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to find session", zap.Error(err))
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := r.client.Query(ctx, `DELETE FROM sessions_by_token_hash WHERE token_hash = ?`, tokenHash)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to delete session", zap.Error(err))
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
