package scylla

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

// rows outlive their expiry briefly so a late verifier reads "expired"
const credentialGrace = time.Minute

type CredentialRepository struct {
	client *ScyllaClient
}

func NewCredentialRepository(client *ScyllaClient) *CredentialRepository {
	return &CredentialRepository{client: client}
}

func ttlSeconds(cred *model.OneTimeCredential) int {
	ttl := cred.ExpiresAt.Sub(cred.CreatedAt) + credentialGrace
	if ttl < credentialGrace {
		ttl = credentialGrace
	}
	return int(math.Ceil(ttl.Seconds()))
}

// SaveCredential writes both tables in one logged batch.
func (r *CredentialRepository) SaveCredential(ctx context.Context, cred *model.OneTimeCredential) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ttl := ttlSeconds(cred)
	batch := r.client.Batch(ctx, gocql.LoggedBatch)
	batch.Query(`INSERT INTO credentials_by_id (credential_id, subject_key, purpose, secret_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?) USING TTL ?`,
		cred.ID, cred.SubjectKey, string(cred.Purpose), cred.SecretHash, cred.ExpiresAt, cred.CreatedAt, ttl)
	batch.Query(`INSERT INTO credentials_by_subject (subject_key, purpose, credential_id, secret_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?) USING TTL ?`,
		cred.SubjectKey, string(cred.Purpose), cred.ID, cred.SecretHash, cred.ExpiresAt, cred.CreatedAt, ttl)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to save credential",
			zap.String("credential_id", cred.ID),
			zap.String("purpose", string(cred.Purpose)),
			zap.Error(err))
		return fmt.Errorf("failed to save credential: %w", err)
	}

	util.Debug("Credential saved",
		zap.String("credential_id", cred.ID),
		zap.String("purpose", string(cred.Purpose)),
		zap.Int("ttl_seconds", ttl))
	return nil
}

func (r *CredentialRepository) FindLatestBySubject(ctx context.Context, subjectKey string, purpose model.Purpose) (*model.OneTimeCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cred := &model.OneTimeCredential{SubjectKey: subjectKey, Purpose: purpose}
	query := r.client.Query(ctx, `SELECT credential_id, secret_hash, expires_at, created_at
		FROM credentials_by_subject WHERE subject_key = ? AND purpose = ? LIMIT 1`,
		subjectKey, string(purpose))

	err := r.client.ScanWithRetry(query, &cred.ID, &cred.SecretHash, &cred.ExpiresAt, &cred.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to find latest credential",
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to find latest credential: %w", err)
	}
	return cred, nil
}

func (r *CredentialRepository) FindCredentialByID(ctx context.Context, id string) (*model.OneTimeCredential, error) {
	if _, err := gocql.ParseUUID(id); err != nil {
		// not an id this store could have issued
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cred := &model.OneTimeCredential{ID: id}
	var purpose string
	query := r.client.Query(ctx, `SELECT subject_key, purpose, secret_hash, expires_at, created_at
		FROM credentials_by_id WHERE credential_id = ?`, id)

	err := r.client.ScanWithRetry(query, &cred.SubjectKey, &purpose, &cred.SecretHash, &cred.ExpiresAt, &cred.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	cred.Purpose = model.Purpose(purpose)
	return cred, nil
}

func (r *CredentialRepository) DeleteBySubject(ctx context.Context, subjectKey string, purpose model.Purpose) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	iter := r.client.Query(ctx, `SELECT credential_id FROM credentials_by_subject
		WHERE subject_key = ? AND purpose = ?`, subjectKey, string(purpose)).Iter()

	batch := r.client.Batch(ctx, gocql.UnloggedBatch)
	var id string
	for iter.Scan(&id) {
		batch.Query(`DELETE FROM credentials_by_id WHERE credential_id = ?`, id)
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}
	batch.Query(`DELETE FROM credentials_by_subject WHERE subject_key = ? AND purpose = ?`, subjectKey, string(purpose))

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to delete credentials by subject",
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

// DeleteCredential claims the credential with a lightweight transaction;
// only the caller whose DELETE ... IF EXISTS applied gets true.
func (r *CredentialRepository) DeleteCredential(ctx context.Context, id string) (bool, error) {
	cred, err := r.FindCredentialByID(ctx, id)
	if err != nil || cred == nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	applied, err := r.client.Query(ctx, `DELETE FROM credentials_by_id WHERE credential_id = ? IF EXISTS`, id).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to claim credential: %w", err)
	}
	if !applied {
		return false, nil
	}

	err = r.client.Query(ctx, `DELETE FROM credentials_by_subject
		WHERE subject_key = ? AND purpose = ? AND credential_id = ?`,
		cred.SubjectKey, string(cred.Purpose), id).Exec()
	if err != nil {
		// the claim already succeeded; a stale index row fails verification on lookup
		util.Warn("Failed to remove claimed credential from subject index",
			zap.String("credential_id", id),
			zap.Error(err))
	}
	return true, nil
}
