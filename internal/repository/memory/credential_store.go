package memory

import (
	"context"
	"sync"
	"time"

	"passwordless-auth/internal/model"
)

type storedCredential struct {
	cred model.OneTimeCredential
	seq  uint64
}

// CredentialStore keeps credentials in process. It backs development
// deployments and tests; data does not survive a restart.
type CredentialStore struct {
	mu        sync.RWMutex
	byID      map[string]*storedCredential
	bySubject map[subjectIndex]map[string]struct{}
	seq       uint64
}

type subjectIndex struct {
	subject string
	purpose model.Purpose
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		byID:      make(map[string]*storedCredential),
		bySubject: make(map[subjectIndex]map[string]struct{}),
	}
}

func (s *CredentialStore) SaveCredential(ctx context.Context, cred *model.OneTimeCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.byID[cred.ID] = &storedCredential{cred: *cred, seq: s.seq}

	idx := subjectIndex{subject: cred.SubjectKey, purpose: cred.Purpose}
	ids, ok := s.bySubject[idx]
	if !ok {
		ids = make(map[string]struct{})
		s.bySubject[idx] = ids
	}
	ids[cred.ID] = struct{}{}
	return nil
}

// FindLatestBySubject orders by save sequence, so the last issued
// credential wins even when two share a timestamp.
func (s *CredentialStore) FindLatestBySubject(ctx context.Context, subjectKey string, purpose model.Purpose) (*model.OneTimeCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *storedCredential
	for id := range s.bySubject[subjectIndex{subject: subjectKey, purpose: purpose}] {
		sc := s.byID[id]
		if latest == nil || sc.seq > latest.seq {
			latest = sc
		}
	}
	if latest == nil {
		return nil, nil
	}
	cred := latest.cred
	return &cred, nil
}

func (s *CredentialStore) FindCredentialByID(ctx context.Context, id string) (*model.OneTimeCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	cred := sc.cred
	return &cred, nil
}

func (s *CredentialStore) DeleteBySubject(ctx context.Context, subjectKey string, purpose model.Purpose) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := subjectIndex{subject: subjectKey, purpose: purpose}
	for id := range s.bySubject[idx] {
		delete(s.byID, id)
	}
	delete(s.bySubject, idx)
	return nil
}

func (s *CredentialStore) DeleteCredential(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteLocked(id), nil
}

func (s *CredentialStore) deleteLocked(id string) bool {
	sc, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)

	idx := subjectIndex{subject: sc.cred.SubjectKey, purpose: sc.cred.Purpose}
	if ids := s.bySubject[idx]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.bySubject, idx)
		}
	}
	return true
}

// PurgeExpired removes credentials that expired before now and returns
// how many were dropped.
func (s *CredentialStore) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sc := range s.byID {
		if sc.cred.Expired(now) && s.deleteLocked(id) {
			removed++
		}
	}
	return removed
}

// Len returns the number of stored credentials.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
