package service

import (
	"context"

	"go.uber.org/zap"

	"passwordless-auth/internal/hashing"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

// CredentialVerifier checks presented secrets against stored credentials
// and resolves the identity they log in as. Failures are reported as
// ErrNotFound, ErrExpired, ErrSecretMismatch or ErrMalformed; store
// failures as ErrUpstreamUnavailable.
type CredentialVerifier struct {
	store      model.CredentialStore
	hasher     *hashing.SecretHasher
	identities model.IdentityDirectory
	clock      model.Clock
}

func NewCredentialVerifier(
	store model.CredentialStore,
	hasher *hashing.SecretHasher,
	identities model.IdentityDirectory,
	clock model.Clock,
) *CredentialVerifier {
	return &CredentialVerifier{
		store:      store,
		hasher:     hasher,
		identities: identities,
		clock:      clock,
	}
}

// VerifyOTP accepts only the latest code issued to the subject. On success
// every outstanding login code for the subject is removed.
func (v *CredentialVerifier) VerifyOTP(ctx context.Context, subjectKey, code string) (*model.Identity, error) {
	cred, err := v.store.FindLatestBySubject(ctx, subjectKey, model.PurposeLoginOTP)
	if err != nil {
		return nil, upstream("find credential", err)
	}
	if cred == nil {
		return nil, ErrNotFound
	}

	if err := v.check(cred, code); err != nil {
		return nil, err
	}
	if err := v.claim(ctx, cred); err != nil {
		return nil, err
	}

	identity, err := v.resolveIdentity(ctx, subjectKey)
	if err != nil {
		return nil, err
	}

	if err := v.store.DeleteBySubject(ctx, subjectKey, model.PurposeLoginOTP); err != nil {
		// the verified code is already gone; leftovers are older and expire on their own
		util.Warn("Failed to clean up login codes", zap.String("identity_id", identity.ID), zap.Error(err))
	}
	return identity, nil
}

// VerifyMagicLink consumes exactly the credential the token names.
// Other links issued to the same subject stay valid.
func (v *CredentialVerifier) VerifyMagicLink(ctx context.Context, token string) (*model.Identity, error) {
	id, secret, err := DecodeMagicToken(token)
	if err != nil {
		return nil, err
	}

	cred, err := v.store.FindCredentialByID(ctx, id)
	if err != nil {
		return nil, upstream("find credential", err)
	}
	if cred == nil || cred.Purpose != model.PurposeMagicLink {
		return nil, ErrNotFound
	}

	if err := v.check(cred, secret); err != nil {
		return nil, err
	}
	if err := v.claim(ctx, cred); err != nil {
		return nil, err
	}
	return v.resolveIdentity(ctx, cred.SubjectKey)
}

// check evaluates both the secret and the expiry before deciding.
func (v *CredentialVerifier) check(cred *model.OneTimeCredential, secret string) error {
	matches := v.hasher.Verify(secret, cred.SecretHash)
	expired := cred.Expired(v.clock.Now())

	switch {
	case !matches:
		return ErrSecretMismatch
	case expired:
		return ErrExpired
	}
	return nil
}

// claim deletes the credential; when a concurrent verifier removed it
// first, this attempt loses.
func (v *CredentialVerifier) claim(ctx context.Context, cred *model.OneTimeCredential) error {
	ok, err := v.store.DeleteCredential(ctx, cred.ID)
	if err != nil {
		return upstream("consume credential", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (v *CredentialVerifier) resolveIdentity(ctx context.Context, key string) (*model.Identity, error) {
	identity, err := v.identities.FindByKey(ctx, key)
	if err != nil {
		return nil, upstream("find identity", err)
	}
	if identity != nil {
		return identity, nil
	}

	identity, err = v.identities.Create(ctx, key)
	if err != nil {
		return nil, upstream("create identity", err)
	}
	return identity, nil
}
