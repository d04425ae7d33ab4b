package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"passwordless-auth/internal/hashing"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/notify"
	"passwordless-auth/internal/util"
)

const magicSecretBytes = 32

var otpSpace = big.NewInt(1_000_000)

// Dispatcher queues a message for background delivery and reports
// whether it was accepted.
type Dispatcher interface {
	Dispatch(address string, msg model.Message) bool
}

// OtpIssuer creates one-time credentials. Persistence is synchronous;
// delivery is handed to the dispatcher and never waited on.
type OtpIssuer struct {
	store        model.CredentialStore
	hasher       *hashing.SecretHasher
	dispatcher   Dispatcher
	clock        model.Clock
	otpTTL       time.Duration
	magicLinkTTL time.Duration
}

func NewOtpIssuer(
	store model.CredentialStore,
	hasher *hashing.SecretHasher,
	dispatcher Dispatcher,
	clock model.Clock,
	otpTTL, magicLinkTTL time.Duration,
) *OtpIssuer {
	if otpTTL <= 0 {
		otpTTL = model.PurposeLoginOTP.DefaultTTL()
	}
	if magicLinkTTL <= 0 {
		magicLinkTTL = model.PurposeMagicLink.DefaultTTL()
	}
	return &OtpIssuer{
		store:        store,
		hasher:       hasher,
		dispatcher:   dispatcher,
		clock:        clock,
		otpTTL:       otpTTL,
		magicLinkTTL: magicLinkTTL,
	}
}

// Issue stores a fresh login code for the subject and queues it for
// delivery. Earlier codes are left in place; verification only honours
// the latest. Delivery problems are logged, never returned.
func (i *OtpIssuer) Issue(ctx context.Context, subjectKey string) error {
	code, err := generateCode()
	if err != nil {
		return err
	}

	cred, err := i.persist(ctx, subjectKey, model.PurposeLoginOTP, code, i.otpTTL)
	if err != nil {
		return err
	}

	msg, err := notify.OTPMessage(code, i.otpTTL)
	if err != nil {
		util.Error("Failed to render OTP message", zap.String("credential_id", cred.ID), zap.Error(err))
		return nil
	}
	if !i.dispatcher.Dispatch(subjectKey, msg) {
		util.Warn("OTP persisted but not queued for delivery", zap.String("credential_id", cred.ID))
	}
	return nil
}

// IssueMagicLink stores a magic-link credential and returns the opaque
// token. Delivery is the caller's concern.
func (i *OtpIssuer) IssueMagicLink(ctx context.Context, subjectKey string) (string, error) {
	secret, err := hashing.RandomToken(magicSecretBytes)
	if err != nil {
		return "", err
	}

	cred, err := i.persist(ctx, subjectKey, model.PurposeMagicLink, secret, i.magicLinkTTL)
	if err != nil {
		return "", err
	}
	return EncodeMagicToken(cred.ID, secret), nil
}

// MagicLinkTTL is how long issued magic links stay valid.
func (i *OtpIssuer) MagicLinkTTL() time.Duration {
	return i.magicLinkTTL
}

func (i *OtpIssuer) persist(ctx context.Context, subjectKey string, purpose model.Purpose, secret string, ttl time.Duration) (*model.OneTimeCredential, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate credential id: %w", err)
	}

	hash, err := i.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	now := i.clock.Now()
	cred := &model.OneTimeCredential{
		ID:         id.String(),
		SubjectKey: subjectKey,
		SecretHash: hash.String(),
		Purpose:    purpose,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := i.store.SaveCredential(ctx, cred); err != nil {
		util.Error("Failed to persist credential",
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return nil, upstream("save credential", err)
	}

	util.Info("Credential issued",
		zap.String("credential_id", cred.ID),
		zap.String("purpose", string(purpose)),
		zap.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}

// generateCode returns a uniformly random six digit code, zero padded.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
