package model

import (
	"context"
	"time"
)

// -------------------- CREDENTIAL PURPOSE --------------------

// Purpose tags a OneTimeCredential as an OTP code or a magic-link secret.
type Purpose string

const (
	PurposeLoginOTP  Purpose = "LOGIN_OTP"
	PurposeMagicLink Purpose = "MAGIC_LINK"
)

const (
	DefaultOTPTTL       = 5 * time.Minute
	DefaultMagicLinkTTL = time.Hour
)

func (p Purpose) Valid() bool {
	return p == PurposeLoginOTP || p == PurposeMagicLink
}

// DefaultTTL is the lifetime a credential of this purpose gets at issuance.
func (p Purpose) DefaultTTL() time.Duration {
	if p == PurposeMagicLink {
		return DefaultMagicLinkTTL
	}
	return DefaultOTPTTL
}

// -------------------- IDENTITY MODEL --------------------

// Identity is the user record owned by the surrounding application.
// Key is the normalised email it is looked up by.
type Identity struct {
	ID        string    `json:"id" db:"identity_id"`
	Key       string    `json:"key" db:"subject_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// -------------------- ONE-TIME CREDENTIAL MODEL --------------------

// OneTimeCredential is an issued OTP code or magic-link secret. Only the
// salted hash of the secret is ever stored.
type OneTimeCredential struct {
	ID         string    `json:"id" db:"credential_id"`
	SubjectKey string    `json:"subject_key" db:"subject_key"`
	SecretHash string    `json:"-" db:"secret_hash"` // salt:digest
	Purpose    Purpose   `json:"purpose" db:"purpose"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the credential is past its expiry at now.
// A credential is still valid at exactly ExpiresAt.
func (c *OneTimeCredential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// -------------------- SESSION MODEL --------------------

// Session binds a hashed bearer token to the identity that logged in.
// The identity is stored alongside so that resolving a token is one lookup.
type Session struct {
	ID        string    `json:"id" db:"session_id"`
	TokenHash string    `json:"-" db:"token_hash"`
	Identity  Identity  `json:"identity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// -------------------- NOTIFICATION MODEL --------------------

// Message is a rendered notification ready for a transport.
type Message struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// -------------------- REPOSITORY INTERFACES --------------------
//
// Lookups return (nil, nil) when nothing matches; an error always means
// the backing store could not answer.

// CredentialStore persists OTP and magic-link credentials.
type CredentialStore interface {
	SaveCredential(ctx context.Context, cred *OneTimeCredential) error
	// FindLatestBySubject returns the most recently issued credential for
	// the subject and purpose, whether or not it has expired.
	FindLatestBySubject(ctx context.Context, subjectKey string, purpose Purpose) (*OneTimeCredential, error)
	FindCredentialByID(ctx context.Context, id string) (*OneTimeCredential, error)
	DeleteBySubject(ctx context.Context, subjectKey string, purpose Purpose) error
	// DeleteCredential reports whether this call removed the credential,
	// which lets concurrent verifiers agree on a single winner.
	DeleteCredential(ctx context.Context, id string) (bool, error)
}

// SessionStore persists sessions keyed by token hash.
type SessionStore interface {
	SaveSession(ctx context.Context, session *Session) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
}

// IdentityDirectory is the application's user lookup and creation.
type IdentityDirectory interface {
	FindByKey(ctx context.Context, key string) (*Identity, error)
	// Create returns the existing identity if one was created concurrently.
	Create(ctx context.Context, key string) (*Identity, error)
}

// Notifier hands a message to a delivery transport.
type Notifier interface {
	Deliver(ctx context.Context, address string, msg Message) error
}

// -------------------- CLOCK --------------------

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
