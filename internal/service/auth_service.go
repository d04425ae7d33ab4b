package service

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"

	"passwordless-auth/internal/audit"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/notify"
	"passwordless-auth/internal/ratelimit"
	"passwordless-auth/internal/util"
)

// LoginResult is what a successful verification hands back: the raw
// session token, shown once, and the identity it belongs to.
type LoginResult struct {
	Token    string
	Identity model.Identity
}

// AuthService is the boundary the HTTP layer talks to. It normalises
// subjects, applies the rate limit, collapses verification failures into
// ErrInvalidCredential and records audit events.
type AuthService struct {
	limiter     ratelimit.Limiter
	issuer      *OtpIssuer
	verifier    *CredentialVerifier
	sessions    *SessionManager
	dispatcher  Dispatcher
	recorder    audit.Recorder
	clock       model.Clock
	frontendURL string
	timeout     time.Duration
}

func NewAuthService(
	limiter ratelimit.Limiter,
	issuer *OtpIssuer,
	verifier *CredentialVerifier,
	sessions *SessionManager,
	dispatcher Dispatcher,
	recorder audit.Recorder,
	clock model.Clock,
	frontendURL string,
	timeout time.Duration,
) *AuthService {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &AuthService{
		limiter:     limiter,
		issuer:      issuer,
		verifier:    verifier,
		sessions:    sessions,
		dispatcher:  dispatcher,
		recorder:    recorder,
		clock:       clock,
		frontendURL: frontendURL,
		timeout:     timeout,
	}
}

func (s *AuthService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// record masks the subject the same way log lines do; identity ids are
// the join key for audit queries.
func (s *AuthService) record(t audit.EventType, subjectKey, identityID, reason string) {
	if subjectKey != "" {
		subjectKey = util.MaskEmail(subjectKey)
	}
	s.recorder.Record(audit.Event{
		Type:       t,
		SubjectKey: subjectKey,
		IdentityID: identityID,
		Reason:     reason,
		OccurredAt: s.clock.Now(),
	})
}

func subjectFrom(email string) (string, error) {
	key := util.NormalizeSubjectKey(email)
	if !util.IsValidEmail(key) {
		return "", ErrInvalidInput
	}
	return key, nil
}

func (s *AuthService) allow(ctx context.Context, key string) error {
	decision := s.limiter.TryConsume(ctx, key)
	if decision.Allowed {
		return nil
	}
	s.record(audit.EventOTPRateLimited, key, "", decision.RetryAfter.String())
	util.Info("Credential issuance rate limited", util.Subject(key), zap.Duration("retry_after", decision.RetryAfter))
	return &RateLimitedError{RetryAfter: decision.RetryAfter}
}

// RequestOTP issues a login code to email, subject to the rate limit.
func (s *AuthService) RequestOTP(ctx context.Context, email string) error {
	key, err := subjectFrom(email)
	if err != nil {
		return err
	}
	if err := s.allow(ctx, key); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.issuer.Issue(ctx, key); err != nil {
		return err
	}
	s.record(audit.EventOTPRequested, key, "", "")
	return nil
}

// VerifyOTP exchanges a correct, current code for a session.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) (*LoginResult, error) {
	key, err := subjectFrom(email)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	identity, err := s.verifier.VerifyOTP(ctx, key, code)
	if err != nil {
		return nil, s.reject(audit.EventOTPRejected, key, err)
	}

	result, err := s.login(ctx, identity)
	if err != nil {
		return nil, err
	}
	s.record(audit.EventOTPVerified, key, identity.ID, "")
	return result, nil
}

// IssueMagicLink returns an opaque single-use login token for email
// without delivering it. It is meant for callers that build their own
// mail, so it is not rate limited.
func (s *AuthService) IssueMagicLink(ctx context.Context, email string) (string, error) {
	key, err := subjectFrom(email)
	if err != nil {
		return "", err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	token, err := s.issuer.IssueMagicLink(ctx, key)
	if err != nil {
		return "", err
	}
	s.record(audit.EventMagicLinkIssued, key, "", "")
	return token, nil
}

// SendMagicLink issues a magic link and queues it for delivery. It shares
// the rate limit with RequestOTP.
func (s *AuthService) SendMagicLink(ctx context.Context, email string) error {
	key, err := subjectFrom(email)
	if err != nil {
		return err
	}
	if err := s.allow(ctx, key); err != nil {
		return err
	}

	token, err := s.IssueMagicLink(ctx, key)
	if err != nil {
		return err
	}

	msg, err := notify.MagicLinkMessage(s.MagicLinkURL(token), s.issuer.MagicLinkTTL())
	if err != nil {
		util.Error("Failed to render magic link message", zap.Error(err))
		return nil
	}
	if !s.dispatcher.Dispatch(key, msg) {
		util.Warn("Magic link persisted but not queued for delivery")
	}
	return nil
}

// MagicLinkURL is the frontend page that posts the token back.
func (s *AuthService) MagicLinkURL(token string) string {
	return s.frontendURL + "/magic-login?token=" + url.QueryEscape(token)
}

// VerifyMagicLink exchanges a magic-link token for a session. The link is
// consumed even if it was the only one outstanding.
func (s *AuthService) VerifyMagicLink(ctx context.Context, token string) (*LoginResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	identity, err := s.verifier.VerifyMagicLink(ctx, token)
	if err != nil {
		return nil, s.reject(audit.EventMagicLinkRejected, "", err)
	}

	result, err := s.login(ctx, identity)
	if err != nil {
		return nil, err
	}
	s.record(audit.EventMagicLinkVerified, identity.Key, identity.ID, "")
	return result, nil
}

// Logout revokes the session; unknown tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.sessions.RevokeSession(ctx, token); err != nil {
		return err
	}
	s.record(audit.EventSessionRevoked, "", "", "")
	return nil
}

// CurrentIdentity resolves a bearer token. Unknown tokens yield
// ErrInvalidCredential.
func (s *AuthService) CurrentIdentity(ctx context.Context, token string) (*model.Identity, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	identity, err := s.sessions.ResolveSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, ErrInvalidCredential
	}
	return identity, nil
}

func (s *AuthService) login(ctx context.Context, identity *model.Identity) (*LoginResult, error) {
	token, err := s.sessions.CreateSession(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, Identity: *identity}, nil
}

// reject keeps the detailed reason in logs and audit only; callers see
// ErrInvalidCredential unless the store itself failed.
func (s *AuthService) reject(t audit.EventType, key string, err error) error {
	if errors.Is(err, ErrUpstreamUnavailable) {
		util.Error("Verification could not complete", zap.Error(err))
		return err
	}
	reason := "invalid"
	if isVerificationFailure(err) {
		reason = err.Error()
	}
	util.Debug("Verification rejected", util.Subject(key), zap.String("reason", reason))
	s.record(t, key, "", reason)
	return ErrInvalidCredential
}
