package service

import (
	"sync"

	"go.uber.org/zap"

	"passwordless-auth/internal/audit"
	"passwordless-auth/internal/config"
	"passwordless-auth/internal/hashing"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/ratelimit"
)

// Dependencies are the stores and transports the services are built on.
type Dependencies struct {
	Credentials  model.CredentialStore
	Sessions     model.SessionStore
	Identities   model.IdentityDirectory
	Limiter      ratelimit.Limiter
	SecretHasher *hashing.SecretHasher
	TokenHasher  *hashing.TokenHasher
	Dispatcher   Dispatcher
	Recorder     audit.Recorder
	Clock        model.Clock
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg    *config.Config
	deps   Dependencies
	logger *zap.Logger

	once        sync.Once
	authService *AuthService
}

func NewServiceFactory(cfg *config.Config, deps Dependencies, logger *zap.Logger) *ServiceFactory {
	if deps.Clock == nil {
		deps.Clock = model.SystemClock{}
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.Nop{}
	}
	return &ServiceFactory{cfg: cfg, deps: deps, logger: logger}
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	f.once.Do(func() {
		d := f.deps
		auth := f.cfg.Auth

		issuer := NewOtpIssuer(d.Credentials, d.SecretHasher, d.Dispatcher, d.Clock, auth.OTPTTL, auth.MagicLinkTTL)
		verifier := NewCredentialVerifier(d.Credentials, d.SecretHasher, d.Identities, d.Clock)
		sessions := NewSessionManager(d.Sessions, d.TokenHasher, d.Clock, auth.SessionTokenBytes)

		f.authService = NewAuthService(
			d.Limiter, issuer, verifier, sessions, d.Dispatcher, d.Recorder, d.Clock,
			f.cfg.App.FrontendURL, auth.StoreTimeout,
		)
		f.logger.Info("Auth service initialized",
			zap.Duration("otp_ttl", issuer.otpTTL),
			zap.Duration("magic_link_ttl", issuer.magicLinkTTL))
	})
	return f.authService
}
