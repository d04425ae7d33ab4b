package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"passwordless-auth/internal/model"
	"passwordless-auth/internal/service"
	"passwordless-auth/internal/util"
)

const maxBodyBytes = 1 << 16

// AuthService is the part of service.AuthService the handlers call.
type AuthService interface {
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*service.LoginResult, error)
	SendMagicLink(ctx context.Context, email string) error
	VerifyMagicLink(ctx context.Context, token string) (*service.LoginResult, error)
	Logout(ctx context.Context, token string) error
	CurrentIdentity(ctx context.Context, token string) (*model.Identity, error)
}

// AuthHandler handles HTTP requests for the passwordless login flows
type AuthHandler struct {
	authService AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

type EmailRequest struct {
	Email string `json:"email"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type MagicLoginRequest struct {
	Token string `json:"token"`
}

// LoginData is returned once per successful login; the token is not
// retrievable again.
type LoginData struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type IdentityData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Use(Authenticate(h.authService))

		// Public routes
		r.Post("/otp", h.RequestOTP)
		r.Post("/otp/verify", h.VerifyOTP)
		r.Post("/magic-link", h.SendMagicLink)
		r.Post("/magic-login", h.MagicLogin)
		r.Post("/logout", h.Logout)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(RequireIdentity)
			r.Get("/me", h.Me)
		})
	})
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// RequestOTP handles login code requests
// @Summary Request a login code
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Email"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Router /auth/otp [post]
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req EmailRequest
	if err := decode(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("missing email"), "Email is required")
		return
	}

	if err := h.authService.RequestOTP(r.Context(), req.Email); err != nil {
		respondWithServiceError(w, err, "Invalid email address")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "OTP sent successfully"))
	h.logger.Debug("OTP requested via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RequestOTP"),
	)
}

// VerifyOTP handles login code submission
// @Summary Exchange a login code for a session token
// @Accept json
// @Produce json
// @Param request body VerifyOTPRequest true "Email and code"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Router /auth/otp/verify [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req VerifyOTPRequest
	if err := decode(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("missing email or otp"), "Email and OTP are required")
		return
	}

	result, err := h.authService.VerifyOTP(r.Context(), req.Email, strings.TrimSpace(req.OTP))
	if err != nil {
		respondWithServiceError(w, err, "Invalid or expired OTP")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(LoginData{
		Email: result.Identity.Key,
		Token: result.Token,
	}, "Login successful"))
	h.logger.Info("OTP login via HTTP",
		util.String("identity_id", result.Identity.ID),
		util.Duration("duration", time.Since(startTime)),
	)
}

// SendMagicLink handles magic link requests
// @Summary Email a single-use login link
// @Router /auth/magic-link [post]
func (h *AuthHandler) SendMagicLink(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decode(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("missing email"), "Email is required")
		return
	}

	if err := h.authService.SendMagicLink(r.Context(), req.Email); err != nil {
		respondWithServiceError(w, err, "Invalid email address")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Magic link sent successfully"))
}

// MagicLogin handles magic link submission
// @Summary Exchange a magic link token for a session token
// @Router /auth/magic-login [post]
func (h *AuthHandler) MagicLogin(w http.ResponseWriter, r *http.Request) {
	var req MagicLoginRequest
	if err := decode(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		respondWithError(w, http.StatusBadRequest, errors.New("missing token"), "Token is required")
		return
	}

	result, err := h.authService.VerifyMagicLink(r.Context(), req.Token)
	if err != nil {
		respondWithServiceError(w, err, "Invalid or expired magic link")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(LoginData{
		Email: result.Identity.Key,
		Token: result.Token,
	}, "Login successful"))
	h.logger.Info("Magic link login via HTTP", util.String("identity_id", result.Identity.ID))
}

// Logout revokes the bearer token's session
// @Summary Revoke the current session
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := BearerToken(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, errors.New("missing bearer token"), "Missing or invalid Authorization header")
		return
	}

	if err := h.authService.Logout(r.Context(), token); err != nil {
		respondWithServiceError(w, err, "Invalid token")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out successfully"))
}

// Me returns the authenticated identity
// @Summary Current identity
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	respondWithJSON(w, http.StatusOK, successResponse(IdentityData{
		ID:    identity.ID,
		Email: identity.Key,
	}, ""))
}
