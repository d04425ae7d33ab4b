package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"passwordless-auth/internal/model"
	"passwordless-auth/internal/service"
	"passwordless-auth/internal/util"
)

// IdentityResolver turns a bearer token into an identity.
type IdentityResolver interface {
	CurrentIdentity(ctx context.Context, token string) (*model.Identity, error)
}

// Authenticate attaches the identity behind a valid bearer token to the
// request context. Requests without a token, or with one that does not
// resolve, continue anonymously; RequireIdentity decides whether that is
// acceptable. Pre-flight requests are never inspected.
func Authenticate(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := BearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := resolver.CurrentIdentity(r.Context(), token)
			switch {
			case err == nil:
				r = r.WithContext(WithIdentity(r.Context(), identity))
			case errors.Is(err, service.ErrUpstreamUnavailable):
				respondWithError(w, http.StatusServiceUnavailable, err, "Service temporarily unavailable")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireIdentity rejects requests that Authenticate left anonymous.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := IdentityFromContext(r.Context()); !ok {
			respondWithError(w, http.StatusUnauthorized, service.ErrInvalidCredential, "Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			respondWithError(w, http.StatusUpgradeRequired, errors.New("plain http request"), "https required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
