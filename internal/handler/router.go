package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"passwordless-auth/internal/config"
	"passwordless-auth/internal/util"
)

// HealthReporter reports the state of each backing dependency. A nil
// error means healthy.
type HealthReporter interface {
	HealthCheck(ctx context.Context) map[string]error
}

type healthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg *config.Config, authHandler *AuthHandler, health HealthReporter, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Enforce HTTPS-only
	if cfg.Server.EnableTLS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "healthy", Service: cfg.App.Name}
		status := http.StatusOK

		if health != nil {
			checks := health.HealthCheck(r.Context())
			if len(checks) > 0 {
				resp.Checks = make(map[string]string, len(checks))
			}
			for name, err := range checks {
				if err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		if status != http.StatusOK {
			util.Warn("Health check failed", util.Any("checks", resp.Checks))
		}
		respondWithJSON(w, status, resp)
	})

	// API routes
	router.Route("/api/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, errors.New(r.URL.Path), "endpoint not found")
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, errors.New(r.Method), "method not allowed")
	})

	return router
}
