package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"passwordless-auth/internal/config"
	"passwordless-auth/internal/factory"
	"passwordless-auth/internal/handler"
	"passwordless-auth/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}

	cfg := f.Config()
	router := setupRouter(f)

	serverAddr := cfg.GetServerAddress()
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	servers := []*http.Server{server}
	if cfg.Server.EnableTLS {
		tlsManager := f.TLSManager()
		server.TLSConfig = tlsManager.GetTLSConfig()

		// ACME http-01 challenges and the HTTPS redirect
		if challenge := tlsManager.ChallengeHandler(); challenge != nil {
			servers = append(servers, &http.Server{
				Addr:              cfg.GetServerAddress(),
				Handler:           challenge,
				ReadHeaderTimeout: cfg.Server.ReadTimeout,
			})
		}

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go serve(srv, cfg, errCh)
	}

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, errCh, servers...)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	authService := f.ServiceFactory().AuthService()
	authHandler := handler.NewAuthHandler(authService, util.Get())
	return handler.NewRouter(f.Config(), authHandler, f, util.Get())
}

func serve(srv *http.Server, cfg *config.Config, errCh chan<- error) {
	var err error
	if srv.TLSConfig != nil {
		// certificates come from TLSConfig.GetCertificate
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("server on %s: %w", srv.Addr, err)
	}
}

func waitForShutdown(f *factory.Factory, errCh <-chan error, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	exitCode := 0
	select {
	case sig := <-signalChan:
		util.Info("Received shutdown signal", util.String("signal", sig.String()))
	case err := <-errCh:
		util.Error("Server failed", util.ErrorField(err))
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}

	// in-flight requests are done; drain notifications and audit events
	f.Close()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
