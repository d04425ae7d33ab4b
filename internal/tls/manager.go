package tls

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"passwordless-auth/internal/config"
	"passwordless-auth/internal/util"
)

// TLSManager picks the serving certificate: ACME first when enabled, then
// the configured key pair, then a self-signed development certificate.
type TLSManager struct {
	server      config.ServerConfig
	environment string
	autoCert    *autocert.Manager

	mu       sync.Mutex
	fileCert *tls.Certificate
	devCert  *tls.Certificate
}

func NewTLSManager(server config.ServerConfig, environment string) *TLSManager {
	m := &TLSManager{
		server:      server,
		environment: environment,
	}
	if server.AutoCert && server.EnableTLS {
		m.setupAutoCert()
	}
	return m
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.server.AutoCertDir, 0700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.server.Domain),
		Cache:      autocert.DirCache(m.server.AutoCertDir),
		Email:      m.server.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.server.Domain),
		zap.String("cache_dir", m.server.AutoCertDir))
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert certificate unavailable, falling back",
			zap.String("server_name", hello.ServerName), zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server.CertFile != "" && m.server.KeyFile != "" {
		if m.fileCert == nil {
			cert, err := tls.LoadX509KeyPair(m.server.CertFile, m.server.KeyFile)
			if err != nil {
				util.Error("Failed to load TLS key pair", zap.Error(err))
			} else {
				m.fileCert = &cert
			}
		}
		if m.fileCert != nil {
			return m.fileCert, nil
		}
	}

	// self-signed certificates never leave development
	if m.environment == config.EnvProduction {
		return nil, fmt.Errorf("no certificate available for %q", hello.ServerName)
	}
	if m.devCert == nil {
		cert, err := m.generateSelfSignedCert()
		if err != nil {
			return nil, err
		}
		m.devCert = cert
	}
	return m.devCert, nil
}

func (m *TLSManager) generateSelfSignedCert() (*tls.Certificate, error) {
	hosts := []string{m.server.Domain, "localhost", "127.0.0.1", "::1"}

	cert, err := NewDevCertGenerator(m.server.AutoCertDir).GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	util.Info("Using self-signed certificate", zap.Strings("hosts", hosts))
	return &cert, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	cfg := &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
	if m.autoCert != nil {
		cfg.NextProtos = append(cfg.NextProtos, "acme-tls/1")
	}
	return cfg
}

// ChallengeHandler answers ACME http-01 challenges and redirects all other
// plain HTTP traffic to HTTPS. It is nil without AutoCert.
func (m *TLSManager) ChallengeHandler() http.Handler {
	if m.autoCert == nil {
		return nil
	}
	return m.autoCert.HTTPHandler(nil)
}
