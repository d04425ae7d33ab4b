package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"passwordless-auth/internal/config"
	"passwordless-auth/internal/util"
)

const (
	clickhouseNativePort    = "9000"
	clickhouseNativeTLSPort = "9440"
)

// ClickHouseClient holds the native-protocol connection the audit sink
// writes event batches through.
type ClickHouseClient struct {
	conn   driver.Conn
	config config.ClickhouseConfig
}

// NewClickHouseClient opens and pings a connection. TLS is used in
// production and for secure URL schemes.
func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	opts, err := clickhouseOptions(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("ClickHouse client initialized",
		zap.Strings("addr", opts.Addr),
		zap.String("database", cfg.Clickhouse.Database),
		zap.String("audit_table", cfg.Clickhouse.Table),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)
	return &ClickHouseClient{conn: conn, config: cfg.Clickhouse}, nil
}

func clickhouseOptions(cfg *config.Config) (*ch.Options, error) {
	chConfig := cfg.Clickhouse

	secure := cfg.IsProduction() || isSecureScheme(chConfig.URL)
	addr, host, err := clickhouseAddr(chConfig.URL, secure)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		// audit batches are small and bursty
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     4,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
		Compression:      &ch.Compression{Method: ch.CompressionLZ4},
	}

	if secure {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		if caFile := util.GetEnv("CLICKHOUSE_CA_FILE", ""); caFile != "" {
			pem, err := os.ReadFile(caFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, errors.New("no certificates found in ClickHouse CA file")
			}
			tlsConfig.RootCAs = pool
		}
		opts.TLS = tlsConfig
	}
	return opts, nil
}

func isSecureScheme(raw string) bool {
	return strings.HasPrefix(raw, "clickhouses://") || strings.HasPrefix(raw, "tcps://")
}

// clickhouseAddr accepts "host", "host:port" or a URL and returns the
// native-protocol address and the bare host.
func clickhouseAddr(raw string, secure bool) (addr, host string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", errors.New("clickhouse address is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "clickhouse://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", "", fmt.Errorf("invalid clickhouse address %q", raw)
	}

	port := u.Port()
	if port == "" {
		port = clickhouseNativePort
		if secure {
			port = clickhouseNativeTLSPort
		}
	}
	return net.JoinHostPort(u.Hostname(), port), u.Hostname(), nil
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

// BatchInsert sends all rows as one block. A row that fails to append
// aborts the whole batch.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i, row := range data {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row %d to batch: %w", i, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch of %d rows: %w", len(data), err)
	}
	return nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}
	return nil
}
