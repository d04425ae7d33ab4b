package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"passwordless-auth/internal/config"
	"passwordless-auth/internal/util"
)

const opTimeout = 5 * time.Second

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func newCluster(cfg *config.Config, keyspace string) *gocql.ClusterConfig {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.LocalQuorum
	// lightweight transactions serialise within the local datacenter
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = opTimeout
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        time.Second,
		NumRetries: 2,
	}

	if scyllaConfig.TLS {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/root/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/root/certs/server.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/root/certs/server.key"),
			EnableHostVerification: cfg.IsProduction(),
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}
	return cluster
}

// NewScyllaClient opens a session on the configured keyspace. With
// AutoMigrate set, the keyspace and tables are created first.
func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	if scyllaConfig.AutoMigrate {
		if err := ensureKeyspace(cfg); err != nil {
			return nil, err
		}
	}

	session, err := newCluster(cfg, scyllaConfig.Keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if scyllaConfig.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.EnsureSchema(ctx); err != nil {
			session.Close()
			return nil, err
		}
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace),
		zap.Bool("auto_migrate", scyllaConfig.AutoMigrate))

	return client, nil
}

func ensureKeyspace(cfg *config.Config) error {
	session, err := newCluster(cfg, "").CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create scylla bootstrap session: %w", err)
	}
	defer session.Close()

	replication := "{'class': 'NetworkTopologyStrategy', 'replication_factor': 3}"
	if cfg.IsDevelopment() {
		replication = "{'class': 'SimpleStrategy', 'replication_factor': 1}"
	}
	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = %s`, cfg.Scylla.Keyspace, replication)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", cfg.Scylla.Keyspace, err)
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) Batch(ctx context.Context, typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ).WithContext(ctx)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry is for idempotent writes only; never pass it a
// conditional (IF ...) statement.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	return retry(query.Context(), maxRetries+1, query.Exec)
}

// ScanWithRetry returns gocql.ErrNotFound unchanged and without retrying.
func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	return retry(query.Context(), scanAttempts, func() error {
		return query.Scan(dest...)
	})
}

const (
	scanAttempts = 3
	retryBackoff = 100 * time.Millisecond
)

// retry runs op up to attempts times with a linear backoff, stopping early
// on success, on a terminal error or when ctx is done.
func retry(ctx context.Context, attempts int, op func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(i+1) * retryBackoff):
		}
	}
	return err
}

func retryable(err error) bool {
	return !errors.Is(err, gocql.ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
