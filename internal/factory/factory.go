package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"passwordless-auth/internal/audit"
	"passwordless-auth/internal/client"
	"passwordless-auth/internal/config"
	"passwordless-auth/internal/encryption"
	"passwordless-auth/internal/hashing"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/notify"
	"passwordless-auth/internal/ratelimit"
	"passwordless-auth/internal/repository/memory"
	redisrepo "passwordless-auth/internal/repository/redis"
	"passwordless-auth/internal/repository/scylla"
	"passwordless-auth/internal/service"
	"passwordless-auth/internal/tls"
	"passwordless-auth/internal/util"
)

const (
	initTimeout         = 30 * time.Second
	credentialPurgeTick = time.Minute
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	clock      model.Clock
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Stores
	credentials model.CredentialStore
	sessions    model.SessionStore
	identities  model.IdentityDirectory
	memoryCreds *memory.CredentialStore

	// Managers
	pepperManager *encryption.PepperManager
	secretHasher  *hashing.SecretHasher
	tokenHasher   *hashing.TokenHasher
	limiter       ratelimit.Limiter
	memoryLimiter *ratelimit.MemoryLimiter
	dispatcher    *notify.Dispatcher
	auditPipeline *audit.Pipeline

	serviceFactory *service.ServiceFactory

	background sync.WaitGroup
	closeOnce  sync.Once
	closed     chan struct{}
}

// NewFactory loads configuration and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return NewFactoryWithConfig(cfg)
}

// NewFactoryWithConfig builds the dependency graph for an already loaded
// configuration. On error everything opened so far is closed.
func NewFactoryWithConfig(cfg *config.Config) (*Factory, error) {
	f := &Factory{
		config: cfg,
		clock:  model.SystemClock{},
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(cfg.Server, cfg.Environment)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"clients", f.initializeClients},
		{"stores", f.initializeStores},
		{"managers", f.initializeManagers},
		{"notifier", f.initializeNotifier},
		{"audit", f.initializeAudit},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("storage_backend", cfg.Storage.Backend),
		util.String("rate_limit_backend", cfg.RateLimit.Backend),
		util.String("notifier", cfg.Notify.Backend),
		util.Strings("audit_sinks", cfg.Audit.Sinks),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)
	return f, nil
}

func (f *Factory) needsRedis() bool {
	return f.config.Storage.Backend == config.BackendRedis || f.config.RateLimit.Backend == config.BackendRedis
}

// initializeClients opens only the clients the configured backends use.
// Storage clients are required; audit clients are required in production.
func (f *Factory) initializeClients(ctx context.Context) error {
	cfg := f.config
	logger := util.Get()

	if f.needsRedis() {
		c, err := client.NewRedisClient(cfg, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = c
	}

	if cfg.Storage.Backend == config.BackendScylla {
		c, err := scylla.NewScyllaClient(cfg, logger)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = c
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("scylla health check: %w", err)
		}
	}

	if cfg.Notify.Backend == config.NotifierKafka {
		if producer, err := client.NewKafkaProducer(cfg, logger); err != nil {
			util.Warn("Kafka producer initialization failed - falling back to log notifier", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	var auditErrors []error
	if cfg.AuditEnabled(config.SinkElasticsearch) {
		if c, err := client.NewElasticsearchClient(cfg, logger); err != nil {
			auditErrors = append(auditErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = c
		}
	}
	if cfg.AuditEnabled(config.SinkClickHouse) {
		if c, err := client.NewClickHouseClient(cfg, logger); err != nil {
			auditErrors = append(auditErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
		}
	}
	if len(auditErrors) > 0 {
		if cfg.IsProduction() {
			return errors.Join(auditErrors...)
		}
		for _, err := range auditErrors {
			util.Warn("Audit sink unavailable", util.ErrorField(err))
		}
	}
	return nil
}

func (f *Factory) initializeStores(_ context.Context) error {
	switch f.config.Storage.Backend {
	case config.BackendRedis:
		f.credentials = redisrepo.NewCredentialCache(f.redisClient)
		f.sessions = redisrepo.NewSessionCache(f.redisClient)
		f.identities = redisrepo.NewIdentityCache(f.redisClient, f.clock)
	case config.BackendScylla:
		f.credentials = scylla.NewCredentialRepository(f.scyllaClient)
		f.sessions = scylla.NewSessionRepository(f.scyllaClient)
		f.identities = scylla.NewIdentityRepository(f.scyllaClient, f.clock)
	default:
		f.memoryCreds = memory.NewCredentialStore()
		f.credentials = f.memoryCreds
		f.sessions = memory.NewSessionStore()
		f.identities = memory.NewIdentityDirectory(f.clock)
		f.startCredentialPurge()
	}
	return nil
}

// startCredentialPurge drops expired in-memory credentials; the redis and
// scylla stores expire them with TTLs.
func (f *Factory) startCredentialPurge() {
	f.background.Add(1)
	go func() {
		defer f.background.Done()
		ticker := time.NewTicker(credentialPurgeTick)
		defer ticker.Stop()
		for {
			select {
			case <-f.closed:
				return
			case <-ticker.C:
				if n := f.memoryCreds.PurgeExpired(f.clock.Now()); n > 0 {
					util.Debug("Purged expired credentials", util.Int("count", n))
				}
			}
		}
	}()
}

// initializeManagers resolves the pepper and builds the hashers and the
// rate limiter.
func (f *Factory) initializeManagers(ctx context.Context) error {
	cfg := f.config

	var decrypter encryption.Decrypter
	if cfg.KMS.Enabled {
		kmsClient, err := encryption.NewKMSClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("kms: %w", err)
		}
		decrypter = kmsClient
	}
	f.pepperManager = encryption.NewPepperManager(cfg, decrypter)

	pepper, err := f.pepperManager.Pepper(ctx)
	if err != nil {
		return fmt.Errorf("pepper: %w", err)
	}
	f.secretHasher = hashing.NewSecretHasher(hashing.ParamsFromConfig(cfg.Hashing), pepper)
	f.tokenHasher = hashing.NewTokenHasher(pepper)

	windows, err := ratelimit.ParseWindows(cfg.RateLimit.Windows)
	if err != nil {
		return err
	}
	if cfg.RateLimit.Backend == config.BackendRedis {
		f.limiter = redisrepo.NewRateLimitCache(f.redisClient, windows, f.clock)
	} else {
		f.memoryLimiter = ratelimit.NewMemoryLimiter(windows,
			ratelimit.WithClock(f.clock),
			ratelimit.WithIdleTTL(cfg.RateLimit.IdleTTL),
			ratelimit.WithJanitorInterval(cfg.RateLimit.JanitorInterval),
			ratelimit.WithShards(cfg.RateLimit.Shards),
		)
		f.memoryLimiter.Start()
		f.limiter = f.memoryLimiter
	}

	util.Info("Managers initialized successfully",
		util.Bool("pepper_configured", len(pepper) > 0),
		util.Int("rate_limit_windows", len(windows)),
	)
	return nil
}

func (f *Factory) initializeNotifier(_ context.Context) error {
	cfg := f.config.Notify

	var notifier model.Notifier = notify.NewLogNotifier()
	if f.kafkaProducer != nil {
		notifier = notify.NewKafkaNotifier(f.kafkaProducer, f.config.Kafka.NotificationTopic, f.clock)
	}
	f.dispatcher = notify.NewDispatcher(notifier, cfg.Workers, cfg.QueueSize, cfg.DeliveryTimeout)
	return nil
}

func (f *Factory) initializeAudit(ctx context.Context) error {
	var sinks []audit.Sink

	if f.clickhouseClient != nil {
		sink := audit.NewClickHouseSink(f.clickhouseClient, f.config.Clickhouse.Table)
		if err := sink.EnsureTable(ctx); err != nil {
			if f.config.IsProduction() {
				return fmt.Errorf("clickhouse audit table: %w", err)
			}
			util.Warn("ClickHouse audit table unavailable", util.ErrorField(err))
		} else {
			sinks = append(sinks, sink)
		}
	}
	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticsearchSink(f.esClient, f.config.Elasticsearch.Index))
	}

	if len(sinks) == 0 {
		return nil
	}
	a := f.config.Audit
	f.auditPipeline = audit.NewPipeline(sinks, a.BufferSize, a.BatchSize, a.FlushInterval)
	return nil
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var recorder audit.Recorder = audit.Nop{}
		if f.auditPipeline != nil {
			recorder = f.auditPipeline
		}
		f.serviceFactory = service.NewServiceFactory(f.config, service.Dependencies{
			Credentials:  f.credentials,
			Sessions:     f.sessions,
			Identities:   f.identities,
			Limiter:      f.limiter,
			SecretHasher: f.secretHasher,
			TokenHasher:  f.tokenHasher,
			Dispatcher:   f.dispatcher,
			Recorder:     recorder,
			Clock:        f.clock,
		}, util.Get())
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes every opened client concurrently. A nil value means
// the dependency is healthy.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu      sync.Mutex
		results = make(map[string]error)
	)
	g, ctx := errgroup.WithContext(ctx)

	check := func(name string, probe func(context.Context) error) {
		g.Go(func() error {
			err := probe(ctx)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			return nil
		})
	}

	if f.redisClient != nil {
		check("redis", f.redisClient.HealthCheck)
	}
	if f.scyllaClient != nil {
		check("scylla", f.scyllaClient.HealthCheck)
	}
	if f.kafkaProducer != nil {
		check("kafka", f.kafkaProducer.HealthCheck)
	}
	if f.esClient != nil {
		check("elasticsearch", f.esClient.HealthCheck)
	}
	if f.clickhouseClient != nil {
		check("clickhouse", f.clickhouseClient.HealthCheck)
	}

	_ = g.Wait()
	return results
}

// IsHealthy ignores kafka, which only delays delivery.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	for name, err := range f.HealthCheck(ctx) {
		if err != nil && name != "kafka" {
			return false
		}
	}
	return true
}

// Close drains queued notifications and audit events before closing the
// clients they write to.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.dispatcher != nil {
			if err := f.dispatcher.Close(); err != nil {
				util.Error("Failed to drain notification dispatcher", util.ErrorField(err))
			} else {
				util.Info("Notification dispatcher drained")
			}
		}

		if f.auditPipeline != nil {
			if err := f.auditPipeline.Close(); err != nil {
				util.Error("Failed to flush audit pipeline", util.ErrorField(err))
			} else {
				util.Info("Audit pipeline flushed")
			}
		}

		if f.memoryLimiter != nil {
			f.memoryLimiter.Close()
		}
		f.background.Wait()

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})
	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}
