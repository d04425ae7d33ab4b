package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendScylla = "scylla"

	NotifierLog   = "log"
	NotifierKafka = "kafka"

	SinkClickHouse    = "clickhouse"
	SinkElasticsearch = "elasticsearch"
)

var (
	cfg     *Config
	cfgOnce sync.Once
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Storage       StorageConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Hashing       HashingConfig
	KMS           KMSConfig
	RateLimit     RateLimitConfig
	Auth          AuthConfig
	Notify        NotifyConfig
	Audit         AuditConfig
	App           AppConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// StorageConfig selects where credentials, sessions and identities live.
type StorageConfig struct {
	Backend string
}

type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

type ScyllaConfig struct {
	Nodes       []string
	Keyspace    string
	Username    string
	Password    string
	TLS         bool
	AutoMigrate bool
}

type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	Table    string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Pepper is mixed into every secret hash. PepperCiphertext, when set,
	// is a base64 KMS ciphertext and takes precedence.
	Pepper           string
	PepperCiphertext string
}

type KMSConfig struct {
	Enabled bool
	Region  string
	KeyID   string
}

type RateLimitConfig struct {
	Backend         string
	Windows         string
	IdleTTL         time.Duration
	JanitorInterval time.Duration
	Shards          int
}

type AuthConfig struct {
	OTPTTL            time.Duration
	MagicLinkTTL      time.Duration
	SessionTokenBytes int
	StoreTimeout      time.Duration
}

type NotifyConfig struct {
	Backend         string
	Workers         int
	QueueSize       int
	DeliveryTimeout time.Duration
}

type AuditConfig struct {
	Sinks         []string
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

type AppConfig struct {
	Name        string
	FrontendURL string
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	c := &Config{
		Environment: getEnv("APP_ENV", EnvDevelopment),
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			TLSPort:        getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:      getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       getEnvBool("SERVER_AUTO_CERT", false),
			Domain:         getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       getEnv("SERVER_CERT_FILE", ""),
			KeyFile:        getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    getEnv("SERVER_AUTO_CERT_DIR", "./certs"),
			Email:          getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", BackendMemory),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 20),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "pwless:"),
		},
		Scylla: ScyllaConfig{
			Nodes:       getEnvList("SCYLLA_HOSTS", []string{"127.0.0.1"}),
			Keyspace:    getEnv("SCYLLA_KEYSPACE", "passwordless_auth"),
			Username:    getEnv("SCYLLA_USERNAME", ""),
			Password:    getEnv("SCYLLA_PASSWORD", ""),
			TLS:         getEnvBool("SCYLLA_TLS", false),
			AutoMigrate: getEnvBool("SCYLLA_AUTO_MIGRATE", true),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			NotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", "auth.notifications"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "default"),
			Table:    getEnv("CLICKHOUSE_AUDIT_TABLE", "auth_events"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_AUDIT_INDEX", "auth-events"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_KIB", 19*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 2),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 1),
			Pepper:            getEnv("HASH_PEPPER", ""),
			PepperCiphertext:  getEnv("HASH_PEPPER_CIPHERTEXT", ""),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			Region:  getEnv("AWS_REGION", "us-east-1"),
			KeyID:   getEnv("KMS_KEY_ID", ""),
		},
		RateLimit: RateLimitConfig{
			Backend:         getEnv("RATE_LIMIT_BACKEND", BackendMemory),
			Windows:         getEnv("RATE_LIMIT_WINDOWS", "5/1m,20/1h,50/24h"),
			IdleTTL:         getEnvDuration("RATE_LIMIT_IDLE_TTL", time.Hour),
			JanitorInterval: getEnvDuration("RATE_LIMIT_JANITOR_INTERVAL", 5*time.Minute),
			Shards:          getEnvInt("RATE_LIMIT_SHARDS", 64),
		},
		Auth: AuthConfig{
			OTPTTL:            getEnvDuration("OTP_TTL", 5*time.Minute),
			MagicLinkTTL:      getEnvDuration("MAGIC_LINK_TTL", time.Hour),
			SessionTokenBytes: getEnvInt("SESSION_TOKEN_BYTES", 32),
			StoreTimeout:      getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		},
		Notify: NotifyConfig{
			Backend:         getEnv("NOTIFIER", NotifierLog),
			Workers:         getEnvInt("NOTIFY_WORKERS", 4),
			QueueSize:       getEnvInt("NOTIFY_QUEUE_SIZE", 1024),
			DeliveryTimeout: getEnvDuration("NOTIFY_DELIVERY_TIMEOUT", 10*time.Second),
		},
		Audit: AuditConfig{
			Sinks:         getEnvList("AUDIT_SINKS", nil),
			BufferSize:    getEnvInt("AUDIT_BUFFER_SIZE", 4096),
			BatchSize:     getEnvInt("AUDIT_BATCH_SIZE", 200),
			FlushInterval: getEnvDuration("AUDIT_FLUSH_INTERVAL", 2*time.Second),
		},
		App: AppConfig{
			Name:        getEnv("APP_NAME", "passwordless-auth"),
			FrontendURL: strings.TrimRight(getEnv("APP_FRONTEND_URL", "http://localhost:3000"), "/"),
		},
	}

	cfgOnce.Do(func() { cfg = c })
	return c
}

// Get returns the first configuration loaded in this process.
func Get() *Config {
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// AuditEnabled reports whether the named audit sink is configured.
func (c *Config) AuditEnabled(sink string) bool {
	for _, s := range c.Audit.Sinks {
		if s == sink {
			return true
		}
	}
	return false
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendMemory, BackendRedis, BackendScylla:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	switch c.RateLimit.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimit.Backend))
	}
	switch c.Notify.Backend {
	case NotifierLog, NotifierKafka:
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFIER %q", c.Notify.Backend))
	}
	for _, s := range c.Audit.Sinks {
		if s != SinkClickHouse && s != SinkElasticsearch {
			errs = append(errs, fmt.Errorf("unknown audit sink %q", s))
		}
	}

	if c.Auth.OTPTTL <= 0 || c.Auth.MagicLinkTTL <= 0 {
		errs = append(errs, errors.New("credential lifetimes must be positive"))
	}
	if c.Auth.SessionTokenBytes < 16 {
		errs = append(errs, errors.New("SESSION_TOKEN_BYTES must be at least 16"))
	}
	if c.RateLimit.Shards <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_SHARDS must be positive"))
	}
	if c.Notify.Workers <= 0 || c.Notify.QueueSize <= 0 {
		errs = append(errs, errors.New("notifier workers and queue size must be positive"))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}
	if c.IsProduction() && c.Hashing.Pepper == "" && c.Hashing.PepperCiphertext == "" {
		errs = append(errs, errors.New("a hash pepper is required in production"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
