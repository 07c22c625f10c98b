package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/herohooks/pkg/idempotency"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/platinummonkey/herohooks/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Store backends selectable per component
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	Webhooks  WebhooksConfig
	Inbound   InboundConfig
	RateLimit RateLimitConfig
	Worker    WorkerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps /api/v1 request bodies; 0 disables the cap
	MaxBodyBytes int64

	// TrustedProxies are CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers name the client. Empty trusts nobody.
	TrustedProxies []string

	// Health/metrics server (separate port for k8s health checks)
	HealthPort string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel logrus.Level

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
	OTelEnvironment    string // deployment.environment resource attribute
}

// WebhooksConfig covers outbound emission
type WebhooksConfig struct {
	// RegistryPath is the YAML event registry. Empty means no events are
	// configured and every emission is skipped.
	RegistryPath string
	// DeliveryStore is memory or postgres
	DeliveryStore    string
	MemoryMaxRecords int

	// QueueEnabled routes POST /api/v1/events through the Redis stream
	QueueEnabled bool
	QueueStream  string
	QueueGroup   string

	// QueueConsumer names this worker in the consumer group. Set a stable
	// name (a StatefulSet pod name) so a restart resumes its own pending
	// messages immediately. Empty means hostname-pid.
	QueueConsumer string

	// QueueClaimMinIdle is how long a message may sit unacknowledged on a
	// dead consumer before another worker takes it. 0 means task timeout
	// plus one minute.
	QueueClaimMinIdle  time.Duration
	QueueClaimInterval time.Duration
}

// InboundConfig covers verification of provider webhooks
type InboundConfig struct {
	// Providers lists the enabled providers (github, stripe, generic)
	Providers []string
	Secrets   map[string]string
	// IdempotencyStore is memory, postgres or redis
	IdempotencyStore string
	IdempotencyTTL   time.Duration
	// Tolerance bounds timestamp skew for timestamped schemes
	Tolerance time.Duration
}

// RateLimitConfig covers the inbound rate limiter
type RateLimitConfig struct {
	Enabled bool
	// Store is memory or redis
	Store           string
	Window          time.Duration
	MaxRequests     int
	BurstWindow     time.Duration
	BurstMax        int
	BotMultiplier   float64
	CleanupInterval time.Duration

	// TrustTenantHeader keys limits by X-Tenant-ID. Enable only behind a
	// gateway that sets the header.
	TrustTenantHeader bool
}

// WorkerConfig covers herohooks-worker
type WorkerConfig struct {
	Workers     int
	TaskTimeout time.Duration

	// Cron schedules
	RetentionSchedule          string
	IdempotencyCleanupSchedule string

	// RetentionDays is the age at which delivery records are removed
	RetentionDays int
	// ArchiveEnabled writes records to S3 before removing them
	ArchiveEnabled bool
	ArchivePrefix  string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Webhooks:      loadWebhooksConfig(),
		Inbound:       loadInboundConfig(),
		RateLimit:     loadRateLimitConfig(),
		Worker:        loadWorkerConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HEROHOOKS_HOST", "0.0.0.0"),
		Port:            getEnv("HEROHOOKS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("HEROHOOKS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("HEROHOOKS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("HEROHOOKS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("HEROHOOKS_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("HEROHOOKS_MAX_BODY_BYTES", 1<<20)),
		TrustedProxies:  getEnvList("HEROHOOKS_TRUSTED_PROXIES"),
		HealthPort:      getEnv("HEROHOOKS_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	cfg.PostgresURL = getEnv("HEROHOOKS_POSTGRES_URL", "")
	if maxConns := getEnvInt("HEROHOOKS_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("HEROHOOKS_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("HEROHOOKS_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	cfg.RedisURL = getEnv("HEROHOOKS_REDIS_URL", "")
	cfg.RedisPassword = getEnv("HEROHOOKS_REDIS_PASSWORD", "")
	if redisDB := getEnvInt("HEROHOOKS_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("HEROHOOKS_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("HEROHOOKS_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// S3 config
	cfg.S3Endpoint = getEnv("HEROHOOKS_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("HEROHOOKS_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("HEROHOOKS_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("HEROHOOKS_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("HEROHOOKS_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("HEROHOOKS_S3_USE_PATH_STYLE", false)
	cfg.S3ServerSideEncryption = getEnv("HEROHOOKS_S3_SSE", "")
	cfg.S3CreateBucket = getEnvBool("HEROHOOKS_S3_CREATE_BUCKET", cfg.S3CreateBucket)

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("HEROHOOKS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("HEROHOOKS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("HEROHOOKS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("HEROHOOKS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("HEROHOOKS_OTEL_SERVICE_NAME", "herohooks"),
		OTelServiceVersion: getEnv("HEROHOOKS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("HEROHOOKS_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("HEROHOOKS_OTEL_SAMPLE_RATIO", 1.0),
		OTelEnvironment:    getEnv("HEROHOOKS_OTEL_ENVIRONMENT", ""),
	}
}

func loadWebhooksConfig() WebhooksConfig {
	return WebhooksConfig{
		RegistryPath:     getEnv("HEROHOOKS_WEBHOOK_CONFIG", ""),
		DeliveryStore:    strings.ToLower(getEnv("HEROHOOKS_DELIVERY_STORE", StoreMemory)),
		MemoryMaxRecords: getEnvInt("HEROHOOKS_DELIVERY_MEMORY_MAX_RECORDS", 10000),
		QueueEnabled:     getEnvBool("HEROHOOKS_QUEUE_ENABLED", false),
		QueueStream:      getEnv("HEROHOOKS_QUEUE_STREAM", "herohooks:events"),
		QueueGroup:       getEnv("HEROHOOKS_QUEUE_GROUP", "herohooks-workers"),

		QueueConsumer:      getEnv("HEROHOOKS_QUEUE_CONSUMER", ""),
		QueueClaimMinIdle:  getEnvDuration("HEROHOOKS_QUEUE_CLAIM_MIN_IDLE", 0),
		QueueClaimInterval: getEnvDuration("HEROHOOKS_QUEUE_CLAIM_INTERVAL", 30*time.Second),
	}
}

func loadInboundConfig() InboundConfig {
	providers := getEnvList("HEROHOOKS_INBOUND_PROVIDERS")
	secrets := make(map[string]string, len(providers))
	for _, provider := range providers {
		secrets[provider] = getEnv("HEROHOOKS_"+strings.ToUpper(provider)+"_WEBHOOK_SECRET", "")
	}

	return InboundConfig{
		Providers:        providers,
		Secrets:          secrets,
		IdempotencyStore: strings.ToLower(getEnv("HEROHOOKS_IDEMPOTENCY_STORE", StoreMemory)),
		IdempotencyTTL:   getEnvDuration("HEROHOOKS_IDEMPOTENCY_TTL", idempotency.DefaultTTL),
		Tolerance:        getEnvDuration("HEROHOOKS_SIGNATURE_TOLERANCE", 5*time.Minute),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:         getEnvBool("HEROHOOKS_RATELIMIT_ENABLED", true),
		Store:           strings.ToLower(getEnv("HEROHOOKS_RATELIMIT_STORE", StoreMemory)),
		Window:          getEnvDuration("HEROHOOKS_RATELIMIT_WINDOW", time.Minute),
		MaxRequests:     getEnvInt("HEROHOOKS_RATELIMIT_MAX_REQUESTS", 100),
		BurstWindow:     getEnvDuration("HEROHOOKS_RATELIMIT_BURST_WINDOW", 10*time.Second),
		BurstMax:        getEnvInt("HEROHOOKS_RATELIMIT_BURST_MAX", 20),
		BotMultiplier:   getEnvFloat("HEROHOOKS_RATELIMIT_BOT_MULTIPLIER", 0),
		CleanupInterval: getEnvDuration("HEROHOOKS_RATELIMIT_CLEANUP_INTERVAL", 5*time.Minute),

		TrustTenantHeader: getEnvBool("HEROHOOKS_RATELIMIT_TRUST_TENANT_HEADER", false),
	}
}

func loadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Workers:                    getEnvInt("HEROHOOKS_WORKER_CONCURRENCY", 4),
		TaskTimeout:                getEnvDuration("HEROHOOKS_WORKER_TASK_TIMEOUT", 5*time.Minute),
		RetentionSchedule:          getEnv("HEROHOOKS_RETENTION_SCHEDULE", "0 3 * * *"),
		IdempotencyCleanupSchedule: getEnv("HEROHOOKS_IDEMPOTENCY_CLEANUP_SCHEDULE", "@every 1h"),
		RetentionDays:              getEnvInt("HEROHOOKS_RETENTION_DAYS", 30),
		ArchiveEnabled:             getEnvBool("HEROHOOKS_ARCHIVE_ENABLED", false),
		ArchivePrefix:              getEnv("HEROHOOKS_ARCHIVE_PREFIX", "deliveries"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("invalid trusted proxy %q", proxy)
		}
	}

	// Validate store selection
	if err := checkStore("delivery store", c.Webhooks.DeliveryStore, StoreMemory, StorePostgres); err != nil {
		return err
	}
	if err := checkStore("idempotency store", c.Inbound.IdempotencyStore, StoreMemory, StorePostgres, StoreRedis); err != nil {
		return err
	}
	if err := checkStore("rate limit store", c.RateLimit.Store, StoreMemory, StoreRedis); err != nil {
		return err
	}

	if c.usesPostgres() && c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required when a postgres store is selected")
	}
	if c.usesRedis() && c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required when a redis store or the queue is enabled")
	}

	// Validate inbound providers
	for _, provider := range c.Inbound.Providers {
		switch provider {
		case idempotency.ProviderGitHub, idempotency.ProviderStripe, idempotency.ProviderGeneric:
		default:
			return fmt.Errorf("unknown inbound provider: %s (must be github, stripe, or generic)", provider)
		}
		if c.Inbound.Secrets[provider] == "" {
			return fmt.Errorf("webhook secret is required for enabled provider %s (HEROHOOKS_%s_WEBHOOK_SECRET)",
				provider, strings.ToUpper(provider))
		}
	}

	// Validate rate limits
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window and max requests must be positive")
		}
		if c.RateLimit.BotMultiplier < 0 || c.RateLimit.BotMultiplier > 1 {
			return fmt.Errorf("rate limit bot multiplier must be between 0 and 1")
		}
	}

	// Validate worker config
	if c.Worker.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	// claims must never take a message a live consumer is still delivering
	if c.Webhooks.QueueClaimMinIdle != 0 && c.Webhooks.QueueClaimMinIdle <= c.Worker.TaskTimeout {
		return fmt.Errorf("queue claim min idle must exceed the worker task timeout (%s)", c.Worker.TaskTimeout)
	}
	if c.Worker.ArchiveEnabled && c.Storage.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when archiving is enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

func (c *Config) usesPostgres() bool {
	return c.Webhooks.DeliveryStore == StorePostgres || c.Inbound.IdempotencyStore == StorePostgres
}

func (c *Config) usesRedis() bool {
	return c.Webhooks.QueueEnabled ||
		c.Inbound.IdempotencyStore == StoreRedis ||
		(c.RateLimit.Enabled && c.RateLimit.Store == StoreRedis)
}

func checkStore(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %s (must be %s)", name, value, strings.Join(allowed, ", "))
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func validProxy(entry string) bool {
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, lowercased and trimmed
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
