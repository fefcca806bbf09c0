package domain

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Config holds the complete Mulewatch configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Analysis   AnalysisConfig   `json:"analysis"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// AllowedOrigins lists the browser origins allowed by CORS. "*" allows any
	// origin without credentials; empty disables cross-origin access.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// AnalysisConfig holds batch intake and pipeline settings.
type AnalysisConfig struct {
	// MaxBatchSize caps the number of records in one upload.
	MaxBatchSize int `json:"maxBatchSize"`

	// MaxUploadBytes caps the request body of an upload.
	MaxUploadBytes int64 `json:"maxUploadBytes"`

	// UploadsPerMinute is the per-tenant upload quota (0 disables it).
	UploadsPerMinute int `json:"uploadsPerMinute"`

	// AsyncWorker analyzes uploaded batches in the background and publishes results.
	AsyncWorker bool `json:"asyncWorker"`

	// WorkerTenants restricts the async worker to these tenants (empty = global).
	WorkerTenants []string `json:"workerTenants,omitempty"`

	// RulesFile replaces the built-in rule table with a JSON rule file.
	RulesFile string `json:"rulesFile,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"` // OTLP gRPC endpoint
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./mulewatch.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize:  1000,
			LocalMaxBytes: 256 << 20,
			LocalTTL:      5 * time.Minute,
			BatchTTL:      2 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Analysis: AnalysisConfig{
			MaxBatchSize:     50000,
			MaxUploadBytes:   32 << 20,
			UploadsPerMinute: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "mulewatch",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "mulewatch",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalMaxBytes:  64 << 20,
		LocalTTL:       5 * time.Minute,
		BatchTTL:       2 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueue:         "mulewatch-workers",
	}
	cfg.Analysis.AsyncWorker = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "localhost:4317"
	return cfg
}

// LoadConfig builds the configuration from the environment.
// A .env file in the working directory is loaded first when present.
// MULEWATCH_TIER=pro selects ProConfig as the base.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if os.Getenv("MULEWATCH_TIER") == string(TierPro) {
		cfg = ProConfig()
	}
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overrides cfg with MULEWATCH_* environment variables.
func ApplyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("MULEWATCH_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("MULEWATCH_PORT", cfg.Server.Port)
	if origins := os.Getenv("MULEWATCH_CORS_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.Repository.Driver = getEnv("MULEWATCH_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.PostgresURL = getEnv("MULEWATCH_DATABASE_URL", cfg.Repository.PostgresURL)
	cfg.Repository.SQLitePath = getEnv("MULEWATCH_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("MULEWATCH_PG_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("MULEWATCH_PG_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("MULEWATCH_PG_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("MULEWATCH_PG_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("MULEWATCH_PG_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("MULEWATCH_PG_SSLMODE", cfg.Repository.PostgresSSLMode)

	cfg.Cache.Type = getEnv("MULEWATCH_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("MULEWATCH_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("MULEWATCH_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.LocalMaxSize = getEnvInt("MULEWATCH_CACHE_MAX_ENTRIES", cfg.Cache.LocalMaxSize)
	cfg.Cache.LocalMaxBytes = getEnvBytes("MULEWATCH_CACHE_MAX_BYTES", cfg.Cache.LocalMaxBytes)

	cfg.EventBus.Type = getEnv("MULEWATCH_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("MULEWATCH_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("MULEWATCH_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.NATSQueue = getEnv("MULEWATCH_NATS_QUEUE", cfg.EventBus.NATSQueue)

	cfg.Analysis.MaxBatchSize = getEnvInt("MULEWATCH_MAX_BATCH_SIZE", cfg.Analysis.MaxBatchSize)
	cfg.Analysis.UploadsPerMinute = getEnvInt("MULEWATCH_UPLOADS_PER_MINUTE", cfg.Analysis.UploadsPerMinute)
	cfg.Analysis.AsyncWorker = getEnvBool("MULEWATCH_ASYNC_WORKER", cfg.Analysis.AsyncWorker)
	cfg.Analysis.RulesFile = getEnv("MULEWATCH_RULES_FILE", cfg.Analysis.RulesFile)
	if tenants := os.Getenv("MULEWATCH_TENANTS"); tenants != "" {
		cfg.Analysis.WorkerTenants = splitList(tenants)
	}

	cfg.Logging.Level = getEnv("MULEWATCH_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("MULEWATCH_LOG_FORMAT", cfg.Logging.Format)
	if getEnvBool("MULEWATCH_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}

	cfg.Tracing.Enabled = getEnvBool("MULEWATCH_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBytes accepts sizes such as "64MB" or "1 GiB".
func getEnvBytes(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := humanize.ParseBytes(value); err == nil && n <= math.MaxInt64 {
			return int64(n)
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
