// Package config provides configuration management for the document processing service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the document processing service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Temporal contains Temporal workflow orchestration settings.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Storage contains blob store settings for uploaded documents.
	Storage StorageConfig `mapstructure:"storage"`
	// Kafka contains lifecycle-event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Pipeline contains document pipeline thresholds and stage settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Engine contains vision-LLM engine client settings.
	Engine EngineConfig `mapstructure:"engine"`
	// Claims contains claims system API client settings.
	Claims ClaimsConfig `mapstructure:"claims"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 50).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 10).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// TemporalConfig holds Temporal workflow configuration.
type TemporalConfig struct {
	// HostPort is the Temporal server address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue name for document processing workflows.
	TaskQueue string `mapstructure:"task_queue"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// StorageConfig holds blob store settings for uploaded documents.
type StorageConfig struct {
	// Bucket is the GCS bucket holding uploaded documents.
	Bucket string `mapstructure:"bucket"`
	// KeyPrefix is prepended to every object key (default: "documents").
	KeyPrefix string `mapstructure:"key_prefix"`
	// MaxUploadBytes is the maximum accepted upload size (default: 25MiB).
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	// OperationTimeout bounds individual blob store calls.
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	// CredentialsJSON is an optional service account key for the blob store
	// (loaded from DOCPROC_STORAGE_CREDENTIALS_JSON, env only). When empty,
	// Application Default Credentials are used.
	CredentialsJSON string `mapstructure:"-"`
}

// KafkaConfig holds lifecycle-event publisher settings.
type KafkaConfig struct {
	// Enabled controls whether event publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic lifecycle events are published to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// WriteTimeout bounds a single publish call.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PipelineConfig holds document pipeline thresholds and stage settings.
type PipelineConfig struct {
	// AutoApproveThreshold is the aggregate confidence at or above which an
	// extracted document completes without human review (default: 0.90).
	AutoApproveThreshold float64 `mapstructure:"auto_approve_threshold"`
	// ReviewThreshold is the aggregate confidence at or above which an
	// extracted document is queued for human review (default: 0.60).
	// Below it the document fails.
	ReviewThreshold float64 `mapstructure:"review_threshold"`
	// StageMaxAttempts is the per-stage attempt budget (default: 3, i.e.
	// two retries after the first attempt).
	StageMaxAttempts int `mapstructure:"stage_max_attempts"`
	// PreprocessTimeout bounds the preprocessing activity.
	PreprocessTimeout time.Duration `mapstructure:"preprocess_timeout"`
	// ClassifyTimeout bounds the classification activity.
	ClassifyTimeout time.Duration `mapstructure:"classify_timeout"`
	// ExtractTimeout bounds the extraction activity.
	ExtractTimeout time.Duration `mapstructure:"extract_timeout"`
	// ValidationTimeout bounds each validation activity.
	ValidationTimeout time.Duration `mapstructure:"validation_timeout"`
}

// EngineConfig holds vision-LLM engine client settings. Per-engine
// credentials and model choices live in the database; this covers the
// client-side behavior shared by all adapters.
type EngineConfig struct {
	// DefaultTimeout applies when an engine row has no timeout of its own.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// HealthCheckTimeout bounds routed-selection health probes.
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
	// RateLimitRPS is the per-adapter requests per second limit.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	// RateLimitBurst is the burst size for the per-adapter rate limiter.
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
	// BreakerConsecutiveFailures is the consecutive failure count that
	// opens an engine's circuit breaker.
	BreakerConsecutiveFailures uint32 `mapstructure:"breaker_consecutive_failures"`
	// BreakerCooldown is how long an open breaker waits before probing.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	// PromptDir is an optional directory of prompt overrides. Files named
	// classify.txt / extract.txt override the bundled defaults globally;
	// <doctype_code>/extract.txt overrides per document type.
	PromptDir string `mapstructure:"prompt_dir"`
	// FallbackAPIKey is used when an engine row carries no credential
	// (loaded from DOCPROC_ENGINE_FALLBACK_API_KEY, env only).
	FallbackAPIKey string `mapstructure:"-"`
}

// ClaimsConfig holds claims system API client settings. Validations and
// registry proposals resolve beneficiaries, CHFIDs and approvals through
// this API.
type ClaimsConfig struct {
	// BaseURL is the claims system API root.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the sustained requests per second against the API.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the rate limiter burst.
	BurstSize int `mapstructure:"burst_size"`
	// APIKey authenticates requests (loaded from DOCPROC_CLAIMS_API_KEY,
	// env only).
	APIKey string `mapstructure:"-"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("DOCPROC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/document-processing-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Engine.FallbackAPIKey = os.Getenv("DOCPROC_ENGINE_FALLBACK_API_KEY")
	cfg.Storage.CredentialsJSON = os.Getenv("DOCPROC_STORAGE_CREDENTIALS_JSON")
	cfg.Claims.APIKey = os.Getenv("DOCPROC_CLAIMS_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "docproc")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "document_processing_service")
	// Default to "require" for production security. Use DOCPROC_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Temporal defaults
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "document-processing")
	v.SetDefault("temporal.task_queue", "document-processing-tasks")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Storage defaults
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.key_prefix", "documents")
	v.SetDefault("storage.max_upload_bytes", 25*1024*1024)
	v.SetDefault("storage.operation_timeout", "30s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.document_processing_service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.write_timeout", "5s")

	// Pipeline defaults
	v.SetDefault("pipeline.auto_approve_threshold", 0.90)
	v.SetDefault("pipeline.review_threshold", 0.60)
	v.SetDefault("pipeline.stage_max_attempts", 3)
	v.SetDefault("pipeline.preprocess_timeout", "2m")
	v.SetDefault("pipeline.classify_timeout", "3m")
	v.SetDefault("pipeline.extract_timeout", "5m")
	v.SetDefault("pipeline.validation_timeout", "2m")

	// Engine defaults
	v.SetDefault("engine.default_timeout", "60s")
	v.SetDefault("engine.health_check_timeout", "5s")
	v.SetDefault("engine.rate_limit_rps", 5.0)
	v.SetDefault("engine.rate_limit_burst", 10)
	v.SetDefault("engine.breaker_consecutive_failures", 5)
	v.SetDefault("engine.breaker_cooldown", "30s")
	v.SetDefault("engine.prompt_dir", "")

	// Claims defaults
	v.SetDefault("claims.base_url", "")
	v.SetDefault("claims.timeout", "30s")
	v.SetDefault("claims.rate_limit", 10.0)
	v.SetDefault("claims.burst_size", 10)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate storage config
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage max_upload_bytes must be positive")
	}

	// Validate pipeline thresholds
	if c.Pipeline.AutoApproveThreshold < 0 || c.Pipeline.AutoApproveThreshold > 1 {
		return fmt.Errorf("pipeline auto_approve_threshold must be between 0 and 1")
	}
	if c.Pipeline.ReviewThreshold < 0 || c.Pipeline.ReviewThreshold > 1 {
		return fmt.Errorf("pipeline review_threshold must be between 0 and 1")
	}
	if c.Pipeline.ReviewThreshold > c.Pipeline.AutoApproveThreshold {
		return fmt.Errorf("pipeline review_threshold (%v) must be <= auto_approve_threshold (%v)",
			c.Pipeline.ReviewThreshold, c.Pipeline.AutoApproveThreshold)
	}
	if c.Pipeline.StageMaxAttempts <= 0 {
		return fmt.Errorf("pipeline stage_max_attempts must be positive")
	}

	// Validate engine config
	if c.Engine.RateLimitRPS <= 0 {
		return fmt.Errorf("engine rate_limit_rps must be positive")
	}
	if c.Engine.RateLimitBurst <= 0 {
		return fmt.Errorf("engine rate_limit_burst must be positive")
	}

	// Validate Kafka config
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	return nil
}
