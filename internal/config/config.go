// Package config provides configuration management for the ingestion
// pipeline. Values come from a YAML file, environment variables, and
// defaults, loaded through Viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/NightMareKD/crawler-medicine/internal/domain"
	"github.com/NightMareKD/crawler-medicine/internal/retry"
)

// Default configuration values.
const (
	DefaultDBHost          = "localhost"
	DefaultDBPort          = 5432
	DefaultDBUser          = "postgres"
	DefaultDBName          = "ingest"
	DefaultDBSSLMode       = "disable"
	DefaultStorageEndpoint = "localhost:9000"
	DefaultStorageBucket   = "ingest-assets"
	DefaultWorkerCount     = 4
	DefaultClaimRetryDelay = 5 * time.Second
	DefaultFetchTimeout    = 30 * time.Second
	DefaultStaleAfter      = 15 * time.Minute
	DefaultSweepSchedule   = "*/5 * * * *"
	DefaultUserAgent       = "crawler-medicine/1.0"
)

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// StorageConfig holds blob storage settings.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
}

// WorkerConfig holds settings shared by the crawl and OCR worker pools.
type WorkerConfig struct {
	WorkerCount     int           `mapstructure:"worker_count"`
	ClaimRetryDelay time.Duration `mapstructure:"claim_retry_delay"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	SweepSchedule   string        `mapstructure:"sweep_schedule"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
}

// Config represents the full application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Crawl    WorkerConfig   `mapstructure:"crawl"`
	OCR      WorkerConfig   `mapstructure:"ocr"`
}

// Load unmarshals the current Viper state into a validated Config.
// Callers are expected to have set defaults, read the config file, and
// bound environment variables first.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-field constraints the type system cannot express.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port %d out of range", c.Database.Port)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	for name, w := range map[string]*WorkerConfig{"crawl": &c.Crawl, "ocr": &c.OCR} {
		if w.WorkerCount <= 0 {
			return fmt.Errorf("%s.worker_count must be positive", name)
		}
		if w.BackoffBase <= 0 || w.BackoffCap < w.BackoffBase {
			return fmt.Errorf("%s backoff window invalid: base %s cap %s", name, w.BackoffBase, w.BackoffCap)
		}
	}
	return nil
}

// RetryPolicy builds the retry policy for a worker pool section.
func (w *WorkerConfig) RetryPolicy() retry.Policy {
	return retry.NewPolicy(w.BackoffBase, w.BackoffCap)
}

// SetDefaults registers production-safe defaults with Viper.
func SetDefaults() {
	viper.SetDefault("app", map[string]any{
		"name":        "crawler-medicine",
		"version":     "1.0.0",
		"environment": "production",
		"debug":       false,
	})

	viper.SetDefault("logger", map[string]any{
		"level":       "info",
		"encoding":    "json",
		"development": false,
	})

	viper.SetDefault("database", map[string]any{
		"host":    DefaultDBHost,
		"port":    DefaultDBPort,
		"user":    DefaultDBUser,
		"dbname":  DefaultDBName,
		"sslmode": DefaultDBSSLMode,
	})

	viper.SetDefault("storage", map[string]any{
		"endpoint": DefaultStorageEndpoint,
		"bucket":   DefaultStorageBucket,
		"use_ssl":  false,
	})

	workerDefaults := map[string]any{
		"worker_count":      DefaultWorkerCount,
		"claim_retry_delay": DefaultClaimRetryDelay.String(),
		"max_attempts":      domain.DefaultMaxAttempts,
		"backoff_base":      retry.DefaultBase.String(),
		"backoff_cap":       retry.DefaultCap.String(),
		"stale_after":       DefaultStaleAfter.String(),
		"sweep_schedule":    DefaultSweepSchedule,
		"fetch_timeout":     DefaultFetchTimeout.String(),
		"user_agent":        DefaultUserAgent,
	}
	viper.SetDefault("crawl", workerDefaults)
	viper.SetDefault("ocr", workerDefaults)
}

// BindEnvVars maps well-known environment variables to config keys.
func BindEnvVars() error {
	bindings := map[string][]string{
		"app.environment":    {"APP_ENV"},
		"app.debug":          {"APP_DEBUG"},
		"logger.level":       {"LOG_LEVEL"},
		"logger.encoding":    {"LOG_FORMAT"},
		"database.host":      {"POSTGRES_HOST"},
		"database.port":      {"POSTGRES_PORT"},
		"database.user":      {"POSTGRES_USER"},
		"database.password":  {"POSTGRES_PASSWORD"},
		"database.dbname":    {"POSTGRES_DB"},
		"database.sslmode":   {"POSTGRES_SSLMODE"},
		"storage.endpoint":   {"MINIO_ENDPOINT"},
		"storage.access_key": {"MINIO_ACCESS_KEY"},
		"storage.secret_key": {"MINIO_SECRET_KEY"},
		"storage.bucket":     {"MINIO_BUCKET"},
		"storage.use_ssl":    {"MINIO_USE_SSL"},
	}

	for key, envs := range bindings {
		if err := viper.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}
