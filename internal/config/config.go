// Package config loads the immutable configuration bundle passed to every
// run. Values come from environment variables with an optional YAML file
// overlay, file values taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig configures a Postgres connection pool.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN returns the libpq connection string for this config.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

func (c *DatabaseConfig) loadFromEnv(prefix string) {
	if v := os.Getenv(prefix + "_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv(prefix + "_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv(prefix + "_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv(prefix + "_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv(prefix + "_SSLMODE"); v != "" {
		c.SSLMode = v
	}
}

// ClickHouseConfig configures the analytical mart connection.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

func (c *ClickHouseConfig) loadFromEnv(prefix string) {
	if v := os.Getenv(prefix + "_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv(prefix + "_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv(prefix + "_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
		c.Password = v
	}
}

// RedisConfig configures the client used for the single-instance lock and
// the bulk-invalidation stream.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c *RedisConfig) loadFromEnv(prefix string) {
	if v := os.Getenv(prefix + "_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv(prefix + "_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DB = n
		}
	}
}

// InvalidatorConfig configures the Cache Invalidator (spec §4.5, §6).
type InvalidatorConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Parallelism    int    `yaml:"parallelism"`
	BulkThreshold  int    `yaml:"bulk_threshold"`
	Timeout        time.Duration `yaml:"timeout"`
	BulkStreamName string `yaml:"bulk_stream_name"`
}

// RetryConfig configures task-level retry/backoff (spec §4.6).
type RetryConfig struct {
	Attempts      int           `yaml:"attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// SourceMode selects between the live CRM database and the CDC replica.
type SourceMode string

const (
	SourceModeDirect  SourceMode = "direct"
	SourceModeReplica SourceMode = "replica"
)

// Config is the full, immutable configuration bundle for one run of the
// pipeline. It is built once at process start and never mutated afterward.
type Config struct {
	CRM        DatabaseConfig
	Telemetry  DatabaseConfig
	Mart       ClickHouseConfig
	Redis      RedisConfig
	Invalidator InvalidatorConfig
	Retry      RetryConfig

	SchedulePeriod time.Duration
	LookbackWindow time.Duration
	BatchSize      int
	RetentionDays  int
	SourceMode     SourceMode

	// RunTimeout is the whole-run ceiling (spec §5).
	RunTimeout time.Duration

	Log struct {
		Level  string
		Format string
	}

	AdminAddr string
}

// Load builds the configuration from environment variables, then applies an
// optional YAML overlay named by the CONFIG_FILE env var.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.CRM = DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "postgres", Database: "crm", SSLMode: "disable", MaxConns: 4, MaxIdle: 4}
	cfg.Telemetry = DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "postgres", Database: "telemetry", SSLMode: "disable", MaxConns: 4, MaxIdle: 4}
	cfg.CRM.loadFromEnv("CRM_DB")
	cfg.Telemetry.loadFromEnv("TELEMETRY_DB")

	cfg.Mart = ClickHouseConfig{Addr: "localhost:9000", Database: "reports", User: "default"}
	cfg.Mart.loadFromEnv("MART")

	cfg.Redis = RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.loadFromEnv("REDIS")

	cfg.Invalidator = InvalidatorConfig{
		Endpoint:       getEnv("INVALIDATOR_ENDPOINT", "http://reports-service:8001/api/reports/internal/invalidate"),
		Parallelism:    getEnvInt("INVALIDATOR_PARALLELISM", 8),
		BulkThreshold:  getEnvInt("INVALIDATOR_BULK_THRESHOLD", 1000),
		Timeout:        getEnvDuration("INVALIDATOR_TIMEOUT", 5*time.Second),
		BulkStreamName: getEnv("INVALIDATOR_BULK_STREAM", "cache:invalidate:bulk"),
	}

	cfg.Retry = RetryConfig{
		Attempts:       getEnvInt("RETRY_ATTEMPTS", 3),
		BackoffInitial: getEnvDuration("RETRY_BACKOFF_INITIAL", 5*time.Minute),
		BackoffFactor:  1,
	}

	cfg.SchedulePeriod = getEnvDuration("SCHEDULE_PERIOD", 15*time.Minute)
	cfg.LookbackWindow = getEnvDuration("LOOKBACK_WINDOW", 2*time.Hour)
	cfg.BatchSize = getEnvInt("BATCH_SIZE", 10000)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 365)
	cfg.SourceMode = SourceMode(getEnv("SOURCE_MODE", string(SourceModeDirect)))
	cfg.RunTimeout = getEnvDuration("RUN_TIMEOUT", 30*time.Minute)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.AdminAddr = getEnv("ADMIN_ADDR", ":8090")

	if err := cfg.applyFileOverlay(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFileOverlay merges a YAML config file over the env-derived defaults
// when CONFIG_FILE is set. Missing keys in the file leave the env value in
// place because the struct is decoded on top of itself.
func (c *Config) applyFileOverlay() error {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	crm, telemetry, mart, rds, inv := c.CRM, c.Telemetry, c.Mart, c.Redis, c.Invalidator
	overlay := struct {
		CRM         *DatabaseConfig    `yaml:"crm"`
		Telemetry   *DatabaseConfig    `yaml:"telemetry"`
		Mart        *ClickHouseConfig  `yaml:"mart"`
		Redis       *RedisConfig       `yaml:"redis"`
		Invalidator *InvalidatorConfig `yaml:"invalidator"`
	}{&crm, &telemetry, &mart, &rds, &inv}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if overlay.CRM != nil {
		c.CRM = *overlay.CRM
	}
	if overlay.Telemetry != nil {
		c.Telemetry = *overlay.Telemetry
	}
	if overlay.Mart != nil {
		c.Mart = *overlay.Mart
	}
	if overlay.Redis != nil {
		c.Redis = *overlay.Redis
	}
	if overlay.Invalidator != nil {
		c.Invalidator = *overlay.Invalidator
	}
	return nil
}

// validate checks that the lookback window is at least the scheduling
// period, so every closed hour is re-extracted by a later run. No upstream
// aggregation delay is configured, so the extra margin that delay needs on
// top of the scheduling period is not checked.
func (c *Config) validate() error {
	if c.LookbackWindow < c.SchedulePeriod {
		return fmt.Errorf("lookback_window (%s) must be >= schedule_period (%s) plus upstream aggregation delay", c.LookbackWindow, c.SchedulePeriod)
	}
	if c.SourceMode != SourceModeDirect && c.SourceMode != SourceModeReplica {
		return fmt.Errorf("invalid source.mode %q, want %q or %q", c.SourceMode, SourceModeDirect, SourceModeReplica)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
