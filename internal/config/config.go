// Package config provides configuration management for the context engine.
// Settings come from three layers: built-in defaults, an optional YAML file,
// and environment variables with the CTXENGINE_ prefix. Environment
// variables always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the context engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Context     ContextConfig     `yaml:"context"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Compression CompressionConfig `yaml:"compression"`
	Backup      BackupConfig      `yaml:"backup"`
	Security    SecurityConfig    `yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 7070)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // Storage engine: sqlite, postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // Directory holding the SQLite database (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // PostgreSQL connection string when engine is postgres
}

// ContextConfig tunes record validity and caching.
type ContextConfig struct {
	RecordTTL time.Duration `yaml:"record_ttl"` // Validity window of regenerated records (default: 24h)
	CacheSize int           `yaml:"cache_size"` // Tier cache entry capacity (default: 4096)
}

// UpstreamConfig points at the collaborator services holding master
// entities, documents, and communications.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url"`        // Collaborator API root, e.g. http://localhost:8080
	TimeoutSeconds int    `yaml:"timeout_seconds"` // Per-request timeout (default: 10)
}

// CompressionConfig selects and tunes the compression capability.
type CompressionConfig struct {
	// ServiceURL points at the remote summarizer. Empty selects the local
	// deterministic heuristic.
	ServiceURL string `yaml:"service_url"`

	// TimeoutSeconds bounds one remote compression call (default: 15).
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxFailures is the consecutive-failure threshold that opens the
	// circuit breaker (default: 3).
	MaxFailures int `yaml:"max_failures"`
}

// BackupConfig schedules snapshots of the context database. Only the sqlite
// engine is snapshotted; an empty Dir disables backups.
type BackupConfig struct {
	Dir      string        `yaml:"dir"`      // Snapshot directory; empty disables backups
	Interval time.Duration `yaml:"interval"` // Time between snapshots (default: 6h)
	Keep     int           `yaml:"keep"`     // Recent snapshots to retain (default: 8)
}

// SecurityConfig contains authentication and rate limiting settings.
type SecurityConfig struct {
	APIToken       string  `yaml:"api_token"`        // Bearer token required on API calls; empty disables auth
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`   // Requests per second per server (default: 50)
	RateLimitBurst int     `yaml:"rate_limit_burst"` // Burst allowance (default: 100)
}

// LoadConfig builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty or the file is absent), then CTXENGINE_
// environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file.
		case err != nil:
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.Storage.Engine != "sqlite" && cfg.Storage.Engine != "postgres" {
		return nil, fmt.Errorf("config: unknown storage engine %q", cfg.Storage.Engine)
	}
	if cfg.Storage.Engine == "postgres" && cfg.Storage.PostgresDSN == "" {
		return nil, fmt.Errorf("config: postgres engine requires a DSN")
	}
	if cfg.Context.RecordTTL <= 0 {
		return nil, fmt.Errorf("config: record_ttl must be positive")
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 7070,
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Context: ContextConfig{
			RecordTTL: 24 * time.Hour,
			CacheSize: 4096,
		},
		Upstream: UpstreamConfig{
			BaseURL:        "http://localhost:8080",
			TimeoutSeconds: 10,
		},
		Compression: CompressionConfig{
			TimeoutSeconds: 15,
			MaxFailures:    3,
		},
		Backup: BackupConfig{
			Interval: 6 * time.Hour,
			Keep:     8,
		},
		Security: SecurityConfig{
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("CTXENGINE_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("CTXENGINE_HOST", cfg.Server.Host)

	cfg.Storage.Engine = getEnv("CTXENGINE_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("CTXENGINE_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("CTXENGINE_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Context.RecordTTL = getEnvDuration("CTXENGINE_RECORD_TTL", cfg.Context.RecordTTL)
	cfg.Context.CacheSize = getEnvInt("CTXENGINE_CACHE_SIZE", cfg.Context.CacheSize)

	cfg.Upstream.BaseURL = getEnv("CTXENGINE_UPSTREAM_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.TimeoutSeconds = getEnvInt("CTXENGINE_UPSTREAM_TIMEOUT", cfg.Upstream.TimeoutSeconds)

	cfg.Compression.ServiceURL = getEnv("CTXENGINE_COMPRESSION_URL", cfg.Compression.ServiceURL)
	cfg.Compression.TimeoutSeconds = getEnvInt("CTXENGINE_COMPRESSION_TIMEOUT", cfg.Compression.TimeoutSeconds)
	cfg.Compression.MaxFailures = getEnvInt("CTXENGINE_COMPRESSION_MAX_FAILURES", cfg.Compression.MaxFailures)

	cfg.Backup.Dir = getEnv("CTXENGINE_BACKUP_DIR", cfg.Backup.Dir)
	cfg.Backup.Interval = getEnvDuration("CTXENGINE_BACKUP_INTERVAL", cfg.Backup.Interval)
	cfg.Backup.Keep = getEnvInt("CTXENGINE_BACKUP_KEEP", cfg.Backup.Keep)

	cfg.Security.APIToken = getEnv("CTXENGINE_API_TOKEN", cfg.Security.APIToken)
	cfg.Security.RateLimitRPS = getEnvFloat("CTXENGINE_RATE_LIMIT_RPS", cfg.Security.RateLimitRPS)
	cfg.Security.RateLimitBurst = getEnvInt("CTXENGINE_RATE_LIMIT_BURST", cfg.Security.RateLimitBurst)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the variable exists but cannot be parsed, it returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("24h", "90m")
// or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
