// Package config defines the top-level configuration for the matrix engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MATRIXNET_* environment variables.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Matrix     MatrixConfig     `toml:"matrix"`
	Settlement SettlementConfig `toml:"settlement"`
	Wallet     WalletConfig     `toml:"wallet"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	LogFile    string           `toml:"log_file"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "postgres" or "memory". The memory driver keeps everything
	// in-process and is meant for local runs.
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr runs without
// Redis: locks, bus and cache fall back to in-process implementations.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MatrixConfig tunes placement.
type MatrixConfig struct {
	MaxClaimRetries   int      `toml:"max_claim_retries"`
	RetryBackoff      duration `toml:"retry_backoff"`
	AllocationLockTTL duration `toml:"allocation_lock_ttl"`
	BoardCacheTTL     duration `toml:"board_cache_ttl"`
	ReplayInterval    duration `toml:"replay_interval"`
	ReplayBatch       int      `toml:"replay_batch"`
}

// SettlementConfig tunes the ledger settlement worker.
type SettlementConfig struct {
	Interval    duration `toml:"interval"`
	BatchSize   int      `toml:"batch_size"`
	Concurrency int      `toml:"concurrency"`
}

// WalletConfig holds the external wallet endpoint and API credentials. The
// secret may be given inline or as an encrypted file sealed with
// `matrixctl encrypt-secret`.
type WalletConfig struct {
	BaseURL             string   `toml:"base_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Timeout             duration `toml:"timeout"`
	RequestsPerSec      float64  `toml:"requests_per_sec"`
	Burst               int      `toml:"burst"`
}

// ArchiveConfig schedules cold-storage export.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKeys guard the mutating endpoints; empty disables auth.
	APIKeys []string `toml:"api_keys"`
	// PlacementsPerMinute caps purchases per client IP; 0 disables the cap.
	PlacementsPerMinute int `toml:"placements_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	PerMinute         int      `toml:"per_minute"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "matrixnet",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "matrixnet",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "matrixnet-archive",
			ForcePathStyle: true,
		},
		Matrix: MatrixConfig{
			MaxClaimRetries:   5,
			RetryBackoff:      duration{10 * time.Millisecond},
			AllocationLockTTL: duration{5 * time.Second},
			BoardCacheTTL:     duration{time.Minute},
			ReplayInterval:    duration{time.Minute},
			ReplayBatch:       100,
		},
		Settlement: SettlementConfig{
			Interval:    duration{10 * time.Second},
			BatchSize:   100,
			Concurrency: 4,
		},
		Wallet: WalletConfig{
			Timeout:        duration{15 * time.Second},
			RequestsPerSec: 20,
			Burst:          5,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:             true,
			Port:                8000,
			CORSOrigins:         []string{"http://localhost:3000", "http://localhost:5173"},
			PlacementsPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events:    []string{"instance_cycled", "payout_failed"},
			PerMinute: 30,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"settle":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether the configured mode runs the settlement worker.
func (c *Config) NeedsWallet() bool {
	m := strings.ToLower(c.Mode)
	return m == "settle" || (m == "full" && c.Wallet.BaseURL != "")
}

// NeedsArchive reports whether the configured mode runs the archive cron.
func (c *Config) NeedsArchive() bool {
	m := strings.ToLower(c.Mode)
	return m == "archive" || (m == "full" && c.Archive.Cron != "")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, settle, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		if c.NeedsArchive() {
			errs = append(errs, "storage: the memory driver cannot be archived; use postgres for mode "+c.Mode)
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Matrix
	if c.Matrix.MaxClaimRetries < 1 {
		errs = append(errs, "matrix: max_claim_retries must be >= 1")
	}
	if c.Matrix.AllocationLockTTL.Duration <= 0 {
		errs = append(errs, "matrix: allocation_lock_ttl must be > 0")
	}

	// Wallet and settlement
	if c.NeedsWallet() {
		if c.Wallet.BaseURL == "" {
			errs = append(errs, "wallet: base_url is required for mode "+c.Mode)
		}
		if c.Wallet.APIKey == "" {
			errs = append(errs, "wallet: api_key is required for mode "+c.Mode)
		}
		if c.Wallet.APISecret == "" && c.Wallet.EncryptedSecretPath == "" {
			errs = append(errs, "wallet: either api_secret or encrypted_secret_path must be set")
		}
		if c.Wallet.EncryptedSecretPath != "" && c.Wallet.SecretPassword == "" {
			errs = append(errs, "wallet: secret_password is required when encrypted_secret_path is set")
		}
		if c.Settlement.BatchSize < 1 {
			errs = append(errs, "settlement: batch_size must be >= 1")
		}
		if c.Settlement.Interval.Duration <= 0 {
			errs = append(errs, "settlement: interval must be > 0")
		}
	}

	// Archive
	if c.NeedsArchive() {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must be set for mode "+c.Mode)
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
