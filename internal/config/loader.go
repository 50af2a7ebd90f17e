package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MATRIXNET_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MATRIXNET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Driver, "MATRIXNET_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MATRIXNET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "MATRIXNET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MATRIXNET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MATRIXNET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MATRIXNET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MATRIXNET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MATRIXNET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MATRIXNET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MATRIXNET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MATRIXNET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MATRIXNET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MATRIXNET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MATRIXNET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MATRIXNET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MATRIXNET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MATRIXNET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MATRIXNET_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MATRIXNET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MATRIXNET_S3_REGION")
	setStr(&cfg.S3.Bucket, "MATRIXNET_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "MATRIXNET_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "MATRIXNET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MATRIXNET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MATRIXNET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MATRIXNET_S3_FORCE_PATH_STYLE")

	// ── Matrix ──
	setInt(&cfg.Matrix.MaxClaimRetries, "MATRIXNET_MATRIX_MAX_CLAIM_RETRIES")
	setDuration(&cfg.Matrix.RetryBackoff, "MATRIXNET_MATRIX_RETRY_BACKOFF")
	setDuration(&cfg.Matrix.AllocationLockTTL, "MATRIXNET_MATRIX_ALLOCATION_LOCK_TTL")
	setDuration(&cfg.Matrix.BoardCacheTTL, "MATRIXNET_MATRIX_BOARD_CACHE_TTL")
	setDuration(&cfg.Matrix.ReplayInterval, "MATRIXNET_MATRIX_REPLAY_INTERVAL")
	setInt(&cfg.Matrix.ReplayBatch, "MATRIXNET_MATRIX_REPLAY_BATCH")

	// ── Settlement ──
	setDuration(&cfg.Settlement.Interval, "MATRIXNET_SETTLEMENT_INTERVAL")
	setInt(&cfg.Settlement.BatchSize, "MATRIXNET_SETTLEMENT_BATCH_SIZE")
	setInt(&cfg.Settlement.Concurrency, "MATRIXNET_SETTLEMENT_CONCURRENCY")

	// ── Wallet ──
	setStr(&cfg.Wallet.BaseURL, "MATRIXNET_WALLET_BASE_URL")
	setStr(&cfg.Wallet.APIKey, "MATRIXNET_WALLET_API_KEY")
	setStr(&cfg.Wallet.APISecret, "MATRIXNET_WALLET_API_SECRET")
	setStr(&cfg.Wallet.EncryptedSecretPath, "MATRIXNET_WALLET_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Wallet.SecretPassword, "MATRIXNET_WALLET_SECRET_PASSWORD")
	setDuration(&cfg.Wallet.Timeout, "MATRIXNET_WALLET_TIMEOUT")
	setFloat64(&cfg.Wallet.RequestsPerSec, "MATRIXNET_WALLET_REQUESTS_PER_SEC")
	setInt(&cfg.Wallet.Burst, "MATRIXNET_WALLET_BURST")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "MATRIXNET_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "MATRIXNET_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MATRIXNET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MATRIXNET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MATRIXNET_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "MATRIXNET_SERVER_API_KEYS")
	setInt(&cfg.Server.PlacementsPerMinute, "MATRIXNET_SERVER_PLACEMENTS_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MATRIXNET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MATRIXNET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MATRIXNET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MATRIXNET_NOTIFY_EVENTS")
	setInt(&cfg.Notify.PerMinute, "MATRIXNET_NOTIFY_PER_MINUTE")

	// ── Top-level ──
	setStr(&cfg.Mode, "MATRIXNET_MODE")
	setStr(&cfg.LogLevel, "MATRIXNET_LOG_LEVEL")
	setStr(&cfg.LogFile, "MATRIXNET_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
