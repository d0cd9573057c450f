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
// built-in defaults and applies POOLS_* environment overrides. An empty path
// skips the file. The result has not been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from POOLS_* variables that are
// set and non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Owner, "POOLS_ENGINE_OWNER")
	setStr(&cfg.Engine.FeeRecipient, "POOLS_ENGINE_FEE_RECIPIENT")
	setInt(&cfg.Engine.PlatformFeeBps, "POOLS_ENGINE_PLATFORM_FEE_BPS")
	setStr(&cfg.Engine.LockBackend, "POOLS_ENGINE_LOCK_BACKEND")

	// ── Database ──
	setStr(&cfg.Database.Store, "POOLS_DATABASE_STORE")
	setStr(&cfg.Database.DSN, "POOLS_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setStr(&cfg.Database.Host, "POOLS_DATABASE_HOST")
	setInt(&cfg.Database.Port, "POOLS_DATABASE_PORT")
	setStr(&cfg.Database.Database, "POOLS_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "POOLS_DATABASE_USER")
	setStr(&cfg.Database.Password, "POOLS_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "POOLS_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "POOLS_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "POOLS_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "POOLS_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POOLS_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POOLS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POOLS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POOLS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POOLS_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POOLS_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "POOLS_REDIS_LOCK_TTL")
	setDuration(&cfg.Redis.CacheTTL, "POOLS_REDIS_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POOLS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POOLS_S3_REGION")
	setStr(&cfg.S3.Bucket, "POOLS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POOLS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POOLS_S3_SECRET_KEY")
	setStr(&cfg.S3.Prefix, "POOLS_S3_PREFIX")
	setBool(&cfg.S3.UseSSL, "POOLS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POOLS_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POOLS_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "POOLS_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.SettledAfter, "POOLS_ARCHIVE_SETTLED_AFTER")

	// ── Server ──
	setInt(&cfg.Server.Port, "POOLS_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POOLS_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "POOLS_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POOLS_SERVER_RATE_WINDOW")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "POOLS_AUTH_JWT_SECRET")
	setStr(&cfg.Auth.Issuer, "POOLS_AUTH_ISSUER")
	setDuration(&cfg.Auth.TokenTTL, "POOLS_AUTH_TOKEN_TTL")
	setDuration(&cfg.Auth.ChallengeTTL, "POOLS_AUTH_CHALLENGE_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POOLS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POOLS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POOLS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POOLS_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POOLS_MODE")
	setStr(&cfg.LogLevel, "POOLS_LOG_LEVEL")
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
