// Package config defines the top-level configuration for the pools service
// and provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cricketpools/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POOLS_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig seeds the engine settings on first start and picks the
// per-pool lock implementation.
type EngineConfig struct {
	Owner          string `toml:"owner"`
	FeeRecipient   string `toml:"fee_recipient"`
	PlatformFeeBps int    `toml:"platform_fee_bps"`
	// LockBackend is "local" for a single process or "redis" when several
	// replicas share one database.
	LockBackend string `toml:"lock_backend"`
}

// DatabaseConfig selects the store and holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Store         string `toml:"store"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	LockTTL    duration `toml:"lock_ttl"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	Prefix         string `toml:"prefix"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the settled-pool archive.
type ArchiveConfig struct {
	Enabled      bool     `toml:"enabled"`
	Interval     duration `toml:"interval"`
	SettledAfter duration `toml:"settled_after"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is the number of requests one caller may make per RateWindow.
	// Zero disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// AuthConfig holds wallet-login and session token parameters.
type AuthConfig struct {
	JWTSecret    string   `toml:"jwt_secret"`
	Issuer       string   `toml:"issuer"`
	TokenTTL     duration `toml:"token_ttl"`
	ChallengeTTL duration `toml:"challenge_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			PlatformFeeBps: 500,
			LockBackend:    "local",
		},
		Database: DatabaseConfig{
			Store:         "memory",
			Host:          "localhost",
			Port:          5432,
			Database:      "pools",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			LockTTL:    duration{10 * time.Second},
			CacheTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cricket-pools",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:      false,
			Interval:     duration{time.Hour},
			SettledAfter: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Auth: AuthConfig{
			Issuer:       "cricket-pools",
			TokenTTL:     duration{24 * time.Hour},
			ChallengeTTL: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"Resolved", "Canceled", "Swept", "Paused", "Unpaused"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// minJWTSecretLen matches the HMAC key floor enforced by internal/crypto.
const minJWTSecretLen = 16

// Validate checks Config for invalid or missing values and returns a joined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: server, archive, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Engine
	if !isAddress(c.Engine.Owner) {
		add("engine: owner must be a 0x-prefixed address, got %q", c.Engine.Owner)
	}
	if !isAddress(c.Engine.FeeRecipient) {
		add("engine: fee_recipient must be a 0x-prefixed address, got %q", c.Engine.FeeRecipient)
	}
	if c.Engine.PlatformFeeBps < 0 || c.Engine.PlatformFeeBps > domain.MaxFeeBps {
		add("engine: platform_fee_bps must be 0-%d, got %d", domain.MaxFeeBps, c.Engine.PlatformFeeBps)
	}
	switch c.Engine.LockBackend {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			add("engine: lock_backend redis requires redis.enabled")
		}
		if c.Database.Store != "postgres" {
			add("engine: lock_backend redis requires store = postgres so replicas share pools and custody")
		}
	default:
		add("engine: unknown lock_backend %q (valid: local, redis)", c.Engine.LockBackend)
	}

	// Database
	switch c.Database.Store {
	case "memory":
		if mode == "archive" {
			add("database: archive mode needs store = postgres")
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				add("database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				add("database: port must be 1-65535, got %d", c.Database.Port)
			}
			if c.Database.Database == "" {
				add("database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			add("database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			add("database: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		add("database: unknown store %q (valid: memory, postgres)", c.Database.Store)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			add("redis: lock_ttl must be > 0")
		}
	}

	// Archive
	archiving := mode == "archive" || (mode == "full" && c.Archive.Enabled)
	if archiving {
		if c.S3.Endpoint == "" {
			add("s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.Archive.SettledAfter.Duration < 0 {
			add("archive: settled_after must be >= 0")
		}
		if mode == "full" && c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
	}

	// Server and auth only matter when the API is served.
	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
		if len(c.Auth.JWTSecret) < minJWTSecretLen {
			add("auth: jwt_secret must be at least %d bytes", minJWTSecretLen)
		}
		if c.Auth.TokenTTL.Duration <= 0 || c.Auth.ChallengeTTL.Duration <= 0 {
			add("auth: token_ttl and challenge_ttl must be > 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func isAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}
