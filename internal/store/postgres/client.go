// Package postgres implements the pool, settings, audit, transfer and
// custody stores on PostgreSQL via pgx.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ClientConfig holds connection parameters for the PostgreSQL client.
type ClientConfig struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN builds a PostgreSQL connection string from cfg. An explicit DSN wins.
func DSN(cfg ClientConfig) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database, sslMode)
}

// Client wraps a pgxpool.Pool and hands out the stores built on it.
type Client struct {
	pool *pgxpool.Pool
}

// New connects, pings and returns a Client.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	poolCfg.ConnConfig.DialFunc = dialPreferIPv4

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Client{pool: pool}, nil
}

// dialPreferIPv4 tries every A record before falling back to the default
// dual-stack dial, for hosts that also publish unreachable AAAA records.
func dialPreferIPv4(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("postgres: split host/port %q: %w", addr, err)
	}
	var dialer net.Dialer
	if net.ParseIP(host) == nil {
		ips, _ := net.DefaultResolver.LookupIP(ctx, "ip4", host)
		for _, ip := range ips {
			if conn, err := dialer.DialContext(ctx, "tcp4", net.JoinHostPort(ip.String(), port)); err == nil {
				return conn, nil
			}
		}
	}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("postgres: dial %q: %w", addr, err)
	}
	return conn, nil
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// Close shuts down the connection pool.
func (c *Client) Close() { c.pool.Close() }

// Pools returns the pool and entry store.
func (c *Client) Pools() *PoolStore { return NewPoolStore(c.pool) }

// Settings returns the engine settings store.
func (c *Client) Settings() *SettingsStore { return NewSettingsStore(c.pool) }

// Audit returns the audit log store.
func (c *Client) Audit() *AuditStore { return NewAuditStore(c.pool) }

// Transfers returns the treasury transfer log.
func (c *Client) Transfers() *TransferStore { return NewTransferStore(c.pool) }

// Custody returns the treasury balance and escrow store.
func (c *Client) Custody() *CustodyStore { return NewCustodyStore(c.pool) }

// RunMigrations applies the embedded migrations/*.sql files in name order,
// each in its own transaction, recording applied files in schema_migrations.
func (c *Client) RunMigrations(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		if err := c.applyMigration(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) applyMigration(ctx context.Context, name string) error {
	var applied bool
	if err := c.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name,
	).Scan(&applied); err != nil {
		return fmt.Errorf("postgres: check migration %s: %w", name, err)
	}
	if applied {
		return nil
	}

	data, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("postgres: read migration %s: %w", name, err)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx for %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, string(data)); err != nil {
		return fmt.Errorf("postgres: exec migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("postgres: record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit migration %s: %w", name, err)
	}
	return nil
}
