// Package database owns the process-wide connections to PostgreSQL, SQLite
// and Redis, and the embedded schema migrations for the SQL backends.
// Connections are opened once by the composition root and shared by every
// store that selects them.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gatekeeper/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Connections holds the shared clients. Unused fields are nil.
type Connections struct {
	Redis     redis.UniversalClient
	KeyPrefix string
	Postgres  *pgxpool.Pool
	SQLite    *sql.DB
}

// PgxConn is the subset of *pgxpool.Pool used by the PostgreSQL stores.
type PgxConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Open opens every connection the configuration selects.
func Open(ctx context.Context, cfg *models.Config) (*Connections, error) {
	conns := &Connections{KeyPrefix: cfg.Redis.KeyPrefix}

	if cfg.UsesDatabase() {
		switch cfg.Database.Driver {
		case models.DatabaseDriverPostgres:
			pool, err := OpenPostgres(ctx, cfg.Database)
			if err != nil {
				return nil, err
			}
			conns.Postgres = pool
		case models.DatabaseDriverSQLite:
			db, err := OpenSQLite(ctx, cfg.Database)
			if err != nil {
				return nil, err
			}
			conns.SQLite = db
		default:
			return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
		}
	}

	if cfg.UsesRedis() {
		client, err := OpenRedis(ctx, cfg.Redis)
		if err != nil {
			conns.Close()
			return nil, err
		}
		conns.Redis = client
	}

	return conns, nil
}

// Close releases every open connection.
func (c *Connections) Close() error {
	var errs []error
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if c.Postgres != nil {
		c.Postgres.Close()
	}
	if c.SQLite != nil {
		if err := c.SQLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Ping checks every open connection.
func (c *Connections) Ping(ctx context.Context) error {
	var errs []error
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if c.SQLite != nil {
		if err := c.SQLite.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sqlite: %w", err))
		}
	}
	return errors.Join(errs...)
}

// OpenPostgres creates a connection pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg models.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(min(cfg.MaxIdleConns, cfg.MaxOpenConns))
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// OpenSQLite opens a SQLite database with immediate-mode transactions and a
// busy timeout, and verifies it with a ping.
func OpenSQLite(ctx context.Context, cfg models.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("connection string is required for SQLite")
	}

	db, err := sql.Open("sqlite", SQLiteDSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// SQLiteDSN adds the connection parameters every SQLite store relies on,
// keeping any the caller already set.
func SQLiteDSN(dsn string) string {
	params := []struct{ key, value string }{
		{"_txlock", "immediate"},
		{"_pragma", "busy_timeout(5000)"},
		{"_pragma", "journal_mode(WAL)"},
		{"_pragma", "foreign_keys(1)"},
	}

	out := dsn
	for _, p := range params {
		needle := p.key + "=" + p.value
		if p.key == "_txlock" {
			needle = p.key + "="
		}
		if strings.Contains(out, needle) {
			continue
		}
		sep := "?"
		if strings.Contains(out, "?") {
			sep = "&"
		}
		out += sep + p.key + "=" + p.value
	}
	return out
}

// OpenRedis creates a Redis client from host:port or a redis:// URL and
// verifies it with a ping.
func OpenRedis(ctx context.Context, cfg models.RedisConfig) (*redis.Client, error) {
	var opt *redis.Options
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
