// Package store builds the shared Postgres connection pool that
// internal/audit and internal/pvs each consume through their own narrow
// dbPool interface, so the whole process runs against one connection budget
// instead of one pool per component.
package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool configuration defaults, overridable via environment variables so the
// same binary can be retuned per deployment without a rebuild.
const (
	DefaultMaxConns        = 25
	DefaultMinConns        = 5
	DefaultMaxConnLifetime = time.Hour
	DefaultMaxConnIdleTime = 30 * time.Minute
)

// NewPool creates a pgxpool.Pool against dsn, sized from the PG_MAX_CONNS,
// PG_MIN_CONNS, PG_MAX_CONN_LIFETIME, and PG_MAX_CONN_IDLE_TIME environment
// variables (falling back to the Default* constants above).
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parsing postgres connection string: %w", err)
	}

	cfg.MaxConns = envInt32("PG_MAX_CONNS", DefaultMaxConns)
	cfg.MinConns = envInt32("PG_MIN_CONNS", DefaultMinConns)
	cfg.MaxConnLifetime = envDuration("PG_MAX_CONN_LIFETIME", DefaultMaxConnLifetime)
	cfg.MaxConnIdleTime = envDuration("PG_MAX_CONN_IDLE_TIME", DefaultMaxConnIdleTime)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: creating postgres pool: %w", err)
	}
	return pool, nil
}

func envInt32(key string, def int32) int32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
