// Package postgres provides a Postgres-backed key/value store with row-level expiry.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawler-sentinel/internal/kv"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store keeps JSON values in a table of (key, value, expires_at). Expired rows are invisible
// to Get and removed by PurgeExpired.
type Store struct {
	pool  querier
	table string
	clock kv.Clock
}

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg Config, clock kv.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStoreWithPool(pool, cfg.Table, clock)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool querier, table string, clock kv.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if table == "" {
		table = "kv_entries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, clock: clock}, nil
}

// Migrate creates the backing table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value JSONB NOT NULL,
	expires_at TIMESTAMPTZ
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Ping checks a connection can be acquired.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get decodes the live value stored under key.
func (s *Store) Get(ctx context.Context, key string, dst any) error {
	query := fmt.Sprintf(
		`SELECT value FROM %s WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`, s.table)
	var data []byte
	err := s.pool.QueryRow(ctx, query, key, s.clock.Now().UTC()).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return kv.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Set upserts value with its expiry.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	var expires any
	if ttl > 0 {
		expires = s.clock.Now().UTC().Add(ttl)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, value, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, data, expires); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes rows whose expiry has passed and reports how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
