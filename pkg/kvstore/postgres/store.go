// Package postgres provides a PostgreSQL-backed implementation of
// [kvstore.Store] for hosted deployments where Aura state must outlive a
// single machine. Each logical key maps to one row in a plain kv table;
// writes are upserts, so the last writer wins exactly as the contract
// requires.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurahq/aura/pkg/kvstore"
)

// Compile-time interface check.
var _ kvstore.Store = (*Store)(nil)

// opTimeout bounds each individual store operation. The [kvstore.Store]
// contract is synchronous and carries no caller context, so the bound is
// applied here.
const opTimeout = 5 * time.Second

// Store is a PostgreSQL-backed key-value store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn and ensures the kv table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kvstore postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS aura_kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kvstore postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Get implements [kvstore.Store]. Query failures are reported as absent and
// logged: the contract has no error channel for reads, and callers already
// treat absent as the safe default.
func (s *Store) Get(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM aura_kv WHERE key = $1`, key).Scan(&value)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", false
	case err != nil:
		slog.Warn("kvstore postgres: get failed", "key", key, "err", err)
		return "", false
	}
	return value, true
}

// Set implements [kvstore.Store].
func (s *Store) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO aura_kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("kvstore postgres: set %q: %w", key, err)
	}
	return nil
}

// Remove implements [kvstore.Store].
func (s *Store) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `DELETE FROM aura_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kvstore postgres: remove %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
