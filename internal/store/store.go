// Package store provides a SQLite-backed implementation of the cache
// contract, so single-node deployments can run the engine without Redis.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"attune/internal/cache"
)

// Store is a SQLite-based cache store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new store instance with a SQLite database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "attune.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the cache table.
func (s *Store) initialize() error {
	table := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	);`

	if _, err := s.db.Exec(table); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get unmarshals the cached value for key into dest. Expired rows count as
// misses and are deleted on the way out.
func (s *Store) Get(ctx context.Context, key string, dest any) error {
	query := `SELECT value, expires_at FROM cache_entries WHERE key = ?`
	row := s.db.QueryRowContext(ctx, query, key)

	var value string
	var expiresAt time.Time
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return cache.ErrMiss
		}
		return fmt.Errorf("failed to read cache entry: %w", err)
	}

	if time.Now().UTC().After(expiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return cache.ErrMiss
	}

	return json.Unmarshal([]byte(value), dest)
}

// Set stores value under key with the given TTL.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	query := `INSERT OR REPLACE INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, key, string(data), time.Now().UTC().Add(ttl))
	return err
}

// DeleteByPrefix removes every entry whose key starts with prefix.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	query := `DELETE FROM cache_entries WHERE key LIKE ? || '%'`
	_, err := s.db.ExecContext(ctx, query, prefix)
	return err
}

// Purge removes all expired entries. Intended for periodic maintenance.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
