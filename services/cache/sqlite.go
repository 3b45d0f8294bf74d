package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// created_at is unix seconds: SQLite cannot parse the driver's default
// time.Time binding, and Purge needs arithmetic it understands.
const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL
);
`

// SQLiteStore is a Store backed by SQLite, for deployments that want cached
// responses to survive a restart. Expiry is lazy on read plus an optional
// Purge for memory bound.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and runs its schema migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(createCacheTable); err != nil {
		return nil, fmt.Errorf("migrate cache store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get returns the value for key if present and unexpired.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var createdAt, ttlSeconds int64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, created_at, ttl_seconds FROM cache_entries WHERE cache_key = ?`,
		key,
	).Scan(&value, &createdAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	if time.Now().Unix()-createdAt > ttlSeconds {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key. Last write wins.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (cache_key, value, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?)`,
		key, value, time.Now().Unix(), int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete removes key from the store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Purge removes expired entries. Needed only to bound table size, not for
// correctness.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries
		 WHERE CAST(strftime('%s', 'now') AS INTEGER) - created_at > ttl_seconds`)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return result.RowsAffected()
}
