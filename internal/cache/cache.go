// Package cache provides a SQLite-backed TTL cache for query results.
// Values are JSON blobs keyed by typed fingerprints; invalidation is
// best-effort by key pattern.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
`

// Cache is a TTL key-value store for query results.
type Cache struct {
	db         *sql.DB
	dbPath     string
	defaultTTL time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

// Open opens or creates the cache database. ttlSeconds is the default
// entry lifetime.
func Open(path string, ttlSeconds int) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	return &Cache{db: db, dbPath: path, defaultTTL: time.Duration(ttlSeconds) * time.Second}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get unmarshals the cached value for key into out. The second return is
// false on a miss or an expired entry.
func (c *Cache) Get(key string, out any) (bool, error) {
	var value string
	var expiresAt int64
	err := c.db.QueryRow(`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		c.misses.Add(1)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get: %w", err)
	}
	if time.Now().Unix() >= expiresAt {
		c.misses.Add(1)
		c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		return false, nil
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("cache decode: %w", err)
	}
	c.hits.Add(1)
	return true, nil
}

// Set stores the value under key with the default TTL.
func (c *Cache) Set(key string, value any) error {
	return c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores the value under key with an explicit TTL.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	expiresAt := time.Now().Add(ttl).Unix()
	_, err = c.db.Exec(`
		INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, string(raw), expiresAt)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (c *Cache) Delete(key string) error {
	_, err := c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// DeletePattern removes every entry matching a glob-style pattern where *
// matches any run of characters. Returns the number of entries removed.
func (c *Cache) DeletePattern(pattern string) (int, error) {
	like := strings.ReplaceAll(pattern, "*", "%")
	result, err := c.db.Exec(`DELETE FROM cache_entries WHERE key LIKE ?`, like)
	if err != nil {
		return 0, fmt.Errorf("cache delete pattern: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// InvalidateProject removes every cached result touching the project.
func (c *Cache) InvalidateProject(projectID string) (int, error) {
	return c.DeletePattern("*:project:" + projectID + ":*")
}

// Prune removes expired entries.
func (c *Cache) Prune() (int, error) {
	result, err := c.db.Exec(`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Stats reports cache health for the metrics endpoint.
type Stats struct {
	Connected bool    `json:"connected"`
	TotalKeys int64   `json:"total_keys"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
}

// GetStats returns counters for the current process lifetime.
func (c *Cache) GetStats() Stats {
	stats := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&stats.TotalKeys); err == nil {
		stats.Connected = true
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
