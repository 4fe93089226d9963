package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"nollettan-menu/models"
)

// SnapshotCache keeps the last known menu for when the store is unreachable.
type SnapshotCache interface {
	Put(ctx context.Context, key string, m models.MenuSnapshot) error
	// Get returns the cached menu merged with defaults; ok is false when
	// nothing is cached under key.
	Get(ctx context.Context, key string) (m models.MenuSnapshot, ok bool, err error)
}

// LocalCache is a SnapshotCache in a SQLite file.
type LocalCache struct {
	db *sql.DB
}

const localCacheSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	saved_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// OpenLocalCache creates or opens the cache database at path.
func OpenLocalCache(path string) (*LocalCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		localCacheSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init cache (%s): %w", stmt, err)
		}
	}
	return &LocalCache{db: db}, nil
}

func (c *LocalCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *LocalCache) Put(ctx context.Context, key string, m models.MenuSnapshot) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode menu: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, body, saved_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET body = excluded.body, saved_at = excluded.saved_at`,
		key, string(body),
	)
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

func (c *LocalCache) Get(ctx context.Context, key string) (models.MenuSnapshot, bool, error) {
	var body string
	err := c.db.QueryRowContext(ctx, `SELECT body FROM snapshots WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MenuSnapshot{}, false, nil
	}
	if err != nil {
		return models.MenuSnapshot{}, false, fmt.Errorf("read cache: %w", err)
	}
	m, err := models.MergeWithDefaults([]byte(body))
	if err != nil {
		return m, true, err
	}
	return m, true, nil
}
