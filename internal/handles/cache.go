// Package handles keeps a local SQLite cache of the entity keys owned
// by this account. The cache is a continuity aid only; the remote
// owner-indexed listing stays authoritative and the cache is reconciled
// against it on startup.
package handles

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"
)

// Handle maps a memory record to its current entity key.
type Handle struct {
	RecordID  string
	EntityKey string
	AddedAt   time.Time
}

// Cache is the SQLite-backed handle store.
type Cache struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the cache database at the given path.
func Open(path string, logger *zap.Logger) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open handle cache: %w", err)
	}

	c := &Cache{db: db, logger: logger}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate handle cache: %w", err)
	}
	return c, nil
}

func (c *Cache) migrate() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS handles (
		entity_key TEXT PRIMARY KEY,
		record_id  TEXT NOT NULL,
		added_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_handles_record ON handles(record_id);
	`)
	return err
}

// Put records (or re-points) the handle for a record.
func (c *Cache) Put(ctx context.Context, recordID, entityKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO handles (entity_key, record_id, added_at) VALUES (?, ?, ?)
		ON CONFLICT (entity_key) DO UPDATE SET record_id = excluded.record_id`,
		entityKey, recordID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put handle %s: %w", entityKey, err)
	}
	return nil
}

// Remove drops a handle.
func (c *Cache) Remove(ctx context.Context, entityKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.ExecContext(ctx, `DELETE FROM handles WHERE entity_key = ?`, entityKey)
	if err != nil {
		return fmt.Errorf("remove handle %s: %w", entityKey, err)
	}
	return nil
}

// Lookup returns the cached entity key for a record, if any.
func (c *Cache) Lookup(ctx context.Context, recordID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var key string
	err := c.db.QueryRowContext(ctx,
		`SELECT entity_key FROM handles WHERE record_id = ? ORDER BY added_at DESC LIMIT 1`,
		recordID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup handle for %s: %w", recordID, err)
	}
	return key, true, nil
}

// List returns all tracked handles.
func (c *Cache) List(ctx context.Context) ([]Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := c.db.QueryContext(ctx,
		`SELECT entity_key, record_id, added_at FROM handles ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("list handles: %w", err)
	}
	defer rows.Close()

	var out []Handle
	for rows.Next() {
		var h Handle
		var addedAt string
		if err := rows.Scan(&h.EntityKey, &h.RecordID, &addedAt); err != nil {
			return nil, fmt.Errorf("scan handle: %w", err)
		}
		h.AddedAt, _ = time.Parse(time.RFC3339, addedAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Count returns the number of tracked handles.
func (c *Cache) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM handles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count handles: %w", err)
	}
	return n, nil
}

// Reconcile replaces cache entries whose entity keys no longer appear
// in the authoritative owner listing. Record IDs for previously unknown
// keys stay empty until the record is next read.
func (c *Cache) Reconcile(ctx context.Context, ownedKeys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback()

	owned := make(map[string]bool, len(ownedKeys))
	for _, k := range ownedKeys {
		owned[k] = true
	}

	rows, err := tx.QueryContext(ctx, `SELECT entity_key FROM handles`)
	if err != nil {
		return fmt.Errorf("scan cache: %w", err)
	}
	var stale []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return fmt.Errorf("scan handle key: %w", err)
		}
		if !owned[key] {
			stale = append(stale, key)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, key := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM handles WHERE entity_key = ?`, key); err != nil {
			return fmt.Errorf("drop stale handle %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconcile: %w", err)
	}
	if len(stale) > 0 {
		c.logger.Info("handle cache reconciled", zap.Int("dropped", len(stale)))
	}
	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
