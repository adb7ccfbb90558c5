// Package sqlitetier is the durable-async cache tier backed by SQLite.
package sqlitetier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/watchstore/gallerycache/internal/cache"
	"github.com/watchstore/gallerycache/internal/core/observability"
)

const schema = `
CREATE TABLE IF NOT EXISTS assets (
  key          TEXT PRIMARY KEY,
  source_url   TEXT NOT NULL,
  resolved_url TEXT NOT NULL,
  kind         TEXT NOT NULL,
  created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_created_at ON assets(created_at);
`

// Tier persists entries in a single-table SQLite database. It is the only
// tier with age-based expiry: entries older than TTL are dropped, and
// fallback entries expire on the shorter FallbackTTL so a transient upstream
// failure cannot pin a degraded URL for a full cache lifetime.
type Tier struct {
	db          *sql.DB
	capacity    int
	ttl         time.Duration
	fallbackTTL time.Duration
}

func Open(path string, capacity int, ttl, fallbackTTL time.Duration) (*Tier, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if fallbackTTL <= 0 || fallbackTTL > ttl {
		fallbackTTL = ttl
	}
	return &Tier{db: db, capacity: capacity, ttl: ttl, fallbackTTL: fallbackTTL}, nil
}

func (t *Tier) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

func (t *Tier) Name() string { return "durable_async" }

func (t *Tier) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	start := time.Now()
	row := t.db.QueryRowContext(ctx,
		`SELECT key, source_url, resolved_url, kind, created_at FROM assets WHERE key = ?`, key)

	var e cache.Entry
	var kind string
	var createdMillis int64
	err := row.Scan(&e.Key, &e.SourceURL, &e.ResolvedURL, &kind, &createdMillis)
	observability.ObserveStoreOp(t.Name(), "get", err, time.Since(start).Seconds())
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("%w: sqlite get %q: %w", cache.ErrUnavailable, key, err)
	}
	e.Kind = cache.Kind(kind)
	e.CreatedAt = time.UnixMilli(createdMillis).UTC()
	return e, true, nil
}

func (t *Tier) Put(ctx context.Context, e cache.Entry) error {
	start := time.Now()
	_, err := t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO assets (key, source_url, resolved_url, kind, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Key, e.SourceURL, e.ResolvedURL, string(e.Kind), e.CreatedAt.UTC().UnixMilli())
	observability.ObserveStoreOp(t.Name(), "put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: sqlite put %q: %w", cache.ErrUnavailable, e.Key, err)
	}
	return nil
}

func (t *Tier) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(keys))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	start := time.Now()
	_, err := t.db.ExecContext(ctx,
		`DELETE FROM assets WHERE key IN (`+placeholders+`)`, args...)
	observability.ObserveStoreOp(t.Name(), "del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: sqlite del %d keys: %w", cache.ErrUnavailable, len(keys), err)
	}
	return nil
}

// Evict expires aged entries first, then trims oldest-insertion-first back
// under capacity. Runs in one transaction so a concurrent Get never sees a
// half-applied sweep.
func (t *Tier) Evict(ctx context.Context, now time.Time) error {
	start := time.Now()
	err := t.evictTx(ctx, now)
	observability.ObserveStoreOp(t.Name(), "evict", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: sqlite evict: %w", cache.ErrUnavailable, err)
	}
	return nil
}

func (t *Tier) evictTx(ctx context.Context, now time.Time) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMillis := now.UTC().UnixMilli()
	if t.ttl > 0 {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM assets WHERE created_at < ? OR (kind = ? AND created_at < ?)`,
			nowMillis-t.ttl.Milliseconds(),
			string(cache.KindFallback),
			nowMillis-t.fallbackTTL.Milliseconds())
		if err != nil {
			return fmt.Errorf("expire: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			observability.AddEvictions(t.Name(), "ttl", int(n))
		}
	}

	if t.capacity > 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`).Scan(&count); err != nil {
			return fmt.Errorf("count: %w", err)
		}
		if over := count - t.capacity; over > 0 {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM assets WHERE key IN (
				   SELECT key FROM assets ORDER BY created_at ASC, key ASC LIMIT ?
				 )`, over)
			if err != nil {
				return fmt.Errorf("trim: %w", err)
			}
			observability.AddEvictions(t.Name(), "capacity", over)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *Tier) Clear(ctx context.Context) error {
	start := time.Now()
	_, err := t.db.ExecContext(ctx, `DELETE FROM assets`)
	observability.ObserveStoreOp(t.Name(), "clear", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: sqlite clear: %w", cache.ErrUnavailable, err)
	}
	return nil
}

// Len reports the current row count; used by eviction tests.
func (t *Tier) Len(ctx context.Context) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}
