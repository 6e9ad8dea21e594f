package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"margincall/internal/metrics"
)

// DefaultDBPath is where the cache database lives relative to the
// application root when no path is configured.
const DefaultDBPath = "cache/margincall_cache.db"

// purgeCooldown bounds how often a Get may trigger an opportunistic purge
// sweep, so purge overhead stays flat under high read volume.
const purgeCooldown = 5 * time.Minute

// SQLiteBackend persists cache entries in a single local SQLite file.
// Suitable for single-instance deployments; cross-process access is
// handled by WAL journaling and the busy timeout.
type SQLiteBackend struct {
	db *sql.DB

	// lastPurge is the unix-nanosecond time of the last auto-purge sweep.
	lastPurge atomic.Int64
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLite opens (creating if needed) the cache database at path and
// ensures the schema exists. An empty path uses DefaultDBPath; the parent
// directory is created on first use.
func NewSQLite(path string) (*SQLiteBackend, error) {
	if path == "" {
		path = DefaultDBPath
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection
	// avoids in-process SQLITE_BUSY churn while WAL keeps readers moving.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL for concurrent read/write, busy timeout so lock contention from
	// other processes waits instead of failing outright.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("cache database initialized", "path", path)
	return &SQLiteBackend{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache (
			cache_key   TEXT PRIMARY KEY,
			data        BLOB NOT NULL,
			mime_type   TEXT DEFAULT 'application/json',
			ttl_seconds INTEGER NOT NULL,
			created_at  REAL NOT NULL,
			expires_at  REAL NOT NULL,
			ticker      TEXT DEFAULT '',
			data_type   TEXT DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}

	// expires_at serves purge sweeps, (ticker, data_type) serves
	// per-ticker invalidation and per-category lookups.
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_cache_ticker_type ON cache(ticker, data_type)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create cache index", "error", err)
		}
	}
	return nil
}

// nowEpoch returns the current time as fractional epoch seconds, the unit
// used by created_at and expires_at.
func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Get returns the payload for key, or nil on miss or expiry. Each call may
// opportunistically purge expired rows, at most once per purgeCooldown.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.maybeAutoPurge(ctx)

	var data []byte
	err := b.db.QueryRowContext(ctx,
		"SELECT data FROM cache WHERE cache_key = ? AND expires_at > ?",
		key, nowEpoch(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("cache miss", "key", key)
		metrics.ObserveCacheOp("get", "miss")
		return nil, nil
	}
	if err != nil {
		metrics.ObserveCacheOp("get", "error")
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	slog.Info("cache hit", "key", key)
	metrics.ObserveCacheOp("get", "hit")
	return data, nil
}

// Put upserts the entry. The upsert is a single atomic statement, so
// concurrent writers to the same key resolve to last-write-wins with no
// partial state visible to readers.
func (b *SQLiteBackend) Put(ctx context.Context, key string, data []byte, ttl time.Duration, opts PutOptions) error {
	if opts.MimeType == "" {
		opts.MimeType = DefaultMimeType
	}
	now := nowEpoch()
	expiresAt := now + ttl.Seconds()

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO cache (cache_key, data, mime_type, ttl_seconds,
		                   created_at, expires_at, ticker, data_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			data        = excluded.data,
			mime_type   = excluded.mime_type,
			ttl_seconds = excluded.ttl_seconds,
			created_at  = excluded.created_at,
			expires_at  = excluded.expires_at,
			ticker      = excluded.ticker,
			data_type   = excluded.data_type`,
		key, data, opts.MimeType, int64(ttl.Seconds()),
		now, expiresAt, strings.ToUpper(opts.Ticker), opts.DataType,
	)
	if err != nil {
		metrics.ObserveCacheOp("put", "error")
		return fmt.Errorf("cache put %s: %w", key, err)
	}

	slog.Info("cache put", "key", key, "ttl", ttl)
	metrics.ObserveCacheOp("put", "ok")
	return nil
}

// Delete removes the entry if present.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM cache WHERE cache_key = ?", key); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	slog.Debug("cache delete", "key", key)
	metrics.ObserveCacheOp("delete", "ok")
	return nil
}

// Exists reports whether a valid (non-expired) entry is present.
func (b *SQLiteBackend) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx,
		"SELECT 1 FROM cache WHERE cache_key = ? AND expires_at > ?",
		key, nowEpoch(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache exists %s: %w", key, err)
	}
	return true, nil
}

// InvalidateTicker deletes every entry stored for ticker and returns the
// number deleted. Comparison is against the upper-cased stored form.
func (b *SQLiteBackend) InvalidateTicker(ctx context.Context, ticker string) (int, error) {
	res, err := b.db.ExecContext(ctx,
		"DELETE FROM cache WHERE ticker = ?", strings.ToUpper(ticker))
	if err != nil {
		return 0, fmt.Errorf("cache invalidate ticker %s: %w", ticker, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache invalidate ticker %s: %w", ticker, err)
	}

	slog.Info("cache ticker invalidated", "ticker", ticker, "deleted", deleted)
	metrics.ObserveCacheOp("invalidate_ticker", "ok")
	return int(deleted), nil
}

// PurgeExpired deletes every expired entry and returns the number deleted.
func (b *SQLiteBackend) PurgeExpired(ctx context.Context) (int, error) {
	res, err := b.db.ExecContext(ctx,
		"DELETE FROM cache WHERE expires_at <= ?", nowEpoch())
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}

	if deleted > 0 {
		slog.Info("cache purged expired entries", "deleted", deleted)
	}
	metrics.ObserveCacheOp("purge", "ok")
	b.lastPurge.Store(time.Now().UnixNano())
	return int(deleted), nil
}

// Stats reports counts over valid entries only.
func (b *SQLiteBackend) Stats(ctx context.Context) (Stats, error) {
	now := nowEpoch()

	var total int
	err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cache WHERE expires_at > ?", now).Scan(&total)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}

	rows, err := b.db.QueryContext(ctx,
		"SELECT DISTINCT ticker FROM cache WHERE expires_at > ? AND ticker != '' ORDER BY ticker",
		now)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()

	tickers := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return Stats{}, fmt.Errorf("cache stats: %w", err)
		}
		tickers = append(tickers, t)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}

	return Stats{
		DistinctStocks: len(tickers),
		TotalEntries:   total,
		Tickers:        tickers,
	}, nil
}

// Close releases the database handle. Safe to call multiple times.
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// maybeAutoPurge runs a purge sweep if the cooldown has elapsed. Purge on
// this path is best-effort: failures are logged and never break the read
// that triggered them.
func (b *SQLiteBackend) maybeAutoPurge(ctx context.Context) {
	now := time.Now().UnixNano()
	last := b.lastPurge.Load()
	if now-last < purgeCooldown.Nanoseconds() {
		return
	}
	// The CAS claims the sweep before the delete runs, so a failed sweep
	// still spends the cooldown. Against a broken database that keeps the
	// warning below to once per cooldown instead of once per read.
	if !b.lastPurge.CompareAndSwap(last, now) {
		return // another caller claimed this sweep
	}

	res, err := b.db.ExecContext(ctx,
		"DELETE FROM cache WHERE expires_at <= ?", nowEpoch())
	if err != nil {
		slog.Warn("cache auto-purge failed", "error", err)
		return
	}
	if deleted, err := res.RowsAffected(); err == nil && deleted > 0 {
		slog.Info("cache auto-purged expired entries", "deleted", deleted)
	}
}
