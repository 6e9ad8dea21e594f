// Package cache provides the pluggable cache layer for MarginCall tool data.
// Entries are keyed by ticker, data type, and calendar date, carry a TTL, and
// are persisted by a backend selected from configuration (SQLite for local
// runs, noop when caching is disabled).
package cache

import (
	"context"
	"strings"
	"time"
)

// TTL presets for the three volatility tiers of fetched data.
// Tools fetching similarly-volatile data should share a preset so their
// entries expire together.
const (
	// TTLDaily is for slow-changing data (financial statements, profiles).
	TTLDaily = 24 * time.Hour
	// TTLIntraday is for medium-changing data (options chains, sentiment).
	TTLIntraday = 4 * time.Hour
	// TTLRealtime is for fast-changing data (quotes, VIX).
	TTLRealtime = 15 * time.Minute
)

// DefaultMimeType is assumed for payloads stored without an explicit type.
const DefaultMimeType = "application/json"

// Stats summarizes the valid (non-expired) contents of a backend,
// answering "which stocks do we already have data for".
type Stats struct {
	DistinctStocks int      `json:"distinct_stocks"`
	TotalEntries   int      `json:"total_entries"`
	Tickers        []string `json:"tickers"`
}

// PutOptions tags a stored entry for later invalidation and inspection.
type PutOptions struct {
	// Ticker scopes the entry to one stock; empty for market-wide data.
	// Stored upper-cased regardless of input case.
	Ticker string
	// DataType is the cache category label (e.g. "price", "financials").
	DataType string
	// MimeType defaults to DefaultMimeType when empty.
	MimeType string
}

// Backend is the contract every cache store implements.
// Implementations must be safe for concurrent use. All operations are
// I/O-bound and honor context cancellation.
type Backend interface {
	// Get returns the payload for key, or nil if the key is absent or the
	// entry has expired. Expired data is never returned.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put upserts an entry with the given TTL. An existing entry for the
	// same key is overwritten.
	Put(ctx context.Context, key string, data []byte, ttl time.Duration, opts PutOptions) error

	// Delete removes an entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a valid (non-expired) entry is present.
	Exists(ctx context.Context, key string) (bool, error)

	// InvalidateTicker deletes every entry stored for the ticker
	// (case-insensitive) and returns the number deleted. Used to force a
	// full refresh cycle for one stock.
	InvalidateTicker(ctx context.Context, ticker string) (int, error)

	// PurgeExpired deletes every expired entry and returns the number
	// deleted. Idempotent; safe to call at any frequency.
	PurgeExpired(ctx context.Context) (int, error)

	// Stats reports counts over valid entries only. Tickers are distinct,
	// non-empty, and sorted ascending.
	Stats(ctx context.Context) (Stats, error)

	// Close releases held resources. Safe to call multiple times.
	Close() error
}

// MakeKey builds a cache key from its components. Pure and deterministic:
//
//	MakeKey("aapl", "price", "2026-02-16") == "AAPL:price:2026-02-16"
//	MakeKey("", "vix", "2026-02-16")       == ":vix:2026-02-16"
func MakeKey(ticker, dataType, date string) string {
	return strings.ToUpper(ticker) + ":" + dataType + ":" + date
}
