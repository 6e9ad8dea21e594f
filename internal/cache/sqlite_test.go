package cache

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// newTestBackend creates a SQLite backend on a throwaway database file.
func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// physicalRows counts stored rows without the freshness filter the public
// operations apply.
func physicalRows(t *testing.T, b *SQLiteBackend) int {
	t.Helper()
	var n int
	if err := b.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&n); err != nil {
		t.Fatalf("row count failed: %v", err)
	}
	return n
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		b := newTestBackend(t)

		data := []byte(`{"price": 231.5, "currency": "USD"}`)
		if err := b.Put(ctx, "AAPL:price:2026-02-16", data, time.Hour, PutOptions{Ticker: "AAPL", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}

		got, err := b.Get(ctx, "AAPL:price:2026-02-16")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("payload changed in round trip: got %q, want %q", got, data)
		}
	})

	t.Run("MissingKey", func(t *testing.T) {
		b := newTestBackend(t)

		got, err := b.Get(ctx, "NVDA:price:2026-02-16")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil for never-written key, got %q", got)
		}

		ok, err := b.Exists(ctx, "NVDA:price:2026-02-16")
		if err != nil {
			t.Fatalf("exists failed: %v", err)
		}
		if ok {
			t.Error("expected exists=false for never-written key")
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		b := newTestBackend(t)

		if err := b.Put(ctx, "TSLA:price:2026-02-16", []byte("{}"), time.Second, PutOptions{Ticker: "TSLA", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}

		got, err := b.Get(ctx, "TSLA:price:2026-02-16")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected fresh entry to be readable")
		}

		time.Sleep(1100 * time.Millisecond)

		got, err = b.Get(ctx, "TSLA:price:2026-02-16")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil after expiry, got %q", got)
		}

		ok, err := b.Exists(ctx, "TSLA:price:2026-02-16")
		if err != nil {
			t.Fatalf("exists failed: %v", err)
		}
		if ok {
			t.Error("expected exists=false after expiry")
		}
	})

	t.Run("DeleteIdempotence", func(t *testing.T) {
		b := newTestBackend(t)

		// Deleting an absent key is not an error.
		if err := b.Delete(ctx, "MSFT:price:2026-02-16"); err != nil {
			t.Fatalf("delete of absent key failed: %v", err)
		}

		if err := b.Put(ctx, "MSFT:price:2026-02-16", []byte("{}"), time.Hour, PutOptions{Ticker: "MSFT", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		if err := b.Delete(ctx, "MSFT:price:2026-02-16"); err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		ok, err := b.Exists(ctx, "MSFT:price:2026-02-16")
		if err != nil {
			t.Fatalf("exists failed: %v", err)
		}
		if ok {
			t.Error("expected exists=false after delete")
		}
	})

	t.Run("OverwriteRefreshesEntry", func(t *testing.T) {
		b := newTestBackend(t)
		key := "AAPL:price:2026-02-16"

		if err := b.Put(ctx, key, []byte("old"), time.Second, PutOptions{Ticker: "AAPL", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		if err := b.Put(ctx, key, []byte("new"), time.Hour, PutOptions{Ticker: "AAPL", DataType: "price"}); err != nil {
			t.Fatalf("overwrite failed: %v", err)
		}

		// The overwrite extended the TTL past the original 1s.
		time.Sleep(1100 * time.Millisecond)
		got, err := b.Get(ctx, key)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if string(got) != "new" {
			t.Errorf("expected overwritten payload with refreshed expiry, got %q", got)
		}

		// Still a single row for the key.
		stats, err := b.Stats(ctx)
		if err != nil {
			t.Fatalf("stats failed: %v", err)
		}
		if stats.TotalEntries != 1 {
			t.Errorf("expected 1 entry after overwrite, got %d", stats.TotalEntries)
		}
	})

	t.Run("InvalidateTickerScope", func(t *testing.T) {
		b := newTestBackend(t)

		puts := []struct {
			key, ticker, dataType string
		}{
			{"AAPL:price:2026-02-16", "AAPL", "price"},
			{"AAPL:financials:2026-02-16", "AAPL", "financials"},
			{"TSLA:price:2026-02-16", "TSLA", "price"},
		}
		for _, p := range puts {
			if err := b.Put(ctx, p.key, []byte("{}"), time.Hour, PutOptions{Ticker: p.ticker, DataType: p.dataType}); err != nil {
				t.Fatalf("put %s failed: %v", p.key, err)
			}
		}

		// Lower-case input must match the upper-cased stored form.
		deleted, err := b.InvalidateTicker(ctx, "aapl")
		if err != nil {
			t.Fatalf("invalidate failed: %v", err)
		}
		if deleted != 2 {
			t.Errorf("expected 2 deleted entries, got %d", deleted)
		}

		ok, err := b.Exists(ctx, "TSLA:price:2026-02-16")
		if err != nil {
			t.Fatalf("exists failed: %v", err)
		}
		if !ok {
			t.Error("TSLA entry should survive AAPL invalidation")
		}
	})

	t.Run("PurgeExpiredScope", func(t *testing.T) {
		b := newTestBackend(t)

		if err := b.Put(ctx, "AAPL:price:2026-02-16", []byte("{}"), time.Millisecond, PutOptions{Ticker: "AAPL", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		if err := b.Put(ctx, "TSLA:price:2026-02-16", []byte("{}"), time.Hour, PutOptions{Ticker: "TSLA", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		deleted, err := b.PurgeExpired(ctx)
		if err != nil {
			t.Fatalf("purge failed: %v", err)
		}
		if deleted < 1 {
			t.Errorf("expected at least 1 purged entry, got %d", deleted)
		}

		ok, err := b.Exists(ctx, "TSLA:price:2026-02-16")
		if err != nil {
			t.Fatalf("exists failed: %v", err)
		}
		if !ok {
			t.Error("non-expired entry should survive purge")
		}

		// Idempotent: a second purge finds nothing.
		deleted, err = b.PurgeExpired(ctx)
		if err != nil {
			t.Fatalf("second purge failed: %v", err)
		}
		if deleted != 0 {
			t.Errorf("expected 0 on repeated purge, got %d", deleted)
		}
	})

	t.Run("AutoPurgeCooldown", func(t *testing.T) {
		b := newTestBackend(t)

		if err := b.Put(ctx, "AAPL:price:2026-02-16", []byte("{}"), time.Millisecond, PutOptions{Ticker: "AAPL", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		if err := b.Put(ctx, "TSLA:price:2026-02-16", []byte("{}"), time.Hour, PutOptions{Ticker: "TSLA", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		// Pretend a sweep just ran: a read inside the cooldown leaves the
		// expired row physically in place.
		b.lastPurge.Store(time.Now().UnixNano())
		got, err := b.Get(ctx, "TSLA:price:2026-02-16")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected fresh entry to be readable")
		}
		if n := physicalRows(t, b); n != 2 {
			t.Errorf("expected 2 rows after read inside cooldown, got %d", n)
		}

		// Past the cooldown the next read reclaims the expired row.
		b.lastPurge.Store(time.Now().Add(-purgeCooldown - time.Second).UnixNano())
		if _, err := b.Get(ctx, "TSLA:price:2026-02-16"); err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if n := physicalRows(t, b); n != 1 {
			t.Errorf("expected expired row reclaimed after cooldown, got %d rows", n)
		}

		// The sweep spent the cooldown.
		if last := b.lastPurge.Load(); time.Since(time.Unix(0, last)) > time.Minute {
			t.Error("expected sweep to reset the cooldown window")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		b := newTestBackend(t)

		if err := b.Put(ctx, "TSLA:price:2026-02-16", []byte("{}"), time.Hour, PutOptions{Ticker: "tsla", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		if err := b.Put(ctx, "AAPL:price:2026-02-16", []byte("{}"), time.Hour, PutOptions{Ticker: "AAPL", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		// Market-wide entry: counted in totals, absent from tickers.
		if err := b.Put(ctx, ":vix:2026-02-16", []byte("{}"), time.Hour, PutOptions{DataType: "vix"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		// Expired entry: invisible to stats.
		if err := b.Put(ctx, "NVDA:price:2026-02-16", []byte("{}"), time.Millisecond, PutOptions{Ticker: "NVDA", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		stats, err := b.Stats(ctx)
		if err != nil {
			t.Fatalf("stats failed: %v", err)
		}
		if stats.DistinctStocks != 2 {
			t.Errorf("expected 2 distinct stocks, got %d", stats.DistinctStocks)
		}
		if stats.TotalEntries != 3 {
			t.Errorf("expected 3 valid entries, got %d", stats.TotalEntries)
		}
		if want := []string{"AAPL", "TSLA"}; !reflect.DeepEqual(stats.Tickers, want) {
			t.Errorf("expected tickers %v (case-normalized, sorted), got %v", want, stats.Tickers)
		}
	})

	t.Run("CloseTwice", func(t *testing.T) {
		b, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
		if err != nil {
			t.Fatalf("failed to create backend: %v", err)
		}
		if err := b.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		_ = b.Close() // must not panic
	})

	t.Run("ReopenSeesPersistedData", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.db")

		b, err := NewSQLite(path)
		if err != nil {
			t.Fatalf("failed to create backend: %v", err)
		}
		if err := b.Put(ctx, "AAPL:price:2026-02-16", []byte("persisted"), time.Hour, PutOptions{Ticker: "AAPL", DataType: "price"}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
		if err := b.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		reopened, err := NewSQLite(path)
		if err != nil {
			t.Fatalf("failed to reopen backend: %v", err)
		}
		defer reopened.Close()

		got, err := reopened.Get(ctx, "AAPL:price:2026-02-16")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if string(got) != "persisted" {
			t.Errorf("expected persisted payload after reopen, got %q", got)
		}
	})
}
