package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"margincall/internal/runlog"
	"margincall/internal/truncate"
)

// FromCacheField marks a result dict as cache-sourced. Set only on hits;
// fresh fetches pass through unannotated.
const FromCacheField = "_from_cache"

// StatusField is the conventional status key of tool results. A result
// whose status is StatusError is returned to the caller but never cached,
// so transient failures cannot poison a TTL window.
const (
	StatusField = "status"
	StatusError = "error"
)

// Request carries the call-time inputs of a fetch.
//
// ForceRefresh and RealTime both bypass the cache read for this call while
// still writing the fresh result back. They are consumed by the wrapper;
// the wrapped function sees them cleared.
type Request struct {
	Ticker       string
	ForceRefresh bool
	RealTime     bool
}

// FetchFunc fetches one tool's data. Results are plain decoded JSON
// objects; a failure is either a returned error or a result with
// status "error".
type FetchFunc func(ctx context.Context, req Request) (map[string]any, error)

// CachedConfig configures one wrapped fetch function.
type CachedConfig struct {
	// Tool names the wrapped function in run logs and metrics.
	Tool string
	// DataType is the cache category, part of the key. Required.
	DataType string
	// TTL is the entry lifetime; zero means TTLDaily. Prefer the TTL
	// presets so tools with similar volatility expire together.
	TTL time.Duration
	// MarketWide marks data not scoped to a ticker (VIX, fear/greed).
	// The key's ticker segment stays empty and InvalidateTicker never
	// matches such entries.
	MarketWide bool
}

// Cached wraps fn with cache-aside semantics: check the backend first,
// call through on a miss, and persist successful results under a key built
// from ticker, data type, and today's date. Keying by calendar date bounds
// entries to same-day reuse even when the TTL is longer.
//
// The recorder may be nil. Storage failures propagate to the caller after
// being recorded; fetch errors propagate unchanged and are never cached.
func Cached(b Backend, rec *runlog.Recorder, cfg CachedConfig, fn FetchFunc) FetchFunc {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = TTLDaily
	}

	return func(ctx context.Context, req Request) (map[string]any, error) {
		ticker := ""
		if !cfg.MarketWide {
			ticker = strings.ToUpper(req.Ticker)
		}
		key := MakeKey(ticker, cfg.DataType, time.Now().Format(time.DateOnly))

		bypass := req.ForceRefresh || req.RealTime
		if !bypass {
			hit, err := GetJSON(ctx, b, key)
			if err != nil {
				rec.Record(cfg.Tool, false, err.Error())
				return nil, err
			}
			if hit != nil {
				hit[FromCacheField] = true
				rec.Record(cfg.Tool, true, "")
				return hit, nil
			}
		}

		// Flags are consumed here; the function never sees them.
		inner := req
		inner.ForceRefresh = false
		inner.RealTime = false

		result, err := fn(ctx, inner)
		if err != nil {
			rec.Record(cfg.Tool, false, err.Error())
			return nil, err
		}
		rec.Record(cfg.Tool, false, resultError(result))

		if result != nil && !isErrorResult(result) {
			if err := PutJSON(ctx, b, key, result, ttl, ticker, cfg.DataType); err != nil {
				return nil, err
			}
		}
		return result, nil
	}
}

func isErrorResult(result map[string]any) bool {
	status, _ := result[StatusField].(string)
	return status == StatusError
}

// resultError extracts a short error message from an error-status result,
// or "" for a successful one.
func resultError(result map[string]any) string {
	if !isErrorResult(result) {
		return ""
	}
	msg := result["error_message"]
	if msg == nil {
		msg = result["error"]
	}
	if msg == nil {
		return StatusError
	}
	return truncate.String(fmt.Sprint(msg), truncate.MaxErrorBytes)
}
