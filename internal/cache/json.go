package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"
)

// GetJSON retrieves and decodes a JSON payload from the backend. A missing
// or expired entry returns (nil, nil). A payload that is not a valid JSON
// object is treated as a miss and the corrupt entry is deleted so it cannot
// recur; decode failures never surface to the caller.
func GetJSON(ctx context.Context, b Backend, key string) (map[string]any, error) {
	raw, err := b.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	// gjson both gates and decodes: ValidBytes rejects malformed payloads
	// (ParseBytes alone is lenient about trailing garbage), and Value()
	// yields the decoded object for anything that passes.
	if !gjson.ValidBytes(raw) {
		return nil, dropCorrupt(ctx, b, key)
	}
	decoded, ok := gjson.ParseBytes(raw).Value().(map[string]any)
	if !ok {
		return nil, dropCorrupt(ctx, b, key)
	}
	return decoded, nil
}

// dropCorrupt removes an undecodable entry. The deletion itself is best
// effort; a failure leaves the entry to be purged at expiry.
func dropCorrupt(ctx context.Context, b Backend, key string) error {
	slog.Warn("cache entry is not valid JSON, deleting", "key", key)
	if err := b.Delete(ctx, key); err != nil {
		slog.Warn("failed to delete corrupt cache entry", "key", key, "error", err)
	}
	return nil
}

// PutJSON encodes data and stores it under key with the given TTL.
// Values the encoder cannot represent (channels, functions, NaN) are
// replaced with their string form rather than failing the whole payload.
func PutJSON(ctx context.Context, b Backend, key string, data map[string]any, ttl time.Duration, ticker, dataType string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		raw, err = json.Marshal(stringifyUnencodable(data))
		if err != nil {
			return fmt.Errorf("cache put json %s: %w", key, err)
		}
	}
	return b.Put(ctx, key, raw, ttl, PutOptions{
		Ticker:   ticker,
		DataType: dataType,
		MimeType: DefaultMimeType,
	})
}

// stringifyUnencodable returns a copy of v with every value the JSON
// encoder rejects replaced by fmt.Sprint of that value.
func stringifyUnencodable(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = stringifyUnencodable(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = stringifyUnencodable(elem)
		}
		return out
	default:
		if _, err := json.Marshal(val); err != nil {
			return fmt.Sprint(val)
		}
		return val
	}
}
