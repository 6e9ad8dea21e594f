// Package truncate bounds string sizes in tool payloads before they reach
// LLM context. Very long strings (multi-thousand-line scrape snippets) blow
// token budgets and cause truncated JSON downstream, so every string in a
// decoded payload is capped and oversized ones are replaced with a short
// message that keeps the structure valid.
package truncate

import (
	"fmt"
	"log/slog"
	"unicode/utf8"
)

// MaxStringBytes is the default cap per string field. Keeps snippets and
// summaries usable while preventing single fields from dominating context.
const MaxStringBytes = 2000

// MaxErrorBytes caps captured error messages for run summaries.
const MaxErrorBytes = 500

// String truncates s to max UTF-8 bytes, appending an inline signal so a
// reader (human or model) knows content was shortened. Strings within the
// limit are returned unchanged.
func String(s string, max int) string {
	if len(s) <= max {
		return s
	}
	tail := fmt.Sprintf("... [truncated, %d chars total]", utf8.RuneCountInString(s))
	allowed := max - len(tail)
	if allowed < 0 {
		allowed = 0
	}
	cut := s[:allowed]
	// Back off a rune split by the cut point, at most one rune's width.
	// Invalid bytes earlier in s are the caller's data and stay put.
	for i := 0; i < utf8.UTFMax && len(cut) > 0; i++ {
		if r, size := utf8.DecodeLastRuneInString(cut); r != utf8.RuneError || size > 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut + tail
}

// Strings recursively walks decoded JSON values (maps, slices, scalars) and
// replaces any string over max bytes with a short message. It returns a
// deep copy plus whether anything was truncated, so tools can surface a
// truncation_applied flag in their results.
func Strings(v any, max int, tool string) (any, bool) {
	return walk(v, max, tool, "")
}

func walk(v any, max int, tool, path string) (any, bool) {
	switch val := v.(type) {
	case string:
		if len(val) <= max {
			return val, false
		}
		slog.Info("truncating oversized payload string",
			"tool", tool, "path", path, "original_bytes", len(val), "max_bytes", max)
		return fmt.Sprintf("value exceeds size limit (%d bytes, max %d) [content truncated for context limit]",
			len(val), max), true
	case map[string]any:
		out := make(map[string]any, len(val))
		truncated := false
		for k, elem := range val {
			child := k
			if path != "" {
				child = path + "." + k
			}
			e, t := walk(elem, max, tool, child)
			out[k] = e
			truncated = truncated || t
		}
		return out, truncated
	case []any:
		out := make([]any, len(val))
		truncated := false
		for i, elem := range val {
			e, t := walk(elem, max, tool, fmt.Sprintf("%s[%d]", path, i))
			out[i] = e
			truncated = truncated || t
		}
		return out, truncated
	default:
		return v, false
	}
}
