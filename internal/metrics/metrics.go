// Package metrics holds the central Prometheus metric definitions.
// Naming convention: margincall_{subsystem}_{metric}_{unit}. Counters are
// registered on the default registry so a host application can expose them
// with its own promhttp handler; nothing in this module serves HTTP.
package metrics

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolCalls counts tool invocations, split by whether the cache
	// answered the call.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margincall_tool_calls_total",
		Help: "Tool invocations",
	}, []string{"tool_name", "cache_hit"})

	// ToolErrors counts tool invocations that raised or returned an
	// error-status result.
	ToolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margincall_tool_errors_total",
		Help: "Tool errors",
	}, []string{"tool_name"})

	// CacheOps counts backend operations by outcome, e.g.
	// {operation="get", result="hit"} or {operation="put", result="ok"}.
	CacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margincall_cache_ops_total",
		Help: "Cache operations",
	}, []string{"operation", "result"})
)

// enabled gates collection; on by default so library consumers that never
// touch configuration still get metrics.
var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

// SetEnabled turns metric collection on or off, typically once at startup
// from configuration.
func SetEnabled(on bool) {
	enabled.Store(on)
}

// ObserveCacheOp increments the cache operation counter. Separated out so
// call sites stay one line and metric labels stay consistent.
func ObserveCacheOp(operation, result string) {
	if !enabled.Load() {
		return
	}
	CacheOps.WithLabelValues(operation, result).Inc()
}

// ObserveToolCall increments the tool invocation counter.
func ObserveToolCall(tool string, cacheHit bool) {
	if !enabled.Load() {
		return
	}
	ToolCalls.WithLabelValues(tool, strconv.FormatBool(cacheHit)).Inc()
}

// ObserveToolError increments the tool error counter.
func ObserveToolError(tool string) {
	if !enabled.Load() {
		return
	}
	ToolErrors.WithLabelValues(tool).Inc()
}
