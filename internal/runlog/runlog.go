// Package runlog records which tools ran during a single research run,
// whether the cache answered them, and what failed. The runner creates one
// Recorder per run and passes it down the call chain; the cache wrapper and
// tools record into it, and the run summary reads it back at the end.
package runlog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"margincall/internal/metrics"
	"margincall/internal/truncate"
)

// Execution is one recorded tool run.
type Execution struct {
	Tool     string `json:"tool"`
	CacheHit bool   `json:"cache_hit"`
	// Error is set when the tool raised or returned an error-status
	// result; capped at truncate.MaxErrorBytes.
	Error string `json:"error,omitempty"`
}

// Recorder is a run-scoped execution registry. Safe for concurrent use;
// a nil Recorder is valid and records nothing, so callers that do not care
// about run summaries can pass nil.
type Recorder struct {
	id      string
	started time.Time

	mu    sync.Mutex
	execs []Execution
}

// NewRecorder starts a registry for one run.
func NewRecorder() *Recorder {
	return &Recorder{
		id:      uuid.NewString(),
		started: time.Now(),
	}
}

// RunID returns the unique identifier of this run.
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.id
}

// Record notes that a tool ran: answered from cache, executed cleanly, or
// executed and failed (errMsg set). Recording never fails; it must never
// affect the correctness of the recorded operation.
func (r *Recorder) Record(tool string, cacheHit bool, errMsg string) {
	metrics.ObserveToolCall(tool, cacheHit)
	if errMsg != "" {
		metrics.ObserveToolError(tool)
	}
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs = append(r.execs, Execution{
		Tool:     tool,
		CacheHit: cacheHit,
		Error:    truncate.String(errMsg, truncate.MaxErrorBytes),
	})
}

// RecordError notes that a tool was called and failed. Convenience for
// non-cached tools.
func (r *Recorder) RecordError(tool, msg string) {
	r.Record(tool, false, msg)
}

// Executions returns a copy of the recorded executions in order.
func (r *Recorder) Executions() []Execution {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Execution, len(r.execs))
	copy(out, r.execs)
	return out
}

// Summary aggregates a run for end-of-run reporting.
type Summary struct {
	RunID     string        `json:"run_id"`
	Duration  time.Duration `json:"duration"`
	ToolCalls int           `json:"tool_calls"`
	CacheHits int           `json:"cache_hits"`
	Errors    int           `json:"errors"`
}

// Summary computes the aggregate view of the run so far.
func (r *Recorder) Summary() Summary {
	if r == nil {
		return Summary{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		RunID:     r.id,
		Duration:  time.Since(r.started),
		ToolCalls: len(r.execs),
	}
	for _, e := range r.execs {
		if e.CacheHit {
			s.CacheHits++
		}
		if e.Error != "" {
			s.Errors++
		}
	}
	return s
}

// Log writes the run summary through the default logger.
func (r *Recorder) Log() {
	s := r.Summary()
	slog.Info("run summary",
		"run_id", s.RunID,
		"duration", s.Duration,
		"tool_calls", s.ToolCalls,
		"cache_hits", s.CacheHits,
		"errors", s.Errors,
	)
}
