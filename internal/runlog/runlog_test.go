package runlog

import (
	"strings"
	"sync"
	"testing"

	"margincall/internal/truncate"
)

func TestRecorder(t *testing.T) {
	t.Run("RecordsInOrder", func(t *testing.T) {
		r := NewRecorder()
		r.Record("fetch_stock_price", false, "")
		r.Record("fetch_stock_price", true, "")
		r.RecordError("fetch_options", "upstream 503")

		execs := r.Executions()
		if len(execs) != 3 {
			t.Fatalf("expected 3 executions, got %d", len(execs))
		}
		if execs[0].CacheHit || !execs[1].CacheHit {
			t.Errorf("cache hit flags wrong: %+v", execs)
		}
		if execs[2].Error != "upstream 503" {
			t.Errorf("expected error recorded, got %q", execs[2].Error)
		}
	})

	t.Run("Summary", func(t *testing.T) {
		r := NewRecorder()
		r.Record("a", true, "")
		r.Record("b", false, "")
		r.Record("c", false, "boom")

		s := r.Summary()
		if s.RunID == "" {
			t.Error("expected a run ID")
		}
		if s.ToolCalls != 3 || s.CacheHits != 1 || s.Errors != 1 {
			t.Errorf("unexpected summary: %+v", s)
		}
	})

	t.Run("CapsErrorMessages", func(t *testing.T) {
		r := NewRecorder()
		r.Record("a", false, strings.Repeat("x", 10_000))

		execs := r.Executions()
		if got := len(execs[0].Error); got > truncate.MaxErrorBytes {
			t.Errorf("error message not capped: %d bytes", got)
		}
	})

	t.Run("NilRecorderIsSafe", func(t *testing.T) {
		var r *Recorder
		r.Record("a", false, "")
		r.RecordError("b", "boom")
		if execs := r.Executions(); execs != nil {
			t.Errorf("expected nil executions, got %v", execs)
		}
		if s := r.Summary(); s.ToolCalls != 0 {
			t.Errorf("expected zero summary, got %+v", s)
		}
		if id := r.RunID(); id != "" {
			t.Errorf("expected empty run ID, got %q", id)
		}
	})

	t.Run("ConcurrentRecording", func(t *testing.T) {
		r := NewRecorder()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Record("fetch_stock_price", false, "")
			}()
		}
		wg.Wait()
		if got := len(r.Executions()); got != 50 {
			t.Errorf("expected 50 executions, got %d", got)
		}
	})

	t.Run("DistinctRunIDs", func(t *testing.T) {
		if NewRecorder().RunID() == NewRecorder().RunID() {
			t.Error("expected distinct run IDs")
		}
	})
}
