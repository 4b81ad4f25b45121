package gcmetrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/orizon-lang/orizon-gc/internal/gc/region"
)

func TestDisabledCollectorIsNoOp(t *testing.T) {
	c := New(false)
	c.RecordCollection(region.Gen0, time.Millisecond, 1000, 500, 100, false)

	s := c.Snapshot()
	if s.Global.TotalCollections != 0 {
		t.Fatalf("expected disabled collector to record nothing, got %+v", s.Global)
	}
}

func TestRecordCollectionUpdatesGenerationAndGlobal(t *testing.T) {
	c := New(true)
	c.RecordCollection(region.Gen0, 2*time.Millisecond, 1000, 200, 200, false)

	s := c.Snapshot()

	gm := s.Generations[region.Gen0]
	if gm.CollectionCount != 1 {
		t.Fatalf("expected 1 collection, got %d", gm.CollectionCount)
	}

	if gm.SurvivalRate != 0.2 {
		t.Fatalf("expected survival rate 0.2, got %f", gm.SurvivalRate)
	}

	if s.Global.TotalCollections != 1 || s.Global.TotalPauseTime != 2*time.Millisecond {
		t.Fatalf("expected global totals updated, got %+v", s.Global)
	}
}

func TestRecordCollectionInducedCountsSeparately(t *testing.T) {
	c := New(true)
	c.RecordCollection(region.Gen1, time.Millisecond, 100, 50, 50, true)

	s := c.Snapshot()
	if s.Global.InducedCollections != 1 {
		t.Fatalf("expected 1 induced collection, got %d", s.Global.InducedCollections)
	}
}

func TestHealthScoreDropsOnFailedAllocation(t *testing.T) {
	c := New(true)
	c.RecordCollection(region.Gen0, time.Millisecond, 100, 50, 50, false)

	before := c.Snapshot().Global.HealthScore

	c.RecordFailedAllocation()

	after := c.Snapshot().Global.HealthScore
	if after >= before {
		t.Fatalf("expected health score to drop after a failed allocation, before=%f after=%f", before, after)
	}
}

func TestExportFlattensGenerationsAndGlobals(t *testing.T) {
	c := New(true)
	c.RecordCollection(region.Gen2, time.Millisecond, 1000, 100, 900, false)
	c.UpdateHeapSize(4096)
	c.UpdateHandleCount(7)
	c.UpdateFinalizationQueueDepth(2, 1)

	out := c.Export()

	if out["heap_size_bytes"] != 4096 {
		t.Fatalf("expected heap_size_bytes=4096, got %v", out["heap_size_bytes"])
	}

	if out["handle_count"] != 7 {
		t.Fatalf("expected handle_count=7, got %v", out["handle_count"])
	}

	if _, ok := out["gen2_collection_count"]; !ok {
		t.Fatalf("expected a gen2_collection_count key in export, got keys %v", out)
	}
}

func TestStartMetricsServerServesExposition(t *testing.T) {
	c := New(true)
	c.RecordCollection(region.Gen0, time.Millisecond, 100, 10, 90, false)

	addr, stop, err := StartMetricsServer("127.0.0.1:0", map[string]MetricFunc{"gc": c.Export})
	if err != nil {
		t.Fatalf("StartMetricsServer: %v", err)
	}
	defer stop(context.Background())

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		t.Fatalf("expected non-empty metrics body")
	}
}

func TestSanitizeMetricTokenReplacesInvalidChars(t *testing.T) {
	if got := sanitizeMetricToken("gc-heap.size"); got != "gc_heap_size" {
		t.Fatalf("expected sanitized token, got %q", got)
	}
}
