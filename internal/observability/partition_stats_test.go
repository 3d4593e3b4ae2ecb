package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordBatchConcurrent tests concurrent RecordBatch calls for race conditions.
func TestRecordBatchConcurrent(t *testing.T) {
	ps := NewPartitionStats(1 * time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	batchesPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < batchesPerGoroutine; j++ {
				ps.RecordBatch("p1", map[string]int64{"ok": 2})
				ps.RecordBatch("p2", map[string]int64{"ok": 1, "terminal": 1})
			}
		}()
	}
	wg.Wait()

	top := ps.Top(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(top))
	}

	expectedBatches := int64(numGoroutines * batchesPerGoroutine)
	for _, w := range top {
		if w.Batches != expectedBatches {
			t.Errorf("expected %d batches for %s, got %d", expectedBatches, w.Partition, w.Batches)
		}
	}
	if top[0].Partition != "p1" || top[0].Items != 2*expectedBatches {
		t.Errorf("unexpected top partition %+v", top[0])
	}
	if top[1].Outcomes["terminal"] != expectedBatches {
		t.Errorf("expected %d terminal items on p2, got %d", expectedBatches, top[1].Outcomes["terminal"])
	}
}

// TestTopReturnsCopies tests that callers cannot mutate tracked state.
func TestTopReturnsCopies(t *testing.T) {
	ps := NewPartitionStats(1 * time.Hour)
	ps.RecordBatch("p1", map[string]int64{"ok": 1})

	top := ps.Top(1)
	top[0].Outcomes["ok"] = 100

	if got := ps.Top(1)[0].Outcomes["ok"]; got != 1 {
		t.Errorf("tracked outcome changed through copy: %d", got)
	}
}

// TestTopEdgeCases tests empty trackers and non-positive n.
func TestTopEdgeCases(t *testing.T) {
	ps := NewPartitionStats(1 * time.Hour)
	if len(ps.Top(5)) != 0 {
		t.Error("expected empty result for empty tracker")
	}
	ps.RecordBatch("p1", nil)
	if len(ps.Top(0)) != 0 {
		t.Error("expected empty result for n=0")
	}
	if len(ps.Top(5)) != 1 {
		t.Error("expected n to be capped at tracked count")
	}
}

// TestPrune tests that idle partitions are dropped.
func TestPrune(t *testing.T) {
	ps := NewPartitionStats(50 * time.Millisecond)
	ps.RecordBatch("old", map[string]int64{"ok": 1})
	time.Sleep(100 * time.Millisecond)
	ps.RecordBatch("new", map[string]int64{"ok": 1})

	ps.Prune()

	if ps.Len() != 1 {
		t.Fatalf("expected 1 partition after prune, got %d", ps.Len())
	}
	if ps.Top(1)[0].Partition != "new" {
		t.Error("expected the recent partition to survive prune")
	}
}

func TestNilPartitionStats(t *testing.T) {
	var ps *PartitionStats
	ps.RecordBatch("p1", map[string]int64{"ok": 1})
}
