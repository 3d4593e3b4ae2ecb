package indexing

import (
	"testing"

	"github.com/arkilian/bulkindex/internal/partition"
)

func TestAccumulator_FlushesAtBulkSize(t *testing.T) {
	acc := NewAccumulator(3)
	a := partition.NewIdent("t", []any{"a"})
	b := partition.NewIdent("t", []any{"b"})

	if got := acc.Add(a, WriteOp{Seq: 0}); got != nil {
		t.Fatalf("unexpected flush after 1 op: %v", got)
	}
	if got := acc.Add(b, WriteOp{Seq: 1}); got != nil {
		t.Fatalf("unexpected flush after 2 ops: %v", got)
	}
	batches := acc.Add(a, WriteOp{Seq: 2})
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}

	if batches[0].Partition.Name != a.Name || batches[1].Partition.Name != b.Name {
		t.Error("batches should follow first-seen partition order")
	}
	if len(batches[0].Ops) != 2 || batches[0].Ops[0].Seq != 0 || batches[0].Ops[1].Seq != 2 {
		t.Errorf("unexpected ops for partition a: %+v", batches[0].Ops)
	}
	if acc.Len() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", acc.Len())
	}
}

func TestAccumulator_FinalFlush(t *testing.T) {
	acc := NewAccumulator(20)
	if acc.Flush() != nil {
		t.Error("empty flush should return nil")
	}

	id := partition.NewIdent("t", nil)
	for i := 0; i < 5; i++ {
		acc.Add(id, WriteOp{Seq: int64(i)})
	}
	batches := acc.Flush()
	if len(batches) != 1 || len(batches[0].Ops) != 5 {
		t.Fatalf("expected one partial batch of 5, got %+v", batches)
	}
	if acc.Flush() != nil {
		t.Error("second flush should return nil")
	}
}

func TestAccumulator_DefaultBulkSize(t *testing.T) {
	acc := NewAccumulator(0)
	id := partition.NewIdent("t", nil)
	flushes := 0
	for i := 0; i < 2*DefaultBulkSize; i++ {
		if batches := acc.Add(id, WriteOp{Seq: int64(i)}); batches != nil {
			flushes++
			if len(batches[0].Ops) != DefaultBulkSize {
				t.Errorf("expected batch of %d, got %d", DefaultBulkSize, len(batches[0].Ops))
			}
		}
	}
	if flushes != 2 {
		t.Errorf("expected 2 flushes, got %d", flushes)
	}
}
