package shard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/arkilian/bulkindex/internal/bulk"
	bulkerr "github.com/arkilian/bulkindex/internal/errors"
)

const testPartition = ".partitioned.countries.0"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "shard.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.CreatePartitions(context.Background(), "countries", []string{testPartition}); err != nil {
		t.Fatalf("failed to create partition: %v", err)
	}
	return s
}

func item(id, source string) bulk.Item {
	return bulk.Item{ID: id, Source: []byte(source)}
}

func TestStore_BulkWriteAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	results, err := s.BulkWrite(ctx, &bulk.Request{
		Table:     "countries",
		Partition: testPartition,
		Items: []bulk.Item{
			item("GER", `{"Code":"GER","Country":"Germany"}`),
			item("FRA", `{"Code":"FRA","Country":"France"}`),
		},
	})
	if err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}
	for i, r := range results {
		if !r.OK() {
			t.Errorf("item %d: got %v %s", i, r.Status, r.Reason)
		}
	}

	doc, err := s.Get(ctx, testPartition, "GER", "")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(doc.Source) != `{"Code":"GER","Country":"Germany"}` {
		t.Errorf("unexpected source %s", doc.Source)
	}
	if doc.Version != 1 {
		t.Errorf("expected version 1, got %d", doc.Version)
	}

	n, err := s.Count(ctx, testPartition)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 documents, got %d", n)
	}
}

func TestStore_DuplicateIDRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := &bulk.Request{Table: "countries", Partition: testPartition, Items: []bulk.Item{item("GER", `{"v":1}`)}}
	if _, err := s.BulkWrite(ctx, req); err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}

	req.Items = []bulk.Item{item("GER", `{"v":2}`)}
	results, err := s.BulkWrite(ctx, req)
	if err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}
	if results[0].Status != bulk.StatusTerminal || results[0].Code != bulkerr.CodeVersionConflict {
		t.Fatalf("expected terminal version conflict, got %+v", results[0])
	}

	doc, _ := s.Get(ctx, testPartition, "GER", "")
	if string(doc.Source) != `{"v":1}` {
		t.Errorf("rejected write must not change the document, got %s", doc.Source)
	}
}

func TestStore_Overwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := &bulk.Request{Table: "countries", Partition: testPartition, Overwrite: true}
	for _, v := range []string{`{"v":1}`, `{"v":2}`, `{"v":3}`} {
		req.Items = []bulk.Item{item("GER", v)}
		results, err := s.BulkWrite(ctx, req)
		if err != nil {
			t.Fatalf("BulkWrite failed: %v", err)
		}
		if !results[0].OK() {
			t.Fatalf("overwrite failed: %+v", results[0])
		}
	}

	doc, err := s.Get(ctx, testPartition, "GER", "")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(doc.Source) != `{"v":3}` || doc.Version != 3 {
		t.Errorf("got %s version %d, want {\"v\":3} version 3", doc.Source, doc.Version)
	}
}

func TestStore_VersionedWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := &bulk.Request{Table: "countries", Partition: testPartition, Items: []bulk.Item{item("GER", `{"v":1}`)}}
	if _, err := s.BulkWrite(ctx, req); err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}

	stale := int64(7)
	current := int64(1)
	req.Items = []bulk.Item{
		{ID: "GER", Source: []byte(`{"v":"stale"}`), Version: &stale},
	}
	results, _ := s.BulkWrite(ctx, req)
	if results[0].Code != bulkerr.CodeVersionConflict {
		t.Fatalf("expected version conflict for stale version, got %+v", results[0])
	}

	req.Items = []bulk.Item{
		{ID: "GER", Source: []byte(`{"v":2}`), Version: &current},
	}
	results, _ = s.BulkWrite(ctx, req)
	if !results[0].OK() {
		t.Fatalf("expected versioned write to apply, got %+v", results[0])
	}

	doc, _ := s.Get(ctx, testPartition, "GER", "")
	if doc.Version != 2 {
		t.Errorf("expected version 2, got %d", doc.Version)
	}
}

func TestStore_PerItemFailuresDoNotAffectOthers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	results, err := s.BulkWrite(ctx, &bulk.Request{
		Table:     "countries",
		Partition: testPartition,
		Items: []bulk.Item{
			item("a", `{"ok":true}`),
			item("b", `{not json`),
			item("", `{"ok":true}`),
			item("c", `{"ok":true}`),
		},
	})
	if err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}

	want := []bulk.Status{bulk.StatusOK, bulk.StatusTerminal, bulk.StatusTerminal, bulk.StatusOK}
	for i, r := range results {
		if r.Status != want[i] {
			t.Errorf("item %d: got %v, want %v", i, r.Status, want[i])
		}
	}
	if results[1].Code != bulkerr.CodeDocumentMalformed {
		t.Errorf("expected DOCUMENT_MALFORMED, got %s", results[1].Code)
	}
	if n, _ := s.Count(ctx, testPartition); n != 2 {
		t.Errorf("expected 2 documents, got %d", n)
	}
}

func TestStore_UnknownPartition(t *testing.T) {
	s := openTestStore(t)

	results, err := s.BulkWrite(context.Background(), &bulk.Request{
		Table:     "countries",
		Partition: ".partitioned.countries.missing",
		Items:     []bulk.Item{item("a", `{}`), item("b", `{}`)},
	})
	if err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}
	for i, r := range results {
		if r.Status != bulk.StatusTerminal || r.Code != bulkerr.CodePartitionNotFound {
			t.Errorf("item %d: expected PARTITION_NOT_FOUND, got %+v", i, r)
		}
	}
}

func TestStore_CreatePartitionsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.CreatePartitions(ctx, "countries", []string{testPartition, ".partitioned.countries.1"}); err != nil {
			t.Fatalf("CreatePartitions attempt %d failed: %v", i, err)
		}
	}

	names, err := s.Partitions(ctx, "countries")
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 partitions, got %v", names)
	}
}

func TestStore_PartitionsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard.db")
	ctx := context.Background()

	s, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.CreatePartitions(ctx, "countries", []string{testPartition}); err != nil {
		t.Fatalf("CreatePartitions failed: %v", err)
	}
	s.Close()

	s, err = Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	results, err := s.BulkWrite(ctx, &bulk.Request{Table: "countries", Partition: testPartition, Items: []bulk.Item{item("a", `{}`)}})
	if err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}
	if !results[0].OK() {
		t.Errorf("partition should be known after reopen, got %+v", results[0])
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), testPartition, "nope", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_RoutingSelectsShard(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := make([]bulk.Item, 20)
	for i := range items {
		items[i] = bulk.Item{ID: fmt.Sprintf("doc-%d", i), Routing: "tenant-1", Source: []byte(`{}`)}
	}
	if _, err := s.BulkWrite(ctx, &bulk.Request{Table: "countries", Partition: testPartition, Items: items}); err != nil {
		t.Fatalf("BulkWrite failed: %v", err)
	}

	counts, err := s.ShardCounts(ctx, testPartition)
	if err != nil {
		t.Fatalf("ShardCounts failed: %v", err)
	}
	want := s.shardFor("tenant-1")
	for i, n := range counts {
		if i == want && n != 20 {
			t.Errorf("shard %d: expected 20 documents, got %d", i, n)
		}
		if i != want && n != 0 {
			t.Errorf("shard %d: expected no documents, got %d", i, n)
		}
	}

	if _, err := s.Get(ctx, testPartition, "doc-3", "tenant-1"); err != nil {
		t.Errorf("Get with routing failed: %v", err)
	}
}

// Property: shard selection is deterministic and always in range.
func TestProperty_ShardForInRange(t *testing.T) {
	s := &Store{shards: DefaultShardCount}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("shard index is stable and in range", prop.ForAll(
		func(key string) bool {
			i := s.shardFor(key)
			return i >= 0 && i < DefaultShardCount && i == s.shardFor(key)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
