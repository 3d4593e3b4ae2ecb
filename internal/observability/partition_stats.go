// Package observability provides logging, metrics, and partition write
// statistics for the bulk write path.
package observability

import (
	"sort"
	"sync"
	"time"
)

// PartitionStats tracks write frequency per partition so operators can see
// which partitions an import is hammering.
type PartitionStats struct {
	mu     sync.RWMutex
	writes map[string]*PartitionWrites
	window time.Duration
}

// PartitionWrites holds write statistics for one partition.
type PartitionWrites struct {
	Partition string
	Batches   int64
	Items     int64
	LastSeen  time.Time
	Outcomes  map[string]int64 // outcome → item count (e.g., "ok" → 18, "terminal" → 2)
}

// NewPartitionStats creates a new partition statistics tracker.
// window: how long an idle partition is kept before Prune drops it.
func NewPartitionStats(window time.Duration) *PartitionStats {
	return &PartitionStats{
		writes: make(map[string]*PartitionWrites),
		window: window,
	}
}

// RecordBatch records one bulk request against a partition.
// outcomes maps an item outcome to the number of items with that outcome.
// This method is O(len(outcomes)) and thread-safe.
func (s *PartitionStats) RecordBatch(partition string, outcomes map[string]int64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.writes[partition]
	if !exists {
		w = &PartitionWrites{
			Partition: partition,
			Outcomes:  make(map[string]int64),
		}
		s.writes[partition] = w
	}

	w.Batches++
	w.LastSeen = time.Now()
	for outcome, n := range outcomes {
		w.Items += n
		w.Outcomes[outcome] += n
	}
}

// Top returns the n partitions with the most written items.
// Returns copies sorted by item count (descending).
func (s *PartitionStats) Top(n int) []PartitionWrites {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.writes) == 0 {
		return []PartitionWrites{}
	}

	stats := make([]PartitionWrites, 0, len(s.writes))
	for _, w := range s.writes {
		cp := *w
		cp.Outcomes = make(map[string]int64, len(w.Outcomes))
		for k, v := range w.Outcomes {
			cp.Outcomes[k] = v
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Items != stats[j].Items {
			return stats[i].Items > stats[j].Items
		}
		return stats[i].Partition < stats[j].Partition
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Len returns the number of tracked partitions.
func (s *PartitionStats) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.writes)
}

// Prune removes partitions where time.Since(LastSeen) > window.
func (s *PartitionStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for name, w := range s.writes {
		if w.LastSeen.Before(threshold) {
			delete(s.writes, name)
		}
	}
}
