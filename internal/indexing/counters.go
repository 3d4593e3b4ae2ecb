package indexing

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Outcome is the final state of one input record.
type Outcome struct {
	Seq int64
	ID  string
	Err error
}

// Counters accumulates record outcomes. It is safe for concurrent use.
type Counters struct {
	succeeded atomic.Int64
	failed    atomic.Int64

	track    bool
	mu       sync.Mutex
	outcomes []Outcome
}

// NewCounters creates counters. With trackRows set, every outcome is kept
// for per-row output.
func NewCounters(trackRows bool) *Counters {
	return &Counters{track: trackRows}
}

// Succeed records a written record.
func (c *Counters) Succeed(seq int64, id string) {
	c.succeeded.Add(1)
	c.record(Outcome{Seq: seq, ID: id})
}

// Fail records a record that reached a terminal failure.
func (c *Counters) Fail(seq int64, id string, err error) {
	c.failed.Add(1)
	c.record(Outcome{Seq: seq, ID: id, Err: err})
}

func (c *Counters) record(o Outcome) {
	if !c.track {
		return
	}
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()
}

// Succeeded returns the number of written records.
func (c *Counters) Succeeded() int64 {
	return c.succeeded.Load()
}

// Failed returns the number of failed records.
func (c *Counters) Failed() int64 {
	return c.failed.Load()
}

// Outcomes returns tracked outcomes ordered by sequence number.
func (c *Counters) Outcomes() []Outcome {
	c.mu.Lock()
	out := make([]Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
