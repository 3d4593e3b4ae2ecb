package indexing

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	bulkerr "github.com/arkilian/bulkindex/internal/errors"
)

// Budget bounds the number of outstanding bulk jobs. One Budget may be shared
// by several projectors to cap the load a node puts on the cluster.
type Budget struct {
	sem      *semaphore.Weighted
	capacity int64
	timeout  time.Duration
	inFlight atomic.Int64
}

// NewBudget creates a budget of capacity slots. A positive acquireTimeout
// bounds how long Acquire waits.
func NewBudget(capacity int, acquireTimeout time.Duration) *Budget {
	if capacity <= 0 {
		capacity = 1
	}
	return &Budget{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
		timeout:  acquireTimeout,
	}
}

// Acquire blocks until a slot is free. It returns ctx.Err() when ctx ends
// first, or a budget timeout error when the acquire timeout elapses.
func (b *Budget) Acquire(ctx context.Context) error {
	actx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	if err := b.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return bulkerr.NewBudgetTimeoutError(err)
	}
	b.inFlight.Add(1)
	return nil
}

// Release frees a slot taken by Acquire.
func (b *Budget) Release() {
	if b.inFlight.Add(-1) < 0 {
		panic("indexing: budget released more than acquired")
	}
	b.sem.Release(1)
}

// InFlight returns the number of held slots.
func (b *Budget) InFlight() int64 {
	return b.inFlight.Load()
}

// Capacity returns the number of slots.
func (b *Budget) Capacity() int64 {
	return b.capacity
}
