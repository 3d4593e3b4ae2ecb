package partition

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arkilian/bulkindex/internal/bulk"
	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/arkilian/bulkindex/internal/observability"
)

// Config configures a Resolver.
type Config struct {
	// KnownCapacity bounds the number of partitions remembered as existing.
	KnownCapacity int

	// CreateTimeout bounds one creation request. Zero means no limit.
	CreateTimeout time.Duration

	Logger  *zap.Logger
	Metrics *observability.IngestMetrics
}

// Resolver maps partition values to identities and makes sure the target
// partitions exist. It is safe for concurrent use.
type Resolver struct {
	creator bulk.PartitionCreator
	known   *knownSet
	group   singleflight.Group
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.IngestMetrics

	creations atomic.Int64
}

// NewResolver creates a resolver that creates partitions through creator.
func NewResolver(creator bulk.PartitionCreator, cfg Config) *Resolver {
	return &Resolver{
		creator: creator,
		known:   newKnownSet(cfg.KnownCapacity),
		timeout: cfg.CreateTimeout,
		logger:  observability.OrNop(cfg.Logger),
		metrics: cfg.Metrics,
	}
}

// Resolve returns the identity for values of table. It performs no I/O.
func (r *Resolver) Resolve(table string, values []any) Ident {
	return NewIdent(table, values)
}

// EnsureExists returns once the partition of id exists. Concurrent callers
// for the same partition share a single creation request and all observe
// its outcome. A failed creation is not remembered, so a later call tries
// again.
func (r *Resolver) EnsureExists(ctx context.Context, id Ident) error {
	if r.known.Contains(id.Name) {
		return nil
	}

	// The shared request must not die with whichever caller started it.
	createCtx := context.WithoutCancel(ctx)

	ch := r.group.DoChan(id.Name, func() (interface{}, error) {
		if r.known.Contains(id.Name) {
			return nil, nil
		}

		cctx := createCtx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(createCtx, r.timeout)
			defer cancel()
		}

		r.creations.Add(1)
		if err := r.creator.CreatePartitions(cctx, id.Table, []string{id.Name}); err != nil {
			r.logger.Warn("partition creation failed",
				zap.String("table", id.Table),
				zap.String("partition", id.Name),
				zap.Error(err))
			return nil, bulkerr.NewPartitionCreationError(id.Name, err)
		}

		r.known.Add(id.Name)
		r.metrics.PartitionCreated()
		r.logger.Debug("partition created",
			zap.String("table", id.Table),
			zap.String("partition", id.Name))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Known reports whether the partition is remembered as existing.
func (r *Resolver) Known(name string) bool {
	return r.known.Contains(name)
}

// Creations returns the number of creation requests issued.
func (r *Resolver) Creations() int64 {
	return r.creations.Load()
}
