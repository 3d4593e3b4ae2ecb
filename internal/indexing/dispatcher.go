package indexing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkilian/bulkindex/internal/bulk"
	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/arkilian/bulkindex/internal/observability"
	"github.com/arkilian/bulkindex/internal/partition"
)

// job is one batch moving through the dispatch state machine. It holds a
// budget slot from Dispatch until every one of its operations is terminal.
type job struct {
	id      string
	batch   *Batch
	attempt int
	backoff *backoff.ExponentialBackOff
	cause   error
}

// dispatcher executes bulk jobs on a fixed worker pool and retries
// retryable items on timers, so no worker is held while a job waits.
type dispatcher struct {
	ctx      context.Context
	table    string
	cfg      Config
	writer   bulk.Writer
	resolver *partition.Resolver
	budget   *Budget
	counters *Counters
	logger   *zap.Logger
	metrics  *observability.IngestMetrics
	stats    *observability.PartitionStats

	tasks   chan *job
	jobs    sync.WaitGroup
	workers sync.WaitGroup

	mu      sync.Mutex
	timers  map[*job]*time.Timer
	aborted error
}

func newDispatcher(ctx context.Context, p *Projector, counters *Counters) *dispatcher {
	d := &dispatcher{
		ctx:      ctx,
		table:    p.table,
		cfg:      p.cfg,
		writer:   p.writer,
		resolver: p.resolver,
		budget:   p.budget,
		counters: counters,
		logger:   p.logger,
		metrics:  p.metrics,
		stats:    p.stats,
		tasks:    make(chan *job),
		timers:   make(map[*job]*time.Timer),
	}
	for i := 0; i < d.cfg.Workers; i++ {
		d.workers.Add(1)
		go d.work()
	}
	return d
}

// Dispatch waits for an in-flight slot and hands b to the worker pool.
// An error means b was not dispatched.
func (d *dispatcher) Dispatch(ctx context.Context, b *Batch) error {
	if err := d.budget.Acquire(ctx); err != nil {
		return err
	}
	d.metrics.SetInFlight(d.budget.InFlight())
	d.jobs.Add(1)

	j := &job{
		id:      uuid.NewString(),
		batch:   b,
		backoff: d.newBackOff(),
	}
	d.submit(j)
	return nil
}

func (d *dispatcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.Retry.InitialBackoff
	b.MaxInterval = d.cfg.Retry.MaxBackoff
	b.Multiplier = d.cfg.Retry.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (d *dispatcher) submit(j *job) {
	select {
	case d.tasks <- j:
	case <-d.ctx.Done():
		d.failOps(j.batch.Ops, d.ctx.Err())
		d.finish(j)
	}
}

func (d *dispatcher) work() {
	defer d.workers.Done()
	for j := range d.tasks {
		d.run(j)
	}
}

// run sends one attempt of j and classifies the per-item results.
func (d *dispatcher) run(j *job) {
	ops := j.batch.Ops
	if err := d.ctx.Err(); err != nil {
		d.failOps(ops, err)
		d.finish(j)
		return
	}

	if err := d.resolver.EnsureExists(d.ctx, j.batch.Partition); err != nil {
		d.failOps(ops, err)
		d.finish(j)
		return
	}

	req := &bulk.Request{
		Table:     d.table,
		Partition: j.batch.Partition.Name,
		Items:     make([]bulk.Item, len(ops)),
		Overwrite: d.cfg.ConflictPolicy == ConflictOverwrite,
	}
	for i, op := range ops {
		req.Items[i] = bulk.Item{
			Seq:     op.Seq,
			ID:      op.ID,
			Routing: op.Routing,
			Source:  op.Source,
			Version: op.Version,
		}
	}

	start := time.Now()
	results, err := d.writer.BulkWrite(d.ctx, req)
	elapsed := time.Since(start).Seconds()

	var retry []WriteOp
	var hint time.Duration
	outcomes := make(map[string]int64, 3)

	switch {
	case err != nil && bulkerr.IsRetryable(err):
		d.metrics.BulkRequest("retry", elapsed)
		retry = ops
		hint = bulkerr.RetryAfter(err)
		j.cause = err
		outcomes[bulk.StatusRetryable.String()] = int64(len(ops))

	case err != nil:
		d.metrics.BulkRequest("error", elapsed)
		d.logger.Warn("bulk request failed",
			zap.String("job", j.id),
			zap.String("partition", req.Partition),
			zap.Int("items", len(ops)),
			zap.Error(err))
		d.failOps(ops, err)
		outcomes[bulk.StatusTerminal.String()] = int64(len(ops))

	case len(results) != len(ops):
		d.metrics.BulkRequest("error", elapsed)
		err = bulkerr.NewInternalError(
			fmt.Sprintf("bulk response has %d results for %d items", len(results), len(ops)), nil)
		d.failOps(ops, err)
		outcomes[bulk.StatusTerminal.String()] = int64(len(ops))

	default:
		d.metrics.BulkRequest("ok", elapsed)
		for i, res := range results {
			op := ops[i]
			outcomes[res.Status.String()]++
			switch res.Status {
			case bulk.StatusOK:
				d.counters.Succeed(op.Seq, op.ID)
				d.metrics.RowsDone(1, 0)
			case bulk.StatusRetryable:
				retry = append(retry, op)
				j.cause = bulkerr.NewRetryableWriteError(itemCode(res, bulkerr.CodeRejected), res.Reason, nil)
			default:
				d.failOp(op, bulkerr.NewTerminalWriteError(itemCode(res, bulkerr.CodeDocumentMalformed), res.Reason, nil))
			}
		}
	}
	d.stats.RecordBatch(req.Partition, outcomes)

	if len(retry) > 0 {
		d.scheduleRetry(j, retry, hint)
		return
	}
	d.finish(j)
}

func itemCode(res bulk.ItemResult, fallback string) string {
	if res.Code != "" {
		return res.Code
	}
	return fallback
}

// scheduleRetry re-submits ops after a backoff delay, or fails them once the
// retry limit is reached.
func (d *dispatcher) scheduleRetry(j *job, ops []WriteOp, hint time.Duration) {
	delay := j.backoff.NextBackOff()
	if j.attempt >= d.cfg.Retry.MaxRetries || delay == backoff.Stop {
		err := bulkerr.NewTerminalWriteError(bulkerr.CodeRetriesExhausted,
			fmt.Sprintf("gave up after %d attempts", j.attempt+1), j.cause)
		d.failOps(ops, err)
		d.finish(j)
		return
	}
	if hint > delay {
		delay = hint
	}
	if ceiling := d.cfg.Retry.MaxBackoff; ceiling > 0 && delay > ceiling {
		delay = ceiling
	}

	j.attempt++
	j.batch = &Batch{Partition: j.batch.Partition, Ops: ops}
	d.metrics.Retry(len(ops))

	d.mu.Lock()
	if d.aborted != nil {
		err := d.aborted
		d.mu.Unlock()
		d.failOps(ops, err)
		d.finish(j)
		return
	}
	d.timers[j] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if _, ok := d.timers[j]; !ok {
			// Abort took ownership of the job.
			d.mu.Unlock()
			return
		}
		delete(d.timers, j)
		d.mu.Unlock()
		d.submit(j)
	})
	d.mu.Unlock()

	d.logger.Debug("bulk retry scheduled",
		zap.String("job", j.id),
		zap.String("partition", j.batch.Partition.Name),
		zap.Int("items", len(ops)),
		zap.Int("attempt", j.attempt),
		zap.Duration("delay", delay))
}

// Abort stops pending retry timers and fails their items with err. Running
// attempts end on their own once the dispatch context is cancelled.
func (d *dispatcher) Abort(err error) {
	d.mu.Lock()
	if d.aborted == nil {
		d.aborted = err
	}
	timers := d.timers
	d.timers = make(map[*job]*time.Timer)
	d.mu.Unlock()

	for j, t := range timers {
		t.Stop()
		d.failOps(j.batch.Ops, err)
		d.finish(j)
	}
}

// Close waits until every dispatched job is terminal and stops the workers.
func (d *dispatcher) Close() {
	d.jobs.Wait()
	close(d.tasks)
	d.workers.Wait()
}

func (d *dispatcher) failOps(ops []WriteOp, err error) {
	for _, op := range ops {
		d.failOp(op, err)
	}
}

func (d *dispatcher) failOp(op WriteOp, err error) {
	d.counters.Fail(op.Seq, op.ID, err)
	d.metrics.RowsDone(0, 1)
}

// finish moves j to a terminal state and releases its budget slot.
func (d *dispatcher) finish(j *job) {
	d.budget.Release()
	d.metrics.SetInFlight(d.budget.InFlight())
	d.jobs.Done()
}
