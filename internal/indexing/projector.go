package indexing

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/arkilian/bulkindex/internal/bulk"
	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/arkilian/bulkindex/internal/observability"
	"github.com/arkilian/bulkindex/internal/partition"
	"github.com/arkilian/bulkindex/pkg/types"
)

// Deps are the collaborators of a Projector.
type Deps struct {
	Writer   bulk.Writer
	Resolver *partition.Resolver

	// Budget is shared between projectors. When nil the projector creates
	// one from Config.MaxInFlight and Config.AcquireTimeout.
	Budget *Budget

	Logger  *zap.Logger
	Metrics *observability.IngestMetrics
	Stats   *observability.PartitionStats
}

// Projector writes every record of an input sequence into a table and
// turns the outcomes into an output sequence.
type Projector struct {
	table     string
	cfg       Config
	evaluator *RowEvaluator
	writer    bulk.Writer
	resolver  *partition.Resolver
	budget    *Budget
	logger    *zap.Logger
	metrics   *observability.IngestMetrics
	stats     *observability.PartitionStats
}

// NewProjector creates a projector writing into table.
func NewProjector(table string, exprs Expressions, cfg Config, deps Deps) (*Projector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Writer == nil || deps.Resolver == nil {
		return nil, errors.New("indexing: projector needs a writer and a resolver")
	}
	cfg = cfg.withDefaults()

	budget := deps.Budget
	if budget == nil {
		budget = NewBudget(cfg.MaxInFlight, cfg.AcquireTimeout)
	}

	return &Projector{
		table:     table,
		cfg:       cfg,
		evaluator: NewRowEvaluator(exprs),
		writer:    deps.Writer,
		resolver:  deps.Resolver,
		budget:    budget,
		logger:    observability.OrNop(deps.Logger),
		metrics:   deps.Metrics,
		stats:     deps.Stats,
	}, nil
}

// Budget returns the in-flight budget the projector dispatches against.
func (p *Projector) Budget() *Budget {
	return p.budget
}

// Apply returns the output sequence for src. Nothing is read from src until
// the first call to Next on the result, which runs the whole import.
func (p *Projector) Apply(src types.RowIterator) types.RowIterator {
	return &resultIterator{p: p, src: src}
}

// run drains src, writes every record, and returns the output rows. A
// stream-level failure returns the first such error and no rows.
func (p *Projector) run(ctx context.Context, src types.RowIterator) ([]types.Record, error) {
	defer src.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	counters := NewCounters(p.cfg.OutputMode == OutputPerRow)
	d := newDispatcher(runCtx, p, counters)
	acc := NewAccumulator(p.cfg.BulkSize)

	fatal := p.consume(runCtx, src, d, acc, counters)
	if fatal == nil {
		for _, b := range acc.Flush() {
			if err := d.Dispatch(runCtx, b); err != nil {
				fatal = err
				break
			}
		}
	}

	if fatal != nil {
		cancel()
		d.Abort(fatal)
	}
	d.Close()

	if fatal != nil {
		p.logger.Warn("bulk import aborted",
			zap.String("table", p.table),
			zap.Int64("succeeded", counters.Succeeded()),
			zap.Int64("failed", counters.Failed()),
			zap.Error(fatal))
		return nil, fatal
	}

	p.logger.Info("bulk import finished",
		zap.String("table", p.table),
		zap.Int64("succeeded", counters.Succeeded()),
		zap.Int64("failed", counters.Failed()))
	return emit(p.cfg.OutputMode, counters), nil
}

func (p *Projector) consume(ctx context.Context, src types.RowIterator, d *dispatcher, acc *Accumulator, counters *Counters) error {
	var seq int64
	for {
		rec, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		s := seq
		seq++

		values, op, err := p.evaluator.Evaluate(s, rec)
		if err != nil {
			if errors.Is(err, bulkerr.ErrNullPrimaryKey) && p.cfg.NullKeyPolicy != NullKeySkip {
				return err
			}
			counters.Fail(s, op.ID, err)
			p.metrics.RowsDone(0, 1)
			continue
		}

		id := p.resolver.Resolve(p.table, values)
		for _, b := range acc.Add(id, op) {
			if err := d.Dispatch(ctx, b); err != nil {
				return err
			}
		}
	}
}

// resultIterator runs the import on first pull and then serves its rows.
type resultIterator struct {
	p   *Projector
	src types.RowIterator

	once sync.Once
	rows []types.Record
	pos  int
	err  error

	mu     sync.Mutex
	closed bool
}

// Next implements types.RowIterator.
func (it *resultIterator) Next(ctx context.Context) (types.Record, error) {
	it.once.Do(func() {
		it.rows, it.err = it.p.run(ctx, it.src)
	})

	it.mu.Lock()
	defer it.mu.Unlock()

	if it.err != nil {
		return nil, it.err
	}
	if it.closed || it.pos >= len(it.rows) {
		return nil, io.EOF
	}
	row := it.rows[it.pos]
	it.pos++
	return row, nil
}

// Close implements types.RowIterator. Closing before the first Next closes
// the input without importing anything.
func (it *resultIterator) Close() error {
	it.once.Do(func() {
		it.err = it.src.Close()
		if it.err == nil {
			it.err = io.EOF
		}
	})

	it.mu.Lock()
	it.closed = true
	it.mu.Unlock()
	return nil
}
