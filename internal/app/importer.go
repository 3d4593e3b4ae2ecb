package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arkilian/bulkindex/internal/bulk"
	"github.com/arkilian/bulkindex/internal/config"
	"github.com/arkilian/bulkindex/internal/copyfrom"
	"github.com/arkilian/bulkindex/internal/expression"
	"github.com/arkilian/bulkindex/internal/indexing"
	"github.com/arkilian/bulkindex/internal/observability"
	"github.com/arkilian/bulkindex/internal/partition"
	"github.com/arkilian/bulkindex/internal/storage"
	"github.com/arkilian/bulkindex/pkg/types"
)

// ImportRequest describes one import into a table. Key, partition, routing
// and version columns are dotted paths into each source document.
type ImportRequest struct {
	Table string
	URIs  []string

	// PrimaryKey is empty for tables with generated ids.
	PrimaryKey  []string
	PartitionBy []string
	Routing     string
	Version     string
}

// ImportResult summarizes a finished import.
type ImportResult struct {
	Succeeded int64
	Failed    int64

	// Rows holds [seq, id, ok, error] per input record in per_row mode.
	Rows []types.Record

	// SourceErrors lists sources that were skipped part way or entirely.
	SourceErrors []copyfrom.SourceError

	Duration time.Duration
}

// Importer runs imports against a cluster. Partitions known to exist and
// the in-flight budget are shared between its imports.
type Importer struct {
	cfg      *config.Config
	cluster  bulk.Cluster
	opener   *storage.Opener
	resolver *partition.Resolver
	budget   *indexing.Budget
	logger   *zap.Logger
	metrics  *observability.IngestMetrics
	stats    *observability.PartitionStats
}

// NewImporter creates an importer. reg may be nil.
func NewImporter(cfg *config.Config, cluster bulk.Cluster, opener *storage.Opener, logger *zap.Logger, reg prometheus.Registerer) (*Importer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cluster == nil || opener == nil {
		return nil, fmt.Errorf("importer needs a cluster and a source opener")
	}

	logger = observability.OrNop(logger)
	metrics := observability.NewIngestMetrics(reg)

	pcfg := cfg.Writer.Partition()
	pcfg.Logger = logger
	pcfg.Metrics = metrics

	return &Importer{
		cfg:      cfg,
		cluster:  cluster,
		opener:   opener,
		resolver: partition.NewResolver(cluster, pcfg),
		budget:   indexing.NewBudget(cfg.Writer.MaxInFlight, cfg.Writer.AcquireTimeout),
		logger:   logger,
		metrics:  metrics,
		stats:    observability.NewPartitionStats(time.Hour),
	}, nil
}

// Stats returns per partition write statistics over the last hour.
func (im *Importer) Stats() *observability.PartitionStats {
	return im.stats
}

// Import reads every source of req and writes its documents. Per-document
// failures are counted in the result; an error is returned only when the
// import as a whole fails.
func (im *Importer) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if req.Table == "" {
		return nil, fmt.Errorf("import: table is required")
	}
	start := time.Now()

	rcfg := im.cfg.CopyFrom()
	rcfg.Logger = im.logger
	reader, err := copyfrom.NewReader(ctx, im.opener, req.URIs, rcfg)
	if err != nil {
		return nil, err
	}

	projector, err := indexing.NewProjector(req.Table, buildExpressions(req), im.cfg.Writer.Indexing(), indexing.Deps{
		Writer:   im.cluster,
		Resolver: im.resolver,
		Budget:   im.budget,
		Logger:   im.logger,
		Metrics:  im.metrics,
		Stats:    im.stats,
	})
	if err != nil {
		reader.Close()
		return nil, err
	}

	im.logger.Info("import started",
		zap.String("table", req.Table),
		zap.Int("sources", len(reader.Sources())))

	rows, err := types.Collect(ctx, projector.Apply(reader))
	if err != nil {
		return nil, err
	}

	res := &ImportResult{
		SourceErrors: reader.Errors(),
		Duration:     time.Since(start),
	}
	if indexing.OutputMode(im.cfg.Writer.OutputMode) == indexing.OutputPerRow {
		res.Rows = rows
		for _, row := range rows {
			if ok, _ := row[2].(bool); ok {
				res.Succeeded++
			} else {
				res.Failed++
			}
		}
	} else if len(rows) == 1 {
		res.Succeeded, _ = rows[0][0].(int64)
		res.Failed, _ = rows[0][1].(int64)
	}

	for _, se := range res.SourceErrors {
		im.logger.Warn("source skipped", zap.String("uri", se.URI), zap.Int("line", se.Line), zap.Error(se.Err))
	}
	im.logger.Info("import finished",
		zap.String("table", req.Table),
		zap.Int64("succeeded", res.Succeeded),
		zap.Int64("failed", res.Failed),
		zap.Int("source_errors", len(res.SourceErrors)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func buildExpressions(req ImportRequest) indexing.Expressions {
	exprs := indexing.Expressions{
		PrimaryKeyNames: req.PrimaryKey,
		Source:          expression.Column{Index: copyfrom.ColRaw, Name: "_raw"},
	}
	for _, p := range req.PrimaryKey {
		exprs.PrimaryKey = append(exprs.PrimaryKey, expression.Field(copyfrom.ColRaw, p))
	}
	for _, p := range req.PartitionBy {
		exprs.Partition = append(exprs.Partition, expression.Field(copyfrom.ColRaw, p))
	}
	if req.Routing != "" {
		exprs.Routing = expression.Field(copyfrom.ColRaw, req.Routing)
	}
	if req.Version != "" {
		exprs.Version = expression.Field(copyfrom.ColRaw, req.Version)
	}
	return exprs
}
