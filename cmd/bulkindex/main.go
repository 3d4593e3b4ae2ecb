// Package main implements bulkindex, which imports JSON lines and CSV
// sources into a table on a shard node.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	grpcapi "github.com/arkilian/bulkindex/internal/api/grpc"
	"github.com/arkilian/bulkindex/internal/app"
	"github.com/arkilian/bulkindex/internal/config"
	"github.com/arkilian/bulkindex/internal/observability"
	"github.com/arkilian/bulkindex/internal/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	configFile  string
	target      string
	table       string
	primaryKey  string
	partitionBy string
	routing     string
	versionPath string
	format      string
	perRow      bool
	overwrite   bool
	failFast    bool
	metricsAddr string
}

func main() {
	var (
		opts        options
		showVersion bool
	)

	flag.StringVar(&opts.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&opts.target, "target", "", "Shard node address")
	flag.StringVar(&opts.table, "table", "", "Target table")
	flag.StringVar(&opts.primaryKey, "pk", "", "Comma separated primary key paths; empty generates ids")
	flag.StringVar(&opts.partitionBy, "partition-by", "", "Comma separated partition column paths")
	flag.StringVar(&opts.routing, "routing", "", "Routing column path")
	flag.StringVar(&opts.versionPath, "version-column", "", "Version column path for optimistic writes")
	flag.StringVar(&opts.format, "format", "", "Source format: json or csv (default: by file extension)")
	flag.BoolVar(&opts.perRow, "per-row", false, "Print one result line per input record")
	flag.BoolVar(&opts.overwrite, "overwrite", false, "Overwrite documents whose id already exists")
	flag.BoolVar(&opts.failFast, "fail-fast", false, "Abort at the first bad source")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve import metrics on this address while running")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "bulkindex - bulk import of JSON lines and CSV sources\n\n")
		fmt.Fprintf(os.Stderr, "Usage: bulkindex -table NAME [options] URI...\n\n")
		fmt.Fprintf(os.Stderr, "URIs are file paths, file:// or s3:// locations and may contain glob patterns.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bulkindex -table users -pk id 'data/users-*.json'\n")
		fmt.Fprintf(os.Stderr, "  bulkindex -table events -partition-by day s3://imports/events/*.csv\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("bulkindex version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}
	if opts.table == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, cfg, opts, flag.Args(), logger)
	if err != nil {
		logger.Error("import failed", zap.Error(err))
		os.Exit(1)
	}
	if err := printResult(res); err != nil {
		logger.Error("failed to write result", zap.Error(err))
		os.Exit(1)
	}
	if res.Failed > 0 || len(res.SourceErrors) > 0 {
		os.Exit(3)
	}
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if opts.target != "" {
		cfg.Client.Target = opts.target
	}
	if opts.format != "" {
		cfg.Import.Format = opts.format
	}
	if opts.perRow {
		cfg.Writer.OutputMode = "per_row"
	}
	if opts.overwrite {
		cfg.Writer.ConflictPolicy = "overwrite"
	}
	if opts.failFast {
		cfg.Import.FailFast = true
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config, opts options, uris []string, logger *zap.Logger) (*app.ImportResult, error) {
	client, err := grpcapi.NewClient(cfg.Client)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	local, err := storage.NewLocalStorage("")
	if err != nil {
		return nil, err
	}
	opener := storage.NewOpener(local, storage.NewS3Factory(cfg.Storage.S3))

	reg := prometheus.NewRegistry()
	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:    opts.metricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	im, err := app.NewImporter(cfg, client, opener, logger, reg)
	if err != nil {
		return nil, err
	}
	return im.Import(ctx, app.ImportRequest{
		Table:       opts.table,
		URIs:        uris,
		PrimaryKey:  splitList(opts.primaryKey),
		PartitionBy: splitList(opts.partitionBy),
		Routing:     opts.routing,
		Version:     opts.versionPath,
	})
}

func printResult(res *app.ImportResult) error {
	enc := json.NewEncoder(os.Stdout)
	for _, row := range res.Rows {
		if err := enc.Encode(map[string]any{"seq": row[0], "id": row[1], "ok": row[2], "error": row[3]}); err != nil {
			return err
		}
	}

	sourceErrors := make([]string, len(res.SourceErrors))
	for i, se := range res.SourceErrors {
		sourceErrors[i] = se.Error()
	}
	return enc.Encode(map[string]any{
		"succeeded":     res.Succeeded,
		"failed":        res.Failed,
		"source_errors": sourceErrors,
		"duration":      res.Duration.String(),
	})
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
