// Package main implements bulkindex-node, the shard node serving bulk
// writes over gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/arkilian/bulkindex/internal/app"
	"github.com/arkilian/bulkindex/internal/config"
	"github.com/arkilian/bulkindex/internal/observability"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		addr        string
		metricsAddr string
		shards      int
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Directory holding the shard database")
	flag.StringVar(&addr, "addr", "", "gRPC listen address")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "HTTP address for /metrics and /health")
	flag.IntVar(&shards, "shards", 0, "Shard tables per partition")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "bulkindex-node - shard node for bulk document writes\n\n")
		fmt.Fprintf(os.Stderr, "Usage: bulkindex-node [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  BULKINDEX_NODE_ADDR          gRPC listen address\n")
		fmt.Fprintf(os.Stderr, "  BULKINDEX_NODE_METRICS_ADDR  Metrics address (empty disables)\n")
		fmt.Fprintf(os.Stderr, "  BULKINDEX_NODE_DATA_DIR      Data directory\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("bulkindex-node version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if dataDir != "" {
		cfg.Node.DataDir = dataDir
	}
	if addr != "" {
		cfg.Node.Addr = addr
	}
	if metricsAddr != "" {
		cfg.Node.MetricsAddr = metricsAddr
	}
	if shards > 0 {
		cfg.Node.Shards = shards
	}

	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("bulkindex-node failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	node, err := app.NewNode(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-node.Errors():
		logger.Error("server failed", zap.Error(serveErr))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Node.ShutdownTimeout)
	defer cancel()
	if err := node.Stop(stopCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return serveErr
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
