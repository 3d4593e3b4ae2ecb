// Package app wires the bulkindex components into the shard node and the
// importer.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpcapi "github.com/arkilian/bulkindex/internal/api/grpc"
	"github.com/arkilian/bulkindex/internal/config"
	"github.com/arkilian/bulkindex/internal/observability"
	"github.com/arkilian/bulkindex/internal/server"
	"github.com/arkilian/bulkindex/internal/shard"
)

// Node runs a shard store behind the gRPC shard service.
type Node struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	store     *shard.Store
	admission *server.AdmissionController
	shutdown  *server.ShutdownManager

	grpcServer   *grpc.Server
	grpcListener net.Listener
	httpServer   *http.Server
	httpListener net.Listener

	mu       sync.Mutex
	running  bool
	wg       sync.WaitGroup
	serveErr chan error
}

// NewNode creates a node with the given configuration.
func NewNode(cfg *config.Config, logger *zap.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &Node{
		cfg:      cfg,
		logger:   observability.OrNop(logger),
		registry: prometheus.NewRegistry(),
		serveErr: make(chan error, 2),
	}, nil
}

// Start opens the store and starts serving. It returns once the listeners
// are bound.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return fmt.Errorf("node is already running")
	}

	var err error
	n.store, err = shard.Open(shard.Config{
		Path:   n.cfg.Node.DatabasePath(),
		Shards: n.cfg.Node.Shards,
		Logger: n.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open shard store: %w", err)
	}

	n.admission = server.NewAdmissionController(n.cfg.Node.Admission)
	n.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: n.cfg.Node.ShutdownTimeout,
		Logger:          n.logger,
	})
	n.shutdown.RegisterCloser(n.store)
	n.registerAdmissionMetrics()

	n.grpcListener, err = net.Listen("tcp", n.cfg.Node.Addr)
	if err != nil {
		n.store.Close()
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}

	n.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcapi.ShutdownInterceptor(n.shutdown),
		grpcapi.LoggingInterceptor(n.logger),
	))
	grpcapi.RegisterShardServiceServer(n.grpcServer, grpcapi.NewShardServer(n.store, n.admission, n.logger))
	n.shutdown.RegisterCloser(server.CloserFunc(func() error {
		n.grpcServer.GracefulStop()
		return nil
	}))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.logger.Info("gRPC server listening", zap.String("addr", n.grpcListener.Addr().String()))
		if err := n.grpcServer.Serve(n.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			n.serveErr <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	if n.cfg.Node.MetricsAddr != "" {
		if err := n.startHTTP(); err != nil {
			n.grpcServer.Stop()
			n.store.Close()
			return err
		}
	}

	n.running = true
	n.logger.Info("bulkindex node started",
		zap.String("data_dir", n.cfg.Node.DataDir),
		zap.Int("shards", n.cfg.Node.Shards))
	return nil
}

func (n *Node) startHTTP() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", n.healthHandler)

	var err error
	n.httpListener, err = net.Listen("tcp", n.cfg.Node.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics address: %w", err)
	}
	n.httpServer = &http.Server{Handler: mux}
	n.shutdown.RegisterCloser(&server.HTTPServerCloser{Server: n.httpServer})

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.logger.Info("metrics server listening", zap.String("addr", n.httpListener.Addr().String()))
		if err := n.httpServer.Serve(n.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.serveErr <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	return nil
}

func (n *Node) registerAdmissionMetrics() {
	n.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "bulkindex",
			Subsystem: "node",
			Name:      "admission_limit",
			Help:      "Current limit of concurrently served bulk writes.",
		}, func() float64 { return float64(n.admission.Limit()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "bulkindex",
			Subsystem: "node",
			Name:      "admission_active",
			Help:      "Bulk writes being served.",
		}, func() float64 { return float64(n.admission.Active()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "bulkindex",
			Subsystem: "node",
			Name:      "admission_rejected_total",
			Help:      "Bulk writes rejected over the admission limit.",
		}, func() float64 { return float64(n.admission.Stats().Rejected) }),
	)
}

func (n *Node) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if n.shutdown.IsShuttingDown() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"shutting_down","service":"bulkindex-node"}`)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"healthy","service":"bulkindex-node"}`)
}

// GRPCAddr returns the bound gRPC address.
func (n *Node) GRPCAddr() string {
	return n.grpcListener.Addr().String()
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (n *Node) MetricsAddr() string {
	if n.httpListener == nil {
		return ""
	}
	return n.httpListener.Addr().String()
}

// Store returns the node's shard store.
func (n *Node) Store() *shard.Store {
	return n.store
}

// Errors reports serve failures of the node's servers.
func (n *Node) Errors() <-chan error {
	return n.serveErr
}

// Stop drains in-flight requests and releases every resource.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.mu.Unlock()

	err := n.shutdown.Shutdown(ctx, "stop requested")
	n.wg.Wait()
	n.logger.Info("bulkindex node stopped")
	return err
}
