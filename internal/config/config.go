// Package config provides configuration for the bulkindex binaries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	grpcapi "github.com/arkilian/bulkindex/internal/api/grpc"
	"github.com/arkilian/bulkindex/internal/copyfrom"
	"github.com/arkilian/bulkindex/internal/decoder"
	"github.com/arkilian/bulkindex/internal/indexing"
	"github.com/arkilian/bulkindex/internal/observability"
	"github.com/arkilian/bulkindex/internal/partition"
	"github.com/arkilian/bulkindex/internal/server"
	"github.com/arkilian/bulkindex/internal/storage"
)

// Config holds the configuration of both the import CLI and the shard node.
type Config struct {
	// Node configures bulkindex-node.
	Node NodeConfig `json:"node" yaml:"node"`

	// Client configures the connection from the importer to a node.
	Client grpcapi.ClientConfig `json:"client" yaml:"client"`

	// Writer configures the bulk write path.
	Writer WriterConfig `json:"writer" yaml:"writer"`

	// CSV configures CSV decoding.
	CSV CSVConfig `json:"csv" yaml:"csv"`

	// Import configures source reading.
	Import ImportConfig `json:"import" yaml:"import"`

	// Storage configures remote sources.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	Log observability.LogConfig `json:"log" yaml:"log"`
}

// NodeConfig holds shard node configuration.
type NodeConfig struct {
	// Addr is the gRPC listen address
	Addr string `json:"addr" yaml:"addr"`

	// MetricsAddr is the HTTP address serving /metrics; empty disables it
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`

	// DataDir holds the shard database
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Shards is the number of shard tables per partition
	Shards int `json:"shards" yaml:"shards"`

	Admission server.AdmissionConfig `json:"admission" yaml:"admission"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabasePath returns the path of the shard database.
func (n NodeConfig) DatabasePath() string {
	return filepath.Join(n.DataDir, "shards.db")
}

// WriterConfig holds bulk write path configuration.
type WriterConfig struct {
	BulkSize       int           `json:"bulk_size" yaml:"bulk_size"`
	Workers        int           `json:"workers" yaml:"workers"`
	MaxInFlight    int           `json:"max_in_flight" yaml:"max_in_flight"`
	AcquireTimeout time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`

	Retry RetryConfig `json:"retry" yaml:"retry"`

	// ConflictPolicy is reject or overwrite
	ConflictPolicy string `json:"conflict_policy" yaml:"conflict_policy"`

	// OutputMode is summary or per_row
	OutputMode string `json:"output_mode" yaml:"output_mode"`

	// NullKeyPolicy is fail or skip
	NullKeyPolicy string `json:"null_key_policy" yaml:"null_key_policy"`

	// KnownPartitions bounds the cache of partitions known to exist
	KnownPartitions int `json:"known_partitions" yaml:"known_partitions"`

	// CreateTimeout bounds one partition creation request; zero means no bound
	CreateTimeout time.Duration `json:"create_timeout" yaml:"create_timeout"`
}

// RetryConfig holds retry backoff configuration.
type RetryConfig struct {
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff"`
	Multiplier     float64       `json:"multiplier" yaml:"multiplier"`
}

// Indexing converts the section into a projector configuration.
func (w WriterConfig) Indexing() indexing.Config {
	return indexing.Config{
		BulkSize:       w.BulkSize,
		Workers:        w.Workers,
		MaxInFlight:    w.MaxInFlight,
		AcquireTimeout: w.AcquireTimeout,
		Retry: indexing.RetryConfig{
			MaxRetries:     w.Retry.MaxRetries,
			InitialBackoff: w.Retry.InitialBackoff,
			MaxBackoff:     w.Retry.MaxBackoff,
			Multiplier:     w.Retry.Multiplier,
		},
		ConflictPolicy: indexing.ConflictPolicy(w.ConflictPolicy),
		OutputMode:     indexing.OutputMode(w.OutputMode),
		NullKeyPolicy:  indexing.NullKeyPolicy(w.NullKeyPolicy),
	}
}

// Partition converts the section into a resolver configuration.
func (w WriterConfig) Partition() partition.Config {
	return partition.Config{
		KnownCapacity: w.KnownPartitions,
		CreateTimeout: w.CreateTimeout,
	}
}

// CSVConfig holds CSV decoding configuration.
type CSVConfig struct {
	// FieldCountPolicy is strict or truncate
	FieldCountPolicy string `json:"field_count_policy" yaml:"field_count_policy"`

	// MaxLineBytes bounds a single input line
	MaxLineBytes int `json:"max_line_bytes" yaml:"max_line_bytes"`
}

// ImportConfig holds source reading configuration.
type ImportConfig struct {
	// Format is json, csv, or empty to pick by file extension
	Format string `json:"format" yaml:"format"`

	// FailFast aborts the import at the first bad source
	FailFast bool `json:"fail_fast" yaml:"fail_fast"`

	// ListConcurrency bounds concurrent listing of source patterns
	ListConcurrency int `json:"list_concurrency" yaml:"list_concurrency"`
}

// CopyFrom converts the import and csv sections into a reader configuration.
func (c *Config) CopyFrom() copyfrom.Config {
	return copyfrom.Config{
		Format:           copyfrom.Format(c.Import.Format),
		FieldCountPolicy: decoder.FieldCountPolicy(c.CSV.FieldCountPolicy),
		MaxLineBytes:     c.CSV.MaxLineBytes,
		ListConcurrency:  c.Import.ListConcurrency,
		FailFast:         c.Import.FailFast,
	}
}

// StorageConfig holds remote source configuration.
type StorageConfig struct {
	S3 storage.S3Config `json:"s3" yaml:"s3"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	idx := indexing.DefaultConfig()
	return &Config{
		Node: NodeConfig{
			Addr:            ":9090",
			MetricsAddr:     ":9091",
			DataDir:         "./data/bulkindex",
			Shards:          4,
			Admission:       server.DefaultAdmissionConfig(),
			ShutdownTimeout: 30 * time.Second,
		},
		Client: grpcapi.ClientConfig{
			Target:      "localhost:9090",
			CallTimeout: 30 * time.Second,
		},
		Writer: WriterConfig{
			BulkSize:    idx.BulkSize,
			Workers:     idx.Workers,
			MaxInFlight: idx.MaxInFlight,
			Retry: RetryConfig{
				MaxRetries:     idx.Retry.MaxRetries,
				InitialBackoff: idx.Retry.InitialBackoff,
				MaxBackoff:     idx.Retry.MaxBackoff,
				Multiplier:     idx.Retry.Multiplier,
			},
			ConflictPolicy:  string(idx.ConflictPolicy),
			OutputMode:      string(idx.OutputMode),
			NullKeyPolicy:   string(idx.NullKeyPolicy),
			KnownPartitions: partition.DefaultKnownCapacity,
			CreateTimeout:   30 * time.Second,
		},
		CSV: CSVConfig{
			FieldCountPolicy: string(decoder.FieldCountStrict),
			MaxLineBytes:     decoder.DefaultMaxLineBytes,
		},
		Import: ImportConfig{
			ListConcurrency: 4,
		},
		Storage: StorageConfig{
			S3: storage.DefaultS3Config(),
		},
		Log: observability.LogConfig{
			Level: "info",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Writer.BulkSize <= 0 {
		return fmt.Errorf("writer.bulk_size must be positive, got %d", c.Writer.BulkSize)
	}
	if c.Writer.Workers <= 0 {
		return fmt.Errorf("writer.workers must be positive, got %d", c.Writer.Workers)
	}
	if c.Writer.MaxInFlight <= 0 {
		return fmt.Errorf("writer.max_in_flight must be positive, got %d", c.Writer.MaxInFlight)
	}
	if err := c.Writer.Indexing().Validate(); err != nil {
		return err
	}

	switch decoder.FieldCountPolicy(c.CSV.FieldCountPolicy) {
	case "", decoder.FieldCountStrict, decoder.FieldCountTruncate:
	default:
		return fmt.Errorf("invalid csv.field_count_policy: %s (must be strict or truncate)", c.CSV.FieldCountPolicy)
	}

	switch copyfrom.Format(c.Import.Format) {
	case copyfrom.FormatAuto, copyfrom.FormatJSON, copyfrom.FormatCSV:
	default:
		return fmt.Errorf("invalid import.format: %s (must be json or csv)", c.Import.Format)
	}

	if c.Node.Shards <= 0 {
		return fmt.Errorf("node.shards must be positive, got %d", c.Node.Shards)
	}
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the BULKINDEX_ prefix.
func LoadFromEnv(cfg *Config) {
	// Node configuration
	if v := os.Getenv("BULKINDEX_NODE_ADDR"); v != "" {
		cfg.Node.Addr = v
	}
	if v, ok := os.LookupEnv("BULKINDEX_NODE_METRICS_ADDR"); ok {
		cfg.Node.MetricsAddr = v
	}
	if v := os.Getenv("BULKINDEX_NODE_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("BULKINDEX_NODE_SHARDS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Node.Shards)
	}
	if v := os.Getenv("BULKINDEX_NODE_MAX_CONCURRENT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Node.Admission.MaxConcurrent)
	}

	// Client configuration
	if v := os.Getenv("BULKINDEX_CLIENT_TARGET"); v != "" {
		cfg.Client.Target = v
	}
	if v := os.Getenv("BULKINDEX_CLIENT_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.CallTimeout = d
		}
	}

	// Writer configuration
	if v := os.Getenv("BULKINDEX_WRITER_BULK_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Writer.BulkSize)
	}
	if v := os.Getenv("BULKINDEX_WRITER_WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Writer.Workers)
	}
	if v := os.Getenv("BULKINDEX_WRITER_MAX_IN_FLIGHT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Writer.MaxInFlight)
	}
	if v := os.Getenv("BULKINDEX_WRITER_ACQUIRE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Writer.AcquireTimeout = d
		}
	}
	if v := os.Getenv("BULKINDEX_WRITER_MAX_RETRIES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Writer.Retry.MaxRetries)
	}
	if v := os.Getenv("BULKINDEX_WRITER_CONFLICT_POLICY"); v != "" {
		cfg.Writer.ConflictPolicy = v
	}
	if v := os.Getenv("BULKINDEX_WRITER_OUTPUT_MODE"); v != "" {
		cfg.Writer.OutputMode = v
	}
	if v := os.Getenv("BULKINDEX_WRITER_NULL_KEY_POLICY"); v != "" {
		cfg.Writer.NullKeyPolicy = v
	}

	// CSV configuration
	if v := os.Getenv("BULKINDEX_CSV_FIELD_COUNT_POLICY"); v != "" {
		cfg.CSV.FieldCountPolicy = v
	}

	// Import configuration
	if v := os.Getenv("BULKINDEX_IMPORT_FORMAT"); v != "" {
		cfg.Import.Format = v
	}
	if v := os.Getenv("BULKINDEX_IMPORT_FAIL_FAST"); v != "" {
		cfg.Import.FailFast = v == "true" || v == "1"
	}

	// Storage configuration
	if v := os.Getenv("BULKINDEX_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("BULKINDEX_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("BULKINDEX_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}

	// Log configuration
	if v := os.Getenv("BULKINDEX_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BULKINDEX_LOG_DEVELOPMENT"); v != "" {
		cfg.Log.Development = v == "true" || v == "1"
	}
}

// EnsureDirectories creates the node data directory.
func (c *Config) EnsureDirectories() error {
	if c.Node.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Node.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Node.DataDir, err)
	}
	return nil
}
