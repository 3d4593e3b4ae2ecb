// Package shard stores documents of partitioned tables in SQLite. Every
// partition is split into a fixed number of shard tables; a document's shard
// is chosen by murmur3 hash of its routing value, or of its id when it has
// none.
package shard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"github.com/arkilian/bulkindex/internal/bulk"
	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/arkilian/bulkindex/internal/observability"
)

// DefaultShardCount is the number of shard tables per partition.
const DefaultShardCount = 4

// ErrNotFound is returned by Get for a missing document.
var ErrNotFound = errors.New("shard: document not found")

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file. ":memory:" keeps everything in memory.
	Path string

	// Shards is the number of shard tables per partition (default: 4).
	Shards int

	Logger *zap.Logger
}

// Store is a SQLite-backed shard node. It implements bulk.Writer and
// bulk.PartitionCreator.
type Store struct {
	db     *sql.DB // single writer
	shards uint32
	logger *zap.Logger

	mu sync.Mutex // serialises writes

	knownMu sync.RWMutex
	known   map[string]bool
}

var _ bulk.Cluster = (*Store)(nil)

// Open opens or creates a store.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("shard: database path is required")
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShardCount
	}

	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("shard: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	for _, stmt := range AllSchemaSQL() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("shard: failed to initialize schema: %w", err)
		}
	}

	s := &Store{
		db:     db,
		shards: uint32(cfg.Shards),
		logger: observability.OrNop(cfg.Logger),
		known:  make(map[string]bool),
	}
	if err := s.loadKnown(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadKnown() error {
	rows, err := s.db.Query("SELECT name FROM _bulkindex_partitions")
	if err != nil {
		return fmt.Errorf("shard: failed to load partitions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("shard: failed to scan partition: %w", err)
		}
		s.known[name] = true
	}
	return rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreatePartitions creates the shard tables of every named partition.
// Existing partitions are left untouched.
func (s *Store) CreatePartitions(ctx context.Context, table string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bulkerr.NewRetryableWriteError(bulkerr.CodeUnavailable, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var created []string
	for _, name := range names {
		if s.isKnown(name) {
			continue
		}
		for i := 0; i < int(s.shards); i++ {
			if _, err := tx.ExecContext(ctx, createShardTableSQL(name, i)); err != nil {
				return fmt.Errorf("shard: failed to create shard %d of %s: %w", i, name, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _bulkindex_partitions (name, table_name, shards, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(name) DO NOTHING`,
			name, table, s.shards, time.Now().UnixNano()); err != nil {
			return fmt.Errorf("shard: failed to register partition %s: %w", name, err)
		}
		created = append(created, name)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("shard: failed to commit partition creation: %w", err)
	}

	s.knownMu.Lock()
	for _, name := range created {
		s.known[name] = true
	}
	s.knownMu.Unlock()

	if len(created) > 0 {
		s.logger.Info("partitions created", zap.String("table", table), zap.Strings("partitions", created))
	}
	return nil
}

func (s *Store) isKnown(name string) bool {
	s.knownMu.RLock()
	defer s.knownMu.RUnlock()
	return s.known[name]
}

// shardFor returns the shard index for a routing key.
func (s *Store) shardFor(key string) int {
	return int(murmur3.Sum32([]byte(key)) % s.shards)
}

// BulkWrite writes every item in one transaction and reports per-item
// outcomes. A failure to begin or commit the transaction is returned as a
// retryable request error.
func (s *Store) BulkWrite(ctx context.Context, req *bulk.Request) ([]bulk.ItemResult, error) {
	results := make([]bulk.ItemResult, len(req.Items))
	if !s.isKnown(req.Partition) {
		for i := range results {
			results[i] = terminal(bulkerr.CodePartitionNotFound, fmt.Sprintf("partition %s does not exist", req.Partition))
		}
		return results, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, bulkerr.NewRetryableWriteError(bulkerr.CodeUnavailable, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for i, item := range req.Items {
		results[i] = s.writeItem(ctx, tx, req, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, bulkerr.NewRetryableWriteError(bulkerr.CodeUnavailable, "failed to commit bulk write", err)
	}
	return results, nil
}

func (s *Store) writeItem(ctx context.Context, tx *sql.Tx, req *bulk.Request, item bulk.Item) bulk.ItemResult {
	if item.ID == "" {
		return terminal(bulkerr.CodeDocumentMalformed, "document id is empty")
	}
	if !json.Valid(item.Source) {
		return terminal(bulkerr.CodeDocumentMalformed, "source is not valid JSON")
	}

	key := item.Routing
	if key == "" {
		key = item.ID
	}
	table := shardTable(req.Partition, s.shardFor(key))
	compressed := snappy.Encode(nil, item.Source)

	var res sql.Result
	var err error
	switch {
	case item.Version != nil:
		res, err = tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET source = ?, routing = ?, version = version + 1 WHERE id = ? AND version = ?", table),
			compressed, item.Routing, item.ID, *item.Version)
	case req.Overwrite:
		res, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, routing, version, source) VALUES (?, ?, 1, ?)
			 ON CONFLICT(id) DO UPDATE SET source = excluded.source, routing = excluded.routing, version = version + 1`, table),
			item.ID, item.Routing, compressed)
	default:
		res, err = tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (id, routing, version, source) VALUES (?, ?, 1, ?) ON CONFLICT(id) DO NOTHING", table),
			item.ID, item.Routing, compressed)
	}
	if err != nil {
		return bulk.ItemResult{Status: bulk.StatusRetryable, Code: bulkerr.CodeUnavailable, Reason: err.Error()}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return bulk.ItemResult{Status: bulk.StatusRetryable, Code: bulkerr.CodeUnavailable, Reason: err.Error()}
	}
	if n == 0 {
		if item.Version != nil {
			return terminal(bulkerr.CodeVersionConflict,
				fmt.Sprintf("document %s does not have version %d", item.ID, *item.Version))
		}
		return terminal(bulkerr.CodeVersionConflict, fmt.Sprintf("document %s already exists", item.ID))
	}
	return bulk.ItemResult{Status: bulk.StatusOK}
}

func terminal(code, reason string) bulk.ItemResult {
	return bulk.ItemResult{Status: bulk.StatusTerminal, Code: code, Reason: reason}
}

// Document is a stored document.
type Document struct {
	ID      string
	Routing string
	Version int64
	Source  []byte
}

// Get reads a document. routing must match the value it was written with.
func (s *Store) Get(ctx context.Context, partition, id, routing string) (*Document, error) {
	key := routing
	if key == "" {
		key = id
	}

	var doc Document
	var compressed []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, routing, version, source FROM %s WHERE id = ?", shardTable(partition, s.shardFor(key))),
		id).Scan(&doc.ID, &doc.Routing, &doc.Version, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("shard: failed to read document %s: %w", id, err)
	}

	doc.Source, err = snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("shard: snappy decompress failed: %w", err)
	}
	return &doc, nil
}

// Count returns the number of documents in a partition.
func (s *Store) Count(ctx context.Context, partition string) (int64, error) {
	var total int64
	for i := 0; i < int(s.shards); i++ {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+shardTable(partition, i)).Scan(&n); err != nil {
			return 0, fmt.Errorf("shard: failed to count shard %d of %s: %w", i, partition, err)
		}
		total += n
	}
	return total, nil
}

// ShardCounts returns the number of documents in each shard of a partition.
func (s *Store) ShardCounts(ctx context.Context, partition string) ([]int64, error) {
	counts := make([]int64, s.shards)
	for i := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+shardTable(partition, i)).Scan(&counts[i]); err != nil {
			return nil, fmt.Errorf("shard: failed to count shard %d of %s: %w", i, partition, err)
		}
	}
	return counts, nil
}

// Partitions lists the partitions of table.
func (s *Store) Partitions(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM _bulkindex_partitions WHERE table_name = ? ORDER BY name", table)
	if err != nil {
		return nil, fmt.Errorf("shard: failed to list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("shard: failed to scan partition: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
