package shard

import (
	"fmt"
	"strings"
)

// CreatePartitionsTableSQL creates the registry of known partitions.
const CreatePartitionsTableSQL = `
CREATE TABLE IF NOT EXISTS _bulkindex_partitions (
    name TEXT PRIMARY KEY,
    table_name TEXT NOT NULL,
    shards INTEGER NOT NULL,
    created_at INTEGER NOT NULL
) WITHOUT ROWID`

// CreatePartitionsIndexSQL indexes partitions by base table.
const CreatePartitionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_bulkindex_partitions_table ON _bulkindex_partitions(table_name)`

// AllSchemaSQL returns the statements that initialise a store.
func AllSchemaSQL() []string {
	return []string{CreatePartitionsTableSQL, CreatePartitionsIndexSQL}
}

// shardTable returns the quoted name of one shard table of a partition.
func shardTable(partition string, shard int) string {
	return quoteIdent(fmt.Sprintf("%s#%d", partition, shard))
}

// createShardTableSQL creates one shard table. Sources are stored
// snappy-compressed.
func createShardTableSQL(partition string, shard int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    routing TEXT NOT NULL,
    version INTEGER NOT NULL,
    source BLOB NOT NULL
) WITHOUT ROWID`, shardTable(partition, shard))
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
