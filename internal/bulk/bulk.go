// Package bulk defines the request and response types exchanged with shard
// nodes, and the boundaries the write path depends on.
package bulk

import "context"

// Status is the per-item outcome of a bulk write.
type Status uint8

const (
	StatusOK Status = iota
	StatusRetryable
	StatusTerminal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRetryable:
		return "retryable"
	case StatusTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Item is one document write inside a Request.
type Item struct {
	Seq     int64  `msgpack:"seq"`
	ID      string `msgpack:"id"`
	Routing string `msgpack:"routing,omitempty"`
	Source  []byte `msgpack:"source"`

	// Version, when set, is the version the stored document must have for
	// the write to apply.
	Version *int64 `msgpack:"version,omitempty"`
}

// Request writes Items into one partition of Table.
type Request struct {
	Table     string `msgpack:"table"`
	Partition string `msgpack:"partition"`
	Items     []Item `msgpack:"items"`

	// Overwrite replaces documents whose id already exists instead of
	// rejecting them.
	Overwrite bool `msgpack:"overwrite"`
}

// ItemResult is the outcome for the item at the same index of a Request.
type ItemResult struct {
	Status Status `msgpack:"status"`
	Code   string `msgpack:"code,omitempty"`
	Reason string `msgpack:"reason,omitempty"`
}

// OK reports whether the item was written.
func (r ItemResult) OK() bool {
	return r.Status == StatusOK
}

// Writer performs bulk writes against a partition.
// BulkWrite returns one result per request item, in request order. A
// non-nil error applies to the whole request.
type Writer interface {
	BulkWrite(ctx context.Context, req *Request) ([]ItemResult, error)
}

// PartitionCreator creates partitions of a table. Creating a partition that
// already exists is not an error.
type PartitionCreator interface {
	CreatePartitions(ctx context.Context, table string, names []string) error
}

// Cluster is the full boundary a shard node provides.
type Cluster interface {
	Writer
	PartitionCreator
}
