// Package indexing implements the bulk write projector: it evaluates input
// records into write operations, batches them per partition, and dispatches
// the batches to shard nodes under an in-flight budget with retries.
package indexing

import (
	"fmt"
	"time"
)

// ConflictPolicy decides what happens when a document id already exists.
type ConflictPolicy string

const (
	// ConflictReject fails a write whose id already exists.
	ConflictReject ConflictPolicy = "reject"

	// ConflictOverwrite replaces the existing document.
	ConflictOverwrite ConflictPolicy = "overwrite"
)

// OutputMode selects the rows the projector emits.
type OutputMode string

const (
	// OutputSummary emits a single [succeeded, failed] row.
	OutputSummary OutputMode = "summary"

	// OutputPerRow emits one [seq, id, ok, error] row per input record.
	OutputPerRow OutputMode = "per_row"
)

// NullKeyPolicy decides how a NULL primary key value is handled.
type NullKeyPolicy string

const (
	// NullKeyFail fails the whole stream with the null primary key error.
	NullKeyFail NullKeyPolicy = "fail"

	// NullKeySkip counts the record as failed and continues.
	NullKeySkip NullKeyPolicy = "skip"
)

// DefaultBulkSize is the number of buffered operations that triggers a flush.
const DefaultBulkSize = 20

// RetryConfig configures exponential backoff for retryable item failures.
type RetryConfig struct {
	// MaxRetries is the number of re-submissions before an item fails
	// terminally. Zero means the default; a negative value disables retries.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64
}

// Config configures a Projector.
type Config struct {
	BulkSize int

	// Workers is the number of goroutines executing bulk requests.
	Workers int

	// MaxInFlight bounds outstanding bulk jobs when the projector creates
	// its own budget.
	MaxInFlight int

	// AcquireTimeout bounds the wait for an in-flight slot. Zero waits forever.
	AcquireTimeout time.Duration

	Retry          RetryConfig
	ConflictPolicy ConflictPolicy
	OutputMode     OutputMode
	NullKeyPolicy  NullKeyPolicy
}

// DefaultConfig returns the default projector configuration.
func DefaultConfig() Config {
	return Config{
		BulkSize:    DefaultBulkSize,
		Workers:     4,
		MaxInFlight: 8,
		Retry: RetryConfig{
			MaxRetries:     5,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2,
		},
		ConflictPolicy: ConflictReject,
		OutputMode:     OutputSummary,
		NullKeyPolicy:  NullKeyFail,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BulkSize <= 0 {
		c.BulkSize = d.BulkSize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = d.Retry.MaxRetries
	} else if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = d.Retry.InitialBackoff
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = d.Retry.MaxBackoff
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = d.Retry.Multiplier
	}
	if c.ConflictPolicy == "" {
		c.ConflictPolicy = d.ConflictPolicy
	}
	if c.OutputMode == "" {
		c.OutputMode = d.OutputMode
	}
	if c.NullKeyPolicy == "" {
		c.NullKeyPolicy = d.NullKeyPolicy
	}
	return c
}

// Validate checks the enumerated options.
func (c Config) Validate() error {
	switch c.ConflictPolicy {
	case "", ConflictReject, ConflictOverwrite:
	default:
		return fmt.Errorf("indexing: invalid conflict policy %q (must be reject or overwrite)", c.ConflictPolicy)
	}
	switch c.OutputMode {
	case "", OutputSummary, OutputPerRow:
	default:
		return fmt.Errorf("indexing: invalid output mode %q (must be summary or per_row)", c.OutputMode)
	}
	switch c.NullKeyPolicy {
	case "", NullKeyFail, NullKeySkip:
	default:
		return fmt.Errorf("indexing: invalid null key policy %q (must be fail or skip)", c.NullKeyPolicy)
	}
	if c.Retry.InitialBackoff > 0 && c.Retry.MaxBackoff > 0 && c.Retry.InitialBackoff > c.Retry.MaxBackoff {
		return fmt.Errorf("indexing: retry initial backoff %v exceeds max backoff %v",
			c.Retry.InitialBackoff, c.Retry.MaxBackoff)
	}
	return nil
}
