// Package types provides core data types shared by the bulk write path.
package types

import (
	"context"
	"io"
	"sync"
)

// Record is a single positional tuple flowing through the write path.
// A nil element is SQL NULL. Records are not mutated once produced.
type Record []any

// RowIterator is a lazy, pull-driven sequence of records.
type RowIterator interface {
	// Next returns the next record, or io.EOF once the sequence is exhausted.
	// Any other error is terminal for the sequence.
	Next(ctx context.Context) (Record, error)

	// Close releases resources held by the iterator. It is safe to call
	// more than once.
	Close() error
}

// SliceIterator serves records from memory.
type SliceIterator struct {
	mu     sync.Mutex
	rows   []Record
	pos    int
	closed bool
}

// NewSliceIterator creates an iterator over rows.
func NewSliceIterator(rows []Record) *SliceIterator {
	return &SliceIterator{rows: rows}
}

// Next implements RowIterator.
func (it *SliceIterator) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed || it.pos >= len(it.rows) {
		return nil, io.EOF
	}
	row := it.rows[it.pos]
	it.pos++
	return row, nil
}

// Close implements RowIterator.
func (it *SliceIterator) Close() error {
	it.mu.Lock()
	it.closed = true
	it.mu.Unlock()
	return nil
}

// Collect drains an iterator into memory and closes it.
func Collect(ctx context.Context, it RowIterator) ([]Record, error) {
	defer it.Close()

	var rows []Record
	for {
		row, err := it.Next(ctx)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}
