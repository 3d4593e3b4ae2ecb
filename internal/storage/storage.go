// Package storage opens import sources on the local filesystem and in S3.
package storage

import (
	"context"
	"errors"
	"io"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrOpenFailed     = errors.New("open failed")
	ErrListFailed     = errors.New("list failed")
	ErrWriteFailed    = errors.New("write failed")
)

// ObjectSource reads objects from one storage backend.
// Implementations include S3 and the local filesystem.
type ObjectSource interface {
	// Open returns a reader for the object. The caller closes it.
	// Returns ErrObjectNotFound if the object does not exist.
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix, sorted.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
