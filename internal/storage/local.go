package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorage implements ObjectSource using the local filesystem. Object
// paths are slash-separated and relative to the base path; an empty base
// path uses object paths as given.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a local source rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath != "" {
		if err := os.MkdirAll(basePath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Open opens a file for reading.
func (l *LocalStorage) Open(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
		}
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	return f, nil
}

// Put writes r to objectPath, creating parent directories.
func (l *LocalStorage) Put(ctx context.Context, objectPath string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destPath := l.fullPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Exists checks if a file exists.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(l.fullPath(objectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListObjects returns every file whose path starts with prefix. A prefix
// ending in "/" lists that directory recursively.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	searchDir := l.fullPath(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		searchDir = filepath.Dir(searchDir)
	}

	var objects []string
	err := filepath.Walk(searchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // prefix doesn't exist, return empty list
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel := path
		if l.basePath != "" {
			if rel, err = filepath.Rel(l.basePath, path); err != nil {
				return err
			}
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			objects = append(objects, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListFailed, err)
	}

	sort.Strings(objects)
	return objects, nil
}

// fullPath returns the full filesystem path for an object.
func (l *LocalStorage) fullPath(objectPath string) string {
	if l.basePath == "" {
		return filepath.FromSlash(objectPath)
	}
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}
