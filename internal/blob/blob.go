// Package blob implements the artifact store: a content tree keyed by
// book id, with atomic writes and range reads. Two backends exist: a
// local filesystem tree and an S3-compatible bucket. The backend is
// selected by the blob_root config value ("s3://bucket/prefix" or a
// directory path).
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a blob does not exist.
	ErrNotFound = errors.New("blob: not found")
	// ErrInvalidRange is returned when a range read starts at or beyond
	// the end of the blob.
	ErrInvalidRange = errors.New("blob: invalid range")
)

// PutResult reports the outcome of a successful Put.
type PutResult struct {
	Size int64
	// Sum is the xxhash64 of the written bytes, usable as an integrity
	// check by readers that recorded it.
	Sum uint64
}

// Info describes a stored blob.
type Info struct {
	Size    int64
	ModTime time.Time
}

// Store is the artifact store contract. Paths are forward-slash relative
// paths under the store root; writers use stable deterministic paths so
// re-runs overwrite atomically.
type Store interface {
	// Put atomically writes the blob at path. Readers never observe a
	// partial write; concurrent puts to the same path are last-writer-wins.
	Put(ctx context.Context, path string, r io.Reader) (PutResult, error)

	// Get returns the whole blob.
	Get(ctx context.Context, path string) ([]byte, error)

	// OpenRange streams length bytes starting at offset without
	// buffering the whole blob. length < 0 means "to end of blob".
	OpenRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error)

	// Stat returns blob metadata.
	Stat(ctx context.Context, path string) (Info, error)

	// DeletePrefix recursively removes every blob under prefix.
	// Idempotent: deleting an absent prefix is a no-op.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Open selects and opens a backend for the given root.
func Open(root string) (Store, error) {
	if strings.HasPrefix(root, "s3://") {
		return OpenS3(root)
	}
	return OpenLocal(root)
}

// validatePath rejects empty and escaping paths.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("blob path must not be empty")
	}
	if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return fmt.Errorf("blob path %q must be relative and must not contain ..", path)
	}
	return nil
}
