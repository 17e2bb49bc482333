package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Local is a filesystem-backed Store rooted at a directory. Puts write to
// a temporary name in the destination directory and rename into place, so
// a Get never observes a partial write.
type Local struct {
	root string
}

var _ Store = (*Local)(nil)

// OpenLocal opens a filesystem store rooted at dir, creating it if needed.
func OpenLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string { return l.root }

func (l *Local) resolve(path string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(path)), nil
}

// Put implements Store.
func (l *Local) Put(ctx context.Context, path string, r io.Reader) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	dst, err := l.resolve(path)
	if err != nil {
		return PutResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return PutResult{}, fmt.Errorf("failed to create blob directory: %w", err)
	}

	// Temp file in the destination directory so the rename stays on one
	// filesystem and is atomic.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	h := xxhash.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		cleanup()
		return PutResult{}, fmt.Errorf("failed to write blob %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return PutResult{}, fmt.Errorf("failed to sync blob %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return PutResult{}, fmt.Errorf("failed to close blob %s: %w", path, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return PutResult{}, fmt.Errorf("failed to publish blob %s: %w", path, err)
	}

	return PutResult{Size: n, Sum: h.Sum64()}, nil
}

// Get implements Store.
func (l *Local) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", path, err)
	}
	return data, nil
}

// OpenRange implements Store.
func (l *Local) OpenRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat blob %s: %w", path, err)
	}
	size := fi.Size()
	if offset < 0 || offset > size || (offset == size && size > 0) {
		f.Close()
		return nil, fmt.Errorf("offset %d of %d-byte blob %s: %w", offset, size, path, ErrInvalidRange)
	}
	if length < 0 || offset+length > size {
		length = size - offset
	}

	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(f, offset, length),
		f:             f,
	}, nil
}

// Stat implements Store.
func (l *Local) Stat(ctx context.Context, path string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	p, err := l.resolve(path)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat blob %s: %w", path, err)
	}
	return Info{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// DeletePrefix implements Store.
func (l *Local) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.resolve(prefix)
	if err != nil {
		return err
	}
	// RemoveAll is a no-op on absent paths, which gives us idempotence.
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to delete blob prefix %s: %w", prefix, err)
	}
	return nil
}

type sectionReadCloser struct {
	*io.SectionReader
	f *os.File
}

func (s *sectionReadCloser) Close() error { return s.f.Close() }
