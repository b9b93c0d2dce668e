package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/creachadair/atomicfile"
)

// LocalFSBackend stores objects as files under a root directory, keyed by
// their object-store key with path separators preserved (spec.md §4.2).
type LocalFSBackend struct {
	root string
}

// NewLocalFSBackend constructs a backend rooted at root, creating it if
// necessary.
func NewLocalFSBackend(root string) (*LocalFSBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating local store root %q: %w", root, err)
	}
	return &LocalFSBackend{root: root}, nil
}

func (b *LocalFSBackend) Name() string { return "local" }

func (b *LocalFSBackend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *LocalFSBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return data, nil
}

// Put writes the object atomically via a temp file + rename, using the
// teacher's atomicfile package.
func (b *LocalFSBackend) Put(_ context.Context, key string, data []byte) error {
	dst := b.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating directory for %q: %w", key, err)
	}
	if _, err := atomicfile.WriteAll(dst, bytes.NewReader(data), 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

// DeletePrefix recursively clears the directory tree under prefix.
func (b *LocalFSBackend) DeletePrefix(_ context.Context, prefix string) error {
	dir := b.path(prefix)
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing %q: %w", prefix, err)
	}
	return nil
}

func (b *LocalFSBackend) Probe(_ context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("local store root %q is not a directory", b.root)
	}
	return nil
}

// IsAvailabilityError reports whether err indicates the root itself is
// unreachable (permissions, disk failure), as opposed to a missing key.
func (b *LocalFSBackend) IsAvailabilityError(err error) bool {
	return err != nil && !errors.Is(err, ErrMiss) && !errors.Is(err, os.ErrNotExist)
}
