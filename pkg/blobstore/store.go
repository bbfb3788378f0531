// Package blobstore provides path-addressed binary storage for distribution
// artifacts. Backends share the Store contract; which one runs is decided
// once at startup by the factory.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when no blob exists at the given path.
var ErrNotFound = errors.New("blob not found")

// Store is the contract for durable artifact storage. Paths are POSIX-like
// segments joined by '/'. Overwrite policy is the caller's responsibility;
// Delete exists only as a compensating action and its failures must be
// surfaced, never swallowed.
type Store interface {
	Put(ctx context.Context, blobPath string, data []byte) error
	Get(ctx context.Context, blobPath string) ([]byte, error)
	Exists(ctx context.Context, blobPath string) (bool, error)
	Delete(ctx context.Context, blobPath string) error
}

// indexRoot is the top-level prefix under which all artifacts live.
const indexRoot = "simple-index"

// DistPath computes the storage path for an artifact. Paths are keyed by
// the project's normalized name so that case/separator variants of a name
// can never produce two blobs for the same artifact.
func DistPath(normalizedName, filename string) string {
	return path.Join(indexRoot, normalizedName, filename)
}

// FileStore is a local-filesystem implementation of Store.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a filesystem store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: 0755 is intentional for a shared artifact directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// localPath maps a logical blob path onto the filesystem, rejecting
// anything that would escape the store root.
func (s *FileStore) localPath(blobPath string) (string, error) {
	clean := path.Clean("/" + blobPath)
	if strings.Contains(blobPath, "..") || clean == "/" {
		return "", fmt.Errorf("invalid blob path: %q", blobPath)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *FileStore) Put(ctx context.Context, blobPath string, data []byte) error {
	target, err := s.localPath(blobPath)
	if err != nil {
		return err
	}
	//nolint:gosec // G301: directory must be readable by the serving process
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to ensure blob dir: %w", err)
	}

	// Write to temp, then rename, so a crashed put never leaves a
	// half-written artifact visible.
	tmp := target + ".tmp"
	//nolint:gosec // G306: artifacts are world-readable by design
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, blobPath string) ([]byte, error) {
	target, err := s.localPath(blobPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(target) //nolint:gosec // path validated by localPath
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, blobPath)
		}
		//nolint:wrapcheck // caller provides context
		return nil, err
	}
	defer f.Close() //nolint:errcheck // best-effort close

	//nolint:wrapcheck // caller provides context
	return io.ReadAll(f)
}

func (s *FileStore) Exists(ctx context.Context, blobPath string) (bool, error) {
	target, err := s.localPath(blobPath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	//nolint:wrapcheck // caller provides context
	return false, err
}

func (s *FileStore) Delete(ctx context.Context, blobPath string) error {
	target, err := s.localPath(blobPath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
