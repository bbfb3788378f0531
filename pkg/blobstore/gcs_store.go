//go:build gcp

package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore implements Store using Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string // Optional key prefix
}

// NewGCSStore creates a new GCS-backed artifact store.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	// Uses ADC by default.
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *GCSStore) object(blobPath string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + blobPath)
}

func (s *GCSStore) Put(ctx context.Context, blobPath string, data []byte) error {
	w := s.object(blobPath).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs put failed: %w", err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, blobPath string) ([]byte, error) {
	r, err := s.object(blobPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, blobPath)
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", blobPath, err)
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, blobPath string) (bool, error) {
	_, err := s.object(blobPath).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs attrs failed for %s: %w", blobPath, err)
}

func (s *GCSStore) Delete(ctx context.Context, blobPath string) error {
	if err := s.object(blobPath).Delete(ctx); err != nil {
		return fmt.Errorf("gcs delete failed for %s: %w", blobPath, err)
	}
	return nil
}
