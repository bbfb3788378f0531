package blobstore

import (
	"context"
	"fmt"
)

// StoreType selects the artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// GCSStoreConfig holds configuration for GCSStore. Declared outside the gcp
// build tag so config wiring compiles in every build.
type GCSStoreConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// Config selects and configures a storage backend at startup.
type Config struct {
	Type StoreType
	Path string // Base directory for the filesystem store
	S3   S3StoreConfig
	GCS  GCSStoreConfig
}

// NewStore creates the configured artifact store. The backend is fixed for
// the process lifetime; call sites depend only on Store.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	storeType := cfg.Type
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dir := cfg.Path
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 storage requires a bucket")
		}
		if cfg.S3.Region == "" {
			cfg.S3.Region = "us-east-1"
		}
		return NewS3Store(ctx, cfg.S3)
	case StoreTypeGCS:
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("gcs storage requires a bucket")
		}
		return newGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", storeType)
	}
}
