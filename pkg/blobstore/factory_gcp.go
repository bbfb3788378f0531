//go:build gcp

package blobstore

import "context"

func newGCSStore(ctx context.Context, cfg GCSStoreConfig) (Store, error) {
	return NewGCSStore(ctx, cfg)
}
