//go:build !gcp

package blobstore

import (
	"context"
	"fmt"
)

func newGCSStore(ctx context.Context, cfg GCSStoreConfig) (Store, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
