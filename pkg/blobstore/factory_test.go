package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreFilesystem(t *testing.T) {
	store, err := NewStore(context.Background(), Config{
		Type: StoreTypeFS,
		Path: t.TempDir(),
	})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)
}

func TestNewStoreDefaultsToFilesystem(t *testing.T) {
	store, err := NewStore(context.Background(), Config{Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)
}

func TestNewStoreS3RequiresBucket(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: StoreTypeS3})
	assert.Error(t, err)
}

func TestNewStoreUnknownType(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: "tape"})
	assert.Error(t, err)
}
