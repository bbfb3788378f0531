package ingest

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgRenaud/nest/pkg/blobstore"
	"github.com/AgRenaud/nest/pkg/distribution"
	"github.com/AgRenaud/nest/pkg/index"
)

func newTestIndex(t *testing.T) index.Index {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	idx := index.NewSQLiteIndex(db)
	require.NoError(t, idx.Init(context.Background()))
	return idx
}

func newTestStore(t *testing.T) blobstore.Store {
	t.Helper()
	store, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func flaskDist() *distribution.Distribution {
	content := []byte("flask wheel bytes")
	return &distribution.Distribution{
		Metadata: distribution.CoreMetadata{
			Name:          "Flask",
			Version:       "2.0.1",
			Summary:       "A simple framework for building complex web applications.",
			Author:        "Armin Ronacher",
			RequiresDists: []string{"click>=7.0", "itsdangerous"},
			Classifiers:   []string{"Framework :: Flask"},
		},
		File: distribution.File{
			Filename: "flask-2.0.1-py3-none-any.whl",
			Content:  content,
		},
		Hashes: distribution.ComputeHashes(content),
	}
}

func TestUploadPackageEndToEnd(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	store := newTestStore(t)
	engine := New(idx, store)

	dist := flaskDist()
	require.NoError(t, engine.UploadPackage(ctx, dist))

	names, err := idx.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Flask"}, names)

	dists, err := idx.ListReleaseFiles(ctx, "flask")
	require.NoError(t, err)
	require.Len(t, dists, 1)
	assert.Equal(t, "flask-2.0.1-py3-none-any.whl", dists[0].Filename)
	assert.Equal(t, "simple-index/flask/flask-2.0.1-py3-none-any.whl", dists[0].Path)

	got, err := store.Get(ctx, dists[0].Path)
	require.NoError(t, err)
	assert.Equal(t, dist.File.Content, got)

	detail, err := idx.GetReleaseDetail(ctx, "flask", dists[0].Filename)
	require.NoError(t, err)
	assert.Equal(t, "2.0.1", detail.Release.Version)
	assert.Equal(t, "2.0.1", detail.Release.CanonicalVersion)
	assert.False(t, detail.Release.IsPrerelease)
	assert.Equal(t, distribution.BdistWheel, detail.File.PackageType)
	assert.Equal(t, int64(len(dist.File.Content)), detail.File.Size)
}

func TestUploadTwoVersionsCreatesOneProject(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	engine := New(idx, newTestStore(t))

	first := flaskDist()
	require.NoError(t, engine.UploadPackage(ctx, first))

	second := flaskDist()
	second.Metadata.Version = "2.0.2"
	second.File.Filename = "flask-2.0.2-py3-none-any.whl"
	require.NoError(t, engine.UploadPackage(ctx, second))

	names, err := idx.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 1)

	dists, err := idx.ListReleaseFiles(ctx, "flask")
	require.NoError(t, err)
	assert.Len(t, dists, 2)
}

func TestUploadNameVariantsShareProject(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	engine := New(idx, newTestStore(t))

	first := flaskDist()
	first.Metadata.Name = "Beagle_Vote"
	first.File.Filename = "beagle_vote-1.0.tar.gz"
	first.Metadata.Version = "1.0"
	require.NoError(t, engine.UploadPackage(ctx, first))

	second := flaskDist()
	second.Metadata.Name = "beagle-vote"
	second.File.Filename = "beagle_vote-1.1.tar.gz"
	second.Metadata.Version = "1.1"
	require.NoError(t, engine.UploadPackage(ctx, second))

	names, err := idx.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 1)

	dists, err := idx.ListReleaseFiles(ctx, "beagle-vote")
	require.NoError(t, err)
	assert.Len(t, dists, 2)
}

func TestReleaseUpsertOverwritesAuthor(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	engine := New(idx, newTestStore(t))

	first := flaskDist()
	require.NoError(t, engine.UploadPackage(ctx, first))

	// Republishing the same version with corrected metadata and a new
	// artifact updates the release in place.
	second := flaskDist()
	second.Metadata.Author = "Pallets Team"
	second.File.Filename = "flask-2.0.1.tar.gz"
	require.NoError(t, engine.UploadPackage(ctx, second))

	detail, err := idx.GetReleaseDetail(ctx, "flask", "flask-2.0.1.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "Pallets Team", detail.Release.Author)

	// Both files reference the single release row.
	dists, err := idx.ListReleaseFiles(ctx, "flask")
	require.NoError(t, err)
	assert.Len(t, dists, 2)
}

func TestDuplicateFilenameRejected(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	store := newTestStore(t)
	engine := New(idx, store)

	first := flaskDist()
	require.NoError(t, engine.UploadPackage(ctx, first))

	second := flaskDist()
	second.File.Content = []byte("different bytes")
	second.Hashes = distribution.ComputeHashes(second.File.Content)
	err := engine.UploadPackage(ctx, second)
	assert.ErrorIs(t, err, ErrDuplicateFilename)

	// The stored blob is the first upload's, untouched.
	got, err := store.Get(ctx, blobstore.DistPath("flask", first.File.Filename))
	require.NoError(t, err)
	assert.Equal(t, first.File.Content, got)
}

func TestDependencyFanOut(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	engine := New(idx, newTestStore(t))

	dist := flaskDist()
	require.NoError(t, engine.UploadPackage(ctx, dist))

	detail, err := idx.GetReleaseDetail(ctx, "flask", dist.File.Filename)
	require.NoError(t, err)
	require.Len(t, detail.Dependencies, 2)
	assert.Equal(t, distribution.KindRequiresDist, detail.Dependencies[0].Kind)
	assert.Equal(t, "click>=7.0", detail.Dependencies[0].Specifier)
	assert.Equal(t, "itsdangerous", detail.Dependencies[1].Specifier)
	assert.Equal(t, []string{"Framework :: Flask"}, detail.Classifiers)
}

func TestUploadRejectsMissingFields(t *testing.T) {
	ctx := context.Background()
	engine := New(newTestIndex(t), newTestStore(t))

	noName := flaskDist()
	noName.Metadata.Name = ""
	assert.ErrorIs(t, engine.UploadPackage(ctx, noName), ErrInvalidDistribution)

	noVersion := flaskDist()
	noVersion.Metadata.Version = ""
	assert.ErrorIs(t, engine.UploadPackage(ctx, noVersion), ErrInvalidDistribution)

	noFilename := flaskDist()
	noFilename.File.Filename = ""
	assert.ErrorIs(t, engine.UploadPackage(ctx, noFilename), ErrInvalidDistribution)
}

func TestUploadRejectsDigestMismatch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	engine := New(idx, newTestStore(t))

	dist := flaskDist()
	dist.Hashes.SHA256Digest = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.ErrorIs(t, engine.UploadPackage(ctx, dist), ErrDigestMismatch)

	// Nothing was recorded.
	names, err := idx.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

// failingPutStore fails every Put, simulating a storage outage.
type failingPutStore struct {
	blobstore.Store
}

func (s *failingPutStore) Put(ctx context.Context, blobPath string, data []byte) error {
	return errors.New("storage unavailable")
}

func TestBlobWriteFailureRollsBackMetadata(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	inner := newTestStore(t)
	engine := New(idx, &failingPutStore{Store: inner})

	dist := flaskDist()
	err := engine.UploadPackage(ctx, dist)
	assert.ErrorIs(t, err, ErrPackage)

	// The project row survives (created outside the staged transaction)
	// but no release or file rows do.
	dists, err := idx.ListReleaseFiles(ctx, "flask")
	require.NoError(t, err)
	assert.Empty(t, dists)

	_, err = idx.GetReleaseDetail(ctx, "flask", dist.File.Filename)
	assert.ErrorIs(t, err, index.ErrReleaseFileNotFound)
}

// commitFailIndex hands out transactions whose Commit always fails.
type commitFailIndex struct {
	index.Index
}

func (x *commitFailIndex) Begin(ctx context.Context) (index.Tx, error) {
	tx, err := x.Index.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &commitFailTx{Tx: tx}, nil
}

type commitFailTx struct {
	index.Tx
}

func (t *commitFailTx) Commit() error {
	_ = t.Tx.Rollback()
	return errors.New("commit refused")
}

func TestCommitFailureDeletesBlob(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	store := newTestStore(t)
	engine := New(&commitFailIndex{Index: idx}, store)

	dist := flaskDist()
	err := engine.UploadPackage(ctx, dist)
	assert.ErrorIs(t, err, ErrPackage)

	// Compensating delete removed the artifact.
	exists, err := store.Exists(ctx, blobstore.DistPath("flask", dist.File.Filename))
	require.NoError(t, err)
	assert.False(t, exists)

	// And no metadata row is visible.
	dists, err := idx.ListReleaseFiles(ctx, "flask")
	require.NoError(t, err)
	assert.Empty(t, dists)
}

// deleteFailStore refuses deletes, forcing the orphaned-blob path.
type deleteFailStore struct {
	blobstore.Store
}

func (s *deleteFailStore) Delete(ctx context.Context, blobPath string) error {
	return errors.New("delete refused")
}

func TestCommitFailureWithFailedDeleteStillErrors(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	inner := newTestStore(t)
	store := &deleteFailStore{Store: inner}
	engine := New(&commitFailIndex{Index: idx}, store)

	dist := flaskDist()
	err := engine.UploadPackage(ctx, dist)
	assert.ErrorIs(t, err, ErrPackage)

	// The blob is orphaned but the metadata index stayed clean.
	exists, err := inner.Exists(ctx, blobstore.DistPath("flask", dist.File.Filename))
	require.NoError(t, err)
	assert.True(t, exists)

	dists, err := idx.ListReleaseFiles(ctx, "flask")
	require.NoError(t, err)
	assert.Empty(t, dists)
}
