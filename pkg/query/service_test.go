package query

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgRenaud/nest/pkg/blobstore"
	"github.com/AgRenaud/nest/pkg/distribution"
	"github.com/AgRenaud/nest/pkg/index"
	"github.com/AgRenaud/nest/pkg/ingest"
)

func newFixture(t *testing.T) (*Service, *ingest.Engine, index.Index) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	idx := index.NewSQLiteIndex(db)
	require.NoError(t, idx.Init(context.Background()))

	store, err := blobstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	return New(idx, store, nil), ingest.New(idx, store), idx
}

func uploadFlask(t *testing.T, engine *ingest.Engine) *distribution.Distribution {
	t.Helper()
	content := []byte("flask wheel bytes")
	dist := &distribution.Distribution{
		Metadata: distribution.CoreMetadata{
			Name:                   "Flask",
			Version:                "2.0.1",
			Summary:                "A simple framework for building complex web applications.",
			Author:                 "Armin Ronacher",
			License:                "BSD-3-Clause",
			Keywords:               []string{"web", "wsgi"},
			Description:            "# Flask",
			DescriptionContentType: "text/markdown",
			RequiresDists:          []string{"click>=7.0", "itsdangerous"},
			Classifiers:            []string{"Framework :: Flask"},
		},
		File: distribution.File{
			Filename: "flask-2.0.1-py3-none-any.whl",
			Content:  content,
		},
		Hashes: distribution.ComputeHashes(content),
	}
	require.NoError(t, engine.UploadPackage(context.Background(), dist))
	return dist
}

func TestGetProjects(t *testing.T) {
	svc, engine, _ := newFixture(t)
	uploadFlask(t, engine)

	names, err := svc.GetProjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Flask"}, names)
}

func TestGetProjectsEmpty(t *testing.T) {
	svc, _, _ := newFixture(t)

	names, err := svc.GetProjects(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestGetDistsNormalizesLookup(t *testing.T) {
	svc, engine, _ := newFixture(t)
	dist := uploadFlask(t, engine)

	for _, variant := range []string{"Flask", "flask", "FLASK"} {
		dists, err := svc.GetDists(context.Background(), variant)
		require.NoError(t, err)
		require.Len(t, dists, 1, "variant %q", variant)
		assert.Equal(t, dist.File.Filename, dists[0].Filename)
	}
}

func TestGetDistsUnknownProject(t *testing.T) {
	svc, _, _ := newFixture(t)

	dists, err := svc.GetDists(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, dists)
}

func TestGetDistFile(t *testing.T) {
	svc, engine, _ := newFixture(t)
	dist := uploadFlask(t, engine)

	file, err := svc.GetDistFile(context.Background(), "Flask", dist.File.Filename)
	require.NoError(t, err)
	assert.Equal(t, dist.File.Filename, file.Filename)
	assert.Equal(t, dist.File.Content, file.Content)
}

func TestGetDistFileMissing(t *testing.T) {
	svc, engine, _ := newFixture(t)
	uploadFlask(t, engine)

	_, err := svc.GetDistFile(context.Background(), "Flask", "flask-9.9.9.tar.gz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetDistMetadata(t *testing.T) {
	svc, engine, _ := newFixture(t)
	dist := uploadFlask(t, engine)

	meta, err := svc.GetDistMetadata(context.Background(), "flask", dist.File.Filename)
	require.NoError(t, err)

	assert.Equal(t, "Flask", meta.Name)
	assert.Equal(t, "2.0.1", meta.Version)
	assert.Equal(t, "Armin Ronacher", meta.Author)
	assert.Equal(t, "BSD-3-Clause", meta.License)
	assert.Equal(t, []string{"web", "wsgi"}, meta.Keywords)
	assert.Equal(t, "# Flask", meta.Description)
	assert.Equal(t, "text/markdown", meta.DescriptionContentType)
	assert.Equal(t, []string{"click>=7.0", "itsdangerous"}, meta.RequiresDists)
	assert.Equal(t, []string{"Framework :: Flask"}, meta.Classifiers)
}

func TestGetDistMetadataMissing(t *testing.T) {
	svc, _, _ := newFixture(t)

	_, err := svc.GetDistMetadata(context.Background(), "ghost", "ghost-1.0.tar.gz")
	assert.ErrorIs(t, err, ErrNotFound)
}
