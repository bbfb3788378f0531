package index

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgRenaud/nest/pkg/distribution"
)

func newMockIndex(t *testing.T) (*PostgresIndex, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresIndex(db), mock
}

func TestPostgresCreateProject(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO projects (name, normalized_name) VALUES ($1, $2) RETURNING id")).
		WithArgs("Flask", "flask").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := idx.CreateProject(context.Background(), "Flask", "flask")
	assert.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateProjectUniqueViolation(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO projects")).
		WithArgs("Flask", "flask").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := idx.CreateProject(context.Background(), "Flask", "flask")
	assert.ErrorIs(t, err, ErrDuplicateProject)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetProjectID(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM projects WHERE normalized_name = $1")).
		WithArgs("flask").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	id, ok, err := idx.GetProjectID(context.Background(), "flask")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)
}

func TestPostgresGetProjectIDMissing(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM projects WHERE normalized_name = $1")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, ok, err := idx.GetProjectID(context.Background(), "ghost")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresProjectExists(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM projects WHERE normalized_name = $1)")).
		WithArgs("flask").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := idx.ProjectExists(context.Background(), "flask")
	assert.NoError(t, err)
	assert.True(t, exists)
}

func TestPostgresListProjects(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM projects ORDER BY name ASC")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Flask").AddRow("click"))

	names, err := idx.ListProjects(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"Flask", "click"}, names)
}

func TestPostgresInsertReleaseFileDuplicate(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO release_files")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := idx.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.InsertReleaseFile(ctx, 1, 2, ReleaseFile{
		Filename:    "flask-2.0.1.tar.gz",
		Path:        "simple-index/flask/flask-2.0.1.tar.gz",
		PackageType: distribution.Sdist,
	})
	assert.ErrorIs(t, err, ErrDuplicateFilename)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertReleaseTx(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO releases")).
		WithArgs(int64(1), "2.0.1", "2.0.1", false,
			"author", "", "", "", "", "", "", "", "", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := idx.Begin(ctx)
	require.NoError(t, err)

	id, err := tx.UpsertRelease(ctx, 1, Release{
		Version:          "2.0.1",
		CanonicalVersion: "2.0.1",
		Author:           "author",
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(11), id)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplaceDependenciesBatch(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM release_dependencies WHERE release_id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO release_dependencies")).
		WithArgs(int64(5), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := idx.Begin(ctx)
	require.NoError(t, err)

	err = tx.ReplaceDependencies(ctx, 5, []distribution.Dependency{
		{Kind: distribution.KindRequiresDist, Specifier: "click>=7.0"},
		{Kind: distribution.KindRequiresDist, Specifier: "itsdangerous"},
	})
	assert.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplaceDependenciesEmptySkipsInsert(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM release_dependencies WHERE release_id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := idx.Begin(ctx)
	require.NoError(t, err)

	assert.NoError(t, tx.ReplaceDependencies(ctx, 5, nil))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetReleaseDetailNotFound(t *testing.T) {
	idx, mock := newMockIndex(t)

	mock.ExpectQuery("SELECT p.name, r.id").
		WithArgs("flask", "missing.tar.gz").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err := idx.GetReleaseDetail(context.Background(), "flask", "missing.tar.gz")
	assert.ErrorIs(t, err, ErrReleaseFileNotFound)
}

func TestIsPgUniqueViolation(t *testing.T) {
	assert.True(t, isPgUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isPgUniqueViolation(&pq.Error{Code: "42P01"}))
	assert.False(t, isPgUniqueViolation(errors.New("plain error")))
	assert.False(t, isPgUniqueViolation(nil))
}
