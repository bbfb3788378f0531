// Package index is the relational metadata store of the package index. It
// records projects, releases, release files, descriptions, dependencies and
// the classifier catalog, and enforces the identity invariants the rest of
// the system relies on: normalized project names are unique, (project,
// version) identifies a release, and a filename is published at most once
// per project.
package index

import (
	"context"
	"errors"

	"github.com/AgRenaud/nest/pkg/distribution"
)

var (
	// ErrDuplicateProject signals a lost race on project creation. Callers
	// treat it as "project already exists" and retry as a lookup.
	ErrDuplicateProject = errors.New("project already exists")

	// ErrDuplicateFilename rejects re-publishing an artifact under a name
	// that already exists for the project. Artifacts are immutable.
	ErrDuplicateFilename = errors.New("filename already published for this project")

	// ErrReleaseFileNotFound is returned when no release file matches a
	// (project, filename) lookup.
	ErrReleaseFileNotFound = errors.New("release file not found")
)

// Release holds the descriptive fields of one version of a project.
// Optional fields are empty strings, never NULL.
type Release struct {
	Version          string
	CanonicalVersion string
	IsPrerelease     bool
	Author           string
	AuthorEmail      string
	Maintainer       string
	MaintainerEmail  string
	HomePage         string
	License          string
	Summary          string
	Keywords         string
	Platform         string
	DownloadURL      string
	RequiresPython   string
}

// ReleaseFile describes one stored artifact of a release.
type ReleaseFile struct {
	Filename         string
	Path             string
	PackageType      distribution.PackageType
	PythonVersion    string
	RequiresPython   string
	Size             int64
	MD5Digest        string
	SHA256Digest     string
	Blake2b256Digest string
}

// Description is the long-form description of a release. HTML stays empty
// here; rendering belongs to a boundary collaborator.
type Description struct {
	ContentType string
	Raw         string
	HTML        string
}

// PkgDist is one (filename, path) entry of a project's file listing.
type PkgDist struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// ReleaseDetail is the joined view behind a (project, filename) metadata
/// lookup: the owning project, the release fields, and everything attached
// to the release.
type ReleaseDetail struct {
	Project      string
	Release      Release
	File         ReleaseFile
	Description  *Description
	Dependencies []distribution.Dependency
	Classifiers  []string
}

// Tx groups the mutating operations of a single upload into one atomic
// transaction. A failure anywhere rolls back every row written so far.
type Tx interface {
	// UpsertRelease inserts the release keyed by (projectID, version) or,
	// when present, overwrites its descriptive fields in place.
	UpsertRelease(ctx context.Context, projectID int64, rel Release) (int64, error)
	// InsertReleaseFile records an artifact. Fails with
	// ErrDuplicateFilename when the project already has that filename.
	InsertReleaseFile(ctx context.Context, projectID, releaseID int64, f ReleaseFile) (int64, error)
	// UpsertDescription stores the release description, replacing any
	// previous one for the release.
	UpsertDescription(ctx context.Context, releaseID int64, d Description) error
	// ReplaceDependencies replaces the dependency rows of the release with
	// the given batch. An empty batch clears them.
	ReplaceDependencies(ctx context.Context, releaseID int64, deps []distribution.Dependency) error
	// AddClassifiers ensures each classifier exists in the global catalog
	// and associates it with the release.
	AddClassifiers(ctx context.Context, releaseID int64, names []string) error

	Commit() error
	Rollback() error
}

// Index is the metadata store contract consumed by the ingestion engine and
// the query service. Implementations must back every uniqueness rule with a
// real constraint so concurrent writers fail cleanly instead of corrupting
// the index.
type Index interface {
	// Init creates the schema if it does not exist.
	Init(ctx context.Context) error

	ProjectExists(ctx context.Context, normalizedName string) (bool, error)
	// CreateProject records a project under its supplied and normalized
	// names. Fails with ErrDuplicateProject when the normalized name is
	// already taken.
	CreateProject(ctx context.Context, name, normalizedName string) (int64, error)
	// GetProjectID resolves a normalized name; ok is false when absent.
	GetProjectID(ctx context.Context, normalizedName string) (id int64, ok bool, err error)

	Begin(ctx context.Context) (Tx, error)

	// ListProjects returns all project names, name-ascending.
	ListProjects(ctx context.Context) ([]string, error)
	// ListReleaseFiles returns the (filename, path) pairs of a project.
	// An unknown project yields an empty slice, not an error.
	ListReleaseFiles(ctx context.Context, normalizedName string) ([]PkgDist, error)
	// GetReleaseDetail joins release file, release and project for one
	// artifact. Fails with ErrReleaseFileNotFound when absent.
	GetReleaseDetail(ctx context.Context, normalizedName, filename string) (*ReleaseDetail, error)
}
