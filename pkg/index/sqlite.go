package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/AgRenaud/nest/pkg/distribution"
)

// SQLiteIndex implements Index against SQLite (pure-Go driver). Intended
// for single-node deployments and tests; semantics match PostgresIndex.
type SQLiteIndex struct {
	db *sql.DB
}

func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS releases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	version TEXT NOT NULL,
	canonical_version TEXT NOT NULL,
	is_prerelease INTEGER NOT NULL DEFAULT 0,
	author TEXT NOT NULL DEFAULT '',
	author_email TEXT NOT NULL DEFAULT '',
	maintainer TEXT NOT NULL DEFAULT '',
	maintainer_email TEXT NOT NULL DEFAULT '',
	home_page TEXT NOT NULL DEFAULT '',
	license TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '',
	platform TEXT NOT NULL DEFAULT '',
	download_url TEXT NOT NULL DEFAULT '',
	requires_python TEXT NOT NULL DEFAULT '',
	UNIQUE (project_id, version)
);

CREATE TABLE IF NOT EXISTS release_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	release_id INTEGER NOT NULL REFERENCES releases(id),
	project_id INTEGER NOT NULL REFERENCES projects(id),
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	package_type TEXT NOT NULL,
	python_version TEXT NOT NULL DEFAULT '',
	requires_python TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	md5_digest TEXT NOT NULL DEFAULT '',
	sha256_digest TEXT NOT NULL DEFAULT '',
	blake2_256_digest TEXT NOT NULL DEFAULT '',
	UNIQUE (project_id, filename)
);

CREATE TABLE IF NOT EXISTS release_descriptions (
	release_id INTEGER PRIMARY KEY REFERENCES releases(id),
	content_type TEXT NOT NULL DEFAULT 'text/rst',
	raw TEXT NOT NULL DEFAULT '',
	html TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS release_dependencies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	release_id INTEGER NOT NULL REFERENCES releases(id),
	kind TEXT NOT NULL,
	specifier TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS classifiers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS release_classifiers (
	release_id INTEGER NOT NULL REFERENCES releases(id),
	classifier_id INTEGER NOT NULL REFERENCES classifiers(id),
	PRIMARY KEY (release_id, classifier_id)
);
`

func (x *SQLiteIndex) Init(ctx context.Context) error {
	_, err := x.db.ExecContext(ctx, sqliteSchema)
	return err
}

// isSQLiteUniqueViolation matches the driver's unique-constraint errors.
func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (x *SQLiteIndex) ProjectExists(ctx context.Context, normalizedName string) (bool, error) {
	var exists bool
	err := x.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM projects WHERE normalized_name = ?)",
		normalizedName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project existence: %w", err)
	}
	return exists, nil
}

func (x *SQLiteIndex) CreateProject(ctx context.Context, name, normalizedName string) (int64, error) {
	res, err := x.db.ExecContext(ctx,
		"INSERT INTO projects (name, normalized_name) VALUES (?, ?)",
		name, normalizedName)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return 0, ErrDuplicateProject
		}
		return 0, fmt.Errorf("failed to create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new project id: %w", err)
	}
	return id, nil
}

func (x *SQLiteIndex) GetProjectID(ctx context.Context, normalizedName string) (int64, bool, error) {
	var id int64
	err := x.db.QueryRowContext(ctx,
		"SELECT id FROM projects WHERE normalized_name = ?",
		normalizedName).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up project: %w", err)
	}
	return id, true, nil
}

func (x *SQLiteIndex) Begin(ctx context.Context) (Tx, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

func (x *SQLiteIndex) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT name FROM projects ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

func (x *SQLiteIndex) ListReleaseFiles(ctx context.Context, normalizedName string) ([]PkgDist, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT rf.filename, rf.path
		FROM projects p
		JOIN releases r ON r.project_id = p.id
		JOIN release_files rf ON rf.release_id = r.id
		WHERE p.normalized_name = ?
		ORDER BY rf.filename ASC`,
		normalizedName)
	if err != nil {
		return nil, fmt.Errorf("failed to list release files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	dists := []PkgDist{}
	for rows.Next() {
		var d PkgDist
		if err := rows.Scan(&d.Filename, &d.Path); err != nil {
			return nil, err
		}
		dists = append(dists, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dists, nil
}

func (x *SQLiteIndex) GetReleaseDetail(ctx context.Context, normalizedName, filename string) (*ReleaseDetail, error) {
	var (
		detail    ReleaseDetail
		releaseID int64
		pkgType   string
	)
	err := x.db.QueryRowContext(ctx, `
		SELECT p.name, r.id,
			r.version, r.canonical_version, r.is_prerelease,
			r.author, r.author_email, r.maintainer, r.maintainer_email,
			r.home_page, r.license, r.summary, r.keywords, r.platform,
			r.download_url, r.requires_python,
			rf.filename, rf.path, rf.package_type, rf.python_version,
			rf.requires_python, rf.size,
			rf.md5_digest, rf.sha256_digest, rf.blake2_256_digest
		FROM projects p
		JOIN releases r ON r.project_id = p.id
		JOIN release_files rf ON rf.release_id = r.id
		WHERE p.normalized_name = ? AND rf.filename = ?`,
		normalizedName, filename).Scan(
		&detail.Project, &releaseID,
		&detail.Release.Version, &detail.Release.CanonicalVersion, &detail.Release.IsPrerelease,
		&detail.Release.Author, &detail.Release.AuthorEmail,
		&detail.Release.Maintainer, &detail.Release.MaintainerEmail,
		&detail.Release.HomePage, &detail.Release.License,
		&detail.Release.Summary, &detail.Release.Keywords, &detail.Release.Platform,
		&detail.Release.DownloadURL, &detail.Release.RequiresPython,
		&detail.File.Filename, &detail.File.Path, &pkgType, &detail.File.PythonVersion,
		&detail.File.RequiresPython, &detail.File.Size,
		&detail.File.MD5Digest, &detail.File.SHA256Digest, &detail.File.Blake2b256Digest,
	)
	if err == sql.ErrNoRows {
		return nil, ErrReleaseFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load release detail: %w", err)
	}
	detail.File.PackageType = distribution.PackageType(pkgType)

	if err := x.loadReleaseAttachments(ctx, releaseID, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (x *SQLiteIndex) loadReleaseAttachments(ctx context.Context, releaseID int64, detail *ReleaseDetail) error {
	var desc Description
	err := x.db.QueryRowContext(ctx,
		"SELECT content_type, raw, html FROM release_descriptions WHERE release_id = ?",
		releaseID).Scan(&desc.ContentType, &desc.Raw, &desc.HTML)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to load description: %w", err)
	}
	if err == nil {
		detail.Description = &desc
	}

	rows, err := x.db.QueryContext(ctx,
		"SELECT kind, specifier FROM release_dependencies WHERE release_id = ? ORDER BY id ASC",
		releaseID)
	if err != nil {
		return fmt.Errorf("failed to load dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var dep distribution.Dependency
		var kind string
		if err := rows.Scan(&kind, &dep.Specifier); err != nil {
			return err
		}
		dep.Kind = distribution.DependencyKind(kind)
		detail.Dependencies = append(detail.Dependencies, dep)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	crows, err := x.db.QueryContext(ctx, `
		SELECT c.name
		FROM release_classifiers rc
		JOIN classifiers c ON c.id = rc.classifier_id
		WHERE rc.release_id = ?
		ORDER BY c.name ASC`,
		releaseID)
	if err != nil {
		return fmt.Errorf("failed to load classifiers: %w", err)
	}
	defer func() { _ = crows.Close() }()
	for crows.Next() {
		var name string
		if err := crows.Scan(&name); err != nil {
			return err
		}
		detail.Classifiers = append(detail.Classifiers, name)
	}
	return crows.Err()
}

// sqliteTx is one upload's transaction against SQLite.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) UpsertRelease(ctx context.Context, projectID int64, rel Release) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO releases (
			project_id, version, canonical_version, is_prerelease,
			author, author_email, maintainer, maintainer_email,
			home_page, license, summary, keywords, platform,
			download_url, requires_python
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, version) DO UPDATE SET
			canonical_version = excluded.canonical_version,
			is_prerelease = excluded.is_prerelease,
			author = excluded.author,
			author_email = excluded.author_email,
			maintainer = excluded.maintainer,
			maintainer_email = excluded.maintainer_email,
			home_page = excluded.home_page,
			license = excluded.license,
			summary = excluded.summary,
			keywords = excluded.keywords,
			platform = excluded.platform,
			download_url = excluded.download_url,
			requires_python = excluded.requires_python
		RETURNING id`,
		projectID, rel.Version, rel.CanonicalVersion, rel.IsPrerelease,
		rel.Author, rel.AuthorEmail, rel.Maintainer, rel.MaintainerEmail,
		rel.HomePage, rel.License, rel.Summary, rel.Keywords, rel.Platform,
		rel.DownloadURL, rel.RequiresPython).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert release: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) InsertReleaseFile(ctx context.Context, projectID, releaseID int64, f ReleaseFile) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO release_files (
			release_id, project_id, filename, path, package_type,
			python_version, requires_python, size,
			md5_digest, sha256_digest, blake2_256_digest
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, lower(?), lower(?), lower(?))
		RETURNING id`,
		releaseID, projectID, f.Filename, f.Path, string(f.PackageType),
		f.PythonVersion, f.RequiresPython, f.Size,
		f.MD5Digest, f.SHA256Digest, f.Blake2b256Digest).Scan(&id)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return 0, ErrDuplicateFilename
		}
		return 0, fmt.Errorf("failed to insert release file: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) UpsertDescription(ctx context.Context, releaseID int64, d Description) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO release_descriptions (release_id, content_type, raw, html)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (release_id) DO UPDATE SET
			content_type = excluded.content_type,
			raw = excluded.raw,
			html = excluded.html`,
		releaseID, d.ContentType, d.Raw, d.HTML)
	if err != nil {
		return fmt.Errorf("failed to upsert description: %w", err)
	}
	return nil
}

func (t *sqliteTx) ReplaceDependencies(ctx context.Context, releaseID int64, deps []distribution.Dependency) error {
	if _, err := t.tx.ExecContext(ctx,
		"DELETE FROM release_dependencies WHERE release_id = ?", releaseID); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	if len(deps) == 0 {
		return nil
	}

	stmt, err := t.tx.PrepareContext(ctx,
		"INSERT INTO release_dependencies (release_id, kind, specifier) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare dependency insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, dep := range deps {
		if _, err := stmt.ExecContext(ctx, releaseID, string(dep.Kind), dep.Specifier); err != nil {
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
	}
	return nil
}

func (t *sqliteTx) AddClassifiers(ctx context.Context, releaseID int64, names []string) error {
	for _, name := range names {
		var id int64
		err := t.tx.QueryRowContext(ctx, `
			INSERT INTO classifiers (name) VALUES (?)
			ON CONFLICT (name) DO UPDATE SET name = excluded.name
			RETURNING id`,
			name).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to register classifier %q: %w", name, err)
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO release_classifiers (release_id, classifier_id)
			VALUES (?, ?)
			ON CONFLICT DO NOTHING`,
			releaseID, id); err != nil {
			return fmt.Errorf("failed to associate classifier %q: %w", name, err)
		}
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}
