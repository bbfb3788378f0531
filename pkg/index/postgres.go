package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/AgRenaud/nest/pkg/distribution"
)

// PostgresIndex implements Index against PostgreSQL. It is the primary
// backend; every uniqueness rule maps onto a UNIQUE constraint so racing
// uploads are arbitrated by the database.
type PostgresIndex struct {
	db *sql.DB
}

func NewPostgresIndex(db *sql.DB) *PostgresIndex {
	return &PostgresIndex{db: db}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS releases (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id),
	version TEXT NOT NULL,
	canonical_version TEXT NOT NULL,
	is_prerelease BOOLEAN NOT NULL DEFAULT FALSE,
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
	id BIGSERIAL PRIMARY KEY,
	release_id BIGINT NOT NULL REFERENCES releases(id),
	project_id BIGINT NOT NULL REFERENCES projects(id),
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	package_type TEXT NOT NULL,
	python_version TEXT NOT NULL DEFAULT '',
	requires_python TEXT NOT NULL DEFAULT '',
	size BIGINT NOT NULL DEFAULT 0,
	md5_digest TEXT NOT NULL DEFAULT '',
	sha256_digest TEXT NOT NULL DEFAULT '',
	blake2_256_digest TEXT NOT NULL DEFAULT '',
	UNIQUE (project_id, filename)
);

CREATE TABLE IF NOT EXISTS release_descriptions (
	release_id BIGINT PRIMARY KEY REFERENCES releases(id),
	content_type TEXT NOT NULL DEFAULT 'text/rst',
	raw TEXT NOT NULL DEFAULT '',
	html TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS release_dependencies (
	id BIGSERIAL PRIMARY KEY,
	release_id BIGINT NOT NULL REFERENCES releases(id),
	kind TEXT NOT NULL,
	specifier TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS classifiers (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS release_classifiers (
	release_id BIGINT NOT NULL REFERENCES releases(id),
	classifier_id BIGINT NOT NULL REFERENCES classifiers(id),
	PRIMARY KEY (release_id, classifier_id)
);
`

func (x *PostgresIndex) Init(ctx context.Context) error {
	_, err := x.db.ExecContext(ctx, pgSchema)
	return err
}

// isPgUniqueViolation reports whether err is a unique-constraint violation.
func isPgUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (x *PostgresIndex) ProjectExists(ctx context.Context, normalizedName string) (bool, error) {
	var exists bool
	err := x.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM projects WHERE normalized_name = $1)",
		normalizedName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project existence: %w", err)
	}
	return exists, nil
}

func (x *PostgresIndex) CreateProject(ctx context.Context, name, normalizedName string) (int64, error) {
	var id int64
	err := x.db.QueryRowContext(ctx,
		"INSERT INTO projects (name, normalized_name) VALUES ($1, $2) RETURNING id",
		name, normalizedName).Scan(&id)
	if err != nil {
		if isPgUniqueViolation(err) {
			return 0, ErrDuplicateProject
		}
		return 0, fmt.Errorf("failed to create project: %w", err)
	}
	return id, nil
}

func (x *PostgresIndex) GetProjectID(ctx context.Context, normalizedName string) (int64, bool, error) {
	var id int64
	err := x.db.QueryRowContext(ctx,
		"SELECT id FROM projects WHERE normalized_name = $1",
		normalizedName).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up project: %w", err)
	}
	return id, true, nil
}

func (x *PostgresIndex) Begin(ctx context.Context) (Tx, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (x *PostgresIndex) ListProjects(ctx context.Context) ([]string, error) {
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

func (x *PostgresIndex) ListReleaseFiles(ctx context.Context, normalizedName string) ([]PkgDist, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT rf.filename, rf.path
		FROM projects p
		JOIN releases r ON r.project_id = p.id
		JOIN release_files rf ON rf.release_id = r.id
		WHERE p.normalized_name = $1
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

func (x *PostgresIndex) GetReleaseDetail(ctx context.Context, normalizedName, filename string) (*ReleaseDetail, error) {
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
		WHERE p.normalized_name = $1 AND rf.filename = $2`,
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

func (x *PostgresIndex) loadReleaseAttachments(ctx context.Context, releaseID int64, detail *ReleaseDetail) error {
	var desc Description
	err := x.db.QueryRowContext(ctx,
		"SELECT content_type, raw, html FROM release_descriptions WHERE release_id = $1",
		releaseID).Scan(&desc.ContentType, &desc.Raw, &desc.HTML)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to load description: %w", err)
	}
	if err == nil {
		detail.Description = &desc
	}

	rows, err := x.db.QueryContext(ctx,
		"SELECT kind, specifier FROM release_dependencies WHERE release_id = $1 ORDER BY id ASC",
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
		WHERE rc.release_id = $1
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

// pgTx is one upload's transaction against PostgreSQL.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) UpsertRelease(ctx context.Context, projectID int64, rel Release) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO releases (
			project_id, version, canonical_version, is_prerelease,
			author, author_email, maintainer, maintainer_email,
			home_page, license, summary, keywords, platform,
			download_url, requires_python
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (project_id, version) DO UPDATE SET
			canonical_version = EXCLUDED.canonical_version,
			is_prerelease = EXCLUDED.is_prerelease,
			author = EXCLUDED.author,
			author_email = EXCLUDED.author_email,
			maintainer = EXCLUDED.maintainer,
			maintainer_email = EXCLUDED.maintainer_email,
			home_page = EXCLUDED.home_page,
			license = EXCLUDED.license,
			summary = EXCLUDED.summary,
			keywords = EXCLUDED.keywords,
			platform = EXCLUDED.platform,
			download_url = EXCLUDED.download_url,
			requires_python = EXCLUDED.requires_python
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

func (t *pgTx) InsertReleaseFile(ctx context.Context, projectID, releaseID int64, f ReleaseFile) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO release_files (
			release_id, project_id, filename, path, package_type,
			python_version, requires_python, size,
			md5_digest, sha256_digest, blake2_256_digest
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, lower($9), lower($10), lower($11))
		RETURNING id`,
		releaseID, projectID, f.Filename, f.Path, string(f.PackageType),
		f.PythonVersion, f.RequiresPython, f.Size,
		f.MD5Digest, f.SHA256Digest, f.Blake2b256Digest).Scan(&id)
	if err != nil {
		if isPgUniqueViolation(err) {
			return 0, ErrDuplicateFilename
		}
		return 0, fmt.Errorf("failed to insert release file: %w", err)
	}
	return id, nil
}

func (t *pgTx) UpsertDescription(ctx context.Context, releaseID int64, d Description) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO release_descriptions (release_id, content_type, raw, html)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (release_id) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			raw = EXCLUDED.raw,
			html = EXCLUDED.html`,
		releaseID, d.ContentType, d.Raw, d.HTML)
	if err != nil {
		return fmt.Errorf("failed to upsert description: %w", err)
	}
	return nil
}

func (t *pgTx) ReplaceDependencies(ctx context.Context, releaseID int64, deps []distribution.Dependency) error {
	if _, err := t.tx.ExecContext(ctx,
		"DELETE FROM release_dependencies WHERE release_id = $1", releaseID); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	if len(deps) == 0 {
		return nil
	}

	kinds := make([]string, len(deps))
	specifiers := make([]string, len(deps))
	for i, dep := range deps {
		kinds[i] = string(dep.Kind)
		specifiers[i] = dep.Specifier
	}

	// Batched multi-row insert via unnest, one round trip per upload.
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO release_dependencies (release_id, kind, specifier)
		SELECT $1, k, s FROM unnest($2::text[], $3::text[]) AS t(k, s)`,
		releaseID, pq.Array(kinds), pq.Array(specifiers))
	if err != nil {
		return fmt.Errorf("failed to insert dependencies: %w", err)
	}
	return nil
}

func (t *pgTx) AddClassifiers(ctx context.Context, releaseID int64, names []string) error {
	for _, name := range names {
		var id int64
		err := t.tx.QueryRowContext(ctx, `
			INSERT INTO classifiers (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`,
			name).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to register classifier %q: %w", name, err)
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO release_classifiers (release_id, classifier_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			releaseID, id); err != nil {
			return fmt.Errorf("failed to associate classifier %q: %w", name, err)
		}
	}
	return nil
}

func (t *pgTx) Commit() error {
	return t.tx.Commit()
}

func (t *pgTx) Rollback() error {
	return t.tx.Rollback()
}
