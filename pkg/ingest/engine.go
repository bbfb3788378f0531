// Package ingest is the ingestion engine of the index: it takes a parsed
// Distribution, records its metadata atomically and persists its artifact,
// keeping the metadata index and the blob store consistent under partial
// failure. The metadata commit is always the last step, so the index can
// never point at a blob that was not written.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AgRenaud/nest/pkg/blobstore"
	"github.com/AgRenaud/nest/pkg/distribution"
	"github.com/AgRenaud/nest/pkg/index"
	"github.com/AgRenaud/nest/pkg/pep"
)

var (
	// ErrPackage is the generic ingestion failure returned to callers.
	// Low-level causes are logged, not surfaced, so storage and database
	// internals never leak to the uploader.
	ErrPackage = errors.New("package ingestion failed")

	// ErrDuplicateFilename rejects re-publishing an existing artifact
	// name. Distinct from ErrPackage so the boundary can answer with an
	// "already published" response.
	ErrDuplicateFilename = index.ErrDuplicateFilename

	// ErrInvalidDistribution is returned when the distribution is missing
	// its name, version or filename.
	ErrInvalidDistribution = errors.New("invalid distribution")

	// ErrDigestMismatch is returned when a published digest does not match
	// the uploaded bytes.
	ErrDigestMismatch = distribution.ErrDigestMismatch
)

// Engine orchestrates uploads across the metadata index and the blob store.
// Safe for concurrent use; all state lives in the stores.
type Engine struct {
	index  index.Index
	blobs  blobstore.Store
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates an ingestion engine over the given stores.
func New(idx index.Index, blobs blobstore.Store) *Engine {
	return &Engine{
		index:  idx,
		blobs:  blobs,
		logger: slog.Default().With("component", "ingest"),
		tracer: otel.Tracer("nest/ingest"),
	}
}

// UploadPackage validates and ingests one distribution.
//
// Ordering is deliberate: every metadata row is staged inside a single
// transaction first, then the artifact is written to the blob store, and
// only then is the transaction committed. A failed blob write rolls the
// metadata back with nothing to clean up; a failed commit triggers a
// compensating blob delete. The one unrecoverable case, a failed
// compensating delete, leaves an orphaned blob (garbage-collectable) and is
// escalated through logging, never a dangling metadata row.
func (e *Engine) UploadPackage(ctx context.Context, dist *distribution.Distribution) error {
	meta := &dist.Metadata

	ctx, span := e.tracer.Start(ctx, "upload_package",
		trace.WithAttributes(
			attribute.String("package.name", meta.Name),
			attribute.String("package.version", meta.Version),
			attribute.String("package.filename", dist.File.Filename),
		))
	defer span.End()

	if meta.Name == "" || meta.Version == "" {
		return fmt.Errorf("%w: name and version are required", ErrInvalidDistribution)
	}
	if dist.File.Filename == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidDistribution)
	}

	hashes := dist.Hashes.Normalized()
	if err := hashes.Verify(dist.File.Content); err != nil {
		return err
	}

	normalized := pep.NormalizeName(meta.Name)
	log := e.logger.With("project", normalized, "version", meta.Version, "filename", dist.File.Filename)

	projectID, err := e.getOrCreateProject(ctx, meta.Name, normalized, log)
	if err != nil {
		log.ErrorContext(ctx, "project lookup failed", "error", err)
		return ErrPackage
	}

	tx, err := e.index.Begin(ctx)
	if err != nil {
		log.ErrorContext(ctx, "failed to open metadata transaction", "error", err)
		return ErrPackage
	}

	blobPath := blobstore.DistPath(normalized, dist.File.Filename)

	if err := e.stageMetadata(ctx, tx, projectID, dist, hashes, blobPath); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, index.ErrDuplicateFilename) {
			log.WarnContext(ctx, "rejected duplicate filename")
			return ErrDuplicateFilename
		}
		log.ErrorContext(ctx, "failed to stage release metadata", "error", err)
		return ErrPackage
	}

	// Blob write happens after all metadata is staged and before commit:
	// a failure here rolls everything back and leaves no orphan.
	if err := e.blobs.Put(ctx, blobPath, dist.File.Content); err != nil {
		_ = tx.Rollback()
		log.ErrorContext(ctx, "artifact write failed, metadata rolled back", "path", blobPath, "error", err)
		return ErrPackage
	}

	if err := tx.Commit(); err != nil {
		log.ErrorContext(ctx, "metadata commit failed after blob write, deleting artifact", "path", blobPath, "error", err)
		if delErr := e.blobs.Delete(ctx, blobPath); delErr != nil {
			// Orphaned blob: requires operator intervention. The upload
			// still fails with the original error.
			log.ErrorContext(ctx, "INCONSISTENCY: compensating delete failed, orphaned blob requires manual cleanup",
				"path", blobPath, "error", delErr)
		}
		return ErrPackage
	}

	log.InfoContext(ctx, "package ingested", "path", blobPath, "size", len(dist.File.Content))
	return nil
}

// getOrCreateProject resolves the project id, creating the project on first
// upload. A creation race is collapsed into the lookup path: losing the
// insert means another upload just created it.
func (e *Engine) getOrCreateProject(ctx context.Context, name, normalized string, log *slog.Logger) (int64, error) {
	id, ok, err := e.index.GetProjectID(ctx, normalized)
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}

	log.InfoContext(ctx, "creating project", "name", name)
	id, err = e.index.CreateProject(ctx, name, normalized)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, index.ErrDuplicateProject) {
		return 0, err
	}

	id, ok, err = e.index.GetProjectID(ctx, normalized)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("project vanished after duplicate-create race")
	}
	return id, nil
}

// stageMetadata writes every metadata row of the upload into tx, in
// dependency order: release, file, description, dependencies, classifiers.
func (e *Engine) stageMetadata(ctx context.Context, tx index.Tx, projectID int64, dist *distribution.Distribution, hashes distribution.Hashes, blobPath string) error {
	meta := &dist.Metadata

	releaseID, err := tx.UpsertRelease(ctx, projectID, releaseFromMetadata(meta))
	if err != nil {
		return err
	}

	if _, err := tx.InsertReleaseFile(ctx, projectID, releaseID, index.ReleaseFile{
		Filename:         dist.File.Filename,
		Path:             blobPath,
		PackageType:      distribution.PackageTypeFromFilename(dist.File.Filename),
		PythonVersion:    dist.PythonVersion,
		RequiresPython:   meta.RequiresPython,
		Size:             int64(len(dist.File.Content)),
		MD5Digest:        hashes.MD5Digest,
		SHA256Digest:     hashes.SHA256Digest,
		Blake2b256Digest: hashes.Blake2b256Digest,
	}); err != nil {
		return err
	}

	if meta.Description != "" {
		contentType := meta.DescriptionContentType
		if contentType == "" {
			contentType = "text/rst"
		}
		if err := tx.UpsertDescription(ctx, releaseID, index.Description{
			ContentType: contentType,
			Raw:         meta.Description,
			HTML:        "",
		}); err != nil {
			return err
		}
	}

	if err := tx.ReplaceDependencies(ctx, releaseID, meta.Dependencies()); err != nil {
		return err
	}

	return tx.AddClassifiers(ctx, releaseID, meta.Classifiers)
}

// releaseFromMetadata maps metadata onto a release row, recomputing the
// canonical version and prerelease flag so corrected metadata re-publishes
// cleanly.
func releaseFromMetadata(meta *distribution.CoreMetadata) index.Release {
	return index.Release{
		Version:          meta.Version,
		CanonicalVersion: pep.CanonicalizeVersion(meta.Version, false),
		IsPrerelease:     pep.IsPrerelease(meta.Version),
		Author:           meta.Author,
		AuthorEmail:      meta.AuthorEmail,
		Maintainer:       meta.Maintainer,
		MaintainerEmail:  meta.MaintainerEmail,
		HomePage:         meta.HomePage,
		License:          meta.License,
		Summary:          meta.Summary,
		Keywords:         strings.Join(meta.Keywords, ","),
		Platform:         strings.Join(meta.Platforms, ","),
		DownloadURL:      meta.DownloadURL,
		RequiresPython:   meta.RequiresPython,
	}
}
