// Package query is the read side of the index: project listings, per-project
// file listings, artifact downloads and stored metadata lookups. It never
// mutates state and is safe to call concurrently.
package query

import (
	"context"
	"errors"
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

// ErrNotFound is returned when a requested artifact does not exist in the
// blob store, regardless of metadata-index state.
var ErrNotFound = errors.New("distribution not found")

// Service answers the discovery and download queries of the simple API.
type Service struct {
	index  index.Index
	blobs  blobstore.Store
	cache  *ListingCache // optional; nil disables caching
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a query service. cache may be nil.
func New(idx index.Index, blobs blobstore.Store, cache *ListingCache) *Service {
	return &Service{
		index:  idx,
		blobs:  blobs,
		cache:  cache,
		logger: slog.Default().With("component", "query"),
		tracer: otel.Tracer("nest/query"),
	}
}

// GetProjects returns every project name, name-ascending.
func (s *Service) GetProjects(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "get_projects")
	defer span.End()

	if s.cache != nil {
		if names, ok := s.cache.Projects(ctx); ok {
			return names, nil
		}
	}

	names, err := s.index.ListProjects(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "project listing failed", "error", err)
		return nil, err
	}

	if s.cache != nil {
		s.cache.StoreProjects(ctx, names)
	}
	return names, nil
}

// GetDists returns the (filename, path) entries of a project, looked up by
// normalized name. An unknown project yields an empty slice: current
// behavior does not distinguish "no such project" from "no files".
func (s *Service) GetDists(ctx context.Context, project string) ([]index.PkgDist, error) {
	normalized := pep.NormalizeName(project)

	ctx, span := s.tracer.Start(ctx, "get_dists",
		trace.WithAttributes(attribute.String("package.name", normalized)))
	defer span.End()

	if s.cache != nil {
		if dists, ok := s.cache.Dists(ctx, normalized); ok {
			return dists, nil
		}
	}

	dists, err := s.index.ListReleaseFiles(ctx, normalized)
	if err != nil {
		s.logger.ErrorContext(ctx, "file listing failed", "project", normalized, "error", err)
		return nil, err
	}

	if s.cache != nil {
		s.cache.StoreDists(ctx, normalized, dists)
	}
	return dists, nil
}

// GetDistFile reads an artifact's bytes by its computed blob path.
func (s *Service) GetDistFile(ctx context.Context, project, filename string) (*distribution.File, error) {
	normalized := pep.NormalizeName(project)

	ctx, span := s.tracer.Start(ctx, "get_dist_file",
		trace.WithAttributes(
			attribute.String("package.name", normalized),
			attribute.String("package.filename", filename),
		))
	defer span.End()

	content, err := s.blobs.Get(ctx, blobstore.DistPath(normalized, filename))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		s.logger.ErrorContext(ctx, "artifact read failed", "project", normalized, "filename", filename, "error", err)
		return nil, err
	}

	return &distribution.File{Filename: filename, Content: content}, nil
}

// GetDistMetadata returns the stored descriptive fields of one artifact,
// joined across release file, release and project.
func (s *Service) GetDistMetadata(ctx context.Context, project, filename string) (*distribution.CoreMetadata, error) {
	normalized := pep.NormalizeName(project)

	ctx, span := s.tracer.Start(ctx, "get_dist_metadata",
		trace.WithAttributes(
			attribute.String("package.name", normalized),
			attribute.String("package.filename", filename),
		))
	defer span.End()

	detail, err := s.index.GetReleaseDetail(ctx, normalized, filename)
	if err != nil {
		if errors.Is(err, index.ErrReleaseFileNotFound) {
			return nil, ErrNotFound
		}
		s.logger.ErrorContext(ctx, "metadata lookup failed", "project", normalized, "filename", filename, "error", err)
		return nil, err
	}

	return metadataFromDetail(detail), nil
}

// Invalidate drops cached listings after an upload touches a project.
func (s *Service) Invalidate(ctx context.Context, project string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, pep.NormalizeName(project))
}

// metadataFromDetail reassembles core metadata from the stored rows.
func metadataFromDetail(detail *index.ReleaseDetail) *distribution.CoreMetadata {
	meta := &distribution.CoreMetadata{
		Name:            detail.Project,
		Version:         detail.Release.Version,
		Summary:         detail.Release.Summary,
		HomePage:        detail.Release.HomePage,
		DownloadURL:     detail.Release.DownloadURL,
		Author:          detail.Release.Author,
		AuthorEmail:     detail.Release.AuthorEmail,
		Maintainer:      detail.Release.Maintainer,
		MaintainerEmail: detail.Release.MaintainerEmail,
		License:         detail.Release.License,
		RequiresPython:  detail.Release.RequiresPython,
		Classifiers:     detail.Classifiers,
	}
	if detail.Release.Keywords != "" {
		meta.Keywords = strings.Split(detail.Release.Keywords, ",")
	}
	if detail.Release.Platform != "" {
		meta.Platforms = strings.Split(detail.Release.Platform, ",")
	}
	if detail.Description != nil {
		meta.Description = detail.Description.Raw
		meta.DescriptionContentType = detail.Description.ContentType
	}
	for _, dep := range detail.Dependencies {
		switch dep.Kind {
		case distribution.KindRequiresDist:
			meta.RequiresDists = append(meta.RequiresDists, dep.Specifier)
		case distribution.KindProvidesDist:
			meta.ProvidesDists = append(meta.ProvidesDists, dep.Specifier)
		case distribution.KindObsoletesDist:
			meta.ObsoletesDists = append(meta.ObsoletesDists, dep.Specifier)
		case distribution.KindRequiresExternal:
			meta.RequiresExternals = append(meta.RequiresExternals, dep.Specifier)
		case distribution.KindRequires:
			meta.Requires = append(meta.Requires, dep.Specifier)
		case distribution.KindProvides:
			meta.Provides = append(meta.Provides, dep.Specifier)
		case distribution.KindObsoletes:
			meta.Obsoletes = append(meta.Obsoletes, dep.Specifier)
		}
	}
	return meta
}
