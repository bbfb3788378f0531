package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"time"

	"github.com/AgRenaud/nest/pkg/distribution"
	"github.com/AgRenaud/nest/pkg/ingest"
	"github.com/AgRenaud/nest/pkg/query"
)

// Config holds the HTTP-facing knobs of the server.
type Config struct {
	MaxUploadBytes  int64
	RateLimitPerSec int
	RateLimitBurst  int
}

// Server routes the simple API and the upload endpoint onto the ingestion
// engine and the query service.
type Server struct {
	engine  *ingest.Engine
	queries *query.Service
	config  Config
	logger  *slog.Logger
}

// New creates the HTTP server facade.
func New(engine *ingest.Engine, queries *query.Service, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 256 << 20
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitPerSec * 2
	}
	return &Server{
		engine:  engine,
		queries: queries,
		config:  cfg,
		logger:  slog.Default().With("component", "server"),
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /simple/", s.handleListProjects)
	mux.HandleFunc("GET /simple/{project}/", s.handleListDists)
	mux.HandleFunc("GET /simple/{project}/{filename}", s.handleDownload)
	mux.HandleFunc("GET /api/metadata/{project}/{filename}", s.handleMetadata)
	mux.HandleFunc("POST /api/upload", s.handleUpload)

	limiter := NewRateLimiter(s.config.RateLimitPerSec, s.config.RateLimitBurst)
	return RequestID(limiter.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleListProjects renders the PEP 503 root page: one anchor per project.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	names, err := s.queries.GetProjects(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!DOCTYPE html>\n<html>\n<head><title>Simple index</title></head>\n<body>\n")
	for _, name := range names {
		fmt.Fprintf(w, "<a href=\"/simple/%s/\">%s</a><br>\n", html.EscapeString(name), html.EscapeString(name))
	}
	fmt.Fprint(w, "</body>\n</html>\n")
}

// handleListDists renders one project's file listing.
func (s *Server) handleListDists(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")

	dists, err := s.queries.GetDists(r.Context(), project)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head><title>Links for %s</title></head>\n<body>\n", html.EscapeString(project))
	for _, d := range dists {
		fmt.Fprintf(w, "<a href=\"/simple/%s/%s\">%s</a><br>\n",
			html.EscapeString(project), html.EscapeString(d.Filename), html.EscapeString(d.Filename))
	}
	fmt.Fprint(w, "</body>\n</html>\n")
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	filename := r.PathValue("filename")

	file, err := s.queries.GetDistFile(r.Context(), project, filename)
	if err != nil {
		if errors.Is(err, query.ErrNotFound) {
			WriteNotFound(w, fmt.Sprintf("no file %q for project %q", filename, project))
			return
		}
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(file.Content)))
	_, _ = w.Write(file.Content)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	filename := r.PathValue("filename")

	meta, err := s.queries.GetDistMetadata(r.Context(), project, filename)
	if err != nil {
		if errors.Is(err, query.ErrNotFound) {
			WriteNotFound(w, fmt.Sprintf("no file %q for project %q", filename, project))
			return
		}
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meta)
}

// handleUpload accepts a structured distribution upload. The request body is
// the JSON form of distribution.Distribution; artifact bytes are base64 in
// file.content.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	var dist distribution.Distribution
	if err := json.NewDecoder(r.Body).Decode(&dist); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := s.engine.UploadPackage(r.Context(), &dist); err != nil {
		switch {
		case errors.Is(err, ingest.ErrDuplicateFilename):
			WriteConflict(w, fmt.Sprintf("file %q already exists for this project", dist.File.Filename))
		case errors.Is(err, ingest.ErrDigestMismatch):
			WriteBadRequest(w, "Uploaded content does not match the published digests")
		case errors.Is(err, ingest.ErrInvalidDistribution):
			WriteBadRequest(w, err.Error())
		default:
			WriteInternal(w, err)
		}
		return
	}

	s.queries.Invalidate(r.Context(), dist.Metadata.Name)

	s.logger.InfoContext(r.Context(), "upload accepted",
		"package", dist.Metadata.Name,
		"version", dist.Metadata.Version,
		"filename", dist.File.Filename,
		"duration", time.Since(start),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":     dist.Metadata.Name,
		"version":  dist.Metadata.Version,
		"filename": dist.File.Filename,
	})
}
