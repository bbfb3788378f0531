// Command nest runs the private package index server: PEP 503 simple pages,
// artifact downloads and the upload endpoint, backed by a SQL metadata index
// and a pluggable blob store.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AgRenaud/nest/pkg/blobstore"
	"github.com/AgRenaud/nest/pkg/config"
	"github.com/AgRenaud/nest/pkg/index"
	"github.com/AgRenaud/nest/pkg/ingest"
	"github.com/AgRenaud/nest/pkg/observability"
	"github.com/AgRenaud/nest/pkg/query"
	"github.com/AgRenaud/nest/pkg/server"
)

func main() {
	configPath := flag.String("config", "nest.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	obs, err := observability.Setup(ctx, &observability.Config{
		ServiceName:  cfg.Observability.ServiceName,
		LogLevel:     cfg.Observability.LogLevel,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("setup observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	logger := slog.Default().With("component", "main")

	idx, db, err := openIndex(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := idx.Init(ctx); err != nil {
		return fmt.Errorf("init metadata index: %w", err)
	}

	blobs, err := blobstore.NewStore(ctx, cfg.BlobStore())
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	var cache *query.ListingCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		cache = query.NewListingCache(client, cfg.Redis.TTL)
		logger.InfoContext(ctx, "listing cache enabled", "addr", cfg.Redis.Addr)
	}

	engine := ingest.New(idx, blobs)
	queries := query.New(idx, blobs, cache)

	srv := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: server.New(engine, queries, server.Config{
			MaxUploadBytes:  cfg.Server.MaxUploadBytes,
			RateLimitPerSec: cfg.Server.RateLimitPerSec,
			RateLimitBurst:  cfg.Server.RateLimitBurst,
		}).Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "listening",
			"addr", srv.Addr,
			"db_driver", cfg.Database.Driver,
			"storage", cfg.Storage.Type,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openIndex opens the configured SQL backend and wraps it in the matching
// index implementation.
func openIndex(cfg config.DatabaseConfig) (index.Index, *sql.DB, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return index.NewPostgresIndex(db), db, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return index.NewSQLiteIndex(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
