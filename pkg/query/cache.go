package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AgRenaud/nest/pkg/index"
)

const (
	projectsCacheKey = "nest:simple:projects"
	distsCachePrefix = "nest:simple:dists:"
)

// ListingCache is a read-through Redis cache for the two hot listing
// queries of the simple API. Cache failures are logged and treated as
// misses; the index stays authoritative.
type ListingCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewListingCache wraps an existing Redis client. ttl bounds staleness for
// writes that bypass this process.
func NewListingCache(client *redis.Client, ttl time.Duration) *ListingCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ListingCache{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// Projects returns the cached project listing, if present.
func (c *ListingCache) Projects(ctx context.Context) ([]string, bool) {
	var names []string
	if !c.fetch(ctx, projectsCacheKey, &names) {
		return nil, false
	}
	return names, true
}

// StoreProjects caches the project listing.
func (c *ListingCache) StoreProjects(ctx context.Context, names []string) {
	c.store(ctx, projectsCacheKey, names)
}

// Dists returns the cached file listing of a normalized project name.
func (c *ListingCache) Dists(ctx context.Context, normalized string) ([]index.PkgDist, bool) {
	var dists []index.PkgDist
	if !c.fetch(ctx, distsCachePrefix+normalized, &dists) {
		return nil, false
	}
	return dists, true
}

// StoreDists caches the file listing of a normalized project name.
func (c *ListingCache) StoreDists(ctx context.Context, normalized string, dists []index.PkgDist) {
	c.store(ctx, distsCachePrefix+normalized, dists)
}

// Invalidate drops the project listing and the given project's file
// listing after an upload.
func (c *ListingCache) Invalidate(ctx context.Context, normalized string) {
	if err := c.client.Del(ctx, projectsCacheKey, distsCachePrefix+normalized).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache invalidation failed", "project", normalized, "error", err)
	}
}

func (c *ListingCache) fetch(ctx context.Context, key string, dst any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.WarnContext(ctx, "cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (c *ListingCache) store(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
}
