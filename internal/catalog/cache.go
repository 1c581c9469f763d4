package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	mediaCacheKey     = "catalog:media"
	segmentsCacheKey  = "catalog:segments:"
	cacheReadDeadline = 5 * time.Second
)

// CachedProvider caches catalog reads in Redis. Cache errors degrade to the
// inner provider; the cache must never make the catalog unreadable.
type CachedProvider struct {
	inner Provider
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

func NewCachedProvider(inner Provider, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedProvider {
	return &CachedProvider{inner: inner, rdb: rdb, ttl: ttl, log: log}
}

func (c *CachedProvider) ListCompletedMedia(ctx context.Context) ([]MediaFile, error) {
	var files []MediaFile
	if c.get(ctx, mediaCacheKey, &files) {
		return files, nil
	}
	files, err := c.inner.ListCompletedMedia(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, mediaCacheKey, files)
	return files, nil
}

func (c *CachedProvider) GetSegments(ctx context.Context, fileID string) ([]Segment, error) {
	key := segmentsCacheKey + fileID
	var segs []Segment
	if c.get(ctx, key, &segs) {
		return segs, nil
	}
	segs, err := c.inner.GetSegments(ctx, fileID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, segs)
	return segs, nil
}

// Invalidate drops cached entries so the next turn sees fresh catalog state.
func (c *CachedProvider) Invalidate(ctx context.Context, fileIDs ...string) error {
	keys := []string{mediaCacheKey}
	for _, id := range fileIDs {
		keys = append(keys, segmentsCacheKey+id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate catalog cache: %w", err)
	}
	return nil
}

func (c *CachedProvider) get(ctx context.Context, key string, v interface{}) bool {
	rctx, cancel := context.WithTimeout(ctx, cacheReadDeadline)
	defer cancel()
	data, err := c.rdb.Get(rctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("catalog cache entry corrupt, ignoring")
		return false
	}
	return true
}

func (c *CachedProvider) set(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("catalog cache encode failed")
		return
	}
	wctx, cancel := context.WithTimeout(ctx, cacheReadDeadline)
	defer cancel()
	if err := c.rdb.Set(wctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
}
