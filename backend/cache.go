// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 5 * time.Minute

// Cache keeps recent search pages in Redis. Every user carries a
// generation counter; writes to catalog tables bump it, which orphans all
// keys minted under the old generation instead of enumerating them.
// Cache trouble is never surfaced to callers, a failed Redis round trip
// just degrades to a database query.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *Cache) generationKey(userID string) string {
	return "inspira:search:gen:" + userID
}

func (c *Cache) searchKey(ctx context.Context, userID, fingerprint string) (string, error) {
	gen, err := c.rdb.Get(ctx, c.generationKey(userID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("inspira:search:%s:%d:%s", userID, gen, fingerprint), nil
}

// GetSearch returns a cached page, or ok=false on miss or any Redis
// trouble.
func (c *Cache) GetSearch(ctx context.Context, userID, fingerprint string) (*SearchResult, bool) {
	key, err := c.searchKey(ctx, userID, fingerprint)
	if err != nil {
		c.logger.Debug("search cache generation lookup failed", "user_id", userID, "error", err)
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Debug("search cache read failed", "key", key, "error", err)
		return nil, false
	}
	var result SearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Debug("search cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

// PutSearch stores a page under the user's current generation.
func (c *Cache) PutSearch(ctx context.Context, userID, fingerprint string, result *SearchResult) {
	key, err := c.searchKey(ctx, userID, fingerprint)
	if err != nil {
		c.logger.Debug("search cache generation lookup failed", "user_id", userID, "error", err)
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Debug("search cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("search cache write failed", "key", key, "error", err)
	}
}

// InvalidateSearch bumps the user's generation counter. Old entries stop
// being reachable immediately and fall out of Redis when their TTL runs.
func (c *Cache) InvalidateSearch(ctx context.Context, userID string) {
	if err := c.rdb.Incr(ctx, c.generationKey(userID)).Err(); err != nil {
		c.logger.Debug("search cache invalidation failed", "user_id", userID, "error", err)
	}
}
