// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(rdb, time.Minute, nil), mr
}

func searchPage(total int) *SearchResult {
	return &SearchResult{
		Rows:  []domain.Record{{"id": "p1", "name": "Martillo"}},
		Total: total,
	}
}

func TestSearchCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := cache.GetSearch(ctx, "user-1", "fp-a")
	require.False(t, ok)

	cache.PutSearch(ctx, "user-1", "fp-a", searchPage(7))

	got, ok := cache.GetSearch(ctx, "user-1", "fp-a")
	require.True(t, ok)
	require.Equal(t, 7, got.Total)
	require.Equal(t, "p1", got.Rows[0]["id"])

	_, ok = cache.GetSearch(ctx, "user-1", "fp-b")
	require.False(t, ok, "a different query fingerprint must miss")
}

func TestSearchCacheIsScopedPerUser(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.PutSearch(ctx, "user-a", "fp", searchPage(1))

	_, ok := cache.GetSearch(ctx, "user-b", "fp")
	require.False(t, ok)

	cache.InvalidateSearch(ctx, "user-b")
	_, ok = cache.GetSearch(ctx, "user-a", "fp")
	require.True(t, ok, "another user's invalidation must not evict")
}

func TestInvalidateSearchOrphansOldEntries(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.PutSearch(ctx, "user-1", "fp", searchPage(3))
	cache.InvalidateSearch(ctx, "user-1")

	_, ok := cache.GetSearch(ctx, "user-1", "fp")
	require.False(t, ok)

	cache.PutSearch(ctx, "user-1", "fp", searchPage(4))
	got, ok := cache.GetSearch(ctx, "user-1", "fp")
	require.True(t, ok)
	require.Equal(t, 4, got.Total)
}

func TestSearchCacheEntriesExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := NewCache(rdb, time.Minute, nil)
	ctx := context.Background()

	cache.PutSearch(ctx, "user-1", "fp", searchPage(2))
	mr.FastForward(2 * time.Minute)

	_, ok := cache.GetSearch(ctx, "user-1", "fp")
	require.False(t, ok)
}

func TestCacheDegradesWhenRedisIsDown(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	mr.Close()

	_, ok := cache.GetSearch(ctx, "user-1", "fp")
	require.False(t, ok)

	// Writes and invalidations must swallow the failure.
	cache.PutSearch(ctx, "user-1", "fp", searchPage(1))
	cache.InvalidateSearch(ctx, "user-1")
}
