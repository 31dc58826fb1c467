// Package cache memoises prefix query results in Redis. Keys include the
// index fingerprint, so replicas and restarts serving the same content
// share entries and an index with different content never sees them.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
)

const keyPrefix = "symq:"

// Store is the byte cache behind QueryCache. *redis.Client implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Result is one answered prefix query.
type Result struct {
	Query      string               `json:"query"`
	Generation uint64               `json:"generation"`
	Total      int                  `json:"total"`
	Records    []symbolindex.Record `json:"records"`
}

// Stats are the cache counters since start.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hit_rate"`
}

type QueryCache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

func New(store Store, ttl time.Duration) *QueryCache {
	return &QueryCache{
		store:  store,
		ttl:    ttl,
		logger: slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) get(ctx context.Context, key string) (*Result, bool) {
	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

func (c *QueryCache) set(ctx context.Context, key string, result *Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for (fingerprint, prefix, limit)
// or computes, stores and returns it. Concurrent misses for the same key
// share one computation. Cache failures degrade to computing directly.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	fingerprint string,
	prefix string,
	limit int,
	compute func() (*Result, error),
) (*Result, bool, error) {
	key := BuildKey(fingerprint, prefix, limit)
	if result, ok := c.get(ctx, key); ok {
		c.hits.Add(1)
		c.logger.Debug("cache hit", "prefix", prefix, "key", key)
		return result, true, nil
	}
	c.misses.Add(1)
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Result), false, nil
}

// Invalidate deletes every cached query.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating query cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// OnSwap drops results for the replaced index when its content changed.
// It matches catalog.SwapHook.
func (c *QueryCache) OnSwap(ctx context.Context, old, current *symbolindex.Index) {
	if old == nil || old.Fingerprint() == current.Fingerprint() {
		return
	}
	if err := c.Invalidate(ctx); err != nil {
		c.logger.Warn("dropping stale results failed", "generation", current.Generation(), "error", err)
	}
}

func (c *QueryCache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Errors: c.errs.Load()}
	s.Total = s.Hits + s.Misses
	if s.Total > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Total)
	}
	return s
}

// BuildKey derives the cache key. Prefixes that fold to the same string
// share a key.
func BuildKey(fingerprint, prefix string, limit int) string {
	raw := fingerprint + "|" + symbolindex.Normalize(prefix) + "|" + strconv.Itoa(limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
