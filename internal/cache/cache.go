// Package cache holds rendered listing responses for a fixed TTL.
//
// A ResponseCache sits on top of a Store. Keys are request paths followed by
// their raw query strings, so invalidating the "/recipes" prefix drops every
// cached page of the recipe listing at once. Writers call Invalidate after a
// successful change; readers go through GetOrCompute.
//
// Two stores are provided: MemoryStore (in-process, sturdyc) for single
// instance deployments and RedisStore for instances sharing one cache.
package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store is a byte-valued key/value store whose entries expire after a TTL
// fixed when the store is built.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// DeletePrefix removes every key starting with prefix and reports how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// ComputeFunc renders a response on a cache miss. Returning an error skips
// the store; the error goes back to the caller unchanged.
type ComputeFunc func(ctx context.Context) ([]byte, error)

var (
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipebox_response_cache_lookups_total",
		Help: "Response cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	invalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recipebox_response_cache_invalidated_keys_total",
		Help: "Response cache entries removed by prefix invalidation.",
	})
)

// ResponseCache is the listing cache service. It is built once by the
// server and handed to both sides that use it: the HTTP cache stage reads
// through GetOrCompute, and the services call Invalidate after writes.
//
// WHY AN EXPLICIT SERVICE INSTEAD OF A PACKAGE-LEVEL CACHE?
// A global would make every test share entries and would hide the
// dependency from the services that must invalidate it. Passing one value
// around makes the "writes clear listings" rule visible in constructors.
type ResponseCache struct {
	store  Store
	logger *slog.Logger
}

// New wraps store. Store errors never reach callers of GetOrCompute; they
// are logged on logger and the request is served uncached.
func New(store Store, logger *slog.Logger) *ResponseCache {
	return &ResponseCache{store: store, logger: logger}
}

// GetOrCompute returns the stored bytes for key, or runs compute, stores
// its result and returns it. Store failures are logged and fall through to
// compute; the response is never worse than uncached.
func (c *ResponseCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]byte, error) {
	value, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		lookups.WithLabelValues("error").Inc()
		c.logger.Warn("cache get failed", slog.String("key", key), slog.String("error", err.Error()))
	case ok:
		lookups.WithLabelValues("hit").Inc()
		return value, nil
	default:
		lookups.WithLabelValues("miss").Inc()
	}

	value, err = compute(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, key, value); err != nil {
		c.logger.Warn("cache set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return value, nil
}

// Invalidate removes every entry whose key starts with prefix.
func (c *ResponseCache) Invalidate(ctx context.Context, prefix string) error {
	n, err := c.store.DeletePrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("cache: invalidating %q: %w", prefix, err)
	}
	invalidations.Add(float64(n))
	c.logger.Debug("cache invalidated", slog.String("prefix", prefix), slog.Int("keys", n))
	return nil
}
