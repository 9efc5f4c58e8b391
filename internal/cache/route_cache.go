package cache

import (
	"context"
	"time"

	"github.com/iamtahmad1/traffic-manager/internal/models"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
	"github.com/iamtahmad1/traffic-manager/pkg/resilience"
)

// Entry is the decoded content of one cached route lookup
type Entry struct {
	// URL is the cached endpoint URL; empty for negative entries
	URL string
	// Negative marks a cached not-found result
	Negative bool
}

// RouteCache applies the positive/negative caching policy to a backing
// Cache. Positive entries hold the endpoint URL under the route's cache key;
// negative entries hold the not-found sentinel with a much shorter TTL so a
// later create becomes visible quickly. Lookups and mutations go through the
// redis circuit breaker; mutations additionally draw on the redis retry
// budget while lookups never retry inline.
type RouteCache struct {
	cache       Cache
	positiveTTL time.Duration
	negativeTTL time.Duration
	resilience  *resilience.Manager
	metrics     observability.MetricsClient
}

// NewRouteCache creates a RouteCache with the given TTLs. A nil manager
// disables the resilience envelope.
func NewRouteCache(cache Cache, positiveTTL, negativeTTL time.Duration, manager *resilience.Manager, metrics observability.MetricsClient) *RouteCache {
	if positiveTTL <= 0 {
		positiveTTL = 60 * time.Second
	}
	if negativeTTL <= 0 {
		negativeTTL = 10 * time.Second
	}
	return &RouteCache{
		cache:       cache,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		resilience:  manager,
		metrics:     metrics,
	}
}

// Lookup fetches the cached entry for a route. The second return is false
// on a miss.
func (c *RouteCache) Lookup(ctx context.Context, key models.RouteKey) (Entry, bool, error) {
	start := time.Now()
	value, found, err := c.get(ctx, key.CacheKey())
	if c.metrics != nil {
		c.metrics.RecordCacheOperation("get", found, time.Since(start))
	}
	if err != nil {
		return Entry{}, false, err
	}
	if !found {
		return Entry{}, false, nil
	}
	if value == models.NotFoundSentinel {
		return Entry{Negative: true}, true, nil
	}
	return Entry{URL: value}, true, nil
}

// StorePositive caches a successful resolution with the positive TTL
func (c *RouteCache) StorePositive(ctx context.Context, key models.RouteKey, url string) error {
	return c.write(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, key.CacheKey(), url, c.positiveTTL)
	})
}

// StoreNegative caches a not-found result with the negative TTL
func (c *RouteCache) StoreNegative(ctx context.Context, key models.RouteKey) error {
	return c.write(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, key.CacheKey(), models.NotFoundSentinel, c.negativeTTL)
	})
}

// Invalidate removes the cached entry for a route
func (c *RouteCache) Invalidate(ctx context.Context, key models.RouteKey) error {
	return c.write(ctx, func(ctx context.Context) error {
		return c.cache.Delete(ctx, key.CacheKey())
	})
}

// Ping verifies connectivity to the backing store
func (c *RouteCache) Ping(ctx context.Context) error {
	return c.cache.Ping(ctx)
}

type lookupResult struct {
	value string
	found bool
}

// get reads through the redis breaker. Lookups are never retried inline;
// callers treat a failed lookup as a miss.
func (c *RouteCache) get(ctx context.Context, key string) (string, bool, error) {
	if c.resilience == nil {
		return c.cache.Get(ctx, key)
	}
	raw, err := c.resilience.Breaker(resilience.BreakerRedis).Execute(ctx,
		func(ctx context.Context) (interface{}, error) {
			value, found, err := c.cache.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			return lookupResult{value: value, found: found}, nil
		})
	if err != nil {
		return "", false, err
	}
	result := raw.(lookupResult)
	return result.value, result.found, nil
}

// write routes a cache mutation through the redis breaker and retry budget
func (c *RouteCache) write(ctx context.Context, op func(context.Context) error) error {
	if c.resilience == nil {
		return op(ctx)
	}
	_, err := c.resilience.ExecuteWithRetry(ctx, resilience.BreakerRedis, resilience.BudgetRedis,
		func(ctx context.Context) (interface{}, error) {
			return nil, op(ctx)
		})
	return err
}
