package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamtahmad1/traffic-manager/internal/cache"
	"github.com/iamtahmad1/traffic-manager/internal/models"
	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
	"github.com/iamtahmad1/traffic-manager/pkg/resilience"
)

var testKey = models.RouteKey{Tenant: "acme", Service: "billing", Env: "prod", Version: "v1"}

type fakeReader struct {
	url   string
	err   error
	calls int
}

func (r *fakeReader) ResolveActiveURL(ctx context.Context, key models.RouteKey) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.url, nil
}

func newTestCache(t *testing.T) (*cache.RouteCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.NewRouteCache(cache.NewRedisCacheFromClient(client),
		60*time.Second, 10*time.Second, nil, observability.NewNoOpMetricsClient()), mr
}

func newTestManager() *resilience.Manager {
	return resilience.NewManager(resilience.DefaultManagerConfig(),
		observability.NewNoopLogger(), observability.NewNoOpMetricsClient())
}

// trippedManager returns a manager whose database breaker opens on the first
// failure and never retries, so circuit-open behavior is easy to provoke
func trippedManager() *resilience.Manager {
	cfg := resilience.DefaultManagerConfig()
	cfg.CircuitBreakers[resilience.BreakerDatabase] = resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		MinCalls:         1,
		Window:           time.Minute,
		Timeout:          time.Minute,
	}
	cfg.MaxRetryAttempts = 1
	return resilience.NewManager(cfg, observability.NewNoopLogger(), observability.NewNoOpMetricsClient())
}

func TestResolver_CacheHit(t *testing.T) {
	rc, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, rc.StorePositive(ctx, testKey, "http://billing.acme.internal:8443"))

	reader := &fakeReader{}
	resolver := NewResolver(rc, reader, newTestManager(),
		observability.NewNoopLogger(), observability.NewNoOpMetricsClient())

	resolution, err := resolver.Resolve(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "http://billing.acme.internal:8443", resolution.URL)
	assert.Equal(t, models.SourceCache, resolution.Source)
	assert.Zero(t, reader.calls)
}

func TestResolver_NegativeCacheHit(t *testing.T) {
	rc, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, rc.StoreNegative(ctx, testKey))

	reader := &fakeReader{url: "http://billing.acme.internal:8443"}
	resolver := NewResolver(rc, reader, newTestManager(),
		observability.NewNoopLogger(), observability.NewNoOpMetricsClient())

	_, err := resolver.Resolve(ctx, testKey)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Zero(t, reader.calls)
}

func TestResolver_MissFallsThroughAndCaches(t *testing.T) {
	rc, mr := newTestCache(t)
	reader := &fakeReader{url: "http://billing.acme.internal:8443"}
	resolver := NewResolver(rc, reader, newTestManager(),
		observability.NewNoopLogger(), observability.NewNoOpMetricsClient())

	resolution, err := resolver.Resolve(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, models.SourceDatabase, resolution.Source)
	assert.Equal(t, 1, reader.calls)

	cached, err := mr.Get("route:acme:billing:prod:v1")
	require.NoError(t, err)
	assert.Equal(t, "http://billing.acme.internal:8443", cached)
}

func TestResolver_NotFoundCachesNegativeEntry(t *testing.T) {
	rc, mr := newTestCache(t)
	reader := &fakeReader{err: apperrors.New("ROUTE_NOT_FOUND", "missing", apperrors.ClassNotFound)}
	resolver := NewResolver(rc, reader, newTestManager(),
		observability.NewNoopLogger(), observability.NewNoOpMetricsClient())

	_, err := resolver.Resolve(context.Background(), testKey)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	cached, err := mr.Get("route:acme:billing:prod:v1")
	require.NoError(t, err)
	assert.Equal(t, models.NotFoundSentinel, cached)
}

func TestResolver_InvalidKey(t *testing.T) {
	rc, _ := newTestCache(t)
	reader := &fakeReader{}
	resolver := NewResolver(rc, reader, newTestManager(),
		observability.NewNoopLogger(), observability.NewNoOpMetricsClient())

	_, err := resolver.Resolve(context.Background(), models.RouteKey{Tenant: "acme"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Zero(t, reader.calls)
}

func TestResolver_CircuitOpenWithoutCacheFails(t *testing.T) {
	rc, _ := newTestCache(t)
	reader := &fakeReader{err: apperrors.New("DB_ERROR", "connection refused", apperrors.ClassTransient)}
	resolver := NewResolver(rc, reader, trippedManager(),
		observability.NewNoopLogger(), observability.NewNoOpMetricsClient())
	ctx := context.Background()

	// First call trips the breaker
	_, err := resolver.Resolve(ctx, testKey)
	require.Error(t, err)

	_, err = resolver.Resolve(ctx, testKey)
	require.Error(t, err)
	assert.True(t, apperrors.IsCircuitOpen(err))
	assert.Equal(t, 1, reader.calls)
}

// flakyCache misses on the first lookups and serves a fixed value afterwards.
// It simulates an entry landing between the initial lookup and the circuit
// open fallback.
type flakyCache struct {
	value  string
	misses int
	calls  int
}

func (c *flakyCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.calls++
	if c.calls <= c.misses {
		return "", false, nil
	}
	return c.value, true, nil
}

func (c *flakyCache) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (c *flakyCache) Delete(ctx context.Context, key string) error                        { return nil }
func (c *flakyCache) Ping(ctx context.Context) error                                      { return nil }
func (c *flakyCache) Close() error                                                        { return nil }

func TestResolver_CircuitOpenServesCacheFallback(t *testing.T) {
	// Misses on the two regular lookups, hits on the fallback lookup
	backing := &flakyCache{value: "http://billing.acme.internal:8443", misses: 2}
	rc := cache.NewRouteCache(backing, 60*time.Second, 10*time.Second, nil, observability.NewNoOpMetricsClient())

	reader := &fakeReader{err: apperrors.New("DB_ERROR", "connection refused", apperrors.ClassTransient)}
	resolver := NewResolver(rc, reader, trippedManager(),
		observability.NewNoopLogger(), observability.NewNoOpMetricsClient())
	ctx := context.Background()

	// First call trips the breaker
	_, err := resolver.Resolve(ctx, testKey)
	require.Error(t, err)

	resolution, err := resolver.Resolve(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCacheFallback, resolution.Source)
	assert.Equal(t, "http://billing.acme.internal:8443", resolution.URL)
	assert.Equal(t, 1, reader.calls)
}
