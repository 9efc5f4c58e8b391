// Package services holds the core route logic: resolution on the read path
// and mutation on the write path. Both sit between the HTTP layer and the
// adapters, and both route every record store call through the resilience
// manager.
package services

import (
	"context"
	"time"

	"github.com/iamtahmad1/traffic-manager/internal/cache"
	"github.com/iamtahmad1/traffic-manager/internal/models"
	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
	"github.com/iamtahmad1/traffic-manager/pkg/resilience"
)

// RouteReader is the record store read surface the resolver depends on
type RouteReader interface {
	ResolveActiveURL(ctx context.Context, key models.RouteKey) (string, error)
}

// Resolver answers route lookups cache-first. A cache miss falls through to
// the record store behind the database breaker; the result is written back as
// a positive or negative entry. When the breaker is open, a cached positive
// value is served as a degraded fallback.
type Resolver struct {
	cache      *cache.RouteCache
	store      RouteReader
	resilience *resilience.Manager
	logger     observability.Logger
	metrics    observability.MetricsClient
}

// NewResolver creates a resolver
func NewResolver(routeCache *cache.RouteCache, store RouteReader, manager *resilience.Manager, logger observability.Logger, metrics observability.MetricsClient) *Resolver {
	return &Resolver{
		cache:      routeCache,
		store:      store,
		resilience: manager,
		logger:     logger,
		metrics:    metrics,
	}
}

// Resolve maps a route key to its active endpoint URL
func (r *Resolver) Resolve(ctx context.Context, key models.RouteKey) (*models.Resolution, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	resolution, err := r.resolve(ctx, key)
	outcome := "error"
	if err == nil {
		outcome = resolution.Source
	} else if apperrors.IsNotFound(err) {
		outcome = "not_found"
	}
	if r.metrics != nil {
		r.metrics.IncrementCounterWithLabels("resolve_requests_total", 1, map[string]string{"outcome": outcome})
		r.metrics.RecordHistogram("resolve_duration_seconds", time.Since(start).Seconds(), nil)
	}
	return resolution, err
}

func (r *Resolver) resolve(ctx context.Context, key models.RouteKey) (*models.Resolution, error) {
	logger := observability.CtxLogger(ctx, r.logger)

	entry, found, err := r.cache.Lookup(ctx, key)
	if err != nil {
		// A degraded cache must not take down the read path; fall through to
		// the record store
		logger.Warn("cache lookup failed, falling through to record store", map[string]interface{}{
			"route": key.String(),
			"error": err.Error(),
		})
	} else if found {
		if entry.Negative {
			return nil, apperrors.New("ROUTE_NOT_FOUND", "no active endpoint for "+key.String(), apperrors.ClassNotFound).
				WithOperation("resolve").
				WithCorrelationID(observability.GetCorrelationID(ctx))
		}
		return &models.Resolution{Key: key, URL: entry.URL, Source: models.SourceCache}, nil
	}

	result, err := r.resilience.ExecuteWithRetry(ctx, resilience.BreakerDatabase, resilience.BudgetDatabase,
		func(ctx context.Context) (interface{}, error) {
			return r.store.ResolveActiveURL(ctx, key)
		})
	if err != nil {
		if apperrors.IsNotFound(err) {
			if cacheErr := r.cache.StoreNegative(ctx, key); cacheErr != nil {
				logger.Warn("failed to cache negative entry", map[string]interface{}{
					"route": key.String(),
					"error": cacheErr.Error(),
				})
			}
			return nil, err
		}
		if apperrors.IsCircuitOpen(err) {
			return r.fallbackToCache(ctx, key, err)
		}
		return nil, err
	}

	url := result.(string)
	if cacheErr := r.cache.StorePositive(ctx, key, url); cacheErr != nil {
		logger.Warn("failed to cache positive entry", map[string]interface{}{
			"route": key.String(),
			"error": cacheErr.Error(),
		})
	}
	return &models.Resolution{Key: key, URL: url, Source: models.SourceDatabase}, nil
}

// fallbackToCache serves a possibly stale positive entry while the database
// breaker is open. Staleness is bounded by the positive TTL.
func (r *Resolver) fallbackToCache(ctx context.Context, key models.RouteKey, openErr error) (*models.Resolution, error) {
	entry, found, err := r.cache.Lookup(ctx, key)
	if err != nil || !found || entry.Negative {
		return nil, openErr
	}

	observability.CtxLogger(ctx, r.logger).Warn("serving stale cache entry, database circuit open", map[string]interface{}{
		"route": key.String(),
	})
	return &models.Resolution{Key: key, URL: entry.URL, Source: models.SourceCacheFallback}, nil
}
