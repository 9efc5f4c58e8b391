package events

import (
	"context"

	"github.com/iamtahmad1/traffic-manager/internal/cache"
	"github.com/iamtahmad1/traffic-manager/internal/models"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
)

// Handler applies the side effect of one route event. Handlers must be
// idempotent: delivery is at-least-once and redelivery after a failure is
// expected.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event *RouteEvent) error
}

// AuditRecorder persists one audit document per event, deduplicated by
// event id. Implemented by the audit store.
type AuditRecorder interface {
	Record(ctx context.Context, event *RouteEvent) error
}

// CacheInvalidator deletes the cache entry for every route event, so the
// next resolution observes the committed state
type CacheInvalidator struct {
	cache  *cache.RouteCache
	logger observability.Logger
}

// NewCacheInvalidator creates the invalidation handler
func NewCacheInvalidator(routeCache *cache.RouteCache, logger observability.Logger) *CacheInvalidator {
	return &CacheInvalidator{cache: routeCache, logger: logger}
}

// Name implements Handler.Name
func (h *CacheInvalidator) Name() string {
	return "cache_invalidation"
}

// Handle implements Handler.Handle
func (h *CacheInvalidator) Handle(ctx context.Context, event *RouteEvent) error {
	if err := h.cache.Invalidate(ctx, event.Key()); err != nil {
		return err
	}
	observability.CtxLogger(ctx, h.logger).Debug("cache entry invalidated", map[string]interface{}{
		"route":    event.PartitionKey(),
		"event_id": event.EventID,
	})
	return nil
}

// CacheWarmer repopulates the cache from route events: created and activated
// routes get a positive entry, deactivated routes are removed. Races with
// the invalidator are benign since the record store stays authoritative and
// the TTL bounds any residual staleness.
type CacheWarmer struct {
	cache  *cache.RouteCache
	logger observability.Logger
}

// NewCacheWarmer creates the warming handler
func NewCacheWarmer(routeCache *cache.RouteCache, logger observability.Logger) *CacheWarmer {
	return &CacheWarmer{cache: routeCache, logger: logger}
}

// Name implements Handler.Name
func (h *CacheWarmer) Name() string {
	return "cache_warming"
}

// Handle implements Handler.Handle
func (h *CacheWarmer) Handle(ctx context.Context, event *RouteEvent) error {
	logger := observability.CtxLogger(ctx, h.logger)

	switch event.Action {
	case models.ActionCreated, models.ActionActivated:
		if event.URL == "" {
			return nil
		}
		if err := h.cache.StorePositive(ctx, event.Key(), event.URL); err != nil {
			return err
		}
		logger.Debug("cache entry warmed", map[string]interface{}{
			"route":    event.PartitionKey(),
			"event_id": event.EventID,
		})
	case models.ActionDeactivated:
		if err := h.cache.Invalidate(ctx, event.Key()); err != nil {
			return err
		}
		logger.Debug("cache entry removed for deactivated route", map[string]interface{}{
			"route":    event.PartitionKey(),
			"event_id": event.EventID,
		})
	}
	return nil
}

// AuditWriter persists one audit document per event. Dedup lives in the
// audit store's unique event_id index, so redelivered events are no-ops.
type AuditWriter struct {
	recorder AuditRecorder
	logger   observability.Logger
}

// NewAuditWriter creates the audit handler
func NewAuditWriter(recorder AuditRecorder, logger observability.Logger) *AuditWriter {
	return &AuditWriter{recorder: recorder, logger: logger}
}

// Name implements Handler.Name
func (h *AuditWriter) Name() string {
	return "audit_log"
}

// Handle implements Handler.Handle
func (h *AuditWriter) Handle(ctx context.Context, event *RouteEvent) error {
	if err := h.recorder.Record(ctx, event); err != nil {
		return err
	}
	observability.CtxLogger(ctx, h.logger).Debug("audit document recorded", map[string]interface{}{
		"route":    event.PartitionKey(),
		"event_id": event.EventID,
		"action":   event.Action,
	})
	return nil
}
