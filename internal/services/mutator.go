package services

import (
	"context"
	"net/url"
	"time"

	"github.com/iamtahmad1/traffic-manager/internal/events"
	"github.com/iamtahmad1/traffic-manager/internal/models"
	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
	"github.com/iamtahmad1/traffic-manager/pkg/resilience"
)

// RouteWriter is the record store write surface the mutator depends on
type RouteWriter interface {
	CreateRoute(ctx context.Context, key models.RouteKey, url string) (*models.MutationResult, error)
	ActivateRoute(ctx context.Context, key models.RouteKey) (*models.MutationResult, error)
	DeactivateRoute(ctx context.Context, key models.RouteKey) (*models.MutationResult, error)
}

// Mutator applies route mutations. Every mutation is idempotent: replaying it
// reports the unchanged outcome instead of failing. After a state-changing
// commit the mutator publishes a route event best-effort; a publish failure
// never fails the write.
type Mutator struct {
	store      RouteWriter
	publisher  events.Publisher
	resilience *resilience.Manager
	logger     observability.Logger
	metrics    observability.MetricsClient
}

// NewMutator creates a mutator
func NewMutator(store RouteWriter, publisher events.Publisher, manager *resilience.Manager, logger observability.Logger, metrics observability.MetricsClient) *Mutator {
	return &Mutator{
		store:      store,
		publisher:  publisher,
		resilience: manager,
		logger:     logger,
		metrics:    metrics,
	}
}

// Create registers the route with the given endpoint URL, creating missing
// parents. Re-creating with the same URL succeeds idempotently; a different
// URL is a conflict.
func (m *Mutator) Create(ctx context.Context, key models.RouteKey, endpointURL, changedBy string) (*models.MutationResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := validateURL(endpointURL); err != nil {
		return nil, err
	}

	return m.mutate(ctx, "create", changedBy, func(ctx context.Context) (interface{}, error) {
		return m.store.CreateRoute(ctx, key, endpointURL)
	})
}

// Activate marks the route's endpoint active
func (m *Mutator) Activate(ctx context.Context, key models.RouteKey, changedBy string) (*models.MutationResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return m.mutate(ctx, "activate", changedBy, func(ctx context.Context) (interface{}, error) {
		return m.store.ActivateRoute(ctx, key)
	})
}

// Deactivate marks the route's endpoint inactive
func (m *Mutator) Deactivate(ctx context.Context, key models.RouteKey, changedBy string) (*models.MutationResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return m.mutate(ctx, "deactivate", changedBy, func(ctx context.Context) (interface{}, error) {
		return m.store.DeactivateRoute(ctx, key)
	})
}

func (m *Mutator) mutate(ctx context.Context, operation, changedBy string, storeOp func(context.Context) (interface{}, error)) (*models.MutationResult, error) {
	start := time.Now()

	raw, err := m.resilience.ExecuteWithRetry(ctx, resilience.BreakerDatabase, resilience.BudgetDatabase, storeOp)
	if err != nil {
		if m.metrics != nil {
			m.metrics.IncrementCounterWithLabels("route_writes_total", 1, map[string]string{
				"action":  operation,
				"outcome": "error",
			})
		}
		return nil, err
	}

	result := raw.(*models.MutationResult)
	if m.metrics != nil {
		m.metrics.IncrementCounterWithLabels("route_writes_total", 1, map[string]string{
			"action":  operation,
			"outcome": string(result.Outcome),
		})
		m.metrics.RecordHistogram("route_write_duration_seconds", time.Since(start).Seconds(),
			map[string]string{"action": operation})
	}

	m.publishIfChanged(ctx, result, changedBy)
	return result, nil
}

// publishIfChanged emits a route event after a state-changing commit. The
// write already succeeded; a publish failure is logged and counted but never
// surfaced to the caller.
func (m *Mutator) publishIfChanged(ctx context.Context, result *models.MutationResult, changedBy string) {
	action, emit := events.ActionForOutcome(result.Outcome)
	if !emit {
		return
	}

	event := events.NewRouteEvent(result, action, changedBy, observability.GetCorrelationID(ctx))
	if err := m.publisher.Publish(ctx, event); err != nil {
		observability.CtxLogger(ctx, m.logger).Error("route event publish failed after commit", map[string]interface{}{
			"route":    result.Key.String(),
			"action":   action,
			"event_id": event.EventID,
			"error":    err.Error(),
		})
	}
}

func validateURL(endpointURL string) error {
	if endpointURL == "" {
		return apperrors.New("INVALID_URL", "url is required", apperrors.ClassValidation)
	}
	parsed, err := url.Parse(endpointURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return apperrors.New("INVALID_URL", "url must be absolute with a scheme and host", apperrors.ClassValidation)
	}
	return nil
}
