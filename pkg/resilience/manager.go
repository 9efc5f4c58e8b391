package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
)

// Names of the managed resilience instances
const (
	BreakerDatabase = "database"
	BreakerRedis    = "redis"
	BreakerMongoDB  = "mongodb"

	BudgetDatabase = "database"
	BudgetRedis    = "redis"
	BudgetMongoDB  = "mongodb"

	BulkheadRead  = "read_operations"
	BulkheadWrite = "write_operations"
	BulkheadAudit = "audit_operations"
)

// ManagerConfig holds the configuration for all resilience patterns
type ManagerConfig struct {
	CircuitBreakers map[string]CircuitBreakerConfig `mapstructure:"circuit_breakers"`
	RetryBudgets    map[string]RetryBudgetConfig    `mapstructure:"retry_budgets"`
	Bulkheads       map[string]BulkheadConfig       `mapstructure:"bulkheads"`
	Drainer         DrainerConfig                   `mapstructure:"drainer"`

	// MaxRetryAttempts caps retries per call, on top of the shared budget
	MaxRetryAttempts int `mapstructure:"max_retry_attempts"`
}

// DefaultManagerConfig returns the per-dependency defaults. The redis breaker
// tolerates more failures than the database breaker because the cache is
// optional for correctness.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CircuitBreakers: map[string]CircuitBreakerConfig{
			BreakerDatabase: {
				FailureThreshold: 5,
				MinCalls:         10,
				Window:           60 * time.Second,
				Timeout:          60 * time.Second,
			},
			BreakerRedis: {
				FailureThreshold: 10,
				MinCalls:         20,
				Window:           60 * time.Second,
				Timeout:          30 * time.Second,
			},
			BreakerMongoDB: {
				FailureThreshold: 5,
				MinCalls:         10,
				Window:           60 * time.Second,
				Timeout:          60 * time.Second,
			},
		},
		RetryBudgets: map[string]RetryBudgetConfig{
			BudgetDatabase: {
				MaxRetries: 100,
				Window:     60 * time.Second,
			},
			BudgetRedis: {
				MaxRetries: 200,
				Window:     60 * time.Second,
			},
			BudgetMongoDB: {
				MaxRetries: 50,
				Window:     60 * time.Second,
			},
		},
		Bulkheads:        DefaultBulkheadConfigs,
		Drainer:          DefaultDrainerConfig,
		MaxRetryAttempts: 3,
	}
}

// Manager owns all resilience instances for one process: the circuit
// breakers, retry budgets, and bulkheads around each dependency, and the
// drainer guarding the request boundary.
type Manager struct {
	breakers  *CircuitBreakerManager
	budgets   map[string]*RetryBudget
	bulkheads *BulkheadManager
	drainer   *Drainer

	maxRetryAttempts int

	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewManager creates a manager with all instances initialized
func NewManager(config ManagerConfig, logger observability.Logger, metrics observability.MetricsClient) *Manager {
	if config.CircuitBreakers == nil {
		config.CircuitBreakers = DefaultManagerConfig().CircuitBreakers
	}
	if config.RetryBudgets == nil {
		config.RetryBudgets = DefaultManagerConfig().RetryBudgets
	}
	if config.Bulkheads == nil {
		config.Bulkheads = DefaultBulkheadConfigs
	}
	if config.MaxRetryAttempts <= 0 {
		config.MaxRetryAttempts = 3
	}

	budgets := make(map[string]*RetryBudget, len(config.RetryBudgets))
	for name, budgetConfig := range config.RetryBudgets {
		budgets[name] = NewRetryBudget(name, budgetConfig, logger, metrics)
	}

	return &Manager{
		breakers:         NewCircuitBreakerManager(config.CircuitBreakers, logger, metrics),
		budgets:          budgets,
		bulkheads:        NewBulkheadManager(config.Bulkheads, logger, metrics),
		drainer:          NewDrainer("api_server", config.Drainer, logger, metrics),
		maxRetryAttempts: config.MaxRetryAttempts,
		logger:           logger,
		metrics:          metrics,
	}
}

// Breaker returns the named circuit breaker
func (m *Manager) Breaker(name string) *CircuitBreaker {
	return m.breakers.GetCircuitBreaker(name)
}

// Budget returns the named retry budget, or nil when none is configured
func (m *Manager) Budget(name string) *RetryBudget {
	return m.budgets[name]
}

// Bulkhead returns the bulkhead for the given operation class
func (m *Manager) Bulkhead(name string) *Bulkhead {
	return m.bulkheads.GetBulkhead(name)
}

// Drainer returns the process drainer
func (m *Manager) Drainer() *Drainer {
	return m.drainer
}

// ExecuteWithRetry runs the operation through the named breaker, retrying
// transient failures with exponential backoff as long as the named budget
// allows. Circuit-open rejections and permanent failures are never retried.
func (m *Manager) ExecuteWithRetry(ctx context.Context, breakerName, budgetName string, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	breaker := m.breakers.GetCircuitBreaker(breakerName)
	budget := m.budgets[budgetName]

	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = 100 * time.Millisecond
	delays.MaxInterval = 2 * time.Second

	var result interface{}
	var err error
	for attempt := 0; attempt < m.maxRetryAttempts; attempt++ {
		if attempt > 0 {
			if budget == nil || !budget.CanRetry() {
				if m.logger != nil {
					m.logger.Warn("retry budget exhausted", map[string]interface{}{
						"budget":         budgetName,
						"correlation_id": observability.GetCorrelationID(ctx),
					})
				}
				return nil, retriesExhausted(ctx, err)
			}
			budget.RecordRetry()

			select {
			case <-time.After(delays.NextBackOff()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err = breaker.Execute(ctx, operation)
		if err == nil {
			return result, nil
		}
		if !apperrors.IsTransient(err) {
			return nil, err
		}
	}

	return nil, retriesExhausted(ctx, err)
}

// retriesExhausted converts a transient failure that survived every permitted
// attempt into Unavailable
func retriesExhausted(ctx context.Context, err error) error {
	return apperrors.Wrap(err, "RETRIES_EXHAUSTED", apperrors.ClassUnavailable).
		WithCorrelationID(observability.GetCorrelationID(ctx))
}

// AllMetrics returns a snapshot of every resilience instance, grouped the way
// the health surface reports them
func (m *Manager) AllMetrics() map[string]interface{} {
	budgets := make(map[string]interface{}, len(m.budgets))
	for name, budget := range m.budgets {
		budgets[name] = budget.Metrics()
	}

	return map[string]interface{}{
		"circuit_breakers":  m.breakers.AllMetrics(),
		"retry_budgets":     budgets,
		"bulkheads":         m.bulkheads.AllMetrics(),
		"graceful_draining": m.drainer.Metrics(),
	}
}
