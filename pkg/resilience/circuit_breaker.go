// Package resilience provides the failure-isolation primitives used around
// every external dependency: circuit breakers, retry budgets, bulkheads, and
// graceful draining. The Manager composes named instances of each.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
)

// Circuit breaker state names as reported on health surfaces
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures within the window that trips the breaker
	FailureThreshold int `mapstructure:"failure_threshold" json:"failure_threshold"`
	// MinCalls is the minimum number of calls in the window before the breaker may trip
	MinCalls int `mapstructure:"min_calls" json:"min_calls"`
	// Window is the observation window for failure counting
	Window time.Duration `mapstructure:"window" json:"window"`
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// DefaultCircuitBreakerConfig is used when no named config exists
var DefaultCircuitBreakerConfig = CircuitBreakerConfig{
	FailureThreshold: 5,
	MinCalls:         10,
	Window:           60 * time.Second,
	Timeout:          60 * time.Second,
}

// CircuitBreaker wraps a gobreaker state machine with logging, metrics, and
// the classified error contract. While open, calls fail immediately with a
// ClassCircuitOpen error; after Timeout a single probe is admitted.
type CircuitBreaker struct {
	name    string
	config  CircuitBreakerConfig
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig.FailureThreshold
	}
	if config.MinCalls <= 0 {
		config.MinCalls = DefaultCircuitBreakerConfig.MinCalls
	}
	if config.Window <= 0 {
		config.Window = DefaultCircuitBreakerConfig.Window
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultCircuitBreakerConfig.Timeout
	}

	cb := &CircuitBreaker{
		name:    name,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}

	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		// Single probe while half-open
		MaxRequests: 1,
		Interval:    config.Window,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= uint32(config.MinCalls) &&
				counts.TotalFailures >= uint32(config.FailureThreshold)
		},
		OnStateChange: cb.onStateChange,
	})

	return cb
}

// Execute runs the operation through the breaker. An open breaker rejects the
// call without invoking the operation.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return operation(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, apperrors.Wrap(err, "CIRCUIT_OPEN", apperrors.ClassCircuitOpen).
			WithOperation(cb.name).
			WithCorrelationID(observability.GetCorrelationID(ctx))
	}
	return result, err
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state name
func (cb *CircuitBreaker) State() string {
	return stateName(cb.breaker.State())
}

// Metrics returns a snapshot of the breaker for health surfaces
func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	counts := cb.breaker.Counts()
	return map[string]interface{}{
		"state":                cb.State(),
		"requests":             counts.Requests,
		"total_failures":       counts.TotalFailures,
		"total_successes":      counts.TotalSuccesses,
		"consecutive_failures": counts.ConsecutiveFailures,
		"failure_threshold":    cb.config.FailureThreshold,
		"min_calls":            cb.config.MinCalls,
		"window_seconds":       cb.config.Window.Seconds(),
		"timeout_seconds":      cb.config.Timeout.Seconds(),
	}
}

func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	if cb.logger != nil {
		cb.logger.Warn("circuit breaker state change", map[string]interface{}{
			"breaker": name,
			"from":    stateName(from),
			"to":      stateName(to),
		})
	}
	if cb.metrics != nil {
		cb.metrics.IncrementCounterWithLabels("circuit_breaker_state_changes_total", 1, map[string]string{
			"name": name,
			"from": stateName(from),
			"to":   stateName(to),
		})
		cb.metrics.RecordGauge("circuit_breaker_state", stateValue(to), map[string]string{
			"name": name,
		})
	}
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// CircuitBreakerManager manages multiple circuit breakers
type CircuitBreakerManager struct {
	breakers map[string]*CircuitBreaker
	configs  map[string]CircuitBreakerConfig
	mutex    sync.RWMutex
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewCircuitBreakerManager creates a new circuit breaker manager
func NewCircuitBreakerManager(defaultConfigs map[string]CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreakerManager {
	manager := &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		configs:  make(map[string]CircuitBreakerConfig),
		logger:   logger,
		metrics:  metrics,
	}

	for name, config := range defaultConfigs {
		manager.configs[name] = config
		manager.breakers[name] = NewCircuitBreaker(name, config, logger, metrics)
	}

	return manager
}

// GetCircuitBreaker gets a circuit breaker by name, creating it if it doesn't exist
func (m *CircuitBreakerManager) GetCircuitBreaker(name string) *CircuitBreaker {
	m.mutex.RLock()
	breaker, exists := m.breakers[name]
	m.mutex.RUnlock()

	if exists {
		return breaker
	}

	config, exists := m.configs[name]
	if !exists {
		config = DefaultCircuitBreakerConfig
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Check again in case it was created while we were waiting for the lock
	breaker, exists = m.breakers[name]
	if exists {
		return breaker
	}

	breaker = NewCircuitBreaker(name, config, m.logger, m.metrics)
	m.breakers[name] = breaker

	return breaker
}

// Execute runs an operation through the named breaker
func (m *CircuitBreakerManager) Execute(ctx context.Context, name string, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	return m.GetCircuitBreaker(name).Execute(ctx, operation)
}

// AllMetrics returns snapshots of all breakers keyed by name
func (m *CircuitBreakerManager) AllMetrics() map[string]map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make(map[string]map[string]interface{}, len(m.breakers))
	for name, breaker := range m.breakers {
		result[name] = breaker.Metrics()
	}
	return result
}
