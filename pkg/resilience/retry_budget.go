package resilience

import (
	"sync"
	"time"

	"github.com/iamtahmad1/traffic-manager/pkg/observability"
)

// RetryBudgetConfig holds configuration for a retry budget
type RetryBudgetConfig struct {
	// MaxRetries is the maximum number of retries allowed within the window
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
	// Window is the sliding window over which retries are counted
	Window time.Duration `mapstructure:"window" json:"window"`
}

// DefaultRetryBudgetConfig is used when no named config exists
var DefaultRetryBudgetConfig = RetryBudgetConfig{
	MaxRetries: 100,
	Window:     60 * time.Second,
}

// RetryBudget caps the total number of retries across all callers within a
// sliding window. First attempts are never charged against the budget; only
// retries are. When the budget is exhausted, callers must surface the
// original failure instead of retrying.
type RetryBudget struct {
	name   string
	config RetryBudgetConfig

	mu         sync.Mutex
	timestamps []time.Time

	logger  observability.Logger
	metrics observability.MetricsClient

	// Overridable for tests
	now func() time.Time
}

// NewRetryBudget creates a new retry budget
func NewRetryBudget(name string, config RetryBudgetConfig, logger observability.Logger, metrics observability.MetricsClient) *RetryBudget {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultRetryBudgetConfig.MaxRetries
	}
	if config.Window <= 0 {
		config.Window = DefaultRetryBudgetConfig.Window
	}

	return &RetryBudget{
		name:    name,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// CanRetry reports whether a retry is currently allowed
func (b *RetryBudget) CanRetry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictLocked()
	return len(b.timestamps) < b.config.MaxRetries
}

// RecordRetry charges one retry against the budget. Call it for every retry
// actually attempted, after CanRetry returned true.
func (b *RetryBudget) RecordRetry() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictLocked()
	b.timestamps = append(b.timestamps, b.now())

	if b.metrics != nil {
		b.metrics.IncrementCounterWithLabels("retry_budget_retries_total", 1, map[string]string{
			"budget": b.name,
		})
	}
}

// Remaining returns the number of retries left in the current window
func (b *RetryBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictLocked()
	return b.config.MaxRetries - len(b.timestamps)
}

// Metrics returns a snapshot of the budget for health surfaces
func (b *RetryBudget) Metrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictLocked()
	return map[string]interface{}{
		"used":           len(b.timestamps),
		"remaining":      b.config.MaxRetries - len(b.timestamps),
		"max_retries":    b.config.MaxRetries,
		"window_seconds": b.config.Window.Seconds(),
	}
}

// evictLocked drops timestamps older than the window. Caller holds mu.
func (b *RetryBudget) evictLocked() {
	cutoff := b.now().Add(-b.config.Window)
	idx := 0
	for idx < len(b.timestamps) && !b.timestamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		b.timestamps = append(b.timestamps[:0], b.timestamps[idx:]...)
	}
}
