package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
)

// BulkheadConfig holds configuration for a bulkhead
type BulkheadConfig struct {
	// MaxConcurrent is the maximum number of concurrent calls allowed
	MaxConcurrent int `mapstructure:"max_concurrent" json:"max_concurrent"`
	// MaxWait is the maximum time a call waits for a slot before rejection
	MaxWait time.Duration `mapstructure:"max_wait" json:"max_wait"`
}

// DefaultBulkheadConfigs provides the per-operation-class defaults
var DefaultBulkheadConfigs = map[string]BulkheadConfig{
	"read_operations": {
		MaxConcurrent: 20,
		MaxWait:       5 * time.Second,
	},
	"write_operations": {
		MaxConcurrent: 5,
		MaxWait:       10 * time.Second,
	},
	"audit_operations": {
		MaxConcurrent: 10,
		MaxWait:       5 * time.Second,
	},
}

// Bulkhead caps concurrency for one operation class so a slow dependency
// cannot consume every worker in the process. Slots are a buffered channel;
// a caller that cannot get a slot within MaxWait is rejected with
// ClassBulkheadFull.
type Bulkhead struct {
	name      string
	config    BulkheadConfig
	semaphore chan struct{}

	activeCalls   atomic.Int64
	totalCalls    atomic.Int64
	rejectedCalls atomic.Int64

	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewBulkhead creates a new bulkhead with the given configuration
func NewBulkhead(name string, config BulkheadConfig, logger observability.Logger, metrics observability.MetricsClient) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 5 * time.Second
	}

	return &Bulkhead{
		name:      name,
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrent),
		logger:    logger,
		metrics:   metrics,
	}
}

// Acquire obtains a concurrency slot, waiting up to MaxWait. The returned
// release function must be called exactly once.
func (b *Bulkhead) Acquire(ctx context.Context) (func(), error) {
	b.totalCalls.Add(1)

	timer := time.NewTimer(b.config.MaxWait)
	defer timer.Stop()

	select {
	case b.semaphore <- struct{}{}:
		b.activeCalls.Add(1)
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-b.semaphore
				b.activeCalls.Add(-1)
			})
		}
		return release, nil
	case <-timer.C:
		b.reject(ctx, "timeout")
		return nil, apperrors.New("BULKHEAD_FULL", "no capacity for "+b.name, apperrors.ClassBulkheadFull).
			WithOperation(b.name).
			WithCorrelationID(observability.GetCorrelationID(ctx))
	case <-ctx.Done():
		b.reject(ctx, "context_canceled")
		return nil, ctx.Err()
	}
}

// Execute runs the operation while holding a slot
func (b *Bulkhead) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	release, err := b.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return operation(ctx)
}

func (b *Bulkhead) reject(ctx context.Context, reason string) {
	b.rejectedCalls.Add(1)
	if b.logger != nil {
		b.logger.Warn("bulkhead rejected call", map[string]interface{}{
			"bulkhead":       b.name,
			"reason":         reason,
			"correlation_id": observability.GetCorrelationID(ctx),
		})
	}
	if b.metrics != nil {
		b.metrics.IncrementCounterWithLabels("bulkhead_rejected_total", 1, map[string]string{
			"bulkhead": b.name,
			"reason":   reason,
		})
	}
}

// Metrics returns a snapshot of the bulkhead for health surfaces
func (b *Bulkhead) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"active_calls":     b.activeCalls.Load(),
		"total_calls":      b.totalCalls.Load(),
		"rejected_calls":   b.rejectedCalls.Load(),
		"max_concurrent":   b.config.MaxConcurrent,
		"max_wait_seconds": b.config.MaxWait.Seconds(),
	}
}

// BulkheadManager manages the bulkheads for all operation classes
type BulkheadManager struct {
	bulkheads map[string]*Bulkhead
	configs   map[string]BulkheadConfig
	mutex     sync.RWMutex
	logger    observability.Logger
	metrics   observability.MetricsClient
}

// NewBulkheadManager creates a new bulkhead manager
func NewBulkheadManager(defaultConfigs map[string]BulkheadConfig, logger observability.Logger, metrics observability.MetricsClient) *BulkheadManager {
	manager := &BulkheadManager{
		bulkheads: make(map[string]*Bulkhead),
		configs:   make(map[string]BulkheadConfig),
		logger:    logger,
		metrics:   metrics,
	}

	for name, config := range defaultConfigs {
		manager.configs[name] = config
		manager.bulkheads[name] = NewBulkhead(name, config, logger, metrics)
	}

	return manager
}

// GetBulkhead gets or creates a bulkhead for the given operation class
func (m *BulkheadManager) GetBulkhead(name string) *Bulkhead {
	m.mutex.RLock()
	bulkhead, exists := m.bulkheads[name]
	m.mutex.RUnlock()

	if exists {
		return bulkhead
	}

	config, exists := m.configs[name]
	if !exists {
		config = BulkheadConfig{
			MaxConcurrent: 10,
			MaxWait:       5 * time.Second,
		}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Check again in case it was created while waiting for the lock
	bulkhead, exists = m.bulkheads[name]
	if exists {
		return bulkhead
	}

	bulkhead = NewBulkhead(name, config, m.logger, m.metrics)
	m.bulkheads[name] = bulkhead

	return bulkhead
}

// Execute executes an operation through the specified bulkhead
func (m *BulkheadManager) Execute(ctx context.Context, bulkheadName string, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	return m.GetBulkhead(bulkheadName).Execute(ctx, operation)
}

// AllMetrics returns snapshots of all bulkheads keyed by name
func (m *BulkheadManager) AllMetrics() map[string]map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make(map[string]map[string]interface{}, len(m.bulkheads))
	for name, bulkhead := range m.bulkheads {
		result[name] = bulkhead.Metrics()
	}
	return result
}
