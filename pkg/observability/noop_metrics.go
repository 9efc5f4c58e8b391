package observability

import (
	"time"
)

// NoOpMetricsClient is a metrics client that does nothing
type NoOpMetricsClient struct{}

// NewNoOpMetricsClient creates a new no-op metrics client
func NewNoOpMetricsClient() MetricsClient {
	return &NoOpMetricsClient{}
}

// RecordCounter implements MetricsClient.RecordCounter
func (m *NoOpMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {}

// RecordGauge implements MetricsClient.RecordGauge
func (m *NoOpMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}

// RecordHistogram implements MetricsClient.RecordHistogram
func (m *NoOpMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}

// RecordDuration implements MetricsClient.RecordDuration
func (m *NoOpMetricsClient) RecordDuration(name string, duration time.Duration, labels map[string]string) {
}

// RecordCacheOperation implements MetricsClient.RecordCacheOperation
func (m *NoOpMetricsClient) RecordCacheOperation(operation string, hit bool, duration time.Duration) {}

// RecordDatabaseOperation implements MetricsClient.RecordDatabaseOperation
func (m *NoOpMetricsClient) RecordDatabaseOperation(operation, table string, err error, duration time.Duration) {
}

// RecordAPIOperation implements MetricsClient.RecordAPIOperation
func (m *NoOpMetricsClient) RecordAPIOperation(method, endpoint string, statusCode int, duration time.Duration) {
}

// IncrementCounter implements MetricsClient.IncrementCounter
func (m *NoOpMetricsClient) IncrementCounter(name string, value float64) {}

// IncrementCounterWithLabels implements MetricsClient.IncrementCounterWithLabels
func (m *NoOpMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}

// StartTimer implements MetricsClient.StartTimer
func (m *NoOpMetricsClient) StartTimer(name string, labels map[string]string) func() {
	return func() {}
}

// Close implements MetricsClient.Close
func (m *NoOpMetricsClient) Close() error {
	return nil
}
