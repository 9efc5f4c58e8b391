package resilience

import (
	"context"
	"sync/atomic"
	"time"

	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
)

// DrainerConfig holds configuration for graceful draining
type DrainerConfig struct {
	// DrainTimeout is how long to wait for in-flight requests on shutdown
	DrainTimeout time.Duration `mapstructure:"drain_timeout" json:"drain_timeout"`
	// CheckInterval is how often the drain wait polls the in-flight count
	CheckInterval time.Duration `mapstructure:"check_interval" json:"check_interval"`
}

// DefaultDrainerConfig matches the shutdown budget of a rolling deploy
var DefaultDrainerConfig = DrainerConfig{
	DrainTimeout:  30 * time.Second,
	CheckInterval: 1 * time.Second,
}

// Drainer tracks in-flight requests and rejects new ones once draining has
// started, so the process can stop accepting work before it exits.
type Drainer struct {
	name     string
	config   DrainerConfig
	inFlight atomic.Int64
	draining atomic.Bool
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewDrainer creates a new drainer
func NewDrainer(name string, config DrainerConfig, logger observability.Logger, metrics observability.MetricsClient) *Drainer {
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainerConfig.DrainTimeout
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultDrainerConfig.CheckInterval
	}

	return &Drainer{
		name:    name,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Enter registers a new request. It fails with ClassDraining once draining
// has started. The returned exit function must be called exactly once.
func (d *Drainer) Enter(ctx context.Context) (func(), error) {
	if d.draining.Load() {
		return nil, apperrors.New("DRAINING", "server is shutting down", apperrors.ClassDraining).
			WithOperation(d.name).
			WithCorrelationID(observability.GetCorrelationID(ctx))
	}

	count := d.inFlight.Add(1)
	if d.metrics != nil {
		d.metrics.RecordGauge("inflight_requests", float64(count), nil)
	}

	return func() {
		remaining := d.inFlight.Add(-1)
		if d.metrics != nil {
			d.metrics.RecordGauge("inflight_requests", float64(remaining), nil)
		}
	}, nil
}

// StartDraining stops admission of new requests
func (d *Drainer) StartDraining() {
	if d.draining.Swap(true) {
		return
	}
	if d.logger != nil {
		d.logger.Info("draining started", map[string]interface{}{
			"drainer":   d.name,
			"in_flight": d.inFlight.Load(),
		})
	}
}

// IsDraining reports whether draining has started
func (d *Drainer) IsDraining() bool {
	return d.draining.Load()
}

// InFlight returns the number of requests currently in flight
func (d *Drainer) InFlight() int64 {
	return d.inFlight.Load()
}

// WaitForDrain blocks until all in-flight requests finish or the drain
// timeout elapses. Returns true if the count reached zero.
func (d *Drainer) WaitForDrain(ctx context.Context) bool {
	deadline := time.Now().Add(d.config.DrainTimeout)
	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		if d.inFlight.Load() == 0 {
			if d.logger != nil {
				d.logger.Info("drain complete", map[string]interface{}{"drainer": d.name})
			}
			return true
		}
		if time.Now().After(deadline) {
			if d.logger != nil {
				d.logger.Warn("drain timeout with requests still in flight", map[string]interface{}{
					"drainer":   d.name,
					"in_flight": d.inFlight.Load(),
				})
			}
			return false
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return d.inFlight.Load() == 0
		}
	}
}

// Metrics returns a snapshot of the drainer for health surfaces
func (d *Drainer) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"draining":               d.draining.Load(),
		"in_flight":              d.inFlight.Load(),
		"drain_timeout_seconds":  d.config.DrainTimeout.Seconds(),
		"check_interval_seconds": d.config.CheckInterval.Seconds(),
	}
}
