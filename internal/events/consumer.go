package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"github.com/iamtahmad1/traffic-manager/internal/config"
	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
)

// Logical consumer types. Each runs in its own consumer group so every
// consumer sees every event.
const (
	ConsumerCacheInvalidation = "cache_invalidation"
	ConsumerCacheWarming      = "cache_warming"
	ConsumerAuditLog          = "audit_log"
)

// ConsumerTypes lists all logical consumers
var ConsumerTypes = []string{ConsumerCacheInvalidation, ConsumerCacheWarming, ConsumerAuditLog}

// Consumer runs one handler against the event log inside its own consumer
// group. Offsets are marked only after the handler succeeds; a handler error
// ends the session with the offset uncommitted, so the event is redelivered.
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	groupID string
	handler Handler
	logger  observability.Logger
	metrics observability.MetricsClient

	// sessionBackoff spaces out rejoin attempts after failed sessions, so a
	// tripped downstream breaker gets its timeout instead of a redelivery
	// hot loop
	sessionBackoff backoff.BackOff
}

// NewConsumer creates a consumer group for the given logical consumer type
func NewConsumer(cfg config.KafkaConfig, consumerType string, handler Handler, logger observability.Logger, metrics observability.MetricsClient) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	groupID := cfg.GroupPrefix + "-" + consumerType
	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaConfig)
	if err != nil {
		return nil, apperrors.Wrap(err, "KAFKA_CONNECT_FAILED", apperrors.ClassUnavailable)
	}

	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = 1 * time.Second
	delays.MaxInterval = 30 * time.Second
	delays.MaxElapsedTime = 0

	return &Consumer{
		group:          group,
		topic:          cfg.Topic,
		groupID:        groupID,
		handler:        handler,
		logger:         logger,
		metrics:        metrics,
		sessionBackoff: delays,
	}, nil
}

// Run consumes until the context is canceled. A failed session (broker loss,
// handler failure) is logged and re-entered after a growing delay; clean
// rebalances reset the delay.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer starting", map[string]interface{}{
		"group": c.groupID,
		"topic": c.topic,
	})

	handler := &groupHandler{
		handler: c.handler,
		logger:  c.logger,
		metrics: c.metrics,
	}

	for {
		err := c.group.Consume(ctx, []string{c.topic}, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			c.sessionBackoff.Reset()
			continue
		}

		c.logger.Error("consumer session ended with error", map[string]interface{}{
			"group": c.groupID,
			"error": err.Error(),
		})
		select {
		case <-time.After(c.sessionBackoff.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the consumer group
func (c *Consumer) Close() error {
	return c.group.Close()
}

// groupHandler adapts a Handler to the sarama consumer group contract
type groupHandler struct {
	handler Handler
	logger  observability.Logger
	metrics observability.MetricsClient
}

// Setup implements sarama.ConsumerGroupHandler
func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler. The offset is marked
// only after the side effect succeeded.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		event, err := DecodeEvent(message.Value)
		if err != nil {
			// A malformed message can never succeed; skip it instead of
			// blocking the partition forever
			h.logger.Error("dropping undecodable event", map[string]interface{}{
				"consumer":  h.handler.Name(),
				"partition": message.Partition,
				"offset":    message.Offset,
				"error":     err.Error(),
			})
			session.MarkMessage(message, "")
			continue
		}

		ctx := session.Context()
		if event.CorrelationID != "" {
			ctx = observability.WithCorrelationID(ctx, event.CorrelationID)
		}

		if err := h.handler.Handle(ctx, event); err != nil {
			h.logger.Error("event handler failed, leaving offset uncommitted", map[string]interface{}{
				"consumer":       h.handler.Name(),
				"event_id":       event.EventID,
				"route":          event.PartitionKey(),
				"error":          err.Error(),
				"correlation_id": event.CorrelationID,
			})
			return err
		}

		session.MarkMessage(message, "")
		if h.metrics != nil {
			h.metrics.IncrementCounterWithLabels("events_consumed_total", 1, map[string]string{
				"consumer": h.handler.Name(),
			})
		}
	}
	return nil
}

// DecodeEvent unmarshals one event log message
func DecodeEvent(payload []byte) (*RouteEvent, error) {
	var event RouteEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperrors.Wrap(err, "EVENT_DECODE_FAILED", apperrors.ClassInternal)
	}
	if event.EventID == "" {
		return nil, apperrors.New("EVENT_DECODE_FAILED", "missing event_id", apperrors.ClassInternal)
	}
	return &event, nil
}
