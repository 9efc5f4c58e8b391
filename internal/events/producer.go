package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"github.com/iamtahmad1/traffic-manager/internal/config"
	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
)

// Publisher publishes route events to the event log
type Publisher interface {
	Publish(ctx context.Context, event *RouteEvent) error
	Close() error
}

// KafkaPublisher publishes route events through a sarama sync producer.
// The producer is idempotent and waits for full replication, so a returned
// nil means the event is durably in the log exactly once.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewKafkaPublisher creates a publisher connected to the configured brokers
func NewKafkaPublisher(cfg config.KafkaConfig, logger observability.Logger, metrics observability.MetricsClient) (*KafkaPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Producer.Retry.Max = cfg.ProducerRetries
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Timeout = cfg.RequestTimeout
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	// Idempotent producers require a single in-flight request
	saramaConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, apperrors.Wrap(err, "KAFKA_CONNECT_FAILED", apperrors.ClassUnavailable)
	}

	return &KafkaPublisher{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// NewKafkaPublisherFromProducer wraps an existing producer. Used by tests.
func NewKafkaPublisherFromProducer(producer sarama.SyncProducer, topic string, logger observability.Logger, metrics observability.MetricsClient) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger, metrics: metrics}
}

// Publish sends one event keyed by the canonical route identifier
func (p *KafkaPublisher) Publish(ctx context.Context, event *RouteEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(err, "EVENT_MARSHAL_FAILED", apperrors.ClassInternal)
	}

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.PartitionKey()),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.IncrementCounterWithLabels("events_publish_failures_total", 1, map[string]string{
				"action": event.Action,
			})
		}
		return apperrors.Wrap(err, "EVENT_PUBLISH_FAILED", apperrors.ClassTransient).
			WithOperation("publish").
			WithCorrelationID(event.CorrelationID)
	}

	if p.metrics != nil {
		p.metrics.IncrementCounterWithLabels("events_published_total", 1, map[string]string{
			"action": event.Action,
		})
	}
	if p.logger != nil {
		p.logger.Debug("route event published", map[string]interface{}{
			"event_id":       event.EventID,
			"action":         event.Action,
			"route":          event.PartitionKey(),
			"partition":      partition,
			"offset":         offset,
			"duration_ms":    time.Since(start).Milliseconds(),
			"correlation_id": event.CorrelationID,
		})
	}
	return nil
}

// Close closes the underlying producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
