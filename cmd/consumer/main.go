package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/iamtahmad1/traffic-manager/internal/audit"
	"github.com/iamtahmad1/traffic-manager/internal/cache"
	"github.com/iamtahmad1/traffic-manager/internal/config"
	"github.com/iamtahmad1/traffic-manager/internal/events"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
	"github.com/iamtahmad1/traffic-manager/pkg/resilience"
)

var consumerType = flag.String("type", "",
	"Consumer type to run: "+strings.Join(events.ConsumerTypes, ", "))

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLeveledLogger("consumer", observability.ParseLogLevel(cfg.Logging.Level))
	metrics := observability.NewPrometheusMetricsClient("traffic_manager_consumer", map[string]string{
		"consumer": *consumerType,
	})
	defer func() { _ = metrics.Close() }()

	manager := resilience.NewManager(resilience.DefaultManagerConfig(), logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, cleanup, err := buildHandler(ctx, *consumerType, cfg, manager, logger, metrics)
	if err != nil {
		flag.Usage()
		log.Fatalf("Failed to build handler: %v", err)
	}
	defer cleanup()

	consumer, err := events.NewConsumer(cfg.Kafka, *consumerType, handler, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to create consumer: %v", err)
	}
	defer func() { _ = consumer.Close() }()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Received shutdown signal", nil)
		cancel()
	}()

	if err := consumer.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Consumer exited with error: %v", err)
	}
	logger.Info("Consumer stopped gracefully", nil)
}

// buildHandler wires the dependencies for one consumer type. The returned
// cleanup closes whatever was opened.
func buildHandler(ctx context.Context, consumerType string, cfg *config.Config, manager *resilience.Manager, logger observability.Logger, metrics observability.MetricsClient) (events.Handler, func(), error) {
	switch consumerType {
	case events.ConsumerCacheInvalidation, events.ConsumerCacheWarming:
		redisCache, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		routeCache := cache.NewRouteCache(redisCache, cfg.Cache.PositiveTTL, cfg.Cache.NegativeTTL, manager, metrics)
		cleanup := func() { _ = redisCache.Close() }

		if consumerType == events.ConsumerCacheInvalidation {
			return events.NewCacheInvalidator(routeCache, logger), cleanup, nil
		}
		return events.NewCacheWarmer(routeCache, logger), cleanup, nil

	case events.ConsumerAuditLog:
		auditStore, err := audit.New(ctx, cfg.MongoDB, manager, logger, metrics)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() { _ = auditStore.Close(context.Background()) }
		return events.NewAuditWriter(auditStore, logger), cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown consumer type %q", consumerType)
	}
}
