package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iamtahmad1/traffic-manager/internal/api"
	"github.com/iamtahmad1/traffic-manager/internal/audit"
	"github.com/iamtahmad1/traffic-manager/internal/cache"
	"github.com/iamtahmad1/traffic-manager/internal/config"
	"github.com/iamtahmad1/traffic-manager/internal/events"
	"github.com/iamtahmad1/traffic-manager/internal/services"
	"github.com/iamtahmad1/traffic-manager/internal/store"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
	"github.com/iamtahmad1/traffic-manager/pkg/resilience"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLeveledLogger("server", observability.ParseLogLevel(cfg.Logging.Level))
	metrics := observability.NewPrometheusMetricsClient("traffic_manager", nil)
	defer func() { _ = metrics.Close() }()

	manager := resilience.NewManager(resilience.DefaultManagerConfig(), logger, metrics)

	recordStore, err := store.New(ctx, cfg.Database, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to initialize record store: %v", err)
	}
	defer func() { _ = recordStore.Close() }()

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer func() { _ = redisCache.Close() }()
	routeCache := cache.NewRouteCache(redisCache, cfg.Cache.PositiveTTL, cfg.Cache.NegativeTTL, manager, metrics)

	auditStore, err := audit.New(ctx, cfg.MongoDB, manager, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to initialize audit store: %v", err)
	}
	defer func() { _ = auditStore.Close(context.Background()) }()

	publisher, err := events.NewKafkaPublisher(cfg.Kafka, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to initialize event publisher: %v", err)
	}
	defer func() { _ = publisher.Close() }()

	server := api.NewServer(cfg.API, api.Dependencies{
		Resolver:   services.NewResolver(routeCache, recordStore, manager, logger, metrics),
		Mutator:    services.NewMutator(recordStore, publisher, manager, logger, metrics),
		Audit:      auditStore,
		Resilience: manager,
		HealthChecks: map[string]api.HealthCheck{
			"database": recordStore.Ping,
			"cache":    routeCache.Ping,
			"audit":    auditStore.Ping,
		},
		MetricsHandler: metrics.Handler(),
		Logger:         logger,
		Metrics:        metrics,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal", nil)

	// Stop accepting new work, then wait for in-flight requests to finish
	// before tearing the listener down
	drainer := manager.Drainer()
	drainer.StartDraining()

	drainCtx, drainCancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
	defer drainCancel()
	if !drainer.WaitForDrain(drainCtx) {
		logger.Warn("Drain timeout reached with requests still in flight", map[string]interface{}{
			"in_flight": drainer.InFlight(),
		})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.Info("Server stopped gracefully", nil)
}
