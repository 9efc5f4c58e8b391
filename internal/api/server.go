// Package api is the HTTP surface of the traffic manager: route resolution,
// route mutations, audit queries, and the health and metrics endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iamtahmad1/traffic-manager/internal/audit"
	"github.com/iamtahmad1/traffic-manager/internal/config"
	"github.com/iamtahmad1/traffic-manager/internal/models"
	"github.com/iamtahmad1/traffic-manager/internal/services"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
	"github.com/iamtahmad1/traffic-manager/pkg/resilience"
)

// AuditQuerier is the audit store surface the API depends on
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Document, error)
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Dependencies bundles everything the server needs. HealthChecks maps a
// component name to its probe; MetricsHandler serves /metrics when set.
type Dependencies struct {
	Resolver       *services.Resolver
	Mutator        *services.Mutator
	Audit          AuditQuerier
	Resilience     *resilience.Manager
	HealthChecks   map[string]HealthCheck
	MetricsHandler http.Handler
	Logger         observability.Logger
	Metrics        observability.MetricsClient
}

// Server is the API server
type Server struct {
	router     *gin.Engine
	server     *http.Server
	resolver   *services.Resolver
	mutator    *services.Mutator
	audit      AuditQuerier
	resilience *resilience.Manager
	checks     map[string]HealthCheck
	logger     observability.Logger
}

// NewServer creates the API server and wires all routes
func NewServer(cfg config.APIConfig, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(CorrelationMiddleware())
	router.Use(RequestLogger(deps.Logger))
	router.Use(MetricsMiddleware(deps.Metrics))

	s := &Server{
		router:     router,
		resolver:   deps.Resolver,
		mutator:    deps.Mutator,
		audit:      deps.Audit,
		resilience: deps.Resilience,
		checks:     deps.HealthChecks,
		logger:     deps.Logger,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}

	s.setupRoutes(deps.MetricsHandler)
	return s
}

func (s *Server) setupRoutes(metricsHandler http.Handler) {
	// Health endpoints bypass draining and bulkheads so the orchestrator can
	// always observe the process
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", s.handleLiveness)
	s.router.GET("/health/ready", s.handleReadiness)
	s.router.GET("/health/resilience", s.handleResilienceHealth)

	if metricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := s.router.Group("/api/v1")
	v1.Use(DrainMiddleware(s.resilience.Drainer()))

	read := v1.Group("")
	read.Use(BulkheadMiddleware(s.resilience.Bulkhead(resilience.BulkheadRead)))
	read.GET("/routes/:tenant/:service/:env/:version", s.handleResolve)

	write := v1.Group("")
	write.Use(BulkheadMiddleware(s.resilience.Bulkhead(resilience.BulkheadWrite)))
	write.POST("/routes", s.handleCreate)
	write.POST("/routes/:tenant/:service/:env/:version/activate", s.handleActivate)
	write.POST("/routes/:tenant/:service/:env/:version/deactivate", s.handleDeactivate)

	auditGroup := v1.Group("/audit")
	auditGroup.Use(BulkheadMiddleware(s.resilience.Bulkhead(resilience.BulkheadAudit)))
	auditGroup.GET("/route/:tenant/:service/:env/:version", s.handleAuditByRoute)
	auditGroup.GET("/recent", s.handleAuditRecent)
	auditGroup.GET("/action/:action", s.handleAuditByAction)
	auditGroup.GET("/time-range", s.handleAuditTimeRange)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("api server starting", map[string]interface{}{
		"address": s.server.Addr,
	})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleReadiness(c *gin.Context) {
	if s.resilience.Drainer().IsDraining() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
		return
	}

	components, healthy := s.runHealthChecks(c.Request.Context())
	status := http.StatusOK
	overall := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	c.JSON(status, gin.H{"status": overall, "components": components})
}

func (s *Server) handleHealth(c *gin.Context) {
	components, healthy := s.runHealthChecks(c.Request.Context())
	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"draining":   s.resilience.Drainer().IsDraining(),
		"components": components,
	})
}

func (s *Server) handleResilienceHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.resilience.AllMetrics())
}

// runHealthChecks probes every dependency with a bounded timeout
func (s *Server) runHealthChecks(ctx context.Context) (map[string]string, bool) {
	components := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := check(checkCtx); err != nil {
			components[name] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			components[name] = "healthy"
		}
		cancel()
	}
	return components, healthy
}

// routeKeyFromParams builds the route key from path parameters
func routeKeyFromParams(c *gin.Context) models.RouteKey {
	return models.RouteKey{
		Tenant:  c.Param("tenant"),
		Service: c.Param("service"),
		Env:     c.Param("env"),
		Version: c.Param("version"),
	}
}
