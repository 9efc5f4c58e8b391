package api

import (
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
	"github.com/iamtahmad1/traffic-manager/pkg/resilience"
)

// CorrelationMiddleware adopts the caller's Correlation-Id header, generating
// one when absent. The id is placed on the request context for logs, events,
// and audit documents, and mirrored on the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(observability.CorrelationIDHeader)
		if correlationID == "" {
			correlationID = observability.NewCorrelationID()
		}

		ctx := observability.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(observability.CorrelationIDHeader, correlationID)

		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		observability.CtxLogger(c.Request.Context(), logger).Info("request handled", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
	}
}

// MetricsMiddleware records request counts and latency per endpoint. The
// route template is used instead of the raw path to keep cardinality bounded.
func MetricsMiddleware(metrics observability.MetricsClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIOperation(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start))
	}
}

// DrainMiddleware rejects new requests once the process starts draining and
// tracks in-flight requests so shutdown can wait for them
func DrainMiddleware(drainer *resilience.Drainer) gin.HandlerFunc {
	return func(c *gin.Context) {
		exit, err := drainer.Enter(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		defer exit()

		c.Next()
	}
}

// BulkheadMiddleware bounds concurrency for one class of operations
func BulkheadMiddleware(bulkhead *resilience.Bulkhead) gin.HandlerFunc {
	return func(c *gin.Context) {
		release, err := bulkhead.Acquire(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		defer release()

		c.Next()
	}
}

// errorResponse is the JSON body of every error reply
type errorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// abortWithError maps a classified error to its HTTP status and writes the
// error body
func abortWithError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(apperrors.ClassOf(err))

	code := ""
	message := err.Error()
	if classified, ok := apperrors.Classified(err); ok {
		code = classified.Code
		message = classified.Message
	}

	c.AbortWithStatusJSON(status, errorResponse{
		Error:         message,
		Code:          code,
		CorrelationID: observability.GetCorrelationID(c.Request.Context()),
	})
}
