package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iamtahmad1/traffic-manager/internal/audit"
	"github.com/iamtahmad1/traffic-manager/internal/models"
	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
)

// resolveResponse is the body of a successful resolution
type resolveResponse struct {
	Tenant  string `json:"tenant"`
	Service string `json:"service"`
	Env     string `json:"env"`
	Version string `json:"version"`
	URL     string `json:"url"`
	Source  string `json:"source"`
}

func (s *Server) handleResolve(c *gin.Context) {
	key := routeKeyFromParams(c)

	resolution, err := s.resolver.Resolve(c.Request.Context(), key)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resolveResponse{
		Tenant:  key.Tenant,
		Service: key.Service,
		Env:     key.Env,
		Version: key.Version,
		URL:     resolution.URL,
		Source:  resolution.Source,
	})
}

// createRouteRequest is the body of POST /routes
type createRouteRequest struct {
	Tenant    string `json:"tenant"`
	Service   string `json:"service"`
	Env       string `json:"env"`
	Version   string `json:"version"`
	URL       string `json:"url"`
	ChangedBy string `json:"changed_by"`
}

// changedByRequest is the optional body of activate and deactivate
type changedByRequest struct {
	ChangedBy string `json:"changed_by"`
}

// mutationResponse is the body of every successful mutation
type mutationResponse struct {
	Tenant        string `json:"tenant"`
	Service       string `json:"service"`
	Env           string `json:"env"`
	Version       string `json:"version"`
	Outcome       string `json:"outcome"`
	URL           string `json:"url,omitempty"`
	PreviousURL   string `json:"previous_url,omitempty"`
	PreviousState string `json:"previous_state,omitempty"`
}

func newMutationResponse(result *models.MutationResult) mutationResponse {
	return mutationResponse{
		Tenant:        result.Key.Tenant,
		Service:       result.Key.Service,
		Env:           result.Key.Env,
		Version:       result.Key.Version,
		Outcome:       string(result.Outcome),
		URL:           result.URL,
		PreviousURL:   result.PreviousURL,
		PreviousState: result.PreviousState,
	}
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.New("INVALID_BODY", "request body must be valid JSON", apperrors.ClassValidation))
		return
	}

	key := models.RouteKey{Tenant: req.Tenant, Service: req.Service, Env: req.Env, Version: req.Version}
	result, err := s.mutator.Create(c.Request.Context(), key, req.URL, req.ChangedBy)
	if err != nil {
		abortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == models.OutcomeCreated {
		status = http.StatusCreated
	}
	c.JSON(status, newMutationResponse(result))
}

func (s *Server) handleActivate(c *gin.Context) {
	key := routeKeyFromParams(c)
	result, err := s.mutator.Activate(c.Request.Context(), key, changedByFromBody(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMutationResponse(result))
}

func (s *Server) handleDeactivate(c *gin.Context) {
	key := routeKeyFromParams(c)
	result, err := s.mutator.Deactivate(c.Request.Context(), key, changedByFromBody(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMutationResponse(result))
}

// changedByFromBody reads the optional changed_by body; an absent or
// malformed body means anonymous
func changedByFromBody(c *gin.Context) string {
	var req changedByRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return ""
	}
	return req.ChangedBy
}

// auditResponse wraps a page of audit documents
type auditResponse struct {
	Count  int              `json:"count"`
	Events []audit.Document `json:"events"`
}

func (s *Server) runAuditQuery(c *gin.Context, filter audit.QueryFilter) {
	documents, err := s.audit.Query(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if documents == nil {
		documents = []audit.Document{}
	}
	c.JSON(http.StatusOK, auditResponse{Count: len(documents), Events: documents})
}

func (s *Server) handleAuditByRoute(c *gin.Context) {
	key := routeKeyFromParams(c)
	if err := key.Validate(); err != nil {
		abortWithError(c, err)
		return
	}

	limit, err := limitParam(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	filter := audit.ForKey(key)
	filter.Limit = limit
	s.runAuditQuery(c, filter)
}

// maxRecentDays bounds the recent-audit window to roughly ten years
const maxRecentDays = 3650

func (s *Server) handleAuditRecent(c *gin.Context) {
	days := int64(7)
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 || parsed > maxRecentDays {
			abortWithError(c, apperrors.New("INVALID_QUERY", "days must be between 1 and 3650", apperrors.ClassValidation))
			return
		}
		days = parsed
	}

	limit, err := limitParam(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	s.runAuditQuery(c, audit.QueryFilter{
		Tenant:  c.Query("tenant"),
		Service: c.Query("service"),
		Env:     c.Query("env"),
		From:    time.Now().UTC().AddDate(0, 0, -int(days)),
		Limit:   limit,
	})
}

func (s *Server) handleAuditByAction(c *gin.Context) {
	action := c.Param("action")
	switch action {
	case models.ActionCreated, models.ActionActivated, models.ActionDeactivated:
	default:
		abortWithError(c, apperrors.New("INVALID_QUERY", "unknown action "+action, apperrors.ClassValidation))
		return
	}

	limit, err := limitParam(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	s.runAuditQuery(c, audit.QueryFilter{Action: action, Limit: limit})
}

func (s *Server) handleAuditTimeRange(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		abortWithError(c, apperrors.New("INVALID_QUERY", "from must be an RFC3339 timestamp", apperrors.ClassValidation))
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		abortWithError(c, apperrors.New("INVALID_QUERY", "to must be an RFC3339 timestamp", apperrors.ClassValidation))
		return
	}
	if to.Before(from) {
		abortWithError(c, apperrors.New("INVALID_QUERY", "to must not precede from", apperrors.ClassValidation))
		return
	}

	limit, err := limitParam(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	s.runAuditQuery(c, audit.QueryFilter{From: from, To: to, Limit: limit})
}

// limitParam parses the optional limit query parameter. The audit store
// applies the default and the cap.
func limitParam(c *gin.Context) (int64, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit <= 0 {
		return 0, apperrors.New("INVALID_QUERY", "limit must be a positive integer", apperrors.ClassValidation)
	}
	return limit, nil
}
