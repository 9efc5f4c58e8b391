// Package models holds the core domain types shared by every layer:
// the route identifier, endpoint records, and mutation outcomes.
package models

import (
	"time"

	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
)

// CacheKeyPrefix is prepended to the canonical identifier to form cache keys
const CacheKeyPrefix = "route:"

// NotFoundSentinel marks negative cache entries
const NotFoundSentinel = "__NOT_FOUND__"

// RouteKey is the logical identifier of a route: which tenant's service, in
// which environment, at which version. Its canonical string form doubles as
// the event partition key and the cache key suffix.
type RouteKey struct {
	Tenant  string `json:"tenant"`
	Service string `json:"service"`
	Env     string `json:"env"`
	Version string `json:"version"`
}

// String returns the canonical colon-joined form tenant:service:env:version
func (k RouteKey) String() string {
	return k.Tenant + ":" + k.Service + ":" + k.Env + ":" + k.Version
}

// CacheKey returns the cache key for this route
func (k RouteKey) CacheKey() string {
	return CacheKeyPrefix + k.String()
}

// Validate checks that all four components are present
func (k RouteKey) Validate() error {
	if k.Tenant == "" {
		return apperrors.New("INVALID_ROUTE_KEY", "tenant is required", apperrors.ClassValidation)
	}
	if k.Service == "" {
		return apperrors.New("INVALID_ROUTE_KEY", "service is required", apperrors.ClassValidation)
	}
	if k.Env == "" {
		return apperrors.New("INVALID_ROUTE_KEY", "env is required", apperrors.ClassValidation)
	}
	if k.Version == "" {
		return apperrors.New("INVALID_ROUTE_KEY", "version is required", apperrors.ClassValidation)
	}
	return nil
}

// Endpoint is the stored routing target for a route key
type Endpoint struct {
	ID        int64     `db:"id" json:"id"`
	EnvID     int64     `db:"environment_id" json:"-"`
	Version   string    `db:"version" json:"version"`
	URL       string    `db:"url" json:"url"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Resolution is the outcome of a successful route resolution
type Resolution struct {
	Key    RouteKey `json:"route"`
	URL    string   `json:"url"`
	Source string   `json:"source"`
}

// Resolution sources
const (
	SourceCache         = "cache"
	SourceDatabase      = "database"
	SourceCacheFallback = "cache_fallback"
)

// Action names carried on route events and audit documents
const (
	ActionCreated     = "created"
	ActionActivated   = "activated"
	ActionDeactivated = "deactivated"
)

// MutationOutcome describes what a write operation actually did
type MutationOutcome string

// Mutation outcomes. The "already" variants mark idempotent replays.
const (
	OutcomeCreated         MutationOutcome = "created"
	OutcomeAlreadyExists   MutationOutcome = "already_exists"
	OutcomeActivated       MutationOutcome = "activated"
	OutcomeAlreadyActive   MutationOutcome = "already_active"
	OutcomeDeactivated     MutationOutcome = "deactivated"
	OutcomeAlreadyInactive MutationOutcome = "already_inactive"
)

// Changed reports whether the outcome altered stored state (and therefore
// whether an event must be emitted)
func (o MutationOutcome) Changed() bool {
	switch o {
	case OutcomeCreated, OutcomeActivated, OutcomeDeactivated:
		return true
	default:
		return false
	}
}

// MutationResult is the full result of a write operation
type MutationResult struct {
	Key           RouteKey        `json:"route"`
	Outcome       MutationOutcome `json:"outcome"`
	URL           string          `json:"url,omitempty"`
	PreviousURL   string          `json:"previous_url,omitempty"`
	PreviousState string          `json:"previous_state,omitempty"`
}

// Endpoint states as reported in events and audit documents. A fresh create
// has no previous state and reports none.
const (
	StateActive   = "active"
	StateInactive = "inactive"
)
