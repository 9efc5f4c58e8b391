// Package store is the record store adapter: the authoritative Postgres
// state behind route resolution and mutation. All writes go through
// transactions here; unique constraints serialize concurrent writers.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/iamtahmad1/traffic-manager/internal/config"
	"github.com/iamtahmad1/traffic-manager/internal/models"
	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
)

// Store is the Postgres-backed record store
type Store struct {
	db      *sqlx.DB
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New connects to Postgres and verifies connectivity
func New(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger, metrics observability.MetricsClient) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, apperrors.Wrap(err, "DB_CONNECT_FAILED", apperrors.ClassUnavailable)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	return &Store{db: db, logger: logger, metrics: metrics}, nil
}

// NewFromDB wraps an existing connection. Used by tests with sqlmock.
func NewFromDB(db *sql.DB, driverName string, logger observability.Logger, metrics observability.MetricsClient) *Store {
	return &Store{db: sqlx.NewDb(db, driverName), logger: logger, metrics: metrics}
}

// Ping verifies connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

const resolveQuery = `
SELECT e.url
FROM tenants t
JOIN services s ON s.tenant_id = t.id
JOIN environments env ON env.service_id = s.id
JOIN endpoints e ON e.environment_id = env.id
WHERE t.name = $1 AND s.name = $2 AND env.name = $3 AND e.version = $4
  AND e.is_active = true
LIMIT 1`

// ResolveActiveURL returns the URL of the active endpoint for the route key,
// or a ClassNotFound error when no active endpoint exists
func (s *Store) ResolveActiveURL(ctx context.Context, key models.RouteKey) (string, error) {
	start := time.Now()

	var url string
	err := s.db.GetContext(ctx, &url, resolveQuery, key.Tenant, key.Service, key.Env, key.Version)
	if s.metrics != nil {
		s.metrics.RecordDatabaseOperation("select", "endpoints", err, time.Since(start))
	}
	if err == sql.ErrNoRows {
		return "", apperrors.New("ROUTE_NOT_FOUND", "no active endpoint for "+key.String(), apperrors.ClassNotFound).
			WithOperation("resolve").
			WithCorrelationID(observability.GetCorrelationID(ctx))
	}
	if err != nil {
		return "", classify(ctx, err, "resolve")
	}
	return url, nil
}

// CreateRoute inserts the route, creating any missing parents. Re-creating
// with the same URL is an idempotent success; a differing URL is a Conflict.
func (s *Store) CreateRoute(ctx context.Context, key models.RouteKey, url string) (*models.MutationResult, error) {
	start := time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify(ctx, err, "create")
	}
	defer func() { _ = tx.Rollback() }()

	envID, err := s.getOrInsertParents(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	result := &models.MutationResult{Key: key, URL: url}

	var endpointID int64
	err = tx.GetContext(ctx, &endpointID,
		`INSERT INTO endpoints (environment_id, version, url, is_active)
		 VALUES ($1, $2, $3, true)
		 ON CONFLICT (environment_id, version) DO NOTHING
		 RETURNING id`,
		envID, key.Version, url)
	switch {
	case err == nil:
		// Fresh create: no previous state to report
		result.Outcome = models.OutcomeCreated
	case err == sql.ErrNoRows:
		// Row already exists; decide between idempotent replay and conflict
		var existing models.Endpoint
		if err := tx.GetContext(ctx, &existing,
			`SELECT id, environment_id, version, url, is_active, created_at, updated_at
			 FROM endpoints WHERE environment_id = $1 AND version = $2`,
			envID, key.Version); err != nil {
			return nil, classify(ctx, err, "create")
		}
		if existing.URL != url {
			return nil, apperrors.New("ROUTE_CONFLICT",
				"route "+key.String()+" already exists with a different url", apperrors.ClassConflict).
				WithOperation("create").
				WithCorrelationID(observability.GetCorrelationID(ctx))
		}
		result.Outcome = models.OutcomeAlreadyExists
		result.PreviousURL = existing.URL
		result.PreviousState = stateOf(existing.IsActive)
	default:
		return nil, classify(ctx, err, "create")
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(ctx, err, "create")
	}
	if s.metrics != nil {
		s.metrics.RecordDatabaseOperation("insert", "endpoints", nil, time.Since(start))
	}
	return result, nil
}

// ActivateRoute marks the endpoint active
func (s *Store) ActivateRoute(ctx context.Context, key models.RouteKey) (*models.MutationResult, error) {
	return s.setActive(ctx, key, true)
}

// DeactivateRoute marks the endpoint inactive
func (s *Store) DeactivateRoute(ctx context.Context, key models.RouteKey) (*models.MutationResult, error) {
	return s.setActive(ctx, key, false)
}

const endpointForUpdateQuery = `
SELECT e.id, e.environment_id, e.version, e.url, e.is_active, e.created_at, e.updated_at
FROM tenants t
JOIN services s ON s.tenant_id = t.id
JOIN environments env ON env.service_id = s.id
JOIN endpoints e ON e.environment_id = env.id
WHERE t.name = $1 AND s.name = $2 AND env.name = $3 AND e.version = $4
FOR UPDATE OF e`

func (s *Store) setActive(ctx context.Context, key models.RouteKey, active bool) (*models.MutationResult, error) {
	operation := "deactivate"
	if active {
		operation = "activate"
	}
	start := time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify(ctx, err, operation)
	}
	defer func() { _ = tx.Rollback() }()

	var endpoint models.Endpoint
	err = tx.GetContext(ctx, &endpoint, endpointForUpdateQuery,
		key.Tenant, key.Service, key.Env, key.Version)
	if err == sql.ErrNoRows {
		return nil, apperrors.New("ROUTE_NOT_FOUND", "no endpoint for "+key.String(), apperrors.ClassNotFound).
			WithOperation(operation).
			WithCorrelationID(observability.GetCorrelationID(ctx))
	}
	if err != nil {
		return nil, classify(ctx, err, operation)
	}

	result := &models.MutationResult{
		Key:           key,
		URL:           endpoint.URL,
		PreviousURL:   endpoint.URL,
		PreviousState: stateOf(endpoint.IsActive),
	}

	if endpoint.IsActive == active {
		if active {
			result.Outcome = models.OutcomeAlreadyActive
		} else {
			result.Outcome = models.OutcomeAlreadyInactive
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE endpoints SET is_active = $1, updated_at = now() WHERE id = $2`,
			active, endpoint.ID); err != nil {
			return nil, classify(ctx, err, operation)
		}
		if active {
			result.Outcome = models.OutcomeActivated
		} else {
			result.Outcome = models.OutcomeDeactivated
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(ctx, err, operation)
	}
	if s.metrics != nil {
		s.metrics.RecordDatabaseOperation("update", "endpoints", nil, time.Since(start))
	}
	return result, nil
}

// getOrInsertParents resolves tenant, service, and environment ids, inserting
// missing rows. Runs inside the caller's transaction.
func (s *Store) getOrInsertParents(ctx context.Context, tx *sqlx.Tx, key models.RouteKey) (int64, error) {
	tenantID, err := getOrInsert(ctx, tx,
		`INSERT INTO tenants (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`,
		`SELECT id FROM tenants WHERE name = $1`,
		key.Tenant)
	if err != nil {
		return 0, classify(ctx, err, "create")
	}

	serviceID, err := getOrInsert(ctx, tx,
		`INSERT INTO services (tenant_id, name) VALUES ($1, $2) ON CONFLICT (tenant_id, name) DO NOTHING RETURNING id`,
		`SELECT id FROM services WHERE tenant_id = $1 AND name = $2`,
		tenantID, key.Service)
	if err != nil {
		return 0, classify(ctx, err, "create")
	}

	envID, err := getOrInsert(ctx, tx,
		`INSERT INTO environments (service_id, name) VALUES ($1, $2) ON CONFLICT (service_id, name) DO NOTHING RETURNING id`,
		`SELECT id FROM environments WHERE service_id = $1 AND name = $2`,
		serviceID, key.Env)
	if err != nil {
		return 0, classify(ctx, err, "create")
	}

	return envID, nil
}

// getOrInsert runs the insert, falling back to the select when the row
// already existed and DO NOTHING suppressed the RETURNING clause
func getOrInsert(ctx context.Context, tx *sqlx.Tx, insertQuery, selectQuery string, args ...interface{}) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, insertQuery, args...)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	if err := tx.GetContext(ctx, &id, selectQuery, args...); err != nil {
		return 0, err
	}
	return id, nil
}

func stateOf(active bool) string {
	if active {
		return models.StateActive
	}
	return models.StateInactive
}

// classify wraps a driver error once at the adapter boundary
func classify(ctx context.Context, err error, operation string) error {
	if err == context.DeadlineExceeded || err == context.Canceled {
		return apperrors.Wrap(err, "DB_TIMEOUT", apperrors.ClassTransient).
			WithOperation(operation).
			WithCorrelationID(observability.GetCorrelationID(ctx))
	}
	return apperrors.Wrap(err, "DB_ERROR", apperrors.ClassTransient).
		WithOperation(operation).
		WithCorrelationID(observability.GetCorrelationID(ctx))
}
