package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamtahmad1/traffic-manager/internal/models"
	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
)

var storeTestKey = models.RouteKey{Tenant: "acme", Service: "billing", Env: "prod", Version: "v1"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewFromDB(db, "sqlmock", observability.NewNoopLogger(), observability.NewNoOpMetricsClient())
	return store, mock
}

func endpointColumns() []string {
	return []string{"id", "environment_id", "version", "url", "is_active", "created_at", "updated_at"}
}

func TestResolveActiveURL_Found(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT e.url").
		WithArgs("acme", "billing", "prod", "v1").
		WillReturnRows(sqlmock.NewRows([]string{"url"}).AddRow("http://billing.acme.internal:8443"))

	url, err := store.ResolveActiveURL(context.Background(), storeTestKey)
	require.NoError(t, err)
	assert.Equal(t, "http://billing.acme.internal:8443", url)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveActiveURL_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT e.url").
		WithArgs("acme", "billing", "prod", "v1").
		WillReturnRows(sqlmock.NewRows([]string{"url"}))

	_, err := store.ResolveActiveURL(context.Background(), storeTestKey)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectParents(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("INSERT INTO tenants").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("INSERT INTO services").
		WithArgs(int64(1), "billing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectQuery("INSERT INTO environments").
		WithArgs(int64(2), "prod").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
}

func TestCreateRoute_Created(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	expectParents(mock)
	mock.ExpectQuery("INSERT INTO endpoints").
		WithArgs(int64(3), "v1", "http://billing.acme.internal:8443").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectCommit()

	result, err := store.CreateRoute(context.Background(), storeTestKey, "http://billing.acme.internal:8443")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, result.Outcome)
	assert.Empty(t, result.PreviousState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRoute_ExistingParentsAreReused(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	// Tenant already exists: DO NOTHING suppresses RETURNING, fall back to select
	mock.ExpectQuery("INSERT INTO tenants").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM tenants").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("INSERT INTO services").
		WithArgs(int64(1), "billing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectQuery("INSERT INTO environments").
		WithArgs(int64(2), "prod").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery("INSERT INTO endpoints").
		WithArgs(int64(3), "v1", "http://billing.acme.internal:8443").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))
	mock.ExpectCommit()

	result, err := store.CreateRoute(context.Background(), storeTestKey, "http://billing.acme.internal:8443")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, result.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRoute_IdempotentReplay(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectBegin()
	expectParents(mock)
	mock.ExpectQuery("INSERT INTO endpoints").
		WithArgs(int64(3), "v1", "http://billing.acme.internal:8443").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id, environment_id, version, url, is_active").
		WithArgs(int64(3), "v1").
		WillReturnRows(sqlmock.NewRows(endpointColumns()).
			AddRow(int64(10), int64(3), "v1", "http://billing.acme.internal:8443", true, now, now))
	mock.ExpectCommit()

	result, err := store.CreateRoute(context.Background(), storeTestKey, "http://billing.acme.internal:8443")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAlreadyExists, result.Outcome)
	assert.Equal(t, "http://billing.acme.internal:8443", result.PreviousURL)
	assert.Equal(t, models.StateActive, result.PreviousState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRoute_ConflictOnDifferentURL(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectBegin()
	expectParents(mock)
	mock.ExpectQuery("INSERT INTO endpoints").
		WithArgs(int64(3), "v1", "http://new.acme.internal:9000").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id, environment_id, version, url, is_active").
		WithArgs(int64(3), "v1").
		WillReturnRows(sqlmock.NewRows(endpointColumns()).
			AddRow(int64(10), int64(3), "v1", "http://billing.acme.internal:8443", true, now, now))
	mock.ExpectRollback()

	_, err := store.CreateRoute(context.Background(), storeTestKey, "http://new.acme.internal:9000")
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateRoute_Activated(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT e.id, e.environment_id").
		WithArgs("acme", "billing", "prod", "v1").
		WillReturnRows(sqlmock.NewRows(endpointColumns()).
			AddRow(int64(10), int64(3), "v1", "http://billing.acme.internal:8443", false, now, now))
	mock.ExpectExec("UPDATE endpoints SET is_active").
		WithArgs(true, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := store.ActivateRoute(context.Background(), storeTestKey)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeActivated, result.Outcome)
	assert.Equal(t, models.StateInactive, result.PreviousState)
	assert.Equal(t, "http://billing.acme.internal:8443", result.URL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateRoute_AlreadyActive(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT e.id, e.environment_id").
		WithArgs("acme", "billing", "prod", "v1").
		WillReturnRows(sqlmock.NewRows(endpointColumns()).
			AddRow(int64(10), int64(3), "v1", "http://billing.acme.internal:8443", true, now, now))
	mock.ExpectCommit()

	result, err := store.ActivateRoute(context.Background(), storeTestKey)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAlreadyActive, result.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateRoute_Deactivated(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT e.id, e.environment_id").
		WithArgs("acme", "billing", "prod", "v1").
		WillReturnRows(sqlmock.NewRows(endpointColumns()).
			AddRow(int64(10), int64(3), "v1", "http://billing.acme.internal:8443", true, now, now))
	mock.ExpectExec("UPDATE endpoints SET is_active").
		WithArgs(false, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := store.DeactivateRoute(context.Background(), storeTestKey)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDeactivated, result.Outcome)
	assert.Equal(t, models.StateActive, result.PreviousState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateRoute_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT e.id, e.environment_id").
		WithArgs("acme", "billing", "prod", "v1").
		WillReturnRows(sqlmock.NewRows(endpointColumns()))
	mock.ExpectRollback()

	_, err := store.ActivateRoute(context.Background(), storeTestKey)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRoute_TransientErrorIsClassified(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin().WillReturnError(assert.AnError)

	_, err := store.CreateRoute(context.Background(), storeTestKey, "http://billing.acme.internal:8443")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}
