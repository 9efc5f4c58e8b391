package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError_Error(t *testing.T) {
	err := New("ROUTE_NOT_FOUND", "no active endpoint", ClassNotFound).
		WithOperation("resolve").
		WithCorrelationID("req-abc123")

	assert.Contains(t, err.Error(), "ROUTE_NOT_FOUND")
	assert.Contains(t, err.Error(), "resolve")
	assert.Contains(t, err.Error(), "req-abc123")
}

func TestWrap(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, "CODE", ClassTransient))
	})

	t.Run("preserves cause for unwrapping", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := Wrap(cause, "DB_UNAVAILABLE", ClassUnavailable)
		require.NotNil(t, err)
		assert.Equal(t, cause, err.Unwrap())
		assert.Equal(t, ClassUnavailable, ClassOf(err))
	})

	t.Run("class survives further wrapping", func(t *testing.T) {
		inner := New("CONFLICT", "url differs", ClassConflict)
		outer := fmt.Errorf("create route: %w", inner)
		assert.Equal(t, ClassConflict, ClassOf(outer))
		assert.True(t, IsConflict(outer))
	})
}

func TestClassOf_PlainError(t *testing.T) {
	assert.Equal(t, ClassInternal, ClassOf(fmt.Errorf("boom")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  int
	}{
		{ClassNotFound, http.StatusNotFound},
		{ClassValidation, http.StatusBadRequest},
		{ClassConflict, http.StatusConflict},
		{ClassCircuitOpen, http.StatusServiceUnavailable},
		{ClassBulkheadFull, http.StatusServiceUnavailable},
		{ClassRetryBudgetExceeded, http.StatusServiceUnavailable},
		{ClassDraining, http.StatusServiceUnavailable},
		{ClassUnavailable, http.StatusServiceUnavailable},
		{ClassTransient, http.StatusInternalServerError},
		{ClassInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.class.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.class))
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(New("X", "x", ClassNotFound)))
	assert.True(t, IsValidation(New("X", "x", ClassValidation)))
	assert.True(t, IsCircuitOpen(New("X", "x", ClassCircuitOpen)))
	assert.True(t, IsTransient(New("X", "x", ClassTransient)))
	assert.True(t, IsTransient(New("X", "x", ClassUnavailable)))
	assert.False(t, IsTransient(New("X", "x", ClassValidation)))
}
