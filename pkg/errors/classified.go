// Package errors provides the classified error taxonomy shared by all
// traffic-manager components. Every error that crosses a component boundary
// carries a class so callers can map it to retry decisions and HTTP status
// codes without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorClass represents the classification of an error
type ErrorClass int

const (
	// ClassInternal indicates an unclassified internal error
	ClassInternal ErrorClass = iota
	// ClassValidation indicates malformed or out-of-range input
	ClassValidation
	// ClassNotFound indicates the requested record does not exist
	ClassNotFound
	// ClassConflict indicates the write contradicts existing state
	ClassConflict
	// ClassTransient indicates a temporary dependency error that may be retried
	ClassTransient
	// ClassUnavailable indicates a dependency is down or unreachable
	ClassUnavailable
	// ClassCircuitOpen indicates a circuit breaker rejected the call
	ClassCircuitOpen
	// ClassBulkheadFull indicates no concurrency slot was available
	ClassBulkheadFull
	// ClassRetryBudgetExceeded indicates the retry budget is exhausted
	ClassRetryBudgetExceeded
	// ClassDraining indicates the process is shutting down
	ClassDraining
)

// String returns the wire name of the class
func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassNotFound:
		return "not_found"
	case ClassConflict:
		return "conflict"
	case ClassTransient:
		return "transient"
	case ClassUnavailable:
		return "unavailable"
	case ClassCircuitOpen:
		return "circuit_open"
	case ClassBulkheadFull:
		return "bulkhead_full"
	case ClassRetryBudgetExceeded:
		return "retry_budget_exceeded"
	case ClassDraining:
		return "draining"
	default:
		return "internal"
	}
}

// ClassifiedError is an error with classification and request context
type ClassifiedError struct {
	Code          string     `json:"code"`
	Message       string     `json:"message"`
	Class         ErrorClass `json:"class"`
	Operation     string     `json:"operation,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`

	cause error
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("[%s] %s: %s (correlation_id: %s)",
			e.Code, e.Operation, e.Message, e.CorrelationID)
	}
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Operation, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.cause
}

// New creates a new classified error
func New(code string, message string, class ErrorClass) *ClassifiedError {
	return &ClassifiedError{
		Code:      code,
		Message:   message,
		Class:     class,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap wraps an existing error with classification. A nil err yields nil.
func Wrap(err error, code string, class ErrorClass) *ClassifiedError {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Code:      code,
		Message:   err.Error(),
		Class:     class,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// WithOperation tags the error with the operation that produced it
func (e *ClassifiedError) WithOperation(operation string) *ClassifiedError {
	e.Operation = operation
	return e
}

// WithCorrelationID tags the error with the request correlation id
func (e *ClassifiedError) WithCorrelationID(correlationID string) *ClassifiedError {
	e.CorrelationID = correlationID
	return e
}

// ClassOf returns the class of err, unwrapping as needed.
// Plain errors are ClassInternal.
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassInternal
}

// Classified returns the classified error in err's chain, if any
func Classified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// HTTPStatus maps an error class to the HTTP status returned at the boundary
func HTTPStatus(class ErrorClass) int {
	switch class {
	case ClassValidation:
		return http.StatusBadRequest
	case ClassNotFound:
		return http.StatusNotFound
	case ClassConflict:
		return http.StatusConflict
	case ClassCircuitOpen, ClassBulkheadFull, ClassRetryBudgetExceeded, ClassDraining, ClassUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound returns true if the error is classified as not found
func IsNotFound(err error) bool {
	return ClassOf(err) == ClassNotFound
}

// IsConflict returns true if the error is classified as a conflict
func IsConflict(err error) bool {
	return ClassOf(err) == ClassConflict
}

// IsValidation returns true if the error is a validation error
func IsValidation(err error) bool {
	return ClassOf(err) == ClassValidation
}

// IsCircuitOpen returns true if a circuit breaker rejected the call
func IsCircuitOpen(err error) bool {
	return ClassOf(err) == ClassCircuitOpen
}

// IsTransient returns true if the error is transient and may be retried
func IsTransient(err error) bool {
	c := ClassOf(err)
	return c == ClassTransient || c == ClassUnavailable
}
