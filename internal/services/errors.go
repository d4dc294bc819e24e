package services

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ===============================
// ERROR TYPES
// ===============================

// ServiceError is the structured error every service operation returns.
// Type is the stable machine-readable kind the HTTP layer maps to a
// status; Message is safe for caller display.
type ServiceError struct {
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// GetStatusCode returns the HTTP status code for this error
func (e *ServiceError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Error kinds. Every error leaving the service layer carries one of these.
const (
	ErrKindValidation            = "VALIDATION_FAILURE"
	ErrKindAuthorizationDenied   = "AUTHORIZATION_DENIED"
	ErrKindNotFound              = "NOT_FOUND"
	ErrKindDuplicateAward        = "DUPLICATE_AWARD"
	ErrKindBadgeInactive         = "BADGE_INACTIVE"
	ErrKindRateLimited           = "RATE_LIMITED"
	ErrKindBulkLimitExceeded     = "BULK_LIMIT_EXCEEDED"
	ErrKindDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	ErrKindTransactionFailure    = "TRANSACTION_FAILURE"
	ErrKindConflict              = "CONFLICT"
)

// ===============================
// ERROR CONSTRUCTORS
// ===============================

// NewValidationError creates a malformed-input error
func NewValidationError(message string, cause error) *ServiceError {
	return &ServiceError{
		Type:       ErrKindValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewAuthorizationDeniedError creates a scope-check failure
func NewAuthorizationDeniedError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrKindAuthorizationDenied,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

// NewNotFoundError creates a not found error. Callers deliberately use the
// same message for "absent" and "wrong institution" to avoid leaking
// cross-institution existence.
func NewNotFoundError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrKindNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewDuplicateAwardError signals the one-badge-per-subject product rule.
// Distinct from a generic conflict so callers can choose to ignore it.
func NewDuplicateAwardError(subjectID, definitionID int64) *ServiceError {
	return &ServiceError{
		Type:       ErrKindDuplicateAward,
		Message:    "subject already holds this badge",
		Code:       "DUPLICATE_AWARD",
		StatusCode: http.StatusConflict,
		Details: map[string]interface{}{
			"subject_id":          subjectID,
			"badge_definition_id": definitionID,
		},
	}
}

// NewBadgeInactiveError signals an award attempt against a deactivated
// definition.
func NewBadgeInactiveError(definitionID int64) *ServiceError {
	return &ServiceError{
		Type:       ErrKindBadgeInactive,
		Message:    "badge definition is not active",
		Code:       "BADGE_INACTIVE",
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]interface{}{
			"badge_definition_id": definitionID,
		},
	}
}

// NewRateLimitedError creates a throughput rejection carrying the
// retry-after hint.
func NewRateLimitedError(operation string, retryAfter time.Duration) *ServiceError {
	return &ServiceError{
		Type:       ErrKindRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded for %s", operation),
		StatusCode: http.StatusTooManyRequests,
		Details: map[string]interface{}{
			"operation":           operation,
			"retry_after_seconds": int(retryAfter.Seconds()) + 1,
		},
	}
}

// NewBulkLimitExceededError rejects an over-limit batch before any item
// is touched.
func NewBulkLimitExceededError(requested, max int) *ServiceError {
	return &ServiceError{
		Type:       ErrKindBulkLimitExceeded,
		Message:    fmt.Sprintf("bulk operation size %d exceeds the maximum of %d", requested, max),
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]interface{}{
			"requested": requested,
			"max":       max,
		},
	}
}

// NewDependencyUnavailableError reports a degraded collaborator (circuit
// open or timed out).
func NewDependencyUnavailableError(dependency string, cause error) *ServiceError {
	return &ServiceError{
		Type:       ErrKindDependencyUnavailable,
		Message:    fmt.Sprintf("dependency %s is unavailable", dependency),
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
		Details: map[string]interface{}{
			"dependency": dependency,
		},
	}
}

// NewTransactionFailureError reports a storage-level failure. Not retried
// here; retry policy belongs to the caller.
func NewTransactionFailureError(message string, cause error) *ServiceError {
	return &ServiceError{
		Type:       ErrKindTransactionFailure,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewConflictError creates a generic conflict error
func NewConflictError(message, code string) *ServiceError {
	return &ServiceError{
		Type:       ErrKindConflict,
		Message:    message,
		Code:       code,
		StatusCode: http.StatusConflict,
	}
}

// ===============================
// ERROR UTILITIES
// ===============================

// GetServiceError extracts a ServiceError from an error chain, or wraps
// the error as a transaction failure.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return NewTransactionFailureError("internal error", err)
}

// IsErrorKind reports whether err carries the given kind.
func IsErrorKind(err error, kind string) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Type == kind
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return IsErrorKind(err, ErrKindNotFound)
}

// IsDuplicateAward reports whether err is the duplicate-award product rule.
func IsDuplicateAward(err error) bool {
	return IsErrorKind(err, ErrKindDuplicateAward)
}

// IsRateLimited reports whether err is a throughput rejection.
func IsRateLimited(err error) bool {
	return IsErrorKind(err, ErrKindRateLimited)
}

// IsAuthorizationDenied reports whether err is a scope-check failure.
func IsAuthorizationDenied(err error) bool {
	return IsErrorKind(err, ErrKindAuthorizationDenied)
}
