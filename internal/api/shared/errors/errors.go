package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Client errors (4xx)
	ErrCodeBadRequest       ErrorCode = "bad_request"
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeValidationFailed ErrorCode = "validation_failed"
	ErrCodeUnauthorized     ErrorCode = "unauthorized"
	ErrCodeForbidden        ErrorCode = "forbidden"
	ErrCodeConflict         ErrorCode = "conflict"
	ErrCodeTooManyRequests  ErrorCode = "too_many_requests"

	// Server errors (5xx)
	ErrCodeInternalError      ErrorCode = "internal_error"
	ErrCodeServiceUnavailable ErrorCode = "service_unavailable"
)

// APIError represents a structured API error that carries error code and details
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	jsonErr, _ := json.Marshal(e)
	return string(jsonErr)
}

// Error constructors for common error types
func NewBadRequestError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeBadRequest,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewNotFoundError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewValidationError(details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeValidationFailed,
		Message: "Validation failed",
		Details: strings.Join(details, ", "),
	}
}

func NewUnauthorizedError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewConflictError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeConflict,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewTooManyRequestsError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeTooManyRequests,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewInternalError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeInternalError,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewServiceUnavailableError(message string, details ...string) *APIError {
	return &APIError{
		Code:    ErrCodeServiceUnavailable,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

// FromDomainError maps an engine error to its HTTP status and envelope.
// Internal errors carry no details.
func FromDomainError(err error, message string) (int, *APIError) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == ErrCodeValidationFailed {
			return http.StatusUnprocessableEntity, apiErr
		}
		return http.StatusBadRequest, apiErr
	}

	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusUnprocessableEntity, NewValidationError(err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, NewNotFoundError(message, err.Error())
	case errors.Is(err, domain.ErrConsistency):
		return http.StatusConflict, NewConflictError(message, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, NewTooManyRequestsError(message)
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, NewServiceUnavailableError(message)
	}
	return http.StatusInternalServerError, NewInternalError(message)
}
