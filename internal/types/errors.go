package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidGeometry ErrorCode = "validation_invalid_geometry"
	ErrCodeValidationTooManyIndices  ErrorCode = "validation_too_many_indices"
	ErrCodeValidationInvalidParam    ErrorCode = "validation_invalid_parameter"
	ErrCodeValidationInvalidDate     ErrorCode = "validation_invalid_date"

	// Auth (401/403)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"
	ErrCodePermissionRole   ErrorCode = "permission_role_insufficient"

	// Not Found (404)
	ErrCodeNotFoundEndpoint ErrorCode = "not_found_endpoint"
	ErrCodeNotFoundFarm     ErrorCode = "not_found_farm"

	// Task lifecycle (502/504)
	ErrCodeTaskFailed      ErrorCode = "task_failed"
	ErrCodeTaskPollTimeout ErrorCode = "task_poll_timeout"

	// Internal/Upstream (500/502)
	ErrCodeCredentialNotFound  ErrorCode = "internal_credential_not_found"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeAggregationFailed   ErrorCode = "internal_aggregation_failed"
	ErrCodeUpstreamEOS         ErrorCode = "upstream_eos_unavailable"
	ErrCodeUpstreamLedger      ErrorCode = "upstream_ledger_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamRegistry    ErrorCode = "upstream_registry_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case s == string(ErrCodeTaskPollTimeout):
		return http.StatusGatewayTimeout // 504
	case s == string(ErrCodeTaskFailed):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
// Aggregation failures report the status of their first underlying failure:
// a fan-out that died on an upstream 502 or a poll timeout must not hide that
// behind a generic 500.
func (e *AppError) HTTPStatus() int {
	if e.Code == ErrCodeAggregationFailed {
		var cause *AppError
		if errors.As(e.Err, &cause) {
			return cause.HTTPStatus()
		}
	}
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
