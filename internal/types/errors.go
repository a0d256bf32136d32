package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings.
const (
	// Validation
	ErrCodeValidationInvalidProvider  ErrorCode = "validation_invalid_provider"
	ErrCodeValidationInvalidDateRange ErrorCode = "validation_invalid_date_range"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"

	// Credentials / bindings
	ErrCodeCredentialInvalid  ErrorCode = "credential_invalid"
	ErrCodeCredentialNotFound ErrorCode = "credential_not_found"
	ErrCodeBindingNotFound    ErrorCode = "binding_not_found"

	// Upstream provider
	ErrCodeUpstreamTransient     ErrorCode = "upstream_transient"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodePaginationSafetyLimit ErrorCode = "pagination_safety_limit"

	// Persistence
	ErrCodeWriteBatchFailed ErrorCode = "write_batch_failed"
	ErrCodeInternalDB       ErrorCode = "internal_database_error"

	// Internal / config
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeConfigInvalid      ErrorCode = "config_invalid"
)

// AppError is the standard application error type used throughout the engine.
// All domain errors should be expressed as AppError to enable consistent
// error classification at the tenant-run boundary and error chain support.
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

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected when the chain contains no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsCredentialInvalid reports whether the error chain indicates a rejected
// refresh token. Callers use this to skip the tenant rather than retry.
func IsCredentialInvalid(err error) bool {
	return CodeOf(err) == ErrCodeCredentialInvalid
}
