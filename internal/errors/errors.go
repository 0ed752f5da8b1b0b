// Package errors provides error code definitions shared across the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to the application layer.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local store errors
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrMigration          ErrorCode = "MIGRATION_FAILED"
	ErrConstraint         ErrorCode = "CONSTRAINT_VIOLATION"

	// Remote call errors, keyed to the remote API's status-code semantics
	ErrTransient       ErrorCode = "TRANSIENT"         // network error, timeout, 5xx
	ErrAuthFailed      ErrorCode = "AUTH_FAILED"       // 401, 403
	ErrEntityGone      ErrorCode = "ENTITY_GONE"       // 404
	ErrVersionConflict ErrorCode = "VERSION_CONFLICT"  // 409
	ErrInvalidPayload  ErrorCode = "INVALID_PAYLOAD"   // 400, 422
	ErrPayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE" // 413

	// Sync orchestration errors
	ErrParentTerminal ErrorCode = "PARENT_TERMINAL"
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrMediaUpload    ErrorCode = "MEDIA_UPLOAD_FAILED"
	ErrMediaStaging   ErrorCode = "MEDIA_STAGING_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the error code from an error, or ErrInternal if it has none.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// FromStatusCode maps a remote API status code to an error code.
// 2xx never reaches this function; callers classify only failures.
func FromStatusCode(status int) ErrorCode {
	switch {
	case status == 401 || status == 403:
		return ErrAuthFailed
	case status == 404:
		return ErrEntityGone
	case status == 409:
		return ErrVersionConflict
	case status == 400 || status == 422:
		return ErrInvalidPayload
	case status == 413:
		return ErrPayloadTooLarge
	case status >= 500:
		return ErrTransient
	default:
		return ErrInternal
	}
}

// IsTransient reports whether an error should be retried with backoff.
func IsTransient(err error) bool {
	return Is(err, ErrTransient)
}

// IsAuthFailure reports whether an error requires reauthentication.
// Auth failures abort the current sync pass entirely.
func IsAuthFailure(err error) bool {
	return Is(err, ErrAuthFailed)
}

// IsNonRetryable reports whether an error terminates its operation after a
// single attempt. The affected record is marked conflict and the operation
// leaves the queue.
func IsNonRetryable(err error) bool {
	switch Code(err) {
	case ErrVersionConflict, ErrInvalidPayload, ErrPayloadTooLarge, ErrEntityGone:
		return true
	}
	return false
}
