package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants. All components MUST use these constants
// instead of hardcoded strings.
const (
	// Configuration (fatal at startup, never recovered silently)
	ErrCodeConfigInvalid ErrorCode = "config_invalid"

	// Scheduler (recoverable, logged, task skipped this cycle)
	ErrCodeTaskTimeout  ErrorCode = "task_timeout"
	ErrCodeTaskNotFound ErrorCode = "task_not_found"
	ErrCodePhaseInvalid ErrorCode = "phase_invalid"

	// Shared-memory channel
	ErrCodeFrameTorn           ErrorCode = "frame_torn"            // recoverable, frame discarded
	ErrCodeFrameTooLarge       ErrorCode = "frame_too_large"       // payload exceeds channel capacity
	ErrCodeChannelNameConflict ErrorCode = "channel_name_conflict" // fatal to the creating process
	ErrCodeChannelNotFound     ErrorCode = "channel_not_found"     // consumer attached before producer
	ErrCodeChannelCorrupt      ErrorCode = "channel_corrupt"       // region header failed validation
	ErrCodeChannelClosed       ErrorCode = "channel_closed"

	// Decision service
	ErrCodeDecisionTimeout    ErrorCode = "decision_timeout"     // deadline exceeded, surfaced to caller
	ErrCodeNoBackendAvailable ErrorCode = "no_backend_available" // neither backend answered in time
	ErrCodeBackendUnhealthy   ErrorCode = "backend_unhealthy"    // triggers failover transition

	// Remote backend transport
	ErrCodeRemoteUnavailable ErrorCode = "remote_unavailable"
	ErrCodeRemoteRateLimited ErrorCode = "remote_rate_limited"

	// Operator API
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
	ErrCodeConflictState  ErrorCode = "conflict_state"

	// Internal
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code for the
// operator/status API. Returns 500 for unrecognized codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == ErrCodeInvalidRequest, c == ErrCodeConfigInvalid, c == ErrCodePhaseInvalid:
		return http.StatusBadRequest
	case c == ErrCodeTaskNotFound, c == ErrCodeChannelNotFound:
		return http.StatusNotFound
	case c == ErrCodeConflictState, c == ErrCodeChannelNameConflict:
		return http.StatusConflict
	case c == ErrCodeDecisionTimeout:
		return http.StatusGatewayTimeout
	case c == ErrCodeRemoteRateLimited:
		return http.StatusTooManyRequests
	case strings.HasPrefix(string(c), "remote_"),
		c == ErrCodeNoBackendAvailable,
		c == ErrCodeBackendUnhealthy:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout the core.
// All domain errors should be expressed as AppError to enable consistent
// error classification, logging, and HTTP status mapping.
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
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
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

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
