package errors

import (
	"fmt"
	"maps"
	"net/http"
)

// AppError carries a stable code, a client-facing message and the HTTP
// status the server maps it to. Two AppErrors match under errors.Is when
// their codes are equal.
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	maps.Copy(e.Details, details)
	return e
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	return e.WithDetails(map[string]any{key: value})
}

// New builds an AppError; Retryable follows the code.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Retryable: IsRetryableCode(code)}
}

// newf is New with a formatted message and a single detail.
func newf(code ErrorCode, status int, key string, value any, format string, args ...any) *AppError {
	e := New(code, fmt.Sprintf(format, args...), status)
	if key != "" {
		e.WithDetail(key, value)
	}
	return e
}

// Engine errors.

// TransformFailure wraps an error raised by a stage transform.
func TransformFailure(stage string, cause error) *AppError {
	return newf(ErrCodeTransformFailure, http.StatusUnprocessableEntity, "stage", stage,
		"stage %q failed to transform item", stage).WithCause(cause)
}

func GraphConfiguration(graph, reason string) *AppError {
	return newf(ErrCodeGraphConfiguration, http.StatusInternalServerError, "graph", graph, "%s", reason)
}

// DoubleResolution reports a second resolution of a handle already in state.
func DoubleResolution(state string) *AppError {
	return newf(ErrCodeDoubleResolution, http.StatusInternalServerError, "state", state,
		"completion handle already %s", state)
}

// StageCompleted reports an item offered to a stage that stopped accepting input.
func StageCompleted(stage string) *AppError {
	return newf(ErrCodeStageCompleted, http.StatusServiceUnavailable, "stage", stage,
		"stage %q no longer accepts input", stage)
}

// Unrouted reports an item no outgoing link accepted.
func Unrouted(stage string) *AppError {
	return newf(ErrCodeUnrouted, http.StatusInternalServerError, "stage", stage,
		"no link from stage %q accepted the item", stage)
}

func InvalidOperation(reason string) *AppError {
	return New(ErrCodeInvalidOperation, reason, http.StatusConflict)
}

// Request errors.

// InvalidInput reports a rejected request field. An empty field is omitted
// from the details.
func InvalidInput(field, reason string) *AppError {
	e := New(ErrCodeInvalidInput, "Invalid input: "+reason, http.StatusBadRequest)
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

func Validation(message string) *AppError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// Timeout reports a caller that stopped waiting on operation.
func Timeout(operation string) *AppError {
	return newf(ErrCodeTimeout, http.StatusGatewayTimeout, "operation", operation,
		"The request took too long. Please try again.")
}

func ServiceUnavailable(service string) *AppError {
	return newf(ErrCodeServiceUnavailable, http.StatusServiceUnavailable, "service", service,
		"The %s is temporarily unavailable. Please try again.", service)
}

// Internal hides cause behind a generic message.
func Internal(cause error) *AppError {
	return New(ErrCodeInternal, "An unexpected error occurred. Please try again or contact support.",
		http.StatusInternalServerError).WithCause(cause)
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
