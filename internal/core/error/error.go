package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// SessionNotFoundMessage is returned when a session id is unknown or expired.
	SessionNotFoundMessage = "session not found"
	// InvalidRequestMessage prefixes request validation failures.
	InvalidRequestMessage = "invalid request"
	// SessionBusyMessage is returned when a turn could not lock its session.
	SessionBusyMessage = "session is busy"
)

// Sentinel errors of the orchestration engine. Wrap them with fmt.Errorf or
// New; callers match with errors.Is.
var (
	ErrSessionNotFound        = errors.New("session_not_found")
	ErrGraphStepLimitExceeded = errors.New("graph_step_limit_exceeded")
	ErrInvalidRequest         = errors.New("invalid_request")
	ErrTurnCancelled          = errors.New("turn_cancelled")
	ErrUnsupportedNodeType    = errors.New("unsupported_node_type")
	ErrExpressionEvaluation   = errors.New("expression_evaluation_error")
	ErrNodeExecution          = errors.New("node_execution_error")
	ErrFormat                 = errors.New("format_error")
	ErrSessionBusy            = errors.New("session_busy")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// SessionNotFound reports that the given session id is absent or expired.
func SessionNotFound(sessionID string) *AppError {
	return New(fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID), http.StatusNotFound, SessionNotFoundMessage)
}

// SessionBusy reports that another turn kept the session locked past the
// lock timeout.
func SessionBusy(sessionID string, cause error) *AppError {
	return New(fmt.Errorf("%w: %s: %v", ErrSessionBusy, sessionID, cause), http.StatusConflict, SessionBusyMessage)
}

// InvalidRequest reports a top-level contract violation in a request body.
func InvalidRequest(format string, args ...any) *AppError {
	return New(fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...)), http.StatusBadRequest, InvalidRequestMessage)
}

// StatusOf returns the HTTP status associated with err, defaulting to 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	for _, sentinel := range []error{
		ErrSessionNotFound,
		ErrGraphStepLimitExceeded,
		ErrInvalidRequest,
		ErrTurnCancelled,
		ErrUnsupportedNodeType,
		ErrNodeExecution,
		ErrFormat,
		ErrSessionBusy,
		ErrExpressionEvaluation,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal_error"
}
