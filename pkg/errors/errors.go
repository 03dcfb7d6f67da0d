// Package errors is the shared error taxonomy. Every failure that crosses
// a layer boundary is an *AppError whose Type decides how callers react
// and which HTTP status the API answers with.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType classifies an AppError
type ErrorType string

const (
	// Request errors
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"

	// Server and dependency errors
	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
	ErrorTypeDatabase    ErrorType = "DATABASE"
	ErrorTypeNetwork     ErrorType = "NETWORK"
	ErrorTypeExternal    ErrorType = "EXTERNAL"

	// Voice session errors
	ErrorTypeConnection    ErrorType = "CONNECTION"
	ErrorTypeProtocol      ErrorType = "PROTOCOL"
	ErrorTypeToolExecution ErrorType = "TOOL_EXECUTION"
	ErrorTypePersistence   ErrorType = "PERSISTENCE"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:    http.StatusBadRequest,
	ErrorTypeNotFound:      http.StatusNotFound,
	ErrorTypeConflict:      http.StatusConflict,
	ErrorTypeUnauthorized:  http.StatusUnauthorized,
	ErrorTypeForbidden:     http.StatusForbidden,
	ErrorTypeInternal:      http.StatusInternalServerError,
	ErrorTypeUnavailable:   http.StatusServiceUnavailable,
	ErrorTypeDatabase:      http.StatusInternalServerError,
	ErrorTypeNetwork:       http.StatusBadGateway,
	ErrorTypeExternal:      http.StatusBadGateway,
	ErrorTypeConnection:    http.StatusBadGateway,
	ErrorTypeProtocol:      http.StatusBadRequest,
	ErrorTypeToolExecution: http.StatusUnprocessableEntity,
	ErrorTypePersistence:   http.StatusBadGateway,
}

// Status is the HTTP status an error of this type maps to
func (t ErrorType) Status() int {
	if s, ok := statusByType[t]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// AppError carries a classified failure. HTTPStatus starts at the type's
// status; handlers may override it (412 for a failed precondition).
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches structured details rendered in the API response
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause records the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// callers renders the stack above the constructor for debug responses
func callers() string {
	var pcs [32]uintptr
	n := runtime.Callers(4, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s:%d %s\n", f.File, f.Line, f.Function)
		if !more {
			return b.String()
		}
	}
}

func newError(t ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		Cause:      cause,
		HTTPStatus: t.Status(),
		StackTrace: callers(),
	}
}

func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, message, nil)
}

// NewNotFoundError reports that resource does not exist
func NewNotFoundError(resource string) *AppError {
	return newError(ErrorTypeNotFound, resource+" not found", nil)
}

func NewConflictError(message string) *AppError {
	return newError(ErrorTypeConflict, message, nil)
}

func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return newError(ErrorTypeUnauthorized, message, nil)
}

// NewForbiddenError is returned when an authenticated caller touches
// another user's data
func NewForbiddenError(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return newError(ErrorTypeForbidden, message, nil)
}

func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, message, nil)
}

// NewUnavailableError reports a dependency that is not configured or not
// answering
func NewUnavailableError(service string) *AppError {
	return newError(ErrorTypeUnavailable, service+" is unavailable", nil)
}

// NewDatabaseError wraps a failed store operation such as "PutItem"
func NewDatabaseError(operation string, err error) *AppError {
	return newError(ErrorTypeDatabase, fmt.Sprintf("database operation %s failed", operation), err)
}

func NewNetworkError(message string, err error) *AppError {
	return newError(ErrorTypeNetwork, message, err)
}

// NewExternalError wraps an unexpected answer from another service
func NewExternalError(service string, err error) *AppError {
	return newError(ErrorTypeExternal, service+" returned an error", err)
}

// NewConnectionError marks a signaling, negotiation or transport failure.
// It is fatal to a voice session.
func NewConnectionError(stage string, err error) *AppError {
	return newError(ErrorTypeConnection, "connection failed during "+stage, err)
}

// NewProtocolError marks a malformed or unrecognized realtime message
func NewProtocolError(message string) *AppError {
	return newError(ErrorTypeProtocol, message, nil)
}

// NewToolExecutionError marks a function call that could not be applied
// to the graph
func NewToolExecutionError(tool, message string) *AppError {
	return newError(ErrorTypeToolExecution, message, nil).
		WithDetails(map[string]interface{}{"tool": tool})
}

// NewPersistenceError marks a failed tree save or load
func NewPersistenceError(operation string, err error) *AppError {
	return newError(ErrorTypePersistence, "tree "+operation+" failed", err)
}

// GetAppError finds the first AppError in err's chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType reports whether err's chain holds an AppError of type t
func IsType(err error, t ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == t
}

func IsNotFound(err error) bool     { return IsType(err, ErrorTypeNotFound) }
func IsValidation(err error) bool   { return IsType(err, ErrorTypeValidation) }
func IsConflict(err error) bool     { return IsType(err, ErrorTypeConflict) }
func IsUnauthorized(err error) bool { return IsType(err, ErrorTypeUnauthorized) }
func IsConnection(err error) bool   { return IsType(err, ErrorTypeConnection) }

// IsClientError reports whether err is the caller's fault (a 4xx). Such
// errors prove the remote side is healthy.
func IsClientError(err error) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.HTTPStatus >= 400 && appErr.HTTPStatus < 500
}
