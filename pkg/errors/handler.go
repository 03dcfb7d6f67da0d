package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body of every failed API request
type ErrorResponse struct {
	Error     bool                   `json:"error"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// ErrorHandler writes errors as ErrorResponse bodies. In debug mode the
// body also carries the cause and the stack.
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger, debug: debug}
}

// Handle answers r with err. Errors outside the taxonomy are reported as
// an opaque internal error.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	requestID := middleware.GetReqID(r.Context())

	appErr := GetAppError(err)
	if appErr == nil {
		message := "An internal error occurred"
		if h.debug {
			message = err.Error()
		}
		appErr = &AppError{Type: ErrorTypeInternal, Message: message, Cause: err, HTTPStatus: http.StatusInternalServerError}
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = appErr.Type.Status()
	}

	body := ErrorResponse{
		Error:     true,
		Type:      string(appErr.Type),
		Message:   appErr.Message,
		Code:      appErr.Code,
		Details:   appErr.Details,
		RequestID: requestID,
	}
	if h.debug {
		body.Details = debugDetails(appErr)
	}

	h.log(r, appErr, status, requestID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

func debugDetails(e *AppError) map[string]interface{} {
	details := make(map[string]interface{}, len(e.Details)+2)
	for k, v := range e.Details {
		details[k] = v
	}
	if e.Cause != nil {
		details["cause"] = e.Cause.Error()
	}
	if e.StackTrace != "" {
		details["stack_trace"] = e.StackTrace
	}
	return details
}

func (h *ErrorHandler) log(r *http.Request, e *AppError, status int, requestID string) {
	fields := []zap.Field{
		zap.String("errorType", string(e.Type)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("requestId", requestID),
	}
	if e.Cause != nil {
		fields = append(fields, zap.Error(e.Cause))
	}
	if status >= 500 {
		h.logger.Error(e.Message, fields...)
		return
	}
	h.logger.Warn(e.Message, fields...)
}

// Middleware turns a panic in a downstream handler into a 500 response
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.Handle(w, r, NewInternalError(fmt.Sprintf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
