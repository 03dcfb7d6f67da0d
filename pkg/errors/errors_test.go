package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantType   ErrorType
		wantStatus int
	}{
		{"validation", NewValidationError("bad"), ErrorTypeValidation, http.StatusBadRequest},
		{"not found", NewNotFoundError("node 7"), ErrorTypeNotFound, http.StatusNotFound},
		{"conflict", NewConflictError("dup"), ErrorTypeConflict, http.StatusConflict},
		{"unauthorized", NewUnauthorizedError(""), ErrorTypeUnauthorized, http.StatusUnauthorized},
		{"forbidden", NewForbiddenError(""), ErrorTypeForbidden, http.StatusForbidden},
		{"database", NewDatabaseError("PutItem", errors.New("boom")), ErrorTypeDatabase, http.StatusInternalServerError},
		{"connection", NewConnectionError("signaling", errors.New("eof")), ErrorTypeConnection, http.StatusBadGateway},
		{"tool", NewToolExecutionError("move_node", "node 9 not found"), ErrorTypeToolExecution, http.StatusUnprocessableEntity},
		{"persistence", NewPersistenceError("save", errors.New("503")), ErrorTypePersistence, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus)
			assert.NotEmpty(t, tt.err.StackTrace)
		})
	}

	assert.Equal(t, "node 7 not found", NewNotFoundError("node 7").Message)
	assert.Equal(t, "move_node", NewToolExecutionError("move_node", "x").Details["tool"])
}

func TestHelpers(t *testing.T) {
	cause := errors.New("network down")
	wrapped := fmt.Errorf("loading tree: %w", NewPersistenceError("load", cause))

	require.NotNil(t, GetAppError(wrapped))
	assert.True(t, IsType(wrapped, ErrorTypePersistence))
	assert.False(t, IsNotFound(wrapped))
	assert.ErrorIs(t, wrapped, cause)

	assert.True(t, IsNotFound(NewNotFoundError("tree")))
	assert.True(t, IsValidation(NewValidationError("x")))
	assert.True(t, IsConflict(NewConflictError("x")))
	assert.True(t, IsConnection(NewConnectionError("offer", nil)))
	assert.Nil(t, GetAppError(errors.New("plain")))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(NewNotFoundError("tree")))
	assert.True(t, IsClientError(NewForbiddenError("")))

	precondition := NewConflictError("tree exists")
	precondition.HTTPStatus = http.StatusPreconditionFailed
	assert.True(t, IsClientError(fmt.Errorf("create: %w", precondition)))

	assert.False(t, IsClientError(NewUnavailableError("agent service")))
	assert.False(t, IsClientError(NewNetworkError("dial", errors.New("refused"))))
	assert.False(t, IsClientError(errors.New("plain")))
	assert.False(t, IsClientError(nil))
}

func TestErrorType_Status(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, ErrorTypeUnavailable.Status())
	assert.Equal(t, http.StatusInternalServerError, ErrorType("SOMETHING_ELSE").Status())
}

func TestErrorHandler_Handle(t *testing.T) {
	h := NewErrorHandler(nil, false)

	t.Run("app error keeps status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/trees/u-1", nil)
		h.Handle(rec, req, NewNotFoundError("tree"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Error)
		assert.Equal(t, "NOT_FOUND", body.Type)
		assert.Equal(t, "tree not found", body.Message)
	})

	t.Run("plain error is opaque", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		h.Handle(rec, req, errors.New("secret detail"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "secret detail")
	})
}

func TestErrorHandler_MiddlewareRecoversPanic(t *testing.T) {
	h := NewErrorHandler(nil, false)
	handler := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL")
}
