// Package handlers implements the REST endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"learngraph/application/ports"
	"learngraph/application/services"
	"learngraph/pkg/auth"
	pkgerrors "learngraph/pkg/errors"
)

// maxTreeBodyBytes bounds a PUT body
const maxTreeBodyBytes = 4 << 20

// TreeHandler handles the persistence endpoint
type TreeHandler struct {
	service *services.TreeService
	errors  *pkgerrors.ErrorHandler
	logger  *zap.Logger
}

// NewTreeHandler creates a new tree handler
func NewTreeHandler(service *services.TreeService, errs *pkgerrors.ErrorHandler, logger *zap.Logger) *TreeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TreeHandler{service: service, errors: errs, logger: logger}
}

// GetTree handles GET /trees/{userID}. A missing tree is a 404 so the
// client can bootstrap.
func (h *TreeHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	userID, err := authorizedUser(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	tree, err := h.service.GetTree(r.Context(), userID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tree, h.logger)
}

// PutTree handles PUT /trees/{userID}. With If-None-Match: * the tree is
// only created when none exists; an existing tree yields 412.
func (h *TreeHandler) PutTree(w http.ResponseWriter, r *http.Request) {
	userID, err := authorizedUser(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var tree ports.TreeRecord
	if err := decodeJSON(w, r, &tree); err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	if r.Header.Get("If-None-Match") == "*" {
		created, err := h.service.CreateTree(r.Context(), userID, &tree)
		if err != nil {
			h.errors.Handle(w, r, err)
			return
		}
		if !created {
			precondition := pkgerrors.NewConflictError("tree already exists")
			precondition.HTTPStatus = http.StatusPreconditionFailed
			h.errors.Handle(w, r, precondition)
			return
		}
		respondJSON(w, http.StatusCreated, &tree, h.logger)
		return
	}

	if err := h.service.PutTree(r.Context(), userID, &tree); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, &tree, h.logger)
}

// authorizedUser returns the path user id after checking that it is the
// caller's own
func authorizedUser(r *http.Request) (string, error) {
	caller, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		return "", pkgerrors.NewUnauthorizedError("")
	}
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		return "", pkgerrors.NewValidationError("user id is required")
	}
	if userID != caller.UserID {
		return "", pkgerrors.NewForbiddenError("cannot access another user's tree")
	}
	return userID, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, into any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTreeBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return pkgerrors.NewValidationError("request body too large")
		case errors.Is(err, io.EOF):
			return pkgerrors.NewValidationError("request body is required")
		default:
			return pkgerrors.NewValidationError("invalid request body").WithCause(err)
		}
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
