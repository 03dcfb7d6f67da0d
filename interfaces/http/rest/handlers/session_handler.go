package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"learngraph/application/ports"
	"learngraph/pkg/auth"
	pkgerrors "learngraph/pkg/errors"
)

// SessionHandler mints realtime credentials for authenticated callers.
// The agent API key never leaves the server.
type SessionHandler struct {
	issuer ports.CredentialIssuer
	errors *pkgerrors.ErrorHandler
	logger *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(issuer ports.CredentialIssuer, errs *pkgerrors.ErrorHandler, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{issuer: issuer, errors: errs, logger: logger}
}

// CreateSession handles POST /realtime/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.errors.Handle(w, r, pkgerrors.NewUnauthorizedError(""))
		return
	}

	cred, err := h.issuer.IssueCredential(r.Context(), caller.UserID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	h.logger.Info("Issued realtime credential",
		zap.String("userId", caller.UserID),
		zap.String("model", cred.Model),
		zap.Time("expiresAt", cred.ClientSecret.ExpiresAt),
	)
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusCreated, cred, h.logger)
}
