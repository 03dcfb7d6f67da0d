package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"learngraph/application/ports"
	pkgerrors "learngraph/pkg/errors"
)

const maxCredentialBytes = 16 << 10

// HTTPCredentialSource fetches session credentials from the trusted
// backend. The backend holds the long-lived agent key; this client only
// ever sees the short-lived secret.
type HTTPCredentialSource struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *zap.Logger
}

var _ ports.CredentialSource = (*HTTPCredentialSource)(nil)

// NewHTTPCredentialSource creates a source for backendURL using the
// caller's bearer token
func NewHTTPCredentialSource(backendURL, token string, client *http.Client, logger *zap.Logger) *HTTPCredentialSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPCredentialSource{
		endpoint: strings.TrimRight(backendURL, "/") + "/api/v1/realtime/sessions",
		token:    token,
		client:   client,
		logger:   logger,
	}
}

// FetchCredential requests a new session credential
func (s *HTTPCredentialSource) FetchCredential(ctx context.Context) (*ports.RealtimeCredential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build credential request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, pkgerrors.NewNetworkError("credential request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCredentialBytes))
	if err != nil {
		return nil, pkgerrors.NewNetworkError("read credential response", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, pkgerrors.NewUnauthorizedError("credential endpoint rejected the caller")
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, pkgerrors.NewExternalError("credential endpoint",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var cred ports.RealtimeCredential
	if err := json.Unmarshal(body, &cred); err != nil {
		return nil, pkgerrors.NewExternalError("credential endpoint", fmt.Errorf("decode credential: %w", err))
	}
	if cred.ClientSecret.Value == "" {
		return nil, pkgerrors.NewExternalError("credential endpoint", fmt.Errorf("response has no client secret"))
	}

	s.logger.Debug("Fetched realtime credential",
		zap.String("model", cred.Model),
		zap.Time("expiresAt", cred.ClientSecret.ExpiresAt),
	)
	return &cred, nil
}
