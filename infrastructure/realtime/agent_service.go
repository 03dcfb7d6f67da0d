package realtime

import (
	"bytes"
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

// AgentServiceConfig holds the server-side agent settings
type AgentServiceConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	// Instructions seed the session; clients may override them later
	Instructions string
}

// AgentServiceClient mints ephemeral realtime sessions with the server's
// long-lived key
type AgentServiceClient struct {
	cfg    AgentServiceConfig
	client *http.Client
	logger *zap.Logger
}

var _ ports.CredentialIssuer = (*AgentServiceClient)(nil)

// NewAgentServiceClient creates the issuer
func NewAgentServiceClient(cfg AgentServiceConfig, client *http.Client, logger *zap.Logger) *AgentServiceClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &AgentServiceClient{cfg: cfg, client: client, logger: logger}
}

type createSessionRequest struct {
	Model        string `json:"model"`
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	User         string `json:"user,omitempty"`
}

type createSessionResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// IssueCredential creates a realtime session for userID
func (c *AgentServiceClient) IssueCredential(ctx context.Context, userID string) (*ports.RealtimeCredential, error) {
	if c.cfg.APIKey == "" {
		return nil, pkgerrors.NewUnavailableError("agent service")
	}

	payload, err := json.Marshal(createSessionRequest{
		Model:        c.cfg.Model,
		Voice:        c.cfg.Voice,
		Instructions: c.cfg.Instructions,
		User:         userID,
	})
	if err != nil {
		return nil, pkgerrors.NewInternalError("encode session request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/realtime/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.NewInternalError("build session request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, pkgerrors.NewExternalError("agent service", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCredentialBytes))
	if err != nil {
		return nil, pkgerrors.NewExternalError("agent service", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Warn("Agent service rejected session request",
			zap.Int("status", resp.StatusCode),
			zap.String("userId", userID),
		)
		return nil, pkgerrors.NewExternalError("agent service",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, pkgerrors.NewExternalError("agent service", fmt.Errorf("decode session: %w", err))
	}
	if out.ClientSecret.Value == "" {
		return nil, pkgerrors.NewExternalError("agent service", fmt.Errorf("session has no client secret"))
	}

	model := out.Model
	if model == "" {
		model = c.cfg.Model
	}
	cred := &ports.RealtimeCredential{
		ClientSecret: ports.ClientSecret{
			Value:     out.ClientSecret.Value,
			ExpiresAt: time.Unix(out.ClientSecret.ExpiresAt, 0).UTC(),
		},
		Model: model,
	}

	c.logger.Info("Issued realtime credential",
		zap.String("userId", userID),
		zap.String("sessionId", out.ID),
		zap.Duration("duration", time.Since(start)),
	)
	return cred, nil
}
