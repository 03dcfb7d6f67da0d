// Package realtime connects the voice session to the remote agent: SDP
// signaling, the WebRTC peer with its event data channel, a WebSocket
// fallback, credential clients and the microphone source.
package realtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxSDPBytes = 64 << 10

// SignalingClient exchanges an SDP offer for the agent's answer
type SignalingClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewSignalingClient creates a client for baseURL, e.g.
// https://api.example.com/v1
func NewSignalingClient(baseURL string, client *http.Client, logger *zap.Logger) *SignalingClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// Exchange posts offerSDP with the ephemeral token and returns the answer SDP
func (c *SignalingClient) Exchange(ctx context.Context, token, model, offerSDP string) (string, error) {
	endpoint := c.baseURL + "/realtime"
	if model != "" {
		endpoint += "?model=" + url.QueryEscape(model)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(offerSDP))
	if err != nil {
		return "", fmt.Errorf("build signaling request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/sdp")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send offer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSDPBytes))
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("signaling rejected offer: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	answer := string(body)
	if !strings.HasPrefix(strings.TrimSpace(answer), "v=") {
		return "", fmt.Errorf("signaling returned a non-SDP body")
	}

	c.logger.Debug("SDP exchange complete",
		zap.String("model", model),
		zap.Duration("duration", time.Since(start)),
	)
	return answer, nil
}
