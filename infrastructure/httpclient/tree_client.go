// Package httpclient talks to the tree persistence API from the voice
// client.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"learngraph/application/ports"
	pkgerrors "learngraph/pkg/errors"
)

const maxTreeBytes = 8 << 20

// BreakerConfig holds circuit breaker settings for the tree API
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the standard breaker settings
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "tree-api",
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// TreeClient implements ports.TreeStore over the REST persistence API
type TreeClient struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var (
	_ ports.TreeStore   = (*TreeClient)(nil)
	_ ports.TreeCreator = (*TreeClient)(nil)
)

// NewTreeClient creates a client for baseURL authenticated with token
func NewTreeClient(baseURL, token string, client *http.Client, cfg BreakerConfig, logger *zap.Logger) *TreeClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &TreeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Client errors mean the service answered; only transport
		// failures and 5xx count against it.
		IsSuccessful: func(err error) bool {
			return err == nil || pkgerrors.IsClientError(err)
		},
	})
	return c
}

// BreakerState reports the breaker state, for health output
func (c *TreeClient) BreakerState() string {
	return c.breaker.State().String()
}

// GetTree fetches the user's tree. A 404 becomes a NotFound AppError.
func (c *TreeClient) GetTree(ctx context.Context, userID string) (*ports.TreeRecord, error) {
	var tree ports.TreeRecord
	_, err := c.do(ctx, http.MethodGet, userID, nil, nil, &tree)
	if err != nil {
		return nil, err
	}
	return &tree, nil
}

// PutTree replaces the user's tree
func (c *TreeClient) PutTree(ctx context.Context, tree *ports.TreeRecord) error {
	if tree == nil || tree.UserID == "" {
		return pkgerrors.NewValidationError("tree userId is required")
	}
	_, err := c.do(ctx, http.MethodPut, tree.UserID, tree, nil, nil)
	return err
}

// CreateTreeIfAbsent writes tree with If-None-Match so an existing tree is
// never overwritten by a bootstrap
func (c *TreeClient) CreateTreeIfAbsent(ctx context.Context, tree *ports.TreeRecord) (bool, error) {
	if tree == nil || tree.UserID == "" {
		return false, pkgerrors.NewValidationError("tree userId is required")
	}
	headers := http.Header{"If-None-Match": []string{"*"}}
	_, err := c.do(ctx, http.MethodPut, tree.UserID, tree, headers, nil)
	if pkgerrors.IsConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *TreeClient) do(ctx context.Context, method, userID string, body any, headers http.Header, out any) (int, error) {
	endpoint := c.baseURL + "/api/v1/trees/" + url.PathEscape(userID)

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, pkgerrors.NewInternalError("encode tree").WithCause(err)
		}
	}

	start := time.Now()
	res, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return 0, pkgerrors.NewInternalError("build tree request").WithCause(err)
		}
		for k, v := range headers {
			req.Header[k] = v
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return 0, pkgerrors.NewNetworkError("tree request failed", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxTreeBytes))
		if err != nil {
			return resp.StatusCode, pkgerrors.NewNetworkError("read tree response", err)
		}
		if err := statusError(resp.StatusCode, data); err != nil {
			return resp.StatusCode, err
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return resp.StatusCode, pkgerrors.NewExternalError("tree api", fmt.Errorf("decode tree: %w", err))
			}
		}
		return resp.StatusCode, nil
	})

	status, _ := res.(int)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("Tree API short-circuited", zap.String("method", method), zap.String("userId", userID))
		return status, pkgerrors.NewUnavailableError("tree api")
	}

	c.logger.Debug("Tree API call",
		zap.String("method", method),
		zap.String("userId", userID),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return status, err
}

func statusError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return pkgerrors.NewNotFoundError("tree")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.NewUnauthorizedError("tree api rejected credentials")
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return pkgerrors.NewConflictError("tree already exists")
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return pkgerrors.NewValidationError(serverMessage(body))
	default:
		return pkgerrors.NewExternalError("tree api", fmt.Errorf("status %d: %s", status, serverMessage(body)))
	}
}

// serverMessage pulls the message out of an ErrorResponse body
func serverMessage(body []byte) string {
	var payload pkgerrors.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}
