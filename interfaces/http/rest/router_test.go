package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learngraph/application/ports"
	"learngraph/application/services"
	"learngraph/infrastructure/httpclient"
	"learngraph/infrastructure/messaging/local"
	"learngraph/infrastructure/persistence/memory"
	"learngraph/infrastructure/realtime"
	"learngraph/interfaces/http/rest/handlers"
	"learngraph/pkg/auth"
	pkgerrors "learngraph/pkg/errors"
	"learngraph/pkg/observability"
)

type stubIssuer struct {
	mu    sync.Mutex
	err   error
	users []string
}

func (s *stubIssuer) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubIssuer) callers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

func (s *stubIssuer) IssueCredential(_ context.Context, userID string) (*ports.RealtimeCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, userID)
	if s.err != nil {
		return nil, s.err
	}
	return &ports.RealtimeCredential{
		ClientSecret: ports.ClientSecret{Value: "ek_test", ExpiresAt: time.Unix(1700000000, 0).UTC()},
		Model:        "gpt-realtime",
	}, nil
}

type httpRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (h *httpRecorder) ObserveHTTP(method, route string, status int, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes = append(h.routes, method+" "+route)
}

type apiFixture struct {
	server    *httptest.Server
	tokens    *auth.JWTService
	issuer    *stubIssuer
	store     *memory.TreeStore
	publisher *local.Publisher
	observer  *httpRecorder

	readyMu sync.Mutex
	ready   error
}

func (f *apiFixture) setReady(err error) {
	f.readyMu.Lock()
	defer f.readyMu.Unlock()
	f.ready = err
}

func (f *apiFixture) checkReady(context.Context) error {
	f.readyMu.Lock()
	defer f.readyMu.Unlock()
	return f.ready
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	tokens, err := auth.NewJWTService("test-secret", "learngraph", time.Hour)
	require.NoError(t, err)

	f := &apiFixture{
		tokens:    tokens,
		issuer:    &stubIssuer{},
		store:     memory.NewTreeStore(),
		publisher: local.NewPublisher(nil, 10),
		observer:  &httpRecorder{},
	}
	errs := pkgerrors.NewErrorHandler(nil, false)
	svc := services.NewTreeService(f.store, f.publisher, nil, nil, nil)
	collector := observability.NewCollector("api_test")

	router := NewRouter(
		handlers.NewTreeHandler(svc, errs, nil),
		handlers.NewSessionHandler(f.issuer, errs, nil),
		tokens,
		errs,
		RouterConfig{
			EnableCORS: true,
			Metrics:    collector.Handler(),
			Observer:   f.observer,
			Readiness:  []ReadinessCheck{f.checkReady},
		},
		nil,
	)
	f.server = httptest.NewServer(router.Setup())
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.tokens.GenerateToken(userID, "", nil)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string, headers map[string]string) (*http.Response, pkgerrors.ErrorResponse) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var errBody pkgerrors.ErrorResponse
	if resp.StatusCode >= 400 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	}
	return resp, errBody
}

const sampleTreeJSON = `{
	"nodes": [
		{"id": "n1", "type": "motivator", "title": "Pass the exam", "x": 1, "y": 2},
		{"id": "n2", "type": "task", "title": "Practice set", "dueDate": "2024-10-01"}
	],
	"edges": [{"from": "n1", "to": "n2"}]
}`

func TestRouter_HealthAndReady(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.setReady(errors.New("table missing"))
	resp, body := f.do(t, http.MethodGet, "/ready", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, string(pkgerrors.ErrorTypeUnavailable), body.Type)

	resp, _ = f.do(t, http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_RequiresAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/v1/trees/user-1", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, body.Error)
	assert.NotEmpty(t, body.RequestID)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/trees/user-1", "not-a-jwt", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/v1/realtime/sessions", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, f.issuer.callers())
}

func TestRouter_TreeLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-1")

	resp, body := f.do(t, http.MethodGet, "/api/v1/trees/user-1", tok, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(pkgerrors.ErrorTypeNotFound), body.Type)

	resp, _ = f.do(t, http.MethodPut, "/api/v1/trees/user-1", tok, sampleTreeJSON, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/trees/user-1", tok, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tree ports.TreeRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tree))
	assert.Equal(t, "user-1", tree.UserID)
	assert.Len(t, tree.Nodes, 2)
	assert.Equal(t, "2024-10-01", tree.Nodes[1].DueDate)

	require.Len(t, f.publisher.Recent(), 1)
	assert.Equal(t, "tree.saved", f.publisher.Recent()[0].GetEventType())
}

func TestRouter_TreeRejections(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-1")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "other user's tree", method: http.MethodGet, path: "/api/v1/trees/user-2", status: http.StatusForbidden},
		{name: "other user's put", method: http.MethodPut, path: "/api/v1/trees/user-2", body: sampleTreeJSON, status: http.StatusForbidden},
		{name: "malformed body", method: http.MethodPut, path: "/api/v1/trees/user-1", body: `{"nodes":`, status: http.StatusBadRequest},
		{name: "empty body", method: http.MethodPut, path: "/api/v1/trees/user-1", status: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPut, path: "/api/v1/trees/user-1", body: `{"graph": []}`, status: http.StatusBadRequest},
		{name: "dangling edge", method: http.MethodPut, path: "/api/v1/trees/user-1",
			body: `{"nodes":[{"id":"a","type":"task","title":"A"}],"edges":[{"from":"a","to":"b"}]}`, status: http.StatusBadRequest},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/nope", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, tt.method, tt.path, tok, tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.True(t, body.Error)
		})
	}
	assert.Equal(t, 0, f.store.Len())
}

func TestRouter_ConditionalCreate(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-1")
	create := map[string]string{"If-None-Match": "*"}

	resp, _ := f.do(t, http.MethodPut, "/api/v1/trees/user-1", tok, `{"nodes":[],"edges":[]}`, create)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := f.do(t, http.MethodPut, "/api/v1/trees/user-1", tok, sampleTreeJSON, create)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, string(pkgerrors.ErrorTypeConflict), body.Type)

	stored, err := f.store.GetTree(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, stored.Nodes)
	assert.Equal(t, "tree.bootstrapped", f.publisher.Recent()[0].GetEventType())
}

func TestRouter_CreateSession(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-7")

	resp, _ := f.do(t, http.MethodPost, "/api/v1/realtime/sessions", tok, "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var cred ports.RealtimeCredential
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cred))
	assert.Equal(t, "ek_test", cred.ClientSecret.Value)
	assert.Equal(t, "gpt-realtime", cred.Model)
	assert.Equal(t, []string{"user-7"}, f.issuer.callers())

	f.issuer.fail(pkgerrors.NewUnavailableError("agent service"))
	resp, body := f.do(t, http.MethodPost, "/api/v1/realtime/sessions", tok, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, string(pkgerrors.ErrorTypeUnavailable), body.Type)
}

func TestRouter_MetricsUseRoutePatterns(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-1")

	f.do(t, http.MethodGet, "/api/v1/trees/user-1", tok, "", nil)

	f.observer.mu.Lock()
	defer f.observer.mu.Unlock()
	assert.Contains(t, f.observer.routes, "GET /api/v1/trees/{userID}")
}

// The HTTP adapters used by the voice client speak the same protocol the
// router serves.
func TestRouter_ClientAdaptersRoundTrip(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-1")
	ctx := context.Background()

	client := httpclient.NewTreeClient(f.server.URL, tok, f.server.Client(), httpclient.DefaultBreakerConfig(), nil)

	_, err := client.GetTree(ctx, "user-1")
	assert.True(t, pkgerrors.IsNotFound(err))

	created, err := client.CreateTreeIfAbsent(ctx, ports.NewEmptyTree("user-1", time.Now()))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = client.CreateTreeIfAbsent(ctx, ports.NewEmptyTree("user-1", time.Now()))
	require.NoError(t, err)
	assert.False(t, created)

	tree := ports.NewEmptyTree("user-1", time.Now())
	tree.Nodes = append(tree.Nodes, ports.TreeNodeRecord{ID: "n1", Type: "idea", Title: "Spaced repetition"})
	require.NoError(t, client.PutTree(ctx, tree))

	got, err := client.GetTree(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "Spaced repetition", got.Nodes[0].Title)

	err = client.PutTree(ctx, &ports.TreeRecord{UserID: "user-2"})
	assert.True(t, pkgerrors.IsUnauthorized(err))

	creds := realtime.NewHTTPCredentialSource(f.server.URL, tok, f.server.Client(), nil)
	cred, err := creds.FetchCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ek_test", cred.ClientSecret.Value)
}
