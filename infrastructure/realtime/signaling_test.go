package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "learngraph/pkg/errors"
)

const testAnswer = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\n"

func TestSignalingClient_Exchange(t *testing.T) {
	var gotAuth, gotType, gotModel, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(testAnswer))
	}))
	defer srv.Close()

	client := NewSignalingClient(srv.URL+"/v1/", nil, nil)
	answer, err := client.Exchange(context.Background(), "ek_123", "voice-model", "v=0 offer")
	require.NoError(t, err)

	assert.Equal(t, testAnswer, answer)
	assert.Equal(t, "Bearer ek_123", gotAuth)
	assert.Equal(t, "application/sdp", gotType)
	assert.Equal(t, "voice-model", gotModel)
	assert.Equal(t, "v=0 offer", gotBody)
}

func TestSignalingClient_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		errMsg string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: "bad token", errMsg: "status 401"},
		{name: "not sdp", status: http.StatusOK, body: "<html>", errMsg: "non-SDP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewSignalingClient(srv.URL, nil, nil).Exchange(context.Background(), "t", "", "v=0")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestHTTPCredentialSource_FetchCredential(t *testing.T) {
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/realtime/sessions", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer jwt-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"client_secret": map[string]any{"value": "ek_abc", "expires_at": expires},
			"model":         "voice-model",
		})
	}))
	defer srv.Close()

	t.Run("success", func(t *testing.T) {
		cred, err := NewHTTPCredentialSource(srv.URL, "jwt-token", nil, nil).FetchCredential(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ek_abc", cred.ClientSecret.Value)
		assert.True(t, expires.Equal(cred.ClientSecret.ExpiresAt))
		assert.Equal(t, "voice-model", cred.Model)
	})

	t.Run("unauthorized", func(t *testing.T) {
		_, err := NewHTTPCredentialSource(srv.URL, "wrong", nil, nil).FetchCredential(context.Background())
		require.Error(t, err)
		assert.True(t, pkgerrors.IsUnauthorized(err))
	})
}

func TestHTTPCredentialSource_EmptySecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"client_secret":{"value":""},"model":"m"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPCredentialSource(srv.URL, "", nil, nil).FetchCredential(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeExternal))
}

func TestAgentServiceClient_IssueCredential(t *testing.T) {
	var got createSessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/realtime/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk-server", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"sess_1","model":"voice-model","client_secret":{"value":"ek_1","expires_at":1767225600}}`))
	}))
	defer srv.Close()

	issuer := NewAgentServiceClient(AgentServiceConfig{
		BaseURL: srv.URL + "/v1",
		APIKey:  "sk-server",
		Model:   "voice-model",
		Voice:   "verse",
	}, nil, nil)

	cred, err := issuer.IssueCredential(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, "ek_1", cred.ClientSecret.Value)
	assert.Equal(t, int64(1767225600), cred.ClientSecret.ExpiresAt.Unix())
	assert.Equal(t, "voice-model", cred.Model)
	assert.Equal(t, "user-1", got.User)
	assert.Equal(t, "verse", got.Voice)
}

func TestAgentServiceClient_Failures(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		_, err := NewAgentServiceClient(AgentServiceConfig{BaseURL: "http://unused"}, nil, nil).
			IssueCredential(context.Background(), "u")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
	})

	t.Run("upstream error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := NewAgentServiceClient(AgentServiceConfig{BaseURL: srv.URL, APIKey: "k"}, nil, nil).
			IssueCredential(context.Background(), "u")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeExternal))
		assert.Contains(t, err.Error(), "429")
	})
}
