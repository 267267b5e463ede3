package meshclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://127.0.0.1:8801"})
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, client.config.Timeout)
	})

	t.Run("missing_server_url", func(t *testing.T) {
		client, err := NewClient(Config{})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "ServerURL is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "://invalid-url"})
		assert.Nil(t, client)
		assert.ErrorContains(t, err, "invalid ServerURL")
	})
}

func TestClient_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"self":"127.0.0.1:8701","leaf":["a","b"],"node":{"127.0.0.1:8702":"outbound"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL})
	require.NoError(t, err)

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8701", status.Self)
	assert.Equal(t, []string{"a", "b"}, status.Leaf)
	assert.Equal(t, map[string]string{"127.0.0.1:8702": "outbound"}, status.Node)
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "Service Unavailable", Message: "Mesh node is shut down", Code: 503})
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL})
	require.NoError(t, err)

	_, err = client.Health(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "Mesh node is shut down", apiErr.Message)
}

func TestClient_ConnectDisconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/nodes":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var req ConnectRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(ConnectResponse{Address: req.Address, Status: "connecting"})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/nodes/127.0.0.1:8702":
			_ = json.NewEncoder(w).Encode(ConnectResponse{Address: "127.0.0.1:8702", Status: "disconnected"})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("not found"))
		}
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL})
	require.NoError(t, err)

	resp, err := client.Connect(context.Background(), "127.0.0.1:8702")
	require.NoError(t, err)
	assert.Equal(t, "connecting", resp.Status)

	require.NoError(t, client.Disconnect(context.Background(), "127.0.0.1:8702"))

	err = client.Disconnect(context.Background(), "127.0.0.1:9999")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not found", apiErr.Message)
}
