package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoteFlow-AI/client_core/auth"
	"github.com/NoteFlow-AI/client_core/client"
	"github.com/NoteFlow-AI/client_core/transport"
)

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := client.New(client.Options{})
	assert.Error(t, err)
}

func TestNew_WiresServices(t *testing.T) {
	c, err := client.New(client.Options{BaseURL: "https://api.example.test"})
	require.NoError(t, err)

	assert.NotNil(t, c.Store)
	assert.NotNil(t, c.Auth)
	assert.NotNil(t, c.Executor)
	assert.NotNil(t, c.Realtime)
	assert.NotNil(t, c.Notes)
	assert.NotNil(t, c.Chat)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "health is unauthenticated")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	c, err := client.New(client.Options{BaseURL: server.URL})
	require.NoError(t, err)

	assert.NoError(t, c.Health(context.Background()))
}

func TestHealth_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := client.New(client.Options{BaseURL: server.URL})
	require.NoError(t, err)

	healthErr := c.Health(context.Background())
	var apiErr *transport.APIError
	require.ErrorAs(t, healthErr, &apiErr)
	assert.Equal(t, "server_error", apiErr.Code)
}

func TestConnect_RequiresCredentials(t *testing.T) {
	c, err := client.New(client.Options{BaseURL: "https://api.example.test"})
	require.NoError(t, err)

	assert.Error(t, c.Connect(context.Background()), "no stored tokens means no connect")

	require.NoError(t, c.Store.SaveTokens("", "refresh-token"))
	assert.NoError(t, c.Connect(context.Background()),
		"a refresh token alone is enough, the handshake refreshes first")
	c.Close()
}

func TestNew_UsesProvidedStore(t *testing.T) {
	store := auth.NewMemoryTokenStore()
	require.NoError(t, store.SaveTokens("preexisting", "refresh"))

	c, err := client.New(client.Options{BaseURL: "https://api.example.test", Store: store})
	require.NoError(t, err)

	access, _ := c.Store.AccessToken()
	assert.Equal(t, "preexisting", access)
}
