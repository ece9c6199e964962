package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoteFlow-AI/client_core/api"
	"github.com/NoteFlow-AI/client_core/pkg/testutil"
	"github.com/NoteFlow-AI/client_core/realtime"
	"github.com/NoteFlow-AI/client_core/transport"
)

func TestChat_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "c1", body["conversation_id"])
		assert.Equal(t, "hello", body["content"])

		json.NewEncoder(w).Encode(api.ChatMessage{
			ID:             "m1",
			ConversationID: "c1",
			Role:           "user",
			Content:        body["content"],
		})
	}))
	defer server.Close()

	svc := api.NewChatService(newExecutor(t), nil, server.URL, time.Second)
	msg, err := svc.Send(context.Background(), "c1", "hello")

	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "user", msg.Role)
}

func TestChat_SendIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	svc := api.NewChatService(newExecutor(t), nil, server.URL, time.Second)
	_, err := svc.Send(context.Background(), "c1", "hello")

	var apiErr *transport.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a failed chat send must not be resubmitted")
}

func TestChat_Subscribe(t *testing.T) {
	ws := testutil.NewWSServer(true, true)
	defer ws.Close()

	cfg := realtime.DefaultConfig(ws.URL())
	cfg.HandshakeTimeout = time.Second
	channel := realtime.New(cfg, func(ctx context.Context) (string, error) {
		return "tok", nil
	}, realtime.Callbacks{})
	defer channel.Disconnect()

	svc := api.NewChatService(newExecutor(t), channel, "http://unused", time.Second)

	var mu sync.Mutex
	var got []realtime.Envelope
	unsubscribe := svc.Subscribe(func(env realtime.Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	})

	channel.Connect(context.Background())
	require.Eventually(t, func() bool { return channel.State() == realtime.Connected },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Push(map[string]string{"type": "note_updated", "id": "n1"}))
	require.NoError(t, ws.Push(map[string]string{"type": "chat_token", "content": "He"}))
	require.NoError(t, ws.Push(map[string]string{"type": "chat_complete"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "chat_token", got[0].Type, "non-chat envelopes are filtered out")
	assert.Equal(t, "chat_complete", got[1].Type)
	mu.Unlock()

	unsubscribe()
	require.NoError(t, ws.Push(map[string]string{"type": "chat_token", "content": "llo"}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	assert.Len(t, got, 2, "no delivery after unsubscribe")
	mu.Unlock()
}

func TestIsChatEnvelope(t *testing.T) {
	assert.True(t, api.IsChatEnvelope(realtime.Envelope{Type: "chat_token"}))
	assert.True(t, api.IsChatEnvelope(realtime.Envelope{Type: "chat_complete"}))
	assert.False(t, api.IsChatEnvelope(realtime.Envelope{Type: "note_updated"}))
	assert.False(t, api.IsChatEnvelope(realtime.Envelope{Type: ""}))
}
