package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/NoteFlow-AI/client_core/realtime"
	"github.com/NoteFlow-AI/client_core/transport"
)

// ChatMessage is the wire representation of a chat message.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatService sends chat messages over HTTP and receives assistant events
// over the realtime channel.
type ChatService struct {
	exec    *transport.Executor
	channel *realtime.Channel
	baseURL string
	timeout time.Duration
}

// NewChatService creates a chat service. channel may be nil when realtime
// delivery is not wired.
func NewChatService(exec *transport.Executor, channel *realtime.Channel, baseURL string, timeout time.Duration) *ChatService {
	return &ChatService{exec: exec, channel: channel, baseURL: baseURL, timeout: timeout}
}

// Send posts a user message. Assistant replies arrive as chat_* envelopes
// on the realtime channel; there is no retry, resubmitting a chat message
// duplicates it.
func (s *ChatService) Send(ctx context.Context, conversationID, content string) (*ChatMessage, error) {
	resp, err := s.exec.Execute(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    s.baseURL + "/api/chat/messages",
		Body: map[string]string{
			"conversation_id": conversationID,
			"content":         content,
		},
		Timeout:     s.timeout,
		IncludeAuth: true,
	})
	if err != nil {
		return nil, transport.Normalize(err)
	}

	var msg ChatMessage
	if err := resp.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Subscribe registers fn for chat envelopes on the realtime channel and
// returns an unsubscribe function. It is a no-op when no channel is wired.
func (s *ChatService) Subscribe(fn func(realtime.Envelope)) func() {
	if s.channel == nil {
		return func() {}
	}
	id := s.channel.AddMessageListener(func(env realtime.Envelope) {
		if IsChatEnvelope(env) {
			fn(env)
		}
	})
	return func() { s.channel.RemoveMessageListener(id) }
}

// IsChatEnvelope reports whether a realtime envelope carries a chat event.
func IsChatEnvelope(env realtime.Envelope) bool {
	return strings.HasPrefix(env.Type, "chat_")
}
