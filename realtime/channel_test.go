package realtime_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NoteFlow-AI/client_core/realtime"
	"github.com/NoteFlow-AI/client_core/pkg/testutil"
)

func staticToken(token string) realtime.TokenSource {
	return func(ctx context.Context) (string, error) { return token, nil }
}

func testConfig(url string) realtime.Config {
	cfg := realtime.DefaultConfig(url)
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	cfg.HeartbeatTimeout = time.Hour
	cfg.TimeoutCheckInterval = time.Hour
	cfg.HandshakeTimeout = time.Second
	return cfg
}

// stateRecorder collects state transitions in arrival order.
type stateRecorder struct {
	mu     sync.Mutex
	states []realtime.State
}

func (r *stateRecorder) record(s realtime.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []realtime.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.State, len(r.states))
	copy(out, r.states)
	return out
}

// =============================================================================
// Handshake
// =============================================================================

func TestChannel_HandshakeOrdering(t *testing.T) {
	server := testutil.NewWSServer(true, true)
	defer server.Close()

	rec := &stateRecorder{}
	opened := make(chan struct{}, 1)
	ch := realtime.New(testConfig(server.URL()), staticToken("tok"), realtime.Callbacks{
		OnOpen:        func() { opened <- struct{}{} },
		OnStateChange: rec.record,
	})
	defer ch.Disconnect()

	assert.Equal(t, realtime.Disconnected, ch.State())
	ch.Connect(context.Background())

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not open")
	}

	assert.Equal(t, realtime.Connected, ch.State())
	assert.Equal(t, 0, ch.ReconnectAttempts())
	assert.Equal(t,
		[]realtime.State{realtime.Connecting, realtime.Connected},
		rec.snapshot(),
		"exactly one notification per transition, in order")
}

func TestChannel_ConnectIsIdempotentWhileConnected(t *testing.T) {
	server := testutil.NewWSServer(true, true)
	defer server.Close()

	ch := realtime.New(testConfig(server.URL()), staticToken("tok"), realtime.Callbacks{})
	defer ch.Disconnect()

	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.State() == realtime.Connected },
		2*time.Second, 10*time.Millisecond)

	ch.Connect(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, server.Dials(), "Connect while connected must be a no-op")
}

func TestChannel_AuthRejection(t *testing.T) {
	server := testutil.NewWSServer(false, false)
	defer server.Close()

	closed := make(chan struct{}, 4)
	var mu sync.Mutex
	var codes []int
	cfg := testConfig(server.URL())
	cfg.ReconnectDelay = time.Hour // keep the first failure observable
	ch := realtime.New(cfg, staticToken("stale"), realtime.Callbacks{
		OnClose: func(code int, reason string) {
			mu.Lock()
			codes = append(codes, code)
			mu.Unlock()
			closed <- struct{}{}
		},
	})
	defer ch.Disconnect()

	ch.Connect(context.Background())

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not observe the close")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, codes)
	assert.Equal(t, 1008, codes[0], "server rejects auth with a policy violation close")
	assert.NotEqual(t, realtime.Connected, ch.State())
	assert.Equal(t, 1, ch.ReconnectAttempts(), "an auth rejection schedules a reconnect")
}

// =============================================================================
// Message I/O
// =============================================================================

func TestChannel_SendRequiresConnected(t *testing.T) {
	server := testutil.NewWSServer(true, true)
	defer server.Close()

	ch := realtime.New(testConfig(server.URL()), staticToken("tok"), realtime.Callbacks{})
	assert.False(t, ch.Send(map[string]string{"type": "note_update"}),
		"send while disconnected must report false")

	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.State() == realtime.Connected },
		2*time.Second, 10*time.Millisecond)

	assert.True(t, ch.Send(map[string]string{"type": "note_update", "id": "n1"}))

	require.Eventually(t, func() bool { return len(server.Frames()) == 1 },
		2*time.Second, 10*time.Millisecond)

	var frame map[string]string
	require.NoError(t, json.Unmarshal(server.Frames()[0], &frame))
	assert.Equal(t, "note_update", frame["type"])
	assert.Equal(t, "n1", frame["id"])

	ch.Disconnect()
	assert.False(t, ch.Send(map[string]string{"type": "note_update"}),
		"send after disconnect must report false")
}

func TestChannel_ForwardsApplicationMessages(t *testing.T) {
	server := testutil.NewWSServer(true, true)
	defer server.Close()

	var mu sync.Mutex
	var received []realtime.Envelope
	ch := realtime.New(testConfig(server.URL()), staticToken("tok"), realtime.Callbacks{
		OnMessage: func(env realtime.Envelope) {
			mu.Lock()
			received = append(received, env)
			mu.Unlock()
		},
	})
	defer ch.Disconnect()

	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.State() == realtime.Connected },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, server.Push(map[string]string{"type": "pong"}))
	require.NoError(t, server.Push(map[string]any{"type": "chat_token", "content": "Hel"}))
	require.NoError(t, server.Push(map[string]any{"type": "note_updated", "id": "n1"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "chat_token", received[0].Type, "forwarded in arrival order")
	assert.Equal(t, "note_updated", received[1].Type)
}

// =============================================================================
// Heartbeat
// =============================================================================

func TestChannel_HeartbeatTimeoutTriggersReconnect(t *testing.T) {
	server := testutil.NewWSServer(true, false) // never answers pings
	defer server.Close()

	cfg := testConfig(server.URL())
	cfg.HeartbeatInterval = 25 * time.Millisecond
	cfg.HeartbeatTimeout = 100 * time.Millisecond
	cfg.TimeoutCheckInterval = 20 * time.Millisecond
	cfg.ReconnectDelay = time.Hour // hold the reconnect so the count is stable

	closed := make(chan string, 1)
	ch := realtime.New(cfg, staticToken("tok"), realtime.Callbacks{
		OnClose: func(code int, reason string) {
			select {
			case closed <- reason:
			default:
			}
		},
	})
	defer ch.Disconnect()

	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.State() == realtime.Connected },
		2*time.Second, 10*time.Millisecond)

	select {
	case reason := <-closed:
		assert.Equal(t, "Heartbeat timeout", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat timeout never fired")
	}

	assert.Equal(t, 1, ch.ReconnectAttempts())
	assert.Equal(t, realtime.Disconnected, ch.State())
	assert.Equal(t, 1, ch.PendingTasks(), "only the reconnect timer should be armed")
}

func TestChannel_PongKeepsConnectionAlive(t *testing.T) {
	server := testutil.NewWSServer(true, true)
	defer server.Close()

	cfg := testConfig(server.URL())
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 120 * time.Millisecond
	cfg.TimeoutCheckInterval = 20 * time.Millisecond

	ch := realtime.New(cfg, staticToken("tok"), realtime.Callbacks{})
	defer ch.Disconnect()

	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.State() == realtime.Connected },
		2*time.Second, 10*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, realtime.Connected, ch.State(), "answered pings must keep the channel up")
	assert.Equal(t, 1, server.Dials())
}

// =============================================================================
// Reconnection
// =============================================================================

func TestChannel_ReconnectAfterAbnormalClose(t *testing.T) {
	server := testutil.NewWSServer(true, true)
	defer server.Close()

	ch := realtime.New(testConfig(server.URL()), staticToken("tok"), realtime.Callbacks{})
	defer ch.Disconnect()

	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.State() == realtime.Connected },
		2*time.Second, 10*time.Millisecond)

	server.CloseConns(4000, "going down")

	require.Eventually(t, func() bool {
		return ch.State() == realtime.Connected && server.Dials() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, ch.ReconnectAttempts(), "attempt count resets once connected")
}

func TestChannel_ReconnectExhaustionSettlesAtError(t *testing.T) {
	server := testutil.NewWSServer(true, true)
	defer server.Close()
	server.RefuseNext(100)

	cfg := testConfig(server.URL())
	cfg.MaxReconnectAttempts = 2
	cfg.ReconnectDelay = 10 * time.Millisecond

	ch := realtime.New(cfg, staticToken("tok"), realtime.Callbacks{})
	ch.Connect(context.Background())

	require.Eventually(t, func() bool { return ch.State() == realtime.Errored && ch.PendingTasks() == 0 },
		2*time.Second, 10*time.Millisecond)

	dials := server.Dials()
	assert.Equal(t, 3, dials, "initial dial plus two reconnects")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, dials, server.Dials(), "no further reconnect after exhaustion")
	assert.Equal(t, realtime.Errored, ch.State())
}

// =============================================================================
// Teardown
// =============================================================================

func TestChannel_DisconnectIsIntentional(t *testing.T) {
	server := testutil.NewWSServer(true, true)
	defer server.Close()

	ch := realtime.New(testConfig(server.URL()), staticToken("tok"), realtime.Callbacks{})
	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.State() == realtime.Connected },
		2*time.Second, 10*time.Millisecond)

	ch.Disconnect()

	assert.Equal(t, realtime.Disconnected, ch.State())
	assert.Equal(t, 0, ch.ReconnectAttempts())
	assert.Equal(t, 0, ch.PendingTasks(), "teardown must cancel every scheduled task")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, server.Dials(), "the trailing close event must not reconnect")
	assert.Equal(t, realtime.Disconnected, ch.State())
}

func TestChannel_StateListeners(t *testing.T) {
	server := testutil.NewWSServer(true, true)
	defer server.Close()

	ch := realtime.New(testConfig(server.URL()), staticToken("tok"), realtime.Callbacks{})
	defer ch.Disconnect()

	rec := &stateRecorder{}
	id := ch.AddStateListener(rec.record)

	ch.Connect(context.Background())
	require.Eventually(t, func() bool { return ch.State() == realtime.Connected },
		2*time.Second, 10*time.Millisecond)

	ch.RemoveStateListener(id)
	ch.Disconnect()

	// The listener saw the transitions up to Connected but not the
	// disconnect that followed its removal.
	assert.Equal(t, []realtime.State{realtime.Connecting, realtime.Connected}, rec.snapshot())
}
