// Package testutil provides fake servers and stores shared by the client
// core tests.
package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// =============================================================================
// Refresh Endpoint
// =============================================================================

// RefreshServer fakes the token refresh endpoint and counts calls.
type RefreshServer struct {
	Server *httptest.Server

	mu      sync.Mutex
	access  string
	refresh string
	status  int
	calls   int32
}

// NewRefreshServer creates a refresh endpoint that returns the given token
// pair with status 200.
func NewRefreshServer(access, refresh string) *RefreshServer {
	rs := &RefreshServer{access: access, refresh: refresh, status: http.StatusOK}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.handle))
	return rs
}

func (rs *RefreshServer) handle(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&rs.calls, 1)

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rs.mu.Lock()
	status, access, refresh := rs.status, rs.access, rs.refresh
	rs.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

// Calls returns how many refresh calls the server has received.
func (rs *RefreshServer) Calls() int { return int(atomic.LoadInt32(&rs.calls)) }

// SetStatus makes subsequent refresh calls answer with the given status.
func (rs *RefreshServer) SetStatus(status int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.status = status
}

// SetTokens changes the pair returned by subsequent refresh calls.
func (rs *RefreshServer) SetTokens(access, refresh string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.access = access
	rs.refresh = refresh
}

// URL returns the endpoint URL.
func (rs *RefreshServer) URL() string { return rs.Server.URL }

// Close shuts the server down.
func (rs *RefreshServer) Close() { rs.Server.Close() }

// =============================================================================
// Realtime Endpoint
// =============================================================================

// WSServer fakes the realtime endpoint: it expects the in-band auth frame
// first and speaks the ping/pong heartbeat protocol.
type WSServer struct {
	Server *httptest.Server

	// AcceptAuth answers the auth frame with auth_success when true and
	// closes the connection otherwise.
	AcceptAuth bool
	// RespondPong answers ping frames with pong when true.
	RespondPong bool

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	refuse int32
	dials  int32
	frames [][]byte
}

// NewWSServer creates a realtime fake.
func NewWSServer(acceptAuth, respondPong bool) *WSServer {
	ws := &WSServer{AcceptAuth: acceptAuth, RespondPong: respondPong}
	ws.Server = httptest.NewServer(http.HandlerFunc(ws.handle))
	return ws
}

func (ws *WSServer) handle(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&ws.dials, 1)

	if atomic.LoadInt32(&ws.refuse) > 0 {
		atomic.AddInt32(&ws.refuse, -1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ws.mu.Lock()
	ws.conns = append(ws.conns, conn)
	ws.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		frameType, _ := frame["type"].(string)

		switch frameType {
		case "auth":
			if ws.AcceptAuth {
				ws.write(conn, []byte(`{"type":"auth_success"}`))
			} else {
				conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "auth failed"),
					deadline(),
				)
				conn.Close()
				return
			}
		case "ping":
			if ws.RespondPong {
				ws.write(conn, []byte(`{"type":"pong"}`))
			}
		default:
			ws.mu.Lock()
			ws.frames = append(ws.frames, raw)
			ws.mu.Unlock()
		}
	}
}

func (ws *WSServer) write(conn *websocket.Conn, frame []byte) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	conn.WriteMessage(websocket.TextMessage, frame)
}

// URL returns the ws:// endpoint.
func (ws *WSServer) URL() string {
	return "ws" + strings.TrimPrefix(ws.Server.URL, "http")
}

// Dials returns how many connection attempts the server has seen.
func (ws *WSServer) Dials() int { return int(atomic.LoadInt32(&ws.dials)) }

// RefuseNext makes the next n connection attempts fail before the upgrade.
func (ws *WSServer) RefuseNext(n int) { atomic.StoreInt32(&ws.refuse, int32(n)) }

// Push sends a frame to the most recent connection.
func (ws *WSServer) Push(v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if len(ws.conns) == 0 {
		return errors.New("no active connection")
	}
	return ws.conns[len(ws.conns)-1].WriteMessage(websocket.TextMessage, frame)
}

// Frames returns the application frames received so far.
func (ws *WSServer) Frames() [][]byte {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([][]byte, len(ws.frames))
	copy(out, ws.frames)
	return out
}

// CloseConns closes every active connection with the given code and reason.
func (ws *WSServer) CloseConns(code int, reason string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, conn := range ws.conns {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline())
		conn.Close()
	}
	ws.conns = nil
}

// Close shuts the server down.
func (ws *WSServer) Close() {
	ws.CloseConns(websocket.CloseGoingAway, "server shutdown")
	ws.Server.Close()
}

// =============================================================================
// Failing Token Store
// =============================================================================

// FailingTokenStore errors on every operation; it exercises store error
// paths.
type FailingTokenStore struct{ Err error }

func (s FailingTokenStore) AccessToken() (string, error)  { return "", s.Err }
func (s FailingTokenStore) RefreshToken() (string, error) { return "", s.Err }
func (s FailingTokenStore) SaveTokens(_, _ string) error  { return s.Err }
func (s FailingTokenStore) ClearTokens() error            { return s.Err }

func deadline() time.Time { return time.Now().Add(time.Second) }
