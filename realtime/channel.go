// Package realtime implements the persistent server channel of the client
// core: a WebSocket connection with an in-band auth handshake, heartbeat
// liveness detection, and backoff-driven reconnection.
//
// Connection-level failures are never returned as errors to the caller;
// they surface through the channel state and the registered callbacks.
package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/NoteFlow-AI/client_core/internal/logging"
	"github.com/NoteFlow-AI/client_core/internal/metrics"
)

// heartbeatTimeoutReason is the close reason used when the server stops
// answering pings. A close carrying it is classified as abnormal even with
// code 1000, so the channel reconnects.
const heartbeatTimeoutReason = "Heartbeat timeout"

// State is the connection state of a channel.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// TokenSource supplies the current access token for the auth handshake.
// It is consulted on every connect, so a reconnect after an external
// re-authentication picks up the new token.
type TokenSource func(ctx context.Context) (string, error)

// Config configures a channel.
type Config struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	TimeoutCheckInterval time.Duration
	HandshakeTimeout     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       2 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     60 * time.Second,
		TimeoutCheckInterval: 10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
	}
}

// Channel owns one persistent server connection.
type Channel struct {
	cfg     Config
	token   TokenSource
	dialer  *websocket.Dialer
	emitter *emitter
	sched   *scheduler
	logger  zerolog.Logger

	mu          sync.Mutex
	ctx         context.Context
	conn        *websocket.Conn
	gen         uint64 // connection generation; stale events are dropped
	attempts    int
	intentional bool

	writeMu  sync.Mutex
	state    atomic.Int32
	lastPong atomic.Int64 // unix nanos of the last received pong
}

// New creates a channel. Callbacks are fixed at construction; state
// listeners can be added and removed at any time.
func New(cfg Config, token TokenSource, cb Callbacks) *Channel {
	return &Channel{
		cfg:   cfg,
		token: token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		emitter: newEmitter(cb),
		sched:   newScheduler(),
		logger:  logging.New("realtime"),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// ReconnectAttempts returns the current reconnect attempt count.
func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// PendingTasks returns the number of armed timer handles. Zero after
// Disconnect.
func (c *Channel) PendingTasks() int {
	return c.sched.Pending()
}

// AddStateListener registers a state listener and returns its id.
func (c *Channel) AddStateListener(fn func(State)) int {
	return c.emitter.addStateListener(fn)
}

// RemoveStateListener removes a previously registered listener.
func (c *Channel) RemoveStateListener(id int) {
	c.emitter.removeStateListener(id)
}

// AddMessageListener registers a listener for forwarded application
// envelopes and returns its id.
func (c *Channel) AddMessageListener(fn func(Envelope)) int {
	return c.emitter.addMessageListener(fn)
}

// RemoveMessageListener removes a previously registered listener.
func (c *Channel) RemoveMessageListener(id int) {
	c.emitter.removeMessageListener(id)
}

// Connect opens the connection. It is a no-op while connected or already
// connecting. ctx bounds the lifetime of this connection and every
// reconnect it spawns.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if s := c.State(); s == Connected || s == Connecting {
		c.mu.Unlock()
		return
	}
	c.intentional = false
	c.ctx = ctx
	c.mu.Unlock()

	c.connect()
}

// connect dials the transport and starts the handshake. It runs both on the
// initial Connect and from the reconnect timer.
func (c *Channel) connect() {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.transportError(err)
		return
	}

	token, err := c.token(ctx)
	if err != nil {
		conn.Close()
		c.transportError(err)
		return
	}

	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	// First frame after transport open; the channel stays Connecting until
	// the server answers auth_success.
	if err := c.write(conn, authFrame(token)); err != nil {
		c.transportError(err)
		c.mu.Lock()
		if gen == c.gen {
			c.gen++
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
		return
	}

	go c.readLoop(conn, gen)
}

// transportError handles a transport-level failure outside the read loop.
func (c *Channel) transportError(err error) {
	c.logger.Warn().Err(err).Msg("transport error")
	c.emitter.emitError(err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intentional {
		return
	}
	c.setStateLocked(Errored)
	c.scheduleReconnectLocked()
}

func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeInfo(err)
			if code == -1 && !c.stale(gen) {
				c.emitter.emitError(err)
			}
			c.handleClose(gen, code, reason)
			return
		}

		env, perr := parseEnvelope(raw)
		if perr != nil {
			c.logger.Debug().Err(perr).Msg("dropping malformed frame")
			continue
		}

		switch env.Type {
		case typeAuthSuccess:
			c.handleAuthSuccess(gen)
		case typePong:
			c.lastPong.Store(time.Now().UnixNano())
		case typePing:
			if err := c.write(conn, pongFrame()); err != nil {
				c.emitter.emitError(err)
			}
		default:
			c.emitter.emitMessage(env)
		}
	}
}

func (c *Channel) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen
}

// handleAuthSuccess completes the handshake: Connecting → Connected.
func (c *Channel) handleAuthSuccess(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.intentional {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.attempts = 0
	c.lastPong.Store(time.Now().UnixNano())
	c.setStateLocked(Connected)
	c.startHeartbeatLocked(gen)
	c.mu.Unlock()

	c.logger.Info().Msg("channel connected")
	c.emitter.emitOpen()

	if err := c.write(conn, pingFrame()); err != nil {
		c.emitter.emitError(err)
	}
}

// startHeartbeatLocked arms the repeating ping and timeout-check tasks.
// Both re-arm themselves only while this connection is still current.
func (c *Channel) startHeartbeatLocked(gen uint64) {
	var pingTask func()
	pingTask = func() {
		c.mu.Lock()
		if gen != c.gen || c.State() != Connected {
			c.mu.Unlock()
			return
		}
		conn := c.conn
		c.sched.schedule(taskPing, c.cfg.HeartbeatInterval, pingTask)
		c.mu.Unlock()

		if err := c.write(conn, pingFrame()); err != nil {
			c.emitter.emitError(err)
		}
	}

	var checkTask func()
	checkTask = func() {
		c.mu.Lock()
		if gen != c.gen || c.State() != Connected {
			c.mu.Unlock()
			return
		}
		elapsed := time.Since(time.Unix(0, c.lastPong.Load()))
		if elapsed <= c.cfg.HeartbeatTimeout {
			c.sched.schedule(taskHeartbeatCheck, c.cfg.TimeoutCheckInterval, checkTask)
			c.mu.Unlock()
			return
		}
		if c.conn != nil {
			deadline := time.Now().Add(time.Second)
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, heartbeatTimeoutReason),
				deadline,
			)
		}
		// Claim the connection before the socket close wakes the read
		// loop, so its trailing error cannot report this close first.
		claimed := c.handleCloseLocked(gen, websocket.CloseNormalClosure, heartbeatTimeoutReason)
		c.mu.Unlock()
		if !claimed {
			return
		}

		c.logger.Warn().Dur("elapsed", elapsed).Msg("heartbeat timeout, closing connection")
		c.emitter.emitClose(websocket.CloseNormalClosure, heartbeatTimeoutReason)
	}

	c.sched.schedule(taskPing, c.cfg.HeartbeatInterval, pingTask)
	c.sched.schedule(taskHeartbeatCheck, c.cfg.TimeoutCheckInterval, checkTask)
}

// handleClose tears down the current connection and decides whether to
// reconnect. Duplicate close events for one connection collapse into one.
func (c *Channel) handleClose(gen uint64, code int, reason string) {
	c.mu.Lock()
	if !c.handleCloseLocked(gen, code, reason) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Info().Int("code", code).Str("reason", reason).Msg("channel closed")
	c.emitter.emitClose(code, reason)
}

// handleCloseLocked reports whether this event claimed the connection.
func (c *Channel) handleCloseLocked(gen uint64, code int, reason string) bool {
	if gen != c.gen {
		return false
	}
	c.gen++
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.sched.cancel(taskPing)
	c.sched.cancel(taskHeartbeatCheck)

	c.setStateLocked(Disconnected)
	if !c.intentional && shouldReconnect(code, reason) {
		c.scheduleReconnectLocked()
	}
	return true
}

// scheduleReconnectLocked arms the reconnect timer with linear backoff:
// ReconnectDelay * attemptCount. Exhaustion settles the channel at Errored.
func (c *Channel) scheduleReconnectLocked() {
	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.logger.Error().Int("attempts", c.attempts-1).Msg("reconnect attempts exhausted")
		c.setStateLocked(Errored)
		return
	}

	metrics.IncReconnect()
	delay := c.cfg.ReconnectDelay * time.Duration(c.attempts)
	c.logger.Info().Int("attempt", c.attempts).Dur("delay", delay).Msg("scheduling reconnect")
	c.sched.schedule(taskReconnect, delay, c.connect)
}

// Disconnect closes the channel intentionally: every scheduled task is
// cancelled, the transport is closed with a normal close frame, and the
// trailing close event from the transport does not trigger a reconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	c.gen++
	c.sched.cancelAll()
	conn := c.conn
	c.conn = nil
	c.attempts = 0
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		conn.Close()
	}
	c.logger.Info().Msg("channel disconnected")
}

// Send marshals v and writes it to the connection. It reports false and
// drops the message unless the channel is Connected; nothing is buffered.
func (c *Channel) Send(v any) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || c.State() != Connected {
		return false
	}

	frame, err := marshalFrame(v)
	if err != nil {
		c.emitter.emitError(err)
		return false
	}
	if err := c.write(conn, frame); err != nil {
		c.emitter.emitError(err)
		return false
	}
	return true
}

func (c *Channel) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Channel) setStateLocked(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	metrics.SetConnectionState(int(s))
	c.emitter.emitState(s)
}

// shouldReconnect classifies a close: code 1000 with an empty reason is the
// only intentional close; everything else (heartbeat timeouts included) is
// abnormal.
func shouldReconnect(code int, reason string) bool {
	return !(code == websocket.CloseNormalClosure && reason == "")
}

func closeInfo(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return -1, ""
}
