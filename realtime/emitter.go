package realtime

import "sync"

// Callbacks are the single per-event callbacks of a channel. All of them are
// optional and are dispatched synchronously in arrival order; they must not
// call back into the channel.
type Callbacks struct {
	OnOpen        func()
	OnMessage     func(Envelope)
	OnError       func(error)
	OnClose       func(code int, reason string)
	OnStateChange func(State)
}

// emitter fans events out to the single callbacks plus the registered
// state and message listeners.
type emitter struct {
	mu           sync.RWMutex
	cb           Callbacks
	listeners    map[int]func(State)
	msgListeners map[int]func(Envelope)
	nextID       int
}

func newEmitter(cb Callbacks) *emitter {
	return &emitter{
		cb:           cb,
		listeners:    make(map[int]func(State)),
		msgListeners: make(map[int]func(Envelope)),
	}
}

func (e *emitter) addStateListener(fn func(State)) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners[e.nextID] = fn
	return e.nextID
}

func (e *emitter) removeStateListener(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, id)
}

func (e *emitter) addMessageListener(fn func(Envelope)) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.msgListeners[e.nextID] = fn
	return e.nextID
}

func (e *emitter) removeMessageListener(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.msgListeners, id)
}

func (e *emitter) emitOpen() {
	if e.cb.OnOpen != nil {
		e.cb.OnOpen()
	}
}

func (e *emitter) emitMessage(env Envelope) {
	if e.cb.OnMessage != nil {
		e.cb.OnMessage(env)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.msgListeners {
		fn(env)
	}
}

func (e *emitter) emitError(err error) {
	if e.cb.OnError != nil {
		e.cb.OnError(err)
	}
}

func (e *emitter) emitClose(code int, reason string) {
	if e.cb.OnClose != nil {
		e.cb.OnClose(code, reason)
	}
}

func (e *emitter) emitState(s State) {
	if e.cb.OnStateChange != nil {
		e.cb.OnStateChange(s)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.listeners {
		fn(s)
	}
}
