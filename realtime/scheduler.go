package realtime

import (
	"sync"
	"time"
)

// Task handle names owned by the channel.
const (
	taskPing           = "ping"
	taskHeartbeatCheck = "heartbeat-check"
	taskReconnect      = "reconnect"
)

// scheduler owns named timer handles. Re-scheduling a name replaces its
// timer; cancelAll is the single teardown routine, after which Pending
// reports zero and no callback can fire against a torn-down channel.
type scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newScheduler() *scheduler {
	return &scheduler{timers: make(map[string]*time.Timer)}
}

func (s *scheduler) schedule(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[name]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		// A replaced or cancelled handle must not run.
		current, ok := s.timers[name]
		if !ok || current != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		s.mu.Unlock()
		fn()
	})
	s.timers[name] = t
}

func (s *scheduler) cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

func (s *scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}

// Pending returns the number of armed handles.
func (s *scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
