package session

import (
	"sync"
	"time"
)

// Registry maps driver ids to their live sessions. It is independent of the
// location store: a driver can be known by location while momentarily
// disconnected, and vice versa.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session), now: time.Now}
}

// Register binds the handle to the driver and returns the new session. Any
// existing session for the driver is invalidated and its connection closed.
func (r *Registry) Register(driverID string, h Handle) *Session {
	s := &Session{
		DriverID:    driverID,
		ConnectedAt: r.now(),
		handle:      h,
		invalidated: make(chan struct{}),
	}
	r.mu.Lock()
	prev := r.sessions[driverID]
	r.sessions[driverID] = s
	r.mu.Unlock()
	if prev != nil {
		prev.invalidate()
		_ = prev.handle.Close()
	}
	return s
}

// Unregister removes the session if it is still the driver's current one and
// reports whether it was. A stale unregister (the connection was already
// superseded) is a no-op.
func (r *Registry) Unregister(driverID string, s *Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[driverID]
	if !ok || cur != s {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, driverID)
	r.mu.Unlock()
	s.invalidate()
	return true
}

// Lookup returns the driver's current session or ErrNotConnected.
func (r *Registry) Lookup(driverID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotConnected
	}
	return s, nil
}

// Connected reports whether the driver has a live session.
func (r *Registry) Connected(driverID string) bool {
	r.mu.RLock()
	_, ok := r.sessions[driverID]
	r.mu.RUnlock()
	return ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
