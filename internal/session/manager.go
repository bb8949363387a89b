package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the live session for key, creating it when absent.
// An empty key gets a fresh random key.
func (m *Manager) GetOrCreate(key string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == "" {
		key = uuid.NewString()
	}
	if s, ok := m.sessions[key]; ok {
		return s, false
	}
	s := newSession(key)
	m.sessions[key] = s
	return s, true
}

func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Teardown removes the session and releases everything it owns. It blocks until
// any operation running on the session has returned.
func (m *Manager) Teardown(key string) bool {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.teardown()
	return true
}

// DiscardUnbound removes the session for key when no operation holds it and no
// index is bound. It reports whether the session was removed.
func (m *Manager) DiscardUnbound(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return false
	}
	select {
	case s.lock <- struct{}{}:
	default:
		return false
	}

	s.mu.Lock()
	if s.idx != nil || s.closed {
		s.mu.Unlock()
		<-s.lock
		return false
	}
	s.closed = true
	owned := s.owned
	s.owned = nil
	s.history = nil
	s.mu.Unlock()

	// The lock stays held so queued callers see the cancelled context.
	s.cancel()
	delete(m.sessions, key)
	releaseAll(s.Key, owned)
	return true
}

// SweepIdle tears down sessions idle for longer than maxIdle and returns how many it removed.
func (m *Manager) SweepIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var stale []*Session
	for key, s := range m.sessions {
		if s.LastActive().Before(cutoff) && len(s.lock) == 0 {
			stale = append(stale, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.teardown()
	}
	return len(stale)
}

func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.teardown()
	}
}
