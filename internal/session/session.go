// Package session keeps per-user conversation state and serialises work on it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"docchat/internal/chat"
	"docchat/internal/index"
	"docchat/internal/model"
)

var ErrSessionClosed = errors.New("session is closed")

// Releaser is storage a session owns and must free when it is rebound or torn down.
type Releaser interface {
	Release() error
}

// ReleaseFunc adapts a function to Releaser.
type ReleaseFunc func() error

func (f ReleaseFunc) Release() error { return f() }

type Session struct {
	Key string

	// lock admits one pipeline operation at a time; waiters queue on it.
	lock chan struct{}

	mu         sync.Mutex
	history    []model.ChatTurn
	nextSeq    int64
	idx        *index.Index
	owned      []Releaser
	state      chat.State
	lastActive time.Time
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(key string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		Key:        key,
		lock:       make(chan struct{}, 1),
		lastActive: time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Acquire waits for exclusive use of the session. The returned func must be called
// exactly once to let the next operation in.
func (s *Session) Acquire(ctx context.Context) (func(), error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrSessionClosed
	}
	if s.isClosed() {
		<-s.lock
		return nil, ErrSessionClosed
	}
	s.touch()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.touch()
			<-s.lock
		})
	}, nil
}

// Context is cancelled when the session is torn down.
func (s *Session) Context() context.Context {
	return s.ctx
}

// BindIndex replaces the session's corpus. History is cleared and storage owned
// by the previous corpus is released.
func (s *Session) BindIndex(idx *index.Index, owned ...Releaser) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.owned
	s.idx = idx
	s.owned = owned
	s.history = nil
	s.state = chat.StateIdle
	s.lastActive = time.Now()
	s.mu.Unlock()

	releaseAll(s.Key, old)
	return nil
}

// AppendSystemGreeting adds an assistant turn that is not an answer to anything.
func (s *Session) AppendSystemGreeting(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.appendLocked(model.ChatTurn{Role: model.RoleAssistant, Content: text, CreatedAt: time.Now()})
	return nil
}

// History returns a copy of the turns in order.
func (s *Session) History() []model.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChatTurn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) Index() *index.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx
}

// Commit appends a user turn and its answer together and returns them with Seq set.
func (s *Session) Commit(user, assistant model.ChatTurn) ([]model.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	user = s.appendLocked(user)
	assistant = s.appendLocked(assistant)
	return []model.ChatTurn{user, assistant}, nil
}

// Owned returns the storage currently owned by the session.
func (s *Session) Owned() []Releaser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Releaser, len(s.owned))
	copy(out, s.owned)
	return out
}

func (s *Session) SetState(st chat.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) State() chat.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) appendLocked(t model.ChatTurn) model.ChatTurn {
	s.nextSeq++
	t.Seq = s.nextSeq
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.history = append(s.history, t)
	s.lastActive = time.Now()
	return t
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// teardown cancels in-flight work, waits for it to give the lock back and frees storage.
func (s *Session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.lock <- struct{}{}

	s.mu.Lock()
	owned := s.owned
	s.owned = nil
	s.idx = nil
	s.history = nil
	s.mu.Unlock()

	releaseAll(s.Key, owned)
}

func releaseAll(key string, owned []Releaser) {
	for _, r := range owned {
		if r == nil {
			continue
		}
		if err := r.Release(); err != nil {
			log.Printf("session %s: %v", key, fmt.Errorf("release storage failed: %w", err))
		}
	}
}
