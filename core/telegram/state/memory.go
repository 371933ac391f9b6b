package state

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	now      func() time.Time
}

// NewMemoryStore constructs a process-local Store. Sessions do not survive restarts.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[int64]*Session),
		now:      time.Now,
	}
}

// Get returns a copy of the stored session so callers never share mutable state.
func (m *memoryStore) Get(_ context.Context, userID int64) (*Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[userID]
	if !ok {
		return nil, false, nil
	}
	return sess.Clone(), true, nil
}

func (m *memoryStore) Put(_ context.Context, sess *Session) error {
	if sess == nil {
		return ErrNilSession
	}
	cp := sess.Clone()
	cp.UpdatedAt = m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[cp.UserID] = cp
	return nil
}

func (m *memoryStore) Remove(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}
