package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

type memorySession struct {
	data      domain.SessionData
	expiresAt time.Time
}

// MemorySessionStore keeps sessions in process memory. Suitable for a
// single instance and for tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
		now:      time.Now,
	}
}

// Create stores data under a new session id.
func (s *MemorySessionStore) Create(ctx context.Context, data *domain.SessionData, ttl time.Duration) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = memorySession{data: *data, expiresAt: s.now().Add(ttl)}
	return id, nil
}

// Read retrieves an unexpired session.
func (s *MemorySessionStore) Read(ctx context.Context, id string) (*domain.SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !sess.expiresAt.After(s.now()) {
		delete(s.sessions, id)
		return nil, domain.ErrSessionNotFound
	}
	data := sess.data
	return &data, nil
}

// Write replaces an existing session and resets its expiry.
func (s *MemorySessionStore) Write(ctx context.Context, id string, data *domain.SessionData, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.expiresAt.After(s.now()) {
		delete(s.sessions, id)
		return domain.ErrSessionNotFound
	}
	s.sessions[id] = memorySession{data: *data, expiresAt: s.now().Add(ttl)}
	return nil
}

// Destroy deletes a session.
func (s *MemorySessionStore) Destroy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// DeleteExpired drops expired sessions and returns how many were removed.
func (s *MemorySessionStore) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	var n int64
	for id, sess := range s.sessions {
		if sess.expiresAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
