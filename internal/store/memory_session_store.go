package store

import (
	"context"
	"sync"
	"time"

	"github.com/transfa/ussd-service/internal/domain"
)

// MemorySessionStore keeps sessions in process memory. Used by tests and local runs.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	timeout  time.Duration
	now      func() time.Time
}

func NewMemorySessionStore(timeout time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*domain.Session),
		timeout:  timeout,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for activity stamps and expiry checks.
func (s *MemorySessionStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemorySessionStore) Start(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, existing := range s.sessions {
		if existing.PhoneNumber == session.PhoneNumber && existing.Active {
			existing.Active = false
			existing.Version++
		}
	}
	session.Active = true
	session.Version = 1
	session.CreatedAt = now
	session.LastActivity = now
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

func (s *MemorySessionStore) Load(ctx context.Context, sessionID, phone string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if stored, ok := s.sessions[sessionID]; ok {
		if stored.Active && !stored.ExpiredAt(now, s.timeout) {
			return stored.Clone(), nil
		}
		return nil, ErrSessionNotFound
	}
	if phone == "" {
		return nil, ErrSessionNotFound
	}
	for _, stored := range s.sessions {
		if stored.PhoneNumber == phone && stored.Active && !stored.ExpiredAt(now, s.timeout) {
			return stored.Clone(), nil
		}
	}
	return nil, ErrSessionNotFound
}

func (s *MemorySessionStore) Upsert(ctx context.Context, session *domain.Session) error {
	return s.write(session, true)
}

func (s *MemorySessionStore) Close(ctx context.Context, session *domain.Session) error {
	return s.write(session, false)
}

func (s *MemorySessionStore) write(session *domain.Session, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[session.SessionID]
	if !ok || !stored.Active || stored.Version != session.Version {
		return ErrSessionConflict
	}
	session.Version++
	session.Active = active
	session.LastActivity = s.now()
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

func (s *MemorySessionStore) Deactivate(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.sessions[sessionID]; ok && stored.Active {
		stored.Active = false
		stored.Version++
	}
	return nil
}

func (s *MemorySessionStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept int64
	for _, stored := range s.sessions {
		if stored.Active && stored.ExpiredAt(now, s.timeout) {
			stored.Active = false
			stored.Version++
			swept++
		}
	}
	return swept, nil
}

// Get returns the stored record regardless of state. Intended for tests.
func (s *MemorySessionStore) Get(sessionID string) (*domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sessionID]
	return stored.Clone(), ok
}
