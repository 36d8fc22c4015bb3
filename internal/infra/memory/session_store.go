package memory

import (
	"context"
	"sync"
	"time"

	"study-session-engine/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.StudySession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.StudySession),
	}
}

func (s *SessionStore) Create(_ context.Context, session domain.StudySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (domain.StudySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.StudySession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

// Update applies fn to a copy and stores it only when fn succeeds.
func (s *SessionStore) Update(_ context.Context, id string, fn func(*domain.StudySession) error) (domain.StudySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.StudySession{}, domain.ErrSessionNotFound
	}
	if err := fn(&session); err != nil {
		return domain.StudySession{}, err
	}
	s.sessions[id] = session
	return session, nil
}

func (s *SessionStore) CountStartedSince(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, session := range s.sessions {
		if session.UserID == userID && !session.StartedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) CountCompleted(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, session := range s.sessions {
		if session.UserID == userID && session.IsCompleted {
			n++
		}
	}
	return n, nil
}
