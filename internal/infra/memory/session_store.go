package memory

import (
	"context"
	"sync"
	"time"

	"livequiz-service/internal/domain"
)

type membershipKey struct {
	sessionID string
	studentID string
}

// SessionStore is an in-memory implementation of app.SessionStore with the
// same duplicate-key semantics as the postgres one. Used by unit tests and
// the no-postgres dev mode.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.LiveSession
	waitlist map[membershipKey]domain.WaitlistEntry
	private  map[membershipKey]domain.PrivateParticipant
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.LiveSession),
		waitlist: make(map[membershipKey]domain.WaitlistEntry),
		private:  make(map[membershipKey]domain.PrivateParticipant),
	}
}

func (s *SessionStore) GetSession(_ context.Context, id string) (domain.LiveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.LiveSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) FindByPrivateCode(_ context.Context, code string) (domain.LiveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if !session.IsPrivate || session.PrivateJoinCode == nil {
			continue
		}
		if *session.PrivateJoinCode != code {
			continue
		}
		if session.Status == domain.StatusWaiting || session.Status == domain.StatusInProgress {
			return session, nil
		}
	}
	return domain.LiveSession{}, domain.ErrSessionNotFound
}

func (s *SessionStore) ListActive(_ context.Context) ([]domain.LiveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LiveSession
	for _, session := range s.sessions {
		if session.Status == domain.StatusWaiting || session.Status == domain.StatusInProgress {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.LiveSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) UpdateStatus(_ context.Context, id string, from, to domain.SessionStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.Status != from {
		return domain.ErrSessionNotWaiting
	}
	session.Status = to
	switch to {
	case domain.StatusInProgress:
		session.StartedAt = &at
	case domain.StatusCompleted:
		session.EndedAt = &at
	}
	s.sessions[id] = session
	return nil
}

func (s *SessionStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.Status != domain.StatusWaiting {
		return domain.ErrSessionNotWaiting
	}
	delete(s.sessions, id)
	for key := range s.waitlist {
		if key.sessionID == id {
			delete(s.waitlist, key)
		}
	}
	for key := range s.private {
		if key.sessionID == id {
			delete(s.private, key)
		}
	}
	return nil
}

func (s *SessionStore) InsertWaitlistEntry(_ context.Context, e domain.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey{e.SessionID, e.StudentID}
	if _, exists := s.waitlist[key]; exists {
		return domain.ErrDuplicateMembership
	}
	s.waitlist[key] = e
	return nil
}

func (s *SessionStore) DeleteWaitlistEntry(_ context.Context, sessionID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waitlist, membershipKey{sessionID, studentID})
	return nil
}

func (s *SessionStore) ListWaitlist(_ context.Context, sessionID string) ([]domain.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.WaitlistEntry
	for key, entry := range s.waitlist {
		if key.sessionID == sessionID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *SessionStore) ListWaitlistForStudent(_ context.Context, studentID string) ([]domain.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.WaitlistEntry
	for key, entry := range s.waitlist {
		if key.studentID == studentID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *SessionStore) InsertPrivateParticipant(_ context.Context, p domain.PrivateParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey{p.SessionID, p.StudentID}
	if _, exists := s.private[key]; exists {
		return domain.ErrDuplicateMembership
	}
	s.private[key] = p
	return nil
}

func (s *SessionStore) ListPrivateParticipants(_ context.Context, sessionID string) ([]domain.PrivateParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PrivateParticipant
	for key, p := range s.private {
		if key.sessionID == sessionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *SessionStore) ListPrivateForStudent(_ context.Context, studentID string) ([]domain.PrivateParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PrivateParticipant
	for key, p := range s.private {
		if key.studentID == studentID {
			out = append(out, p)
		}
	}
	return out, nil
}
