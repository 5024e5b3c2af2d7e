package app

import (
	"context"
	"time"

	"livequiz-service/internal/domain"
)

// SessionStore is the durable boundary for live sessions and their
// membership rows (postgres in production, in-memory for tests/dev).
//
// Membership inserts are idempotent at the store level: a duplicate
// (sessionID, studentID) insert returns domain.ErrDuplicateMembership, which
// callers recover as success. Any other failure is wrapped in
// domain.ErrStoreUnavailable.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (domain.LiveSession, error)
	// FindByPrivateCode resolves a normalized private join code against
	// sessions with isPrivate=true and status in {waiting, in_progress}.
	// Returns domain.ErrSessionNotFound when nothing matches.
	FindByPrivateCode(ctx context.Context, code string) (domain.LiveSession, error)
	// ListActive returns sessions with status in {waiting, in_progress}.
	ListActive(ctx context.Context) ([]domain.LiveSession, error)
	CreateSession(ctx context.Context, s domain.LiveSession) error
	// UpdateStatus transitions a session from one status to the next and
	// stamps startedAt or endedAt. The from-status guard makes the write a
	// no-op (domain.ErrSessionNotWaiting for starts) when another writer got
	// there first, which is what keeps status monotonic without locks.
	UpdateStatus(ctx context.Context, id string, from, to domain.SessionStatus, at time.Time) error
	DeleteSession(ctx context.Context, id string) error

	InsertWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) error
	DeleteWaitlistEntry(ctx context.Context, sessionID, studentID string) error
	ListWaitlist(ctx context.Context, sessionID string) ([]domain.WaitlistEntry, error)
	ListWaitlistForStudent(ctx context.Context, studentID string) ([]domain.WaitlistEntry, error)

	InsertPrivateParticipant(ctx context.Context, p domain.PrivateParticipant) error
	ListPrivateParticipants(ctx context.Context, sessionID string) ([]domain.PrivateParticipant, error)
	ListPrivateForStudent(ctx context.Context, studentID string) ([]domain.PrivateParticipant, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}
