package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"livequiz-service/internal/domain"
)

// SessionStore is the pgx-backed implementation of app.SessionStore.
//
// Idempotent membership inserts lean on ON CONFLICT DO NOTHING: a zero
// rows-affected insert means the row already existed and is reported as
// domain.ErrDuplicateMembership for the caller to recover. All other
// failures are wrapped in domain.ErrStoreUnavailable.
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionColumns = `id, quiz_id, host_id, status, scheduled_start, scheduled_end,
	started_at, ended_at, is_private, join_code, private_join_code, created_at`

func (s *SessionStore) GetSession(ctx context.Context, id string) (domain.LiveSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id=$1`, id)
	return scanSession(row)
}

func (s *SessionStore) FindByPrivateCode(ctx context.Context, code string) (domain.LiveSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions
		WHERE private_join_code=$1 AND is_private AND status IN ('waiting','in_progress')`, code)
	return scanSession(row)
}

func (s *SessionStore) ListActive(ctx context.Context) ([]domain.LiveSession, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM live_sessions
		WHERE status IN ('waiting','in_progress') ORDER BY created_at`)
	if err != nil {
		return nil, storeErr("list active sessions", err)
	}
	defer rows.Close()

	var out []domain.LiveSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list active sessions", err)
	}
	return out, nil
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.LiveSession) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO live_sessions
		(id, quiz_id, host_id, status, scheduled_start, scheduled_end, is_private, join_code, private_join_code, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		session.ID, session.QuizID, session.HostID, string(session.Status),
		session.ScheduledStart, session.ScheduledEnd,
		session.IsPrivate, session.JoinCode, session.PrivateJoinCode, session.CreatedAt)
	if err != nil {
		return storeErr("create session", err)
	}
	return nil
}

// UpdateStatus is the monotonic transition write: the from-status predicate
// makes a lost race a detectable no-op instead of a backwards move.
func (s *SessionStore) UpdateStatus(ctx context.Context, id string, from, to domain.SessionStatus, at time.Time) error {
	var tag string
	switch to {
	case domain.StatusInProgress:
		tag = "started_at"
	case domain.StatusCompleted:
		tag = "ended_at"
	default:
		return fmt.Errorf("unsupported transition to %s", to)
	}

	cmd, err := s.pool.Exec(ctx,
		`UPDATE live_sessions SET status=$1, `+tag+`=$2 WHERE id=$3 AND status=$4`,
		string(to), at, id, string(from))
	if err != nil {
		return storeErr("update session status", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrSessionNotWaiting
	}
	return nil
}

// DeleteSession removes a session only while it is still waiting. The status
// predicate closes the window between the caller's read and the delete in
// which a concurrent start would otherwise let an in-progress session vanish.
func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM live_sessions WHERE id=$1 AND status='waiting'`, id)
	if err != nil {
		return storeErr("delete session", err)
	}
	if cmd.RowsAffected() == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
		return domain.ErrSessionNotWaiting
	}
	return nil
}

func (s *SessionStore) InsertWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) error {
	cmd, err := s.pool.Exec(ctx, `INSERT INTO waitlist_entries (session_id, student_id, joined_at)
		VALUES ($1,$2,$3) ON CONFLICT (session_id, student_id) DO NOTHING`,
		e.SessionID, e.StudentID, e.JoinedAt)
	if err != nil {
		return storeErr("insert waitlist entry", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrDuplicateMembership
	}
	return nil
}

func (s *SessionStore) DeleteWaitlistEntry(ctx context.Context, sessionID, studentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM waitlist_entries WHERE session_id=$1 AND student_id=$2`,
		sessionID, studentID)
	if err != nil {
		return storeErr("delete waitlist entry", err)
	}
	return nil
}

func (s *SessionStore) ListWaitlist(ctx context.Context, sessionID string) ([]domain.WaitlistEntry, error) {
	return s.queryWaitlist(ctx, `SELECT session_id, student_id, joined_at FROM waitlist_entries
		WHERE session_id=$1 ORDER BY joined_at`, sessionID)
}

func (s *SessionStore) ListWaitlistForStudent(ctx context.Context, studentID string) ([]domain.WaitlistEntry, error) {
	return s.queryWaitlist(ctx, `SELECT session_id, student_id, joined_at FROM waitlist_entries
		WHERE student_id=$1 ORDER BY joined_at`, studentID)
}

func (s *SessionStore) queryWaitlist(ctx context.Context, sql, arg string) ([]domain.WaitlistEntry, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, storeErr("list waitlist", err)
	}
	defer rows.Close()

	var out []domain.WaitlistEntry
	for rows.Next() {
		var e domain.WaitlistEntry
		if err := rows.Scan(&e.SessionID, &e.StudentID, &e.JoinedAt); err != nil {
			return nil, storeErr("scan waitlist entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list waitlist", err)
	}
	return out, nil
}

func (s *SessionStore) InsertPrivateParticipant(ctx context.Context, p domain.PrivateParticipant) error {
	cmd, err := s.pool.Exec(ctx, `INSERT INTO private_participants (session_id, student_id, joined_at)
		VALUES ($1,$2,$3) ON CONFLICT (session_id, student_id) DO NOTHING`,
		p.SessionID, p.StudentID, p.JoinedAt)
	if err != nil {
		return storeErr("insert private participant", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrDuplicateMembership
	}
	return nil
}

func (s *SessionStore) ListPrivateParticipants(ctx context.Context, sessionID string) ([]domain.PrivateParticipant, error) {
	return s.queryPrivate(ctx, `SELECT session_id, student_id, joined_at FROM private_participants
		WHERE session_id=$1 ORDER BY joined_at`, sessionID)
}

func (s *SessionStore) ListPrivateForStudent(ctx context.Context, studentID string) ([]domain.PrivateParticipant, error) {
	return s.queryPrivate(ctx, `SELECT session_id, student_id, joined_at FROM private_participants
		WHERE student_id=$1 ORDER BY joined_at`, studentID)
}

func (s *SessionStore) queryPrivate(ctx context.Context, sql, arg string) ([]domain.PrivateParticipant, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, storeErr("list private participants", err)
	}
	defer rows.Close()

	var out []domain.PrivateParticipant
	for rows.Next() {
		var p domain.PrivateParticipant
		if err := rows.Scan(&p.SessionID, &p.StudentID, &p.JoinedAt); err != nil {
			return nil, storeErr("scan private participant", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list private participants", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (domain.LiveSession, error) {
	var s domain.LiveSession
	var status string
	err := row.Scan(&s.ID, &s.QuizID, &s.HostID, &status, &s.ScheduledStart, &s.ScheduledEnd,
		&s.StartedAt, &s.EndedAt, &s.IsPrivate, &s.JoinCode, &s.PrivateJoinCode, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LiveSession{}, domain.ErrSessionNotFound
		}
		return domain.LiveSession{}, storeErr("scan session", err)
	}
	s.Status = domain.SessionStatus(status)
	return s, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}
