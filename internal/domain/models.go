package domain

import "time"

// SessionStatus is the persisted lifecycle state of a live session.
// Transitions are one-directional: waiting -> in_progress -> completed.
type SessionStatus string

const (
	StatusWaiting    SessionStatus = "waiting"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// LiveSession is one scheduled or ad-hoc live run of a quiz.
//
// Exactly one of JoinCode/PrivateJoinCode is non-nil, determined by IsPrivate
// at creation and immutable afterwards. ScheduledStart/ScheduledEnd are either
// both set or both nil (enforced at creation, not re-validated downstream).
type LiveSession struct {
	ID              string
	QuizID          string
	HostID          string
	Status          SessionStatus
	ScheduledStart  *time.Time
	ScheduledEnd    *time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	IsPrivate       bool
	JoinCode        *string
	PrivateJoinCode *string
	CreatedAt       time.Time
}

// WaitlistEntry records a student's durable intent to join a public session.
// At most one entry per (SessionID, StudentID) pair.
type WaitlistEntry struct {
	SessionID string
	StudentID string
	JoinedAt  time.Time
}

// PrivateParticipant records a student admitted to a code-gated session.
// Created at most once, the first time the student redeems the code.
type PrivateParticipant struct {
	SessionID string
	StudentID string
	JoinedAt  time.Time
}

// User identifies an authenticated student or host.
type User struct {
	ID          string
	DisplayName string
}

// PresenceMember is the ephemeral "currently connected" payload announced on
// a lobby channel. Distinct from waitlist membership, which is durable.
type PresenceMember struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Phase is the computed, effective lifecycle state of a session at an
// instant, as opposed to its persisted Status field.
type Phase int

const (
	// PhaseScheduled: waiting, more than the starting-soon window away.
	PhaseScheduled Phase = iota
	// PhaseStartingSoon: waiting, scheduled start within the window.
	PhaseStartingSoon
	// PhaseLive: in progress, or the scheduled start has passed.
	PhaseLive
	// PhaseEnded: completed, or expired without ever starting.
	PhaseEnded
	// PhaseWaitingNoSchedule: waiting with no schedule; host must start manually.
	PhaseWaitingNoSchedule
)

func (p Phase) String() string {
	switch p {
	case PhaseScheduled:
		return "scheduled"
	case PhaseStartingSoon:
		return "starting_soon"
	case PhaseLive:
		return "live"
	case PhaseEnded:
		return "ended"
	case PhaseWaitingNoSchedule:
		return "waiting_no_schedule"
	default:
		return "unknown"
	}
}

// Joinable reports whether a student may still enter the session in this phase.
func (p Phase) Joinable() bool {
	return p != PhaseEnded
}

// Participant represents a quiz participant and their accumulated score
// during a live run.
type Participant struct {
	UserID      string
	DisplayName string
	Score       int
	LastUpdated time.Time
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard for a live session.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// AnswerSubmission models the scoring signal from clients. Answer carries the
// raw student input (option id, option letter, or free text) and is matched
// via NormalizeAnswer.
type AnswerSubmission struct {
	QuestionID string
	Answer     string
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Points  int      `json:"points"` // defaults to 1 if zero
}

// Quiz is a collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}
