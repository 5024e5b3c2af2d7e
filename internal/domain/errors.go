package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a live session does not exist.
	ErrSessionNotFound = errors.New("live session not found")
	// ErrInvalidCode is returned when a private join code matches no active
	// session. Deliberately covers both "wrong code" and "session ended" so
	// callers cannot probe which codes once existed.
	ErrInvalidCode = errors.New("invalid or expired code")
	// ErrDuplicateMembership signals a membership insert that raced with
	// itself. Callers treat it as success; it never reaches a user.
	ErrDuplicateMembership = errors.New("membership already exists")
	// ErrStoreUnavailable wraps transient store failures; caller may retry.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrNotHost is returned when a non-host invokes a host-only action.
	ErrNotHost = errors.New("only the host may perform this action")
	// ErrSessionNotWaiting is returned when a start or delete is attempted
	// after the session already left the waiting state.
	ErrSessionNotWaiting = errors.New("session is no longer waiting")
	// ErrSessionEnded is returned when a student tries to join an ended session.
	ErrSessionEnded = errors.New("session has ended")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrParticipantNotFound is returned when a user scores before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
)
