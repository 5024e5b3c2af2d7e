package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"livequiz-service/internal/domain"
)

// JoinOutcome tells the caller where to take the student next.
type JoinOutcome int

const (
	// OutcomeLobby: membership is in place, go to the lobby view.
	OutcomeLobby JoinOutcome = iota
	// OutcomeEnterQuiz: the session is effectively live, go straight in.
	OutcomeEnterQuiz
	// OutcomePromptCode: private session, no membership yet; ask for the code.
	// Nothing was written to the store.
	OutcomePromptCode
)

func (o JoinOutcome) String() string {
	switch o {
	case OutcomeLobby:
		return "lobby"
	case OutcomeEnterQuiz:
		return "enter_quiz"
	case OutcomePromptCode:
		return "prompt_code"
	default:
		return "unknown"
	}
}

// JoinCoordinator mediates a student's transitions between unaffiliated,
// waitlisted/registered, and admitted. It branches on session privacy and
// membership, writes through SessionStore, and notifies an optional
// afterMutation hook so the owning controller can refresh its views.
type JoinCoordinator struct {
	store SessionStore
	now   func() time.Time

	// afterMutation runs after every join/leave/redeem, success or failure.
	// A failed write may still have partially landed under concurrent
	// retries, so the refresh is unconditional.
	afterMutation func(context.Context)
}

func NewJoinCoordinator(store SessionStore) *JoinCoordinator {
	return &JoinCoordinator{store: store, now: time.Now}
}

// SetAfterMutation installs the refresh hook; nil disables it.
func (c *JoinCoordinator) SetAfterMutation(fn func(context.Context)) {
	c.afterMutation = fn
}

func (c *JoinCoordinator) notify(ctx context.Context) {
	if c.afterMutation != nil {
		c.afterMutation(ctx)
	}
}

// RequestJoin translates a student's join click into the correct store
// mutation and navigation target.
//
// Private sessions never gain membership here; admission goes exclusively
// through RedeemPrivateCode. Public sessions get an idempotent waitlist
// insert, then route by effective phase.
func (c *JoinCoordinator) RequestJoin(ctx context.Context, sessionID string, user domain.User) (JoinOutcome, error) {
	defer c.notify(ctx)

	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return OutcomeLobby, err
	}

	if ComputePhase(session, c.now()) == domain.PhaseEnded {
		return OutcomeLobby, domain.ErrSessionEnded
	}

	if session.IsPrivate {
		members, err := c.store.ListPrivateParticipants(ctx, session.ID)
		if err != nil {
			return OutcomeLobby, err
		}
		for _, m := range members {
			if m.StudentID == user.ID {
				return OutcomeLobby, nil
			}
		}
		return OutcomePromptCode, nil
	}

	err = c.store.InsertWaitlistEntry(ctx, domain.WaitlistEntry{
		SessionID: session.ID,
		StudentID: user.ID,
		JoinedAt:  c.now(),
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateMembership) {
		return OutcomeLobby, err
	}

	if ComputePhase(session, c.now()) == domain.PhaseLive {
		return OutcomeEnterQuiz, nil
	}
	return OutcomeLobby, nil
}

// RedeemPrivateCode admits a student to the private session whose code
// matches. The lookup only considers private sessions still in waiting or
// in_progress; a miss of any kind surfaces the same ErrInvalidCode.
func (c *JoinCoordinator) RedeemPrivateCode(ctx context.Context, code string, user domain.User) (domain.LiveSession, error) {
	defer c.notify(ctx)

	session, err := c.store.FindByPrivateCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.LiveSession{}, domain.ErrInvalidCode
		}
		return domain.LiveSession{}, err
	}

	err = c.store.InsertPrivateParticipant(ctx, domain.PrivateParticipant{
		SessionID: session.ID,
		StudentID: user.ID,
		JoinedAt:  c.now(),
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicateMembership) {
		return domain.LiveSession{}, err
	}
	if errors.Is(err, domain.ErrDuplicateMembership) {
		log.Printf("join: %s already a participant of %s, treating redeem as success", user.ID, session.ID)
	}
	return session, nil
}

// LeaveWaitlist removes the student's waitlist row. Public sessions only;
// there is no un-redeem for private codes, so re-entering a private lobby
// never asks for the code again.
func (c *JoinCoordinator) LeaveWaitlist(ctx context.Context, sessionID string, user domain.User) error {
	defer c.notify(ctx)
	return c.store.DeleteWaitlistEntry(ctx, sessionID, user.ID)
}

// NormalizeCode canonicalizes a join code for lookup: trimmed and uppercased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
