package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"
)

func strptr(s string) *string { return &s }

func timeptr(t time.Time) *time.Time { return &t }

func seedSession(t *testing.T, store *memory.SessionStore, s domain.LiveSession) domain.LiveSession {
	t.Helper()
	if s.Status == "" {
		s.Status = domain.StatusWaiting
	}
	if !s.IsPrivate && s.JoinCode == nil {
		s.JoinCode = strptr("ABC234")
	}
	if s.IsPrivate && s.PrivateJoinCode == nil {
		s.PrivateJoinCode = strptr("SECRETX2")
	}
	if err := store.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func TestRequestJoinPublicWaiting(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	seedSession(t, store, domain.LiveSession{ID: "s1", QuizID: "quiz-1", HostID: "h1"})
	c := app.NewJoinCoordinator(store)
	alice := domain.User{ID: "u1", DisplayName: "Alice"}

	outcome, err := c.RequestJoin(ctx, "s1", alice)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if outcome != app.OutcomeLobby {
		t.Fatalf("waiting session should route to lobby, got %v", outcome)
	}

	entries, _ := store.ListWaitlist(ctx, "s1")
	if len(entries) != 1 || entries[0].StudentID != "u1" {
		t.Fatalf("expected one waitlist row, got %+v", entries)
	}
}

func TestRequestJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	seedSession(t, store, domain.LiveSession{ID: "s1", QuizID: "quiz-1", HostID: "h1"})
	c := app.NewJoinCoordinator(store)
	alice := domain.User{ID: "u1", DisplayName: "Alice"}

	for i := 0; i < 2; i++ {
		if _, err := c.RequestJoin(ctx, "s1", alice); err != nil {
			t.Fatalf("join attempt %d: %v", i+1, err)
		}
	}
	entries, _ := store.ListWaitlist(ctx, "s1")
	if len(entries) != 1 {
		t.Fatalf("double click produced %d rows, want 1", len(entries))
	}
}

func TestRequestJoinConcurrentStudents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	seedSession(t, store, domain.LiveSession{ID: "s1", QuizID: "quiz-1", HostID: "h1"})
	c := app.NewJoinCoordinator(store)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for _, uid := range []string{"u1", "u2"} {
			wg.Add(1)
			go func(uid string) {
				defer wg.Done()
				_, err := c.RequestJoin(ctx, "s1", domain.User{ID: uid, DisplayName: uid})
				errs <- err
			}(uid)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent join surfaced error: %v", err)
		}
	}

	entries, _ := store.ListWaitlist(ctx, "s1")
	if len(entries) != 2 {
		t.Fatalf("expected exactly one row per student, got %d", len(entries))
	}
}

func TestRequestJoinLiveGoesStraightIn(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	now := time.Now()
	seedSession(t, store, domain.LiveSession{
		ID: "s1", QuizID: "quiz-1", HostID: "h1",
		ScheduledStart: timeptr(now.Add(-time.Minute)),
		ScheduledEnd:   timeptr(now.Add(time.Hour)),
	})
	c := app.NewJoinCoordinator(store)

	outcome, err := c.RequestJoin(ctx, "s1", domain.User{ID: "u1", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if outcome != app.OutcomeEnterQuiz {
		t.Fatalf("effectively-live session should enter quiz, got %v", outcome)
	}
}

func TestRequestJoinEndedRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	now := time.Now()
	seedSession(t, store, domain.LiveSession{
		ID: "s1", QuizID: "quiz-1", HostID: "h1",
		ScheduledStart: timeptr(now.Add(-2 * time.Hour)),
		ScheduledEnd:   timeptr(now.Add(-time.Minute)),
	})
	c := app.NewJoinCoordinator(store)

	_, err := c.RequestJoin(ctx, "s1", domain.User{ID: "u1", DisplayName: "Alice"})
	if !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	entries, _ := store.ListWaitlist(ctx, "s1")
	if len(entries) != 0 {
		t.Fatalf("ended session must not gain waitlist rows, got %+v", entries)
	}
}

func TestRequestJoinPrivatePromptsForCode(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	seedSession(t, store, domain.LiveSession{ID: "s1", QuizID: "quiz-1", HostID: "h1", IsPrivate: true})
	c := app.NewJoinCoordinator(store)

	outcome, err := c.RequestJoin(ctx, "s1", domain.User{ID: "u1", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if outcome != app.OutcomePromptCode {
		t.Fatalf("expected code prompt, got %v", outcome)
	}
	// Nothing may be written before the code is redeemed.
	members, _ := store.ListPrivateParticipants(ctx, "s1")
	if len(members) != 0 {
		t.Fatalf("prompt must not write membership, got %+v", members)
	}
	entries, _ := store.ListWaitlist(ctx, "s1")
	if len(entries) != 0 {
		t.Fatalf("private session must not gain waitlist rows, got %+v", entries)
	}
}

func TestRequestJoinPrivateMemberSkipsPrompt(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	seedSession(t, store, domain.LiveSession{ID: "s1", QuizID: "quiz-1", HostID: "h1", IsPrivate: true})
	_ = store.InsertPrivateParticipant(ctx, domain.PrivateParticipant{SessionID: "s1", StudentID: "u1", JoinedAt: time.Now()})
	c := app.NewJoinCoordinator(store)

	outcome, err := c.RequestJoin(ctx, "s1", domain.User{ID: "u1", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if outcome != app.OutcomeLobby {
		t.Fatalf("existing member should go to lobby, got %v", outcome)
	}
}

func TestRedeemPrivateCode(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	seedSession(t, store, domain.LiveSession{
		ID: "s1", QuizID: "quiz-1", HostID: "h1",
		IsPrivate: true, PrivateJoinCode: strptr("SECRETX2"),
	})
	c := app.NewJoinCoordinator(store)
	alice := domain.User{ID: "u1", DisplayName: "Alice"}

	// Codes are normalized: trimmed and uppercased.
	session, err := c.RedeemPrivateCode(ctx, "  secretx2 ", alice)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if session.ID != "s1" {
		t.Fatalf("resolved wrong session %q", session.ID)
	}

	// Page refresh: second redeem succeeds and adds no second row.
	if _, err := c.RedeemPrivateCode(ctx, "SECRETX2", alice); err != nil {
		t.Fatalf("second redeem: %v", err)
	}
	members, _ := store.ListPrivateParticipants(ctx, "s1")
	if len(members) != 1 {
		t.Fatalf("expected exactly one participant row, got %d", len(members))
	}
}

func TestRedeemWrongCode(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	seedSession(t, store, domain.LiveSession{
		ID: "s1", QuizID: "quiz-1", HostID: "h1",
		IsPrivate: true, PrivateJoinCode: strptr("SECRETX2"),
	})
	c := app.NewJoinCoordinator(store)

	_, err := c.RedeemPrivateCode(ctx, "WRONG999", domain.User{ID: "u1", DisplayName: "Alice"})
	if !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	members, _ := store.ListPrivateParticipants(ctx, "s1")
	if len(members) != 0 {
		t.Fatalf("wrong code must not insert anywhere, got %+v", members)
	}
}

func TestRedeemCompletedSessionLooksLikeWrongCode(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	seedSession(t, store, domain.LiveSession{
		ID: "s1", QuizID: "quiz-1", HostID: "h1",
		Status: domain.StatusCompleted, IsPrivate: true, PrivateJoinCode: strptr("SECRETX2"),
	})
	c := app.NewJoinCoordinator(store)

	_, err := c.RedeemPrivateCode(ctx, "SECRETX2", domain.User{ID: "u1", DisplayName: "Alice"})
	if !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("ended session must be indistinguishable from a wrong code, got %v", err)
	}
}

func TestLeaveWaitlist(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	seedSession(t, store, domain.LiveSession{ID: "s1", QuizID: "quiz-1", HostID: "h1"})
	c := app.NewJoinCoordinator(store)
	alice := domain.User{ID: "u1", DisplayName: "Alice"}

	_, _ = c.RequestJoin(ctx, "s1", alice)
	if err := c.LeaveWaitlist(ctx, "s1", alice); err != nil {
		t.Fatalf("leave: %v", err)
	}
	entries, _ := store.ListWaitlist(ctx, "s1")
	if len(entries) != 0 {
		t.Fatalf("expected empty waitlist after leave, got %+v", entries)
	}
}

func TestAfterMutationRunsEvenOnFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	c := app.NewJoinCoordinator(store)

	calls := 0
	c.SetAfterMutation(func(context.Context) { calls++ })

	// Unknown session: the join fails but the refresh still runs.
	if _, err := c.RequestJoin(ctx, "missing", domain.User{ID: "u1", DisplayName: "Alice"}); err == nil {
		t.Fatalf("expected error for unknown session")
	}
	if calls != 1 {
		t.Fatalf("refresh must run after a failed join, calls=%d", calls)
	}
}
