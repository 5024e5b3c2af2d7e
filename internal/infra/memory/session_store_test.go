package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"livequiz-service/internal/domain"
)

func strptr(s string) *string { return &s }

func TestMembershipInsertsAreUniquePerPair(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_ = store.CreateSession(ctx, domain.LiveSession{ID: "s1", Status: domain.StatusWaiting, JoinCode: strptr("ABC234")})

	entry := domain.WaitlistEntry{SessionID: "s1", StudentID: "u1", JoinedAt: time.Now()}
	if err := store.InsertWaitlistEntry(ctx, entry); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.InsertWaitlistEntry(ctx, entry); !errors.Is(err, domain.ErrDuplicateMembership) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	p := domain.PrivateParticipant{SessionID: "s1", StudentID: "u1", JoinedAt: time.Now()}
	if err := store.InsertPrivateParticipant(ctx, p); err != nil {
		t.Fatalf("first private insert: %v", err)
	}
	if err := store.InsertPrivateParticipant(ctx, p); !errors.Is(err, domain.ErrDuplicateMembership) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestUpdateStatusMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_ = store.CreateSession(ctx, domain.LiveSession{ID: "s1", Status: domain.StatusWaiting, JoinCode: strptr("ABC234")})
	now := time.Now()

	if err := store.UpdateStatus(ctx, "s1", domain.StatusWaiting, domain.StatusInProgress, now); err != nil {
		t.Fatalf("start transition: %v", err)
	}
	s, _ := store.GetSession(ctx, "s1")
	if s.Status != domain.StatusInProgress || s.StartedAt == nil {
		t.Fatalf("startedAt not stamped: %+v", s)
	}

	// Losing a race (stale from-status) is a detectable no-op, never a
	// backwards move.
	if err := store.UpdateStatus(ctx, "s1", domain.StatusWaiting, domain.StatusInProgress, now); !errors.Is(err, domain.ErrSessionNotWaiting) {
		t.Fatalf("expected stale-transition error, got %v", err)
	}

	if err := store.UpdateStatus(ctx, "s1", domain.StatusInProgress, domain.StatusCompleted, now); err != nil {
		t.Fatalf("complete transition: %v", err)
	}
	s, _ = store.GetSession(ctx, "s1")
	if s.Status != domain.StatusCompleted || s.EndedAt == nil {
		t.Fatalf("endedAt not stamped: %+v", s)
	}
}

func TestFindByPrivateCodeFilters(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_ = store.CreateSession(ctx, domain.LiveSession{
		ID: "active", Status: domain.StatusWaiting, IsPrivate: true, PrivateJoinCode: strptr("SECRETX2"),
	})
	_ = store.CreateSession(ctx, domain.LiveSession{
		ID: "done", Status: domain.StatusCompleted, IsPrivate: true, PrivateJoinCode: strptr("EXPIRED9"),
	})
	_ = store.CreateSession(ctx, domain.LiveSession{
		ID: "public", Status: domain.StatusWaiting, JoinCode: strptr("PUB123"),
	})

	if s, err := store.FindByPrivateCode(ctx, "SECRETX2"); err != nil || s.ID != "active" {
		t.Fatalf("expected active session, got %+v err=%v", s, err)
	}
	if _, err := store.FindByPrivateCode(ctx, "EXPIRED9"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("completed session must not resolve, got %v", err)
	}
	if _, err := store.FindByPrivateCode(ctx, "PUB123"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("public join code must not resolve via private lookup, got %v", err)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_ = store.CreateSession(ctx, domain.LiveSession{ID: "s1", Status: domain.StatusWaiting, JoinCode: strptr("ABC234")})
	_ = store.InsertWaitlistEntry(ctx, domain.WaitlistEntry{SessionID: "s1", StudentID: "u1", JoinedAt: time.Now()})

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, _ := store.ListWaitlistForStudent(ctx, "u1")
	if len(entries) != 0 {
		t.Fatalf("waitlist rows must cascade, got %+v", entries)
	}
}

func TestDeleteSessionRequiresWaiting(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_ = store.CreateSession(ctx, domain.LiveSession{ID: "s1", Status: domain.StatusWaiting, JoinCode: strptr("ABC234")})
	_ = store.UpdateStatus(ctx, "s1", domain.StatusWaiting, domain.StatusInProgress, time.Now())

	if err := store.DeleteSession(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotWaiting) {
		t.Fatalf("expected in-progress delete rejected, got %v", err)
	}
	if _, err := store.GetSession(ctx, "s1"); err != nil {
		t.Fatalf("session must survive rejected delete: %v", err)
	}
	if err := store.DeleteSession(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListActiveExcludesCompleted(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_ = store.CreateSession(ctx, domain.LiveSession{ID: "w", Status: domain.StatusWaiting, JoinCode: strptr("A")})
	_ = store.CreateSession(ctx, domain.LiveSession{ID: "p", Status: domain.StatusInProgress, JoinCode: strptr("B")})
	_ = store.CreateSession(ctx, domain.LiveSession{ID: "c", Status: domain.StatusCompleted, JoinCode: strptr("C")})

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active, got %d", len(active))
	}
	for _, s := range active {
		if s.Status == domain.StatusCompleted {
			t.Fatalf("completed session in active list")
		}
	}
}
