package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/lobby"
)

// HostControl owns the host-side session mutations: creation, the manual
// start (status flip + lobby broadcast), ending, and deletion. It is the
// single authoritative write path for session status.
type HostControl struct {
	store    SessionStore
	channels lobby.Provider
	now      func() time.Time
	rnd      *rand.Rand
}

func NewHostControl(store SessionStore, channels lobby.Provider) *HostControl {
	return &HostControl{
		store:    store,
		channels: channels,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateSessionParams carries host input for a new live session.
type CreateSessionParams struct {
	QuizID         string
	HostID         string
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
	IsPrivate      bool
}

// CreateSession validates the schedule pair, generates the privacy-correct
// join code, and persists the session in waiting state. Public sessions get
// a 6-char code, private an 8-char one; exactly one of the two fields is set.
func (h *HostControl) CreateSession(ctx context.Context, p CreateSessionParams) (domain.LiveSession, error) {
	if (p.ScheduledStart == nil) != (p.ScheduledEnd == nil) {
		return domain.LiveSession{}, fmt.Errorf("scheduledStart and scheduledEnd must be set together")
	}
	if p.ScheduledStart != nil && !p.ScheduledEnd.After(*p.ScheduledStart) {
		return domain.LiveSession{}, fmt.Errorf("scheduledEnd must be after scheduledStart")
	}

	session := domain.LiveSession{
		ID:             uuid.NewString(),
		QuizID:         p.QuizID,
		HostID:         p.HostID,
		Status:         domain.StatusWaiting,
		ScheduledStart: p.ScheduledStart,
		ScheduledEnd:   p.ScheduledEnd,
		IsPrivate:      p.IsPrivate,
		CreatedAt:      h.now(),
	}
	if p.IsPrivate {
		code := h.generateCode(8)
		session.PrivateJoinCode = &code
	} else {
		code := h.generateCode(6)
		session.JoinCode = &code
	}

	if err := h.store.CreateSession(ctx, session); err != nil {
		return domain.LiveSession{}, err
	}
	return session, nil
}

// StartSession flips a waiting session to in_progress and broadcasts the
// start signal to the lobby. CanStart is re-checked against a fresh read
// right before the write; the store's from-status guard catches the
// remaining race window.
//
// If the status write lands but the broadcast fails, scheduled sessions
// recover via each client's own auto-start tick. Unscheduled sessions have
// no such fallback; students stay in the lobby until the host retries. Known
// gap, surfaced in the log rather than hidden.
func (h *HostControl) StartSession(ctx context.Context, sessionID, hostID string) (domain.LiveSession, error) {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.LiveSession{}, err
	}
	if session.HostID != hostID {
		return domain.LiveSession{}, domain.ErrNotHost
	}

	now := h.now()
	if !CanStart(session, now) {
		return domain.LiveSession{}, domain.ErrSessionNotWaiting
	}

	if err := h.store.UpdateStatus(ctx, session.ID, domain.StatusWaiting, domain.StatusInProgress, now); err != nil {
		return domain.LiveSession{}, err
	}
	session.Status = domain.StatusInProgress
	session.StartedAt = &now

	payload, _ := json.Marshal(startSignal{SessionID: session.ID, StartedAt: now})
	if err := h.channels.Broadcast(ctx, lobby.ChannelName(session.ID), lobby.EventQuizStarted, payload); err != nil {
		log.Printf("host: start broadcast for %s failed: %v", session.ID, err)
	}
	return session, nil
}

// EndSession completes an in-progress session.
func (h *HostControl) EndSession(ctx context.Context, sessionID, hostID string) (domain.LiveSession, error) {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.LiveSession{}, err
	}
	if session.HostID != hostID {
		return domain.LiveSession{}, domain.ErrNotHost
	}
	if session.Status != domain.StatusInProgress {
		return domain.LiveSession{}, domain.ErrSessionNotWaiting
	}

	now := h.now()
	if err := h.store.UpdateStatus(ctx, session.ID, domain.StatusInProgress, domain.StatusCompleted, now); err != nil {
		return domain.LiveSession{}, err
	}
	session.Status = domain.StatusCompleted
	session.EndedAt = &now
	return session, nil
}

// DeleteSession removes a session that never started.
func (h *HostControl) DeleteSession(ctx context.Context, sessionID, hostID string) error {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return domain.ErrNotHost
	}
	if session.Status != domain.StatusWaiting {
		return domain.ErrSessionNotWaiting
	}
	return h.store.DeleteSession(ctx, session.ID)
}

type startSignal struct {
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
}

// codeAlphabet omits 0/O and 1/I to keep codes readable over voice.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func (h *HostControl) generateCode(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = codeAlphabet[h.rnd.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
