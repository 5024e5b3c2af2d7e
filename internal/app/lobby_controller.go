package app

import (
	"context"
	"log"
	"sync"
	"time"

	"livequiz-service/internal/domain"
	"livequiz-service/internal/lobby"
)

// LobbyController is one student's session-state object: the single owner of
// the live-session list, waitlist membership set, and private-participant
// set that used to be scattered across ad-hoc refetches. Timers and realtime
// callbacks all funnel into it.
//
// Two independent triggers can move the student into a live quiz: the
// 1-second auto-start tick and the host's start broadcast. Both call
// enterLiveQuiz, which is latched per session so racing triggers cannot
// double-navigate.
type LobbyController struct {
	store       SessionStore
	coordinator *JoinCoordinator
	channels    lobby.Provider
	user        domain.User
	now         func() time.Time

	watcher         *AutoStartWatcher
	refreshInterval time.Duration

	onEnterQuiz       func(sessionID string)
	onPresenceChanged func(sessionID string, members []domain.PresenceMember)

	mu            sync.RWMutex
	sessions      map[string]domain.LiveSession
	waitlisted    map[string]struct{}
	privateMember map[string]struct{}
	entered       map[string]bool

	lobbyMu      sync.Mutex
	handle       lobby.Handle
	lobbySession string
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewLobbyController wires a controller to its collaborators and installs
// itself as the coordinator's after-mutation refresh hook.
func NewLobbyController(store SessionStore, coordinator *JoinCoordinator, channels lobby.Provider, user domain.User, refreshInterval time.Duration) *LobbyController {
	if refreshInterval <= 0 {
		refreshInterval = 15 * time.Second
	}
	c := &LobbyController{
		store:           store,
		coordinator:     coordinator,
		channels:        channels,
		user:            user,
		now:             time.Now,
		refreshInterval: refreshInterval,
		sessions:        make(map[string]domain.LiveSession),
		waitlisted:      make(map[string]struct{}),
		privateMember:   make(map[string]struct{}),
		entered:         make(map[string]bool),
		stop:            make(chan struct{}),
	}
	c.watcher = NewAutoStartWatcher(time.Second, func(s domain.LiveSession) {
		c.enterLiveQuiz(s.ID)
	})
	coordinator.SetAfterMutation(func(ctx context.Context) {
		if err := c.Refresh(ctx); err != nil {
			log.Printf("lobby: refresh after mutation: %v", err)
		}
	})
	return c
}

// SetOnEnterQuiz installs the navigation action fired (once per session)
// when the student should transition into the live quiz.
func (c *LobbyController) SetOnEnterQuiz(fn func(sessionID string)) {
	c.onEnterQuiz = fn
}

// SetOnPresenceChanged installs the presence-set observer for the lobby the
// student currently occupies.
func (c *LobbyController) SetOnPresenceChanged(fn func(sessionID string, members []domain.PresenceMember)) {
	c.onPresenceChanged = fn
}

// Refresh refetches the live-session list and both membership sets in one
// pass and re-arms the auto-start watcher with fresh snapshots.
func (c *LobbyController) Refresh(ctx context.Context) error {
	sessions, err := c.store.ListActive(ctx)
	if err != nil {
		return err
	}
	waitlist, err := c.store.ListWaitlistForStudent(ctx, c.user.ID)
	if err != nil {
		return err
	}
	private, err := c.store.ListPrivateForStudent(ctx, c.user.ID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessions = make(map[string]domain.LiveSession, len(sessions))
	for _, s := range sessions {
		c.sessions[s.ID] = s
	}
	c.waitlisted = make(map[string]struct{}, len(waitlist))
	for _, e := range waitlist {
		c.waitlisted[e.SessionID] = struct{}{}
	}
	c.privateMember = make(map[string]struct{}, len(private))
	for _, p := range private {
		c.privateMember[p.SessionID] = struct{}{}
	}
	c.mu.Unlock()

	c.rearmWatcher()
	return nil
}

// rearmWatcher keeps the auto-start watcher pointed at every session this
// student could autonomously enter: waitlisted ones and the occupied lobby.
func (c *LobbyController) rearmWatcher() {
	c.lobbyMu.Lock()
	occupied := c.lobbySession
	c.lobbyMu.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for id := range c.waitlisted {
		if s, ok := c.sessions[id]; ok {
			c.watcher.Watch(s)
		}
	}
	if occupied != "" {
		if s, ok := c.sessions[occupied]; ok {
			c.watcher.Watch(s)
		}
	}
}

// Run drives the periodic timers until Stop: the 1 s auto-start tick and the
// slower full-state refetch. Blocking; callers run it on its own goroutine.
func (c *LobbyController) Run(ctx context.Context) {
	go c.watcher.Run()
	defer c.watcher.Stop()

	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				log.Printf("lobby: periodic refresh: %v", err)
			}
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates Run and tears down any occupied lobby.
func (c *LobbyController) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.LeaveLobby(context.Background())
}

// PhaseOf reports the effective phase of a known session, or
// (PhaseEnded, false) when the session is not in the current view.
func (c *LobbyController) PhaseOf(sessionID string, now time.Time) (domain.Phase, bool) {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return domain.PhaseEnded, false
	}
	return ComputePhase(s, now), true
}

// IsWaitlisted reports durable waitlist membership for a session.
func (c *LobbyController) IsWaitlisted(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.waitlisted[sessionID]
	return ok
}

// IsPrivateMember reports redeemed-code membership for a private session.
func (c *LobbyController) IsPrivateMember(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.privateMember[sessionID]
	return ok
}

// Sessions returns a snapshot of the active-session view.
func (c *LobbyController) Sessions() []domain.LiveSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.LiveSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

// EnterLobby subscribes the student to a session's presence channel and
// announces them. Any previously occupied lobby is torn down first, so
// re-entering never stacks subscriptions.
func (c *LobbyController) EnterLobby(ctx context.Context, sessionID string) error {
	c.LeaveLobby(ctx)

	handle, err := c.channels.Subscribe(ctx, lobby.ChannelName(sessionID))
	if err != nil {
		return err
	}

	handle.OnPresenceSync(func(members []domain.PresenceMember) {
		if c.onPresenceChanged != nil {
			c.onPresenceChanged(sessionID, members)
		}
	})
	handle.OnBroadcast(lobby.EventQuizStarted, func([]byte) {
		c.enterLiveQuiz(sessionID)
	})

	if err := handle.Track(ctx, domain.PresenceMember{UserID: c.user.ID, DisplayName: c.user.DisplayName}); err != nil {
		handle.Dispose()
		return err
	}

	c.lobbyMu.Lock()
	c.handle = handle
	c.lobbySession = sessionID
	c.lobbyMu.Unlock()

	c.mu.RLock()
	s, known := c.sessions[sessionID]
	c.mu.RUnlock()
	if known {
		c.watcher.Watch(s)
	}
	return nil
}

// LeaveLobby untracks presence and disposes the channel. Runs on every exit
// path; a skipped teardown would leave a ghost participant behind.
func (c *LobbyController) LeaveLobby(ctx context.Context) {
	c.lobbyMu.Lock()
	handle := c.handle
	sessionID := c.lobbySession
	c.handle = nil
	c.lobbySession = ""
	c.lobbyMu.Unlock()

	if handle == nil {
		return
	}
	if err := handle.Untrack(ctx); err != nil {
		log.Printf("lobby: untrack on leave: %v", err)
	}
	handle.Dispose()
	if sessionID != "" {
		c.watcher.Unwatch(sessionID)
	}
}

// EnterQuiz routes an explicit live join through the same one-shot latch as
// the auto-start tick and the host broadcast, so a post-join watcher fire
// cannot navigate the student twice.
func (c *LobbyController) EnterQuiz(sessionID string) {
	c.enterLiveQuiz(sessionID)
}

// enterLiveQuiz is the single idempotent navigation action shared by the
// explicit live join, the auto-start tick, and the host broadcast.
func (c *LobbyController) enterLiveQuiz(sessionID string) {
	c.mu.Lock()
	if c.entered[sessionID] {
		c.mu.Unlock()
		return
	}
	c.entered[sessionID] = true
	c.mu.Unlock()

	c.LeaveLobby(context.Background())
	if c.onEnterQuiz != nil {
		c.onEnterQuiz(sessionID)
	}
}
