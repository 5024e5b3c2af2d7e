package app

import (
	"sync"
	"time"

	"livequiz-service/internal/domain"
)

// AutoStartWatcher re-evaluates session phases on a short tick and fires a
// callback the first time a session reads Live. The trigger is edge-based:
// exactly one fire per session per watcher, however many ticks observe the
// session as live afterwards. This is what lets every participant enter a
// scheduled session on their own wall clock without a host broadcast.
type AutoStartWatcher struct {
	interval time.Duration
	now      func() time.Time
	onLive   func(domain.LiveSession)

	mu       sync.Mutex
	sessions map[string]domain.LiveSession
	fired    map[string]bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewAutoStartWatcher builds a watcher; onLive runs on the watcher goroutine
// and must not block for long.
func NewAutoStartWatcher(interval time.Duration, onLive func(domain.LiveSession)) *AutoStartWatcher {
	return newAutoStartWatcherWithClock(interval, onLive, time.Now)
}

func newAutoStartWatcherWithClock(interval time.Duration, onLive func(domain.LiveSession), now func() time.Time) *AutoStartWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &AutoStartWatcher{
		interval: interval,
		now:      now,
		onLive:   onLive,
		sessions: make(map[string]domain.LiveSession),
		fired:    make(map[string]bool),
		stop:     make(chan struct{}),
	}
}

// Watch registers or refreshes a session snapshot. Refreshing does not reset
// the one-shot latch: a session that already fired stays fired.
func (w *AutoStartWatcher) Watch(s domain.LiveSession) {
	w.mu.Lock()
	w.sessions[s.ID] = s
	w.mu.Unlock()
}

// Unwatch drops a session and its latch, so re-entering a lobby later starts
// a fresh edge trigger.
func (w *AutoStartWatcher) Unwatch(sessionID string) {
	w.mu.Lock()
	delete(w.sessions, sessionID)
	delete(w.fired, sessionID)
	w.mu.Unlock()
}

// Run ticks until Stop is called.
func (w *AutoStartWatcher) Run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Tick()
		case <-w.stop:
			return
		}
	}
}

// Tick evaluates all watched sessions once. Exported so tests and callers
// with their own timers can drive the watcher deterministically.
func (w *AutoStartWatcher) Tick() {
	now := w.now()

	w.mu.Lock()
	var due []domain.LiveSession
	for id, s := range w.sessions {
		if w.fired[id] {
			continue
		}
		if ComputePhase(s, now) == domain.PhaseLive {
			w.fired[id] = true
			due = append(due, s)
		}
	}
	w.mu.Unlock()

	for _, s := range due {
		w.onLive(s)
	}
}

// Stop terminates Run. Safe to call more than once.
func (w *AutoStartWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}
