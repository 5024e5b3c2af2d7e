package app

import (
	"sort"
	"sync"
	"time"

	"livequiz-service/internal/domain"
)

// RunRegistry abstracts how in-flight live runs are held (in-memory, with an
// optional redis liveness marker).
type RunRegistry interface {
	GetOrCreate(sessionID string) *LiveRun
	Get(sessionID string) (*LiveRun, bool)
	DeleteIfEmpty(sessionID string)
}

// LiveRun is the in-process scoreboard of one live session: who is playing
// and the leaderboard fan-out to subscribed spectators.
type LiveRun struct {
	sessionID string
	createdAt time.Time
	now       func() time.Time

	mu           sync.RWMutex
	participants map[string]*domain.Participant
	subscribers  map[chan domain.Leaderboard]struct{}
}

// NewLiveRun is exported for infrastructure layers that need to seed runs.
func NewLiveRun(sessionID string) *LiveRun {
	return &LiveRun{
		sessionID:    sessionID,
		createdAt:    time.Now(),
		now:          time.Now,
		participants: make(map[string]*domain.Participant),
		subscribers:  make(map[chan domain.Leaderboard]struct{}),
	}
}

func (r *LiveRun) join(userID, displayName string) domain.Leaderboard {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if participant, ok := r.participants[userID]; ok {
		participant.DisplayName = displayName
		participant.LastUpdated = now
	} else {
		r.participants[userID] = &domain.Participant{
			UserID:      userID,
			DisplayName: displayName,
			Score:       0,
			LastUpdated: now,
		}
	}
	return r.broadcastLocked()
}

func (r *LiveRun) applyScore(userID string, correct bool, points int) (domain.Leaderboard, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	participant, ok := r.participants[userID]
	if !ok {
		return domain.Leaderboard{}, 0, domain.ErrParticipantNotFound
	}

	if correct && points > 0 {
		participant.Score += points
	} else if correct && points == 0 {
		participant.Score++
	}
	participant.LastUpdated = now

	return r.broadcastLocked(), participant.Score, nil
}

func (r *LiveRun) leave(userID string) domain.Leaderboard {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, userID)
	return r.broadcastLocked()
}

// IsEmpty reports whether the run has no participants.
func (r *LiveRun) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) == 0
}

func (r *LiveRun) subscribe() (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 8)

	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	initial := r.snapshotLocked()
	r.mu.Unlock()

	ch <- initial

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *LiveRun) broadcastLocked() domain.Leaderboard {
	lb := r.snapshotLocked()
	for ch := range r.subscribers {
		select {
		case ch <- lb:
		default:
			// Drop the stale update so a slow reader never blocks fan-out.
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
	return lb
}

func (r *LiveRun) snapshotLocked() domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(r.participants))
	for _, participant := range r.participants {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:      participant.UserID,
			DisplayName: participant.DisplayName,
			Score:       participant.Score,
		})
	}

	// Score desc, then whoever reached the score earlier, then name.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi := r.participants[entries[i].UserID]
		pj := r.participants[entries[j].UserID]
		if pi != nil && pj != nil && !pi.LastUpdated.Equal(pj.LastUpdated) {
			return pi.LastUpdated.Before(pj.LastUpdated)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})

	return domain.Leaderboard{
		SessionID: r.sessionID,
		Entries:   entries,
		UpdatedAt: r.now(),
	}
}
