package app

import (
	"time"

	"livequiz-service/internal/domain"
)

// StartingSoonWindow is how far before the scheduled start a waiting session
// reads as StartingSoon rather than Scheduled.
const StartingSoonWindow = 30 * time.Minute

// ComputePhase derives a session's effective phase from its persisted fields
// and the given instant. Pure function: same inputs, same phase, no writes.
//
// A waiting session whose scheduled start has passed reads as Live even
// though the persisted status may not have been flipped yet; join logic acts
// on the effective phase in that gap. A scheduledEnd without a scheduledStart
// is treated as no schedule at all rather than an error.
//
// Clock skew between clients is an accepted limitation; there is no
// correction mechanism here.
func ComputePhase(s domain.LiveSession, now time.Time) domain.Phase {
	switch s.Status {
	case domain.StatusCompleted:
		return domain.PhaseEnded
	case domain.StatusInProgress:
		return domain.PhaseLive
	}

	if s.ScheduledStart == nil {
		return domain.PhaseWaitingNoSchedule
	}
	if s.ScheduledEnd != nil && now.After(*s.ScheduledEnd) {
		// Expired without ever starting.
		return domain.PhaseEnded
	}
	if !now.Before(*s.ScheduledStart) {
		return domain.PhaseLive
	}
	if s.ScheduledStart.Sub(now) <= StartingSoonWindow {
		return domain.PhaseStartingSoon
	}
	return domain.PhaseScheduled
}

// CanStart reports whether the host may manually start the session right now:
// still waiting, and either unscheduled or past its scheduled start. Host
// Control re-checks this immediately before the status write.
func CanStart(s domain.LiveSession, now time.Time) bool {
	if s.Status != domain.StatusWaiting {
		return false
	}
	if s.ScheduledStart == nil {
		return true
	}
	if s.ScheduledEnd != nil && now.After(*s.ScheduledEnd) {
		return false
	}
	return !now.Before(*s.ScheduledStart)
}
