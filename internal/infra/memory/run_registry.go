package memory

import (
	"sync"

	"livequiz-service/internal/app"
)

// RunRegistry is an in-memory implementation of app.RunRegistry.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*app.LiveRun
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*app.LiveRun)}
}

func (r *RunRegistry) GetOrCreate(sessionID string) *app.LiveRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[sessionID]; ok {
		return run
	}
	run := app.NewLiveRun(sessionID)
	r.runs[sessionID] = run
	return run
}

func (r *RunRegistry) Get(sessionID string) (*app.LiveRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[sessionID]
	return run, ok
}

func (r *RunRegistry) DeleteIfEmpty(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[sessionID]
	if !ok {
		return
	}
	if run.IsEmpty() {
		delete(r.runs, sessionID)
	}
}
