package scheduler

import (
	"sync"
	"time"
)

// inFlight tracks which agents currently have a cycle running. At most one
// cycle per agent may be in flight; the scheduler acquires before spawning
// and releases when the cycle goroutine exits. The mutex only guards the
// map itself and is never held across I/O.
type inFlight struct {
	mu      sync.Mutex
	running map[int64]time.Time
}

func newInFlight() *inFlight {
	return &inFlight{running: make(map[int64]time.Time)}
}

// TryAcquire claims the agent's slot. It returns a release func and true
// when the agent was idle, or nil and false when a cycle is already
// running. The release func is idempotent.
func (f *inFlight) TryAcquire(tokenID int64) (func(), bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.running[tokenID]; ok {
		return nil, false
	}
	f.running[tokenID] = time.Now().UTC()

	var once sync.Once
	release := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.running, tokenID)
			f.mu.Unlock()
		})
	}
	return release, true
}

// Running reports whether the agent has a cycle in flight.
func (f *inFlight) Running(tokenID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[tokenID]
	return ok
}

// Count returns the number of cycles currently in flight.
func (f *inFlight) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.running)
}

// Snapshot returns the in-flight token IDs with their start times.
func (f *inFlight) Snapshot() map[int64]time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]time.Time, len(f.running))
	for id, at := range f.running {
		out[id] = at
	}
	return out
}
