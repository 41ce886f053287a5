// Package batch owns the per-subject timers that flush rate-limited edit
// requests once their batching window closes.
package batch

import (
	"sync"
	"time"
)

// Registry maps a subject to at most one pending flush. Scheduling again for
// the same subject replaces the earlier timer.
type Registry struct {
	mu      sync.Mutex
	timers  map[string]*entry
	now     func() time.Time
	stopped bool
}

type entry struct {
	timer *time.Timer
	at    time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		timers: make(map[string]*entry),
		now:    time.Now,
	}
}

// Schedule runs fn at (or immediately after, if already past) at. The entry is
// removed before fn runs, so fn may schedule the subject again.
func (r *Registry) Schedule(subjectID string, at time.Time, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	if existing, ok := r.timers[subjectID]; ok {
		existing.timer.Stop()
	}

	delay := at.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	e := &entry{at: at}
	e.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if current, ok := r.timers[subjectID]; !ok || current != e {
			r.mu.Unlock()
			return
		}
		delete(r.timers, subjectID)
		r.mu.Unlock()
		fn()
	})
	r.timers[subjectID] = e
}

// Cancel drops the subject's pending flush. It reports whether one existed.
func (r *Registry) Cancel(subjectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.timers[subjectID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.timers, subjectID)
	return true
}

// Pending returns the scheduled flush time for a subject.
func (r *Registry) Pending(subjectID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.timers[subjectID]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels every pending flush and refuses new ones.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for id, e := range r.timers {
		e.timer.Stop()
		delete(r.timers, id)
	}
}
