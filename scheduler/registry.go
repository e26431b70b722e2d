package scheduler

import (
	"sync"
	"sync/atomic"
)

// Registry maps a live task_id to its Progress Channel. It is not a cache of
// the Queue — presence here means "someone may still care about this task's
// progress" (a submitter, a subscriber, or the dispatch queue itself).
// Individual entries are independently lockable; callers outside this file
// never take Registry-wide locks.
type Registry struct {
	entries sync.Map // map[string]*Channel
	count   atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Insert is an idempotent replace: inserting over an existing entry swaps in
// the new channel without touching the counter twice. The displaced channel
// is not closed.
func (r *Registry) Insert(taskID string, ch *Channel) {
	if _, loaded := r.entries.Swap(taskID, ch); !loaded {
		r.count.Add(1)
	}
}

func (r *Registry) Lookup(taskID string) (*Channel, bool) {
	v, ok := r.entries.Load(taskID)
	if !ok {
		return nil, false
	}
	return v.(*Channel), true
}

func (r *Registry) Remove(taskID string) {
	if _, loaded := r.entries.LoadAndDelete(taskID); loaded {
		r.count.Add(-1)
	}
}

// Len reports the current number of live entries, for metrics and for the
// Registry/Queue coherence property.
func (r *Registry) Len() int {
	return int(r.count.Load())
}
