package gossip

import (
	"sync"

	"ucl/internal/wire"
)

// seenSet is the bounded recently-seen message ID set driving
// deduplication. Eviction is by insertion order: once full, admitting a
// new ID forgets the oldest one.
type seenSet struct {
	mu    sync.Mutex
	cap   int
	ids   map[string]struct{}
	order []string
	next  int
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = 4096
	}
	return &seenSet{
		cap:   capacity,
		ids:   make(map[string]struct{}, capacity),
		order: make([]string, capacity),
	}
}

// Add records id and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if evicted := s.order[s.next]; evicted != "" {
		delete(s.ids, evicted)
	}
	s.order[s.next] = id
	s.next = (s.next + 1) % s.cap
	s.ids[id] = struct{}{}
	return true
}

// Snapshot lists the currently remembered IDs, oldest first.
func (s *seenSet) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for i := 0; i < s.cap; i++ {
		idx := (s.next + i) % s.cap
		if s.order[idx] != "" {
			out = append(out, s.order[idx])
		}
	}
	return out
}

// recentBuffer keeps the latest envelopes so anti-entropy can
// re-deliver broadcasts a peer missed. Bounded like seenSet.
type recentBuffer struct {
	mu    sync.Mutex
	cap   int
	byID  map[string]wire.Envelope
	order []string
	next  int
}

func newRecentBuffer(capacity int) *recentBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &recentBuffer{
		cap:   capacity,
		byID:  make(map[string]wire.Envelope, capacity),
		order: make([]string, capacity),
	}
}

func (r *recentBuffer) Add(env wire.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[env.ID]; ok {
		return
	}
	if evicted := r.order[r.next]; evicted != "" {
		delete(r.byID, evicted)
	}
	r.order[r.next] = env.ID
	r.next = (r.next + 1) % r.cap
	r.byID[env.ID] = env
}

// Missing returns buffered envelopes whose IDs are absent from theirs.
func (r *recentBuffer) Missing(theirs []string) []wire.Envelope {
	known := make(map[string]struct{}, len(theirs))
	for _, id := range theirs {
		known[id] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []wire.Envelope
	for id, env := range r.byID {
		if _, ok := known[id]; !ok {
			out = append(out, env)
		}
	}
	return out
}
