package state

import (
	"sync"

	"ucl/internal/op"
)

// Store is the collaborator interface the coordination layer consumes.
// The production implementation lives in the storage engine; the layer
// never manages durability itself. InMemoryStore below serves the node
// daemon and tests.
type Store interface {
	// Apply folds the operation into the state under key using fn and
	// returns the resulting state.
	Apply(key string, o op.Operation, fn MergeFunc) State
	// Read returns the current state under key. Reads are never blocked
	// by in-flight protocol activity.
	Read(key string) (State, bool)
	// Rename moves the state under from to the key to, replacing
	// whatever was there. Used only by the consensus apply path.
	Rename(from, to string)
}

// InMemoryStore is a thread-safe map-backed Store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]State
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]State)}
}

// Apply folds o into the state under key. The operation's vector clock
// is merged into the stored state's clock so causality survives across
// applies.
func (s *InMemoryStore) Apply(key string, o op.Operation, fn MergeFunc) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.data[key], o)
	if o.Clock != nil {
		if next.Clock == nil {
			next.Clock = o.Clock.Clone()
		} else {
			next.Clock = next.Clock.Clone()
			next.Clock.Merge(o.Clock)
		}
	}
	s.data[key] = next
	return next.Clone()
}

// Read returns a copy of the state under key.
func (s *InMemoryStore) Read(key string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[key]
	if !ok {
		return State{}, false
	}
	return st.Clone(), true
}

// Rename moves from's state to to, dropping from.
func (s *InMemoryStore) Rename(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.data[from]
	if !ok {
		return
	}
	delete(s.data, from)
	s.data[to] = st
}
