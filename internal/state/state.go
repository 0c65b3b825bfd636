package state

import (
	"sort"

	"ucl/internal/clock"
	"ucl/internal/op"
)

// State is the per-key value the coordination layer operates on. Only
// the fields touched by a key's operation family are populated; the
// zero value is the initial state for every key.
type State struct {
	Counter  int64
	Max      int64
	Set      map[string]struct{}
	List     [][]byte
	Register []byte
	Clock    clock.VectorClock
}

// MergeFunc combines an operation into a state. Implementations must be
// pure: clone containers, never mutate the input, and for the gossip
// path be order-insensitive (commutative and associative) with either
// idempotent or delta-cancellation-safe semantics.
type MergeFunc func(State, op.Operation) State

// Clone returns a deep copy so callers can hold a State without racing
// against later applies.
func (s State) Clone() State {
	out := s
	if s.Set != nil {
		out.Set = make(map[string]struct{}, len(s.Set))
		for m := range s.Set {
			out.Set[m] = struct{}{}
		}
	}
	if s.List != nil {
		out.List = make([][]byte, len(s.List))
		for i, e := range s.List {
			out.List[i] = append([]byte(nil), e...)
		}
	}
	if s.Register != nil {
		out.Register = append([]byte(nil), s.Register...)
	}
	if s.Clock != nil {
		out.Clock = s.Clock.Clone()
	}
	return out
}

// SetMembers returns the set contents in sorted order, for assertions
// and debug output.
func (s State) SetMembers() []string {
	members := make([]string, 0, len(s.Set))
	for m := range s.Set {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}
