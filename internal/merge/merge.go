package merge

import (
	"fmt"

	"ucl/internal/op"
	"ucl/internal/state"
)

// Registry holds the combinator registered for each operation type.
// Register everything up front, then treat the registry as read-only;
// lookups take no lock.
type Registry struct {
	fns map[op.Type]state.MergeFunc
}

// NewRegistry returns a registry pre-populated with the combinators for
// the built-in operation types.
func NewRegistry() *Registry {
	r := &Registry{fns: make(map[op.Type]state.MergeFunc)}
	r.Register(op.SetAdd, SetUnion)
	r.Register(op.MaxSet, Max)
	r.Register(op.CounterAdd, CounterAdd)
	r.Register(op.ListAppend, ListAppend)
	r.Register(op.RegisterWrite, RegisterWrite)
	return r
}

// Register binds fn to t, replacing any previous binding.
func (r *Registry) Register(t op.Type, fn state.MergeFunc) {
	r.fns[t] = fn
}

// Lookup returns the combinator for t.
func (r *Registry) Lookup(t op.Type) (state.MergeFunc, error) {
	fn, ok := r.fns[t]
	if !ok {
		return nil, fmt.Errorf("no merge function registered for %s", t)
	}
	return fn, nil
}

// SetUnion inserts the payload members into the set. Union is
// idempotent, so duplicate deliveries are harmless even without
// upstream deduplication.
func SetUnion(s state.State, o op.Operation) state.State {
	next := s.Clone()
	if next.Set == nil {
		next.Set = make(map[string]struct{}, len(o.Payload.Members))
	}
	for _, m := range o.Payload.Members {
		next.Set[m] = struct{}{}
	}
	return next
}

// Max raises the stored maximum to the payload value if larger.
func Max(s state.State, o op.Operation) state.State {
	next := s.Clone()
	if o.Payload.Value > next.Max {
		next.Max = o.Payload.Value
	}
	return next
}

// CounterAdd applies the signed payload delta. Deltas commute but are
// not idempotent; the gossip path's envelope deduplication keeps
// duplicate deliveries from double-counting.
func CounterAdd(s state.State, o op.Operation) state.State {
	next := s.Clone()
	next.Counter += o.Payload.Delta
	return next
}

// ListAppend appends the payload bytes. Appends do not commute; the
// type classifies Generic and only reaches this function inside a
// committed consensus round.
func ListAppend(s state.State, o op.Operation) state.State {
	next := s.Clone()
	next.List = append(next.List, append([]byte(nil), o.Payload.Bytes...))
	return next
}

// RegisterWrite overwrites the register. Last-writer semantics require
// the total order a consensus round provides.
func RegisterWrite(s state.State, o op.Operation) state.State {
	next := s.Clone()
	next.Register = append([]byte(nil), o.Payload.Bytes...)
	return next
}
