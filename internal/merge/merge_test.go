package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ucl/internal/op"
	"ucl/internal/state"
)

func TestSetUnion(t *testing.T) {
	s := state.State{}
	s = SetUnion(s, op.Operation{Type: op.SetAdd, Payload: op.Payload{Members: []string{"b", "a"}}})
	s = SetUnion(s, op.Operation{Type: op.SetAdd, Payload: op.Payload{Members: []string{"a", "c"}}})
	assert.Equal(t, []string{"a", "b", "c"}, s.SetMembers())
}

func TestSetUnionIsIdempotent(t *testing.T) {
	o := op.Operation{Type: op.SetAdd, Payload: op.Payload{Members: []string{"x"}}}
	once := SetUnion(state.State{}, o)
	twice := SetUnion(once, o)
	assert.Equal(t, once.SetMembers(), twice.SetMembers())
}

func TestMax(t *testing.T) {
	s := state.State{}
	s = Max(s, op.Operation{Payload: op.Payload{Value: 7}})
	s = Max(s, op.Operation{Payload: op.Payload{Value: 3}})
	assert.Equal(t, int64(7), s.Max)
	s = Max(s, op.Operation{Payload: op.Payload{Value: 7}})
	assert.Equal(t, int64(7), s.Max, "max is idempotent")
}

func TestCounterAdd(t *testing.T) {
	s := state.State{}
	s = CounterAdd(s, op.Operation{Payload: op.Payload{Delta: 5}})
	s = CounterAdd(s, op.Operation{Payload: op.Payload{Delta: -2}})
	assert.Equal(t, int64(3), s.Counter)
}

func TestCombinatorsDoNotMutateInput(t *testing.T) {
	orig := state.State{Set: map[string]struct{}{"a": {}}, Counter: 1}
	_ = SetUnion(orig, op.Operation{Payload: op.Payload{Members: []string{"b"}}})
	_ = CounterAdd(orig, op.Operation{Payload: op.Payload{Delta: 10}})
	assert.Equal(t, []string{"a"}, orig.SetMembers())
	assert.Equal(t, int64(1), orig.Counter)
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []op.Type{op.SetAdd, op.MaxSet, op.CounterAdd, op.ListAppend, op.RegisterWrite} {
		fn, err := r.Lookup(typ)
		require.NoError(t, err, typ.String())
		require.NotNil(t, fn)
	}
	// Rename moves keys inside the store, it has no per-key combinator.
	_, err := r.Lookup(op.Rename)
	assert.Error(t, err)
}
