package clock

import (
	"fmt"
	"sort"
	"strings"
)

// VectorClock maps a node ID to a monotonically increasing counter.
// It captures the partial happened-before order between events; it is
// never used to impose a total order. Callers own synchronization.
type VectorClock map[string]uint64

// New returns an empty vector clock.
func New() VectorClock {
	return make(VectorClock)
}

// Tick advances the counter for nodeID and returns the new value.
func (vc VectorClock) Tick(nodeID string) uint64 {
	vc[nodeID]++
	return vc[nodeID]
}

// Counter returns the counter recorded for nodeID, zero if absent.
func (vc VectorClock) Counter(nodeID string) uint64 {
	return vc[nodeID]
}

// Merge folds other into vc, keeping the per-node maximum.
func (vc VectorClock) Merge(other VectorClock) {
	for id, c := range other {
		if vc[id] < c {
			vc[id] = c
		}
	}
}

// Clone returns an independent copy of vc.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for id, c := range vc {
		out[id] = c
	}
	return out
}

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	// Before means the receiver causally precedes the other clock.
	Before Ordering = iota
	// After means the receiver causally follows the other clock.
	After
	// Concurrent means neither clock dominates the other.
	Concurrent
	// Equal means both clocks carry identical counters.
	Equal
)

func (o Ordering) String() string {
	switch o {
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	case Equal:
		return "equal"
	default:
		return "unknown"
	}
}

// Compare returns the causal relationship between vc and other.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	var less, greater bool
	for id := range union(vc, other) {
		a, b := vc[id], other[id]
		switch {
		case a < b:
			less = true
		case a > b:
			greater = true
		}
	}
	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	default:
		return Equal
	}
}

// ConcurrentWith reports whether vc and other are causally unrelated.
func (vc VectorClock) ConcurrentWith(other VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

func union(a, b VectorClock) map[string]struct{} {
	ids := make(map[string]struct{}, len(a)+len(b))
	for id := range a {
		ids[id] = struct{}{}
	}
	for id := range b {
		ids[id] = struct{}{}
	}
	return ids
}

// String renders the clock with node IDs in sorted order so log lines
// are stable across runs.
func (vc VectorClock) String() string {
	if len(vc) == 0 {
		return "{}"
	}
	ids := make([]string, 0, len(vc))
	for id := range vc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s:%d", id, vc[id]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
