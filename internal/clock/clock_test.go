package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickIsMonotonic(t *testing.T) {
	vc := New()
	for i := uint64(1); i <= 5; i++ {
		if got := vc.Tick("n1"); got != i {
			t.Fatalf("tick %d: got %d", i, got)
		}
	}
	if vc.Counter("n2") != 0 {
		t.Fatalf("unknown node should read 0, got %d", vc.Counter("n2"))
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b VectorClock
		want Ordering
	}{
		{"both empty", New(), New(), Equal},
		{"identical", VectorClock{"a": 1, "b": 2}, VectorClock{"a": 1, "b": 2}, Equal},
		{"strictly before", VectorClock{"a": 1}, VectorClock{"a": 2}, Before},
		{"before with extra node", VectorClock{"a": 1}, VectorClock{"a": 1, "b": 1}, Before},
		{"strictly after", VectorClock{"a": 3, "b": 1}, VectorClock{"a": 2, "b": 1}, After},
		{"concurrent", VectorClock{"a": 2, "b": 1}, VectorClock{"a": 1, "b": 2}, Concurrent},
		{"disjoint nodes concurrent", VectorClock{"a": 1}, VectorClock{"b": 1}, Concurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestCompareIsAntisymmetric(t *testing.T) {
	a := VectorClock{"a": 1, "b": 4}
	b := VectorClock{"a": 2, "b": 4}
	assert.Equal(t, Before, a.Compare(b))
	assert.Equal(t, After, b.Compare(a))
}

func TestMergeTakesMaximum(t *testing.T) {
	a := VectorClock{"a": 3, "b": 1}
	b := VectorClock{"b": 5, "c": 2}
	a.Merge(b)
	assert.Equal(t, VectorClock{"a": 3, "b": 5, "c": 2}, a)
}

func TestCloneIsIndependent(t *testing.T) {
	a := VectorClock{"a": 1}
	b := a.Clone()
	b.Tick("a")
	assert.Equal(t, uint64(1), a.Counter("a"))
	assert.Equal(t, uint64(2), b.Counter("a"))
}

func TestString(t *testing.T) {
	assert.Equal(t, "{}", New().String())
	assert.Equal(t, "{a:1 b:2}", VectorClock{"b": 2, "a": 1}.String())
}
