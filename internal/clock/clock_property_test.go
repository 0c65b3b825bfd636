package clock

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Merging in any order must yield the same clock: merge is the join of
// the per-node max semilattice.
func TestMergeOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	clocks := make([]VectorClock, 6)
	nodes := []string{"a", "b", "c", "d"}
	for i := range clocks {
		clocks[i] = New()
		for _, n := range nodes {
			clocks[i][n] = uint64(rng.Intn(10))
		}
	}

	var want VectorClock
	for trial := 0; trial < 50; trial++ {
		order := rng.Perm(len(clocks))
		acc := New()
		for _, idx := range order {
			acc.Merge(clocks[idx])
			// Duplicate merges must be harmless.
			if rng.Intn(2) == 0 {
				acc.Merge(clocks[idx])
			}
		}
		if want == nil {
			want = acc
			continue
		}
		assert.Equal(t, Equal, want.Compare(acc), "order %v diverged", order)
	}
}
