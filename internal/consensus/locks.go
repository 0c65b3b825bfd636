package consensus

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"ucl/internal/metrics"
)

const lockShards = 16

// lockTable holds the per-key provisional locks participants take
// between voting commit and learning the decision. Keys stripe across
// shards by hash so rounds on different keys never contend on one
// mutex. A lock is always released on commit, abort or forced
// timeout-abort.
type lockTable struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	byKey map[string]string // key -> holding round ID
}

func newLockTable() *lockTable {
	lt := &lockTable{}
	for i := range lt.shards {
		lt.shards[i].byKey = make(map[string]string)
	}
	return lt
}

func (lt *lockTable) shard(key string) *lockShard {
	return &lt.shards[xxhash.Sum64String(key)%lockShards]
}

// TryAcquire locks key for roundID. It reports success; re-acquiring
// for the same round succeeds, a key held by another round fails.
func (lt *lockTable) TryAcquire(key, roundID string) bool {
	s := lt.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	holder, held := s.byKey[key]
	if held {
		return holder == roundID
	}
	s.byKey[key] = roundID
	metrics.ProvisionalLocksHeld.Inc()
	return true
}

// Release unlocks key if roundID still holds it.
func (lt *lockTable) Release(key, roundID string) {
	s := lt.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey[key] == roundID {
		delete(s.byKey, key)
		metrics.ProvisionalLocksHeld.Dec()
	}
}

// Holder reports which round holds key, if any.
func (lt *lockTable) Holder(key string) (string, bool) {
	s := lt.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	holder, held := s.byKey[key]
	return holder, held
}
