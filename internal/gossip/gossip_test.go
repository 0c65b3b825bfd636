package gossip

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ucl/internal/merge"
	"ucl/internal/op"
	"ucl/internal/state"
	"ucl/internal/wire"
)

// bus wires protocols together in-process so tests exercise the
// protocol logic without sockets.
type bus struct {
	mu    sync.Mutex
	nodes map[string]*Protocol
	down  map[string]bool
}

func newBus() *bus {
	return &bus{nodes: make(map[string]*Protocol), down: make(map[string]bool)}
}

func (b *bus) Send(peer string, env wire.Envelope) error {
	b.mu.Lock()
	p, ok := b.nodes[peer]
	down := b.down[peer]
	b.mu.Unlock()
	if !ok || down {
		return errors.New("peer unreachable")
	}
	switch env.Kind {
	case wire.Digest:
		p.OnDigest(env)
	default:
		p.OnReceive(env)
	}
	return nil
}

type staticPeers []string

func (s staticPeers) Peers() []string { return s }

type testNode struct {
	id    string
	store *state.InMemoryStore
	proto *Protocol
}

func buildCluster(t *testing.T, b *bus, cfg Config, ids ...string) map[string]*testNode {
	t.Helper()
	nodes := make(map[string]*testNode, len(ids))
	for _, id := range ids {
		peers := make(staticPeers, 0, len(ids)-1)
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		c := cfg
		c.NodeID = id
		st := state.NewInMemoryStore()
		p := New(c, st, merge.NewRegistry(), b, peers, zap.NewNop())
		b.mu.Lock()
		b.nodes[id] = p
		b.mu.Unlock()
		nodes[id] = &testNode{id: id, store: st, proto: p}
	}
	return nodes
}

func counterAt(n *testNode, key string) int64 {
	st, _ := n.store.Read(key)
	return st.Counter
}

func TestSubmitAppliesLocallyWithoutPeers(t *testing.T) {
	b := newBus()
	nodes := buildCluster(t, b, Config{}, "a")

	st, err := nodes["a"].proto.Submit(op.Operation{
		Type: op.CounterAdd, Key: "x", Payload: op.Payload{Delta: 5}, Origin: "a",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.Counter)
}

func TestSubmitRejectsUnmergeableType(t *testing.T) {
	b := newBus()
	nodes := buildCluster(t, b, Config{}, "a")
	_, err := nodes["a"].proto.Submit(op.Operation{Type: op.Rename, Key: "x"})
	assert.Error(t, err)
}

func TestPropagationAcrossCluster(t *testing.T) {
	b := newBus()
	nodes := buildCluster(t, b, Config{}, "a", "b", "c")

	_, err := nodes["a"].proto.Submit(op.Operation{
		Type: op.SetAdd, Key: "s", Payload: op.Payload{Members: []string{"m1"}}, Origin: "a",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			st, ok := n.store.Read("s")
			if !ok || len(st.Set) != 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	b := newBus()
	nodes := buildCluster(t, b, Config{}, "a")
	p := nodes["a"].proto

	env, err := wire.NewEnvelope(wire.Gossip, "z", wire.GossipBody{
		Op: op.Operation{Type: op.CounterAdd, Key: "x", Payload: op.Payload{Delta: 7}, Origin: "z"},
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		p.OnReceive(env)
	}
	assert.Equal(t, int64(7), counterAt(nodes["a"], "x"),
		"same envelope must apply exactly once")
}

// Node a submits +5, node b submits -2, with a's envelope delivered to
// b twice and in either order. Both nodes must converge on 3.
func TestCounterConvergenceWithDuplication(t *testing.T) {
	for _, aFirst := range []bool{true, false} {
		b := newBus()
		nodes := buildCluster(t, b, Config{}, "a", "b")

		envA, err := wire.NewEnvelope(wire.Gossip, "a", wire.GossipBody{
			Op: op.Operation{Type: op.CounterAdd, Key: "x", Payload: op.Payload{Delta: 5}, Origin: "a"},
		})
		require.NoError(t, err)
		envB, err := wire.NewEnvelope(wire.Gossip, "b", wire.GossipBody{
			Op: op.Operation{Type: op.CounterAdd, Key: "x", Payload: op.Payload{Delta: -2}, Origin: "b"},
		})
		require.NoError(t, err)

		for _, n := range nodes {
			if aFirst {
				n.proto.OnReceive(envA)
				n.proto.OnReceive(envB)
			} else {
				n.proto.OnReceive(envB)
				n.proto.OnReceive(envA)
			}
			n.proto.OnReceive(envA) // duplicate of a's message
		}

		require.Eventually(t, func() bool {
			return counterAt(nodes["a"], "x") == 3 && counterAt(nodes["b"], "x") == 3
		}, 2*time.Second, 10*time.Millisecond, "order aFirst=%v", aFirst)
	}
}

func TestUnreachablePeerNeverBlocksSubmit(t *testing.T) {
	b := newBus()
	nodes := buildCluster(t, b, Config{RetryAttempts: 2, RetryInterval: 20 * time.Millisecond}, "a", "b")
	b.mu.Lock()
	b.down["b"] = true
	b.mu.Unlock()

	p := nodes["a"].proto
	p.Start()
	defer p.Stop()

	start := time.Now()
	_, err := p.Submit(op.Operation{
		Type: op.CounterAdd, Key: "x", Payload: op.Payload{Delta: 1}, Origin: "a",
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, int64(1), counterAt(nodes["a"], "x"))

	// Let the retry budget drain; the protocol must stay healthy.
	time.Sleep(150 * time.Millisecond)
}

func TestRetryDeliversAfterPeerRecovers(t *testing.T) {
	b := newBus()
	nodes := buildCluster(t, b, Config{RetryAttempts: 10, RetryInterval: 20 * time.Millisecond}, "a", "b")
	b.mu.Lock()
	b.down["b"] = true
	b.mu.Unlock()

	p := nodes["a"].proto
	p.Start()
	defer p.Stop()

	_, err := p.Submit(op.Operation{
		Type: op.CounterAdd, Key: "x", Payload: op.Payload{Delta: 4}, Origin: "a",
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	b.mu.Lock()
	b.down["b"] = false
	b.mu.Unlock()

	require.Eventually(t, func() bool {
		return counterAt(nodes["b"], "x") == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestForwardedKeepsIDAndBumpsHops(t *testing.T) {
	env, err := wire.NewEnvelope(wire.Gossip, "a", wire.GossipBody{Hops: 1})
	require.NoError(t, err)

	fwd, err := forwarded(env, wire.GossipBody{Hops: 1}, "relay")
	require.NoError(t, err)
	assert.Equal(t, env.ID, fwd.ID)
	assert.Equal(t, "relay", fwd.Sender)

	var body wire.GossipBody
	require.NoError(t, fwd.Decode(&body))
	assert.Equal(t, 2, body.Hops)
}

func TestDigestRedeliversMissedEnvelope(t *testing.T) {
	b := newBus()
	nodes := buildCluster(t, b, Config{}, "a", "b")

	// a holds a broadcast b never saw.
	env, err := wire.NewEnvelope(wire.Gossip, "z", wire.GossipBody{
		Op: op.Operation{Type: op.CounterAdd, Key: "x", Payload: op.Payload{Delta: 9}, Origin: "z"},
	})
	require.NoError(t, err)
	nodes["a"].proto.OnReceive(env)

	digest, err := wire.NewEnvelope(wire.Digest, "b", wire.DigestBody{Seen: nil})
	require.NoError(t, err)
	nodes["a"].proto.OnDigest(digest)

	require.Eventually(t, func() bool {
		return counterAt(nodes["b"], "x") == 9
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSeenSetEvictsByInsertionOrder(t *testing.T) {
	s := newSeenSet(3)
	assert.True(t, s.Add("1"))
	assert.True(t, s.Add("2"))
	assert.True(t, s.Add("3"))
	assert.False(t, s.Add("2"), "still remembered")

	assert.True(t, s.Add("4"), "evicts oldest")
	assert.True(t, s.Add("1"), "1 was evicted, admitted again")
	assert.False(t, s.Add("4"))
}
