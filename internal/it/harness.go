// Package it holds the in-process integration harness: real nodes on
// loopback TCP, wired into a cluster the way the daemon wires one from
// its config file.
package it

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"ucl/internal/config"
	"ucl/internal/node"
)

// Cluster is a set of running nodes fully meshed over 127.0.0.1.
type Cluster struct {
	ids   []string
	nodes map[string]*node.Node
}

// NewCluster starts one node per id on an ephemeral loopback port and
// introduces every node to every other. Timers are tightened so tests
// converge quickly.
func NewCluster(logger *zap.Logger, ids ...string) (*Cluster, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cluster{ids: ids, nodes: make(map[string]*node.Node, len(ids))}

	for _, id := range ids {
		cfg := config.Default()
		cfg.NodeID = id
		cfg.ListenAddr = "127.0.0.1:0"
		cfg.Gossip.RetryInterval = config.Duration(50 * time.Millisecond)
		cfg.Consensus.VoteTimeout = config.Duration(500 * time.Millisecond)
		cfg.Consensus.DecisionRetryInterval = config.Duration(20 * time.Millisecond)
		cfg.Membership.ProbeInterval = config.Duration(50 * time.Millisecond)
		cfg.Membership.UnreachableAfter = config.Duration(300 * time.Millisecond)

		n := node.New(cfg, logger)
		if err := n.Start(); err != nil {
			c.Stop()
			return nil, fmt.Errorf("start node %s: %w", id, err)
		}
		c.nodes[id] = n
	}

	// Full mesh: every node learns every other's bound address.
	for _, id := range ids {
		for _, other := range ids {
			if id != other {
				c.nodes[id].AddPeer(other, c.nodes[other].Addr())
			}
		}
	}
	return c, nil
}

// Node returns the named node.
func (c *Cluster) Node(id string) *node.Node {
	return c.nodes[id]
}

// Nodes returns all nodes in id order.
func (c *Cluster) Nodes() []*node.Node {
	out := make([]*node.Node, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.nodes[id])
	}
	return out
}

// Partition severs the link between two nodes in both directions.
func (c *Cluster) Partition(a, b string) {
	c.nodes[a].RemovePeer(b)
	c.nodes[b].RemovePeer(a)
}

// Heal restores the link between two nodes.
func (c *Cluster) Heal(a, b string) {
	c.nodes[a].AddPeer(b, c.nodes[b].Addr())
	c.nodes[b].AddPeer(a, c.nodes[a].Addr())
}

// Stop shuts every node down.
func (c *Cluster) Stop() {
	for _, n := range c.nodes {
		if n != nil {
			n.Stop()
		}
	}
}
