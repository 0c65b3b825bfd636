package node

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ucl/internal/config"
	"ucl/internal/consensus"
	"ucl/internal/gossip"
	"ucl/internal/membership"
	"ucl/internal/merge"
	"ucl/internal/metrics"
	"ucl/internal/op"
	"ucl/internal/router"
	"ucl/internal/state"
	"ucl/internal/transport"
	"ucl/internal/wire"
)

// Node is one running member of the coordination layer.
type Node struct {
	cfg    config.Config
	logger *zap.Logger

	store     *state.InMemoryStore
	transport *transport.Transport
	members   *membership.Manager
	gossip    *gossip.Protocol
	consensus *consensus.Protocol
	router    *router.Router

	metricsSrv *http.Server
}

// New wires a node from its configuration. Nothing listens or probes
// until Start.
func New(cfg config.Config, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("node", cfg.NodeID))

	store := state.NewInMemoryStore()
	reg := merge.NewRegistry()

	tr := transport.New(transport.Config{
		NodeID:           cfg.NodeID,
		ListenAddr:       cfg.ListenAddr,
		MaxFrame:         cfg.Transport.MaxFrame,
		DialTimeout:      cfg.Transport.DialTimeout.Std(),
		ReconnectBackoff: cfg.Transport.ReconnectBackoff.Std(),
		SendQueueLen:     cfg.Transport.SendQueueLen,
	}, nil, logger)

	members := membership.NewManager(cfg.NodeID,
		cfg.Membership.ProbeInterval.Std(), cfg.Membership.UnreachableAfter.Std(), logger)

	gos := gossip.New(gossip.Config{
		NodeID:         cfg.NodeID,
		Fanout:         cfg.Gossip.Fanout,
		MaxHops:        cfg.Gossip.MaxHops,
		SeenCap:        cfg.Gossip.SeenCap,
		RetryAttempts:  cfg.Gossip.RetryAttempts,
		RetryInterval:  cfg.Gossip.RetryInterval.Std(),
		DigestInterval: cfg.Gossip.DigestInterval.Std(),
	}, store, reg, tr, members, logger)

	cons := consensus.New(consensus.Config{
		NodeID:                cfg.NodeID,
		VoteTimeout:           cfg.Consensus.VoteTimeout.Std(),
		DecisionRetryAttempts: cfg.Consensus.DecisionRetryAttempts,
		DecisionRetryInterval: cfg.Consensus.DecisionRetryInterval.Std(),
		Quorum:                consensus.QuorumPolicy(cfg.Consensus.Quorum),
		ParticipantAbortAfter: cfg.Consensus.ParticipantAbortAfter.Std(),
	}, store, reg, tr, logger)

	rt := router.New(cfg.NodeID,
		op.NewClassifier(op.DefaultTable(), logger), gos, cons, members, logger)

	n := &Node{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		transport: tr,
		members:   members,
		gossip:    gos,
		consensus: cons,
		router:    rt,
	}
	tr.SetHandler(n.dispatch)
	tr.SetConnListener(n.onConnState)
	for _, p := range cfg.Peers {
		tr.AddPeer(p.ID, p.Addr)
		members.Add(p.ID, p.Addr)
	}
	return n
}

// Start brings the transport up, then the gossip loops and membership
// probing.
func (n *Node) Start() error {
	if err := n.transport.Start(); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	n.gossip.Start()
	n.members.Start(n.ping)

	if n.cfg.MetricsAddr != "" {
		metrics.Register(prometheus.DefaultRegisterer)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		n.metricsSrv = &http.Server{Addr: n.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				n.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	n.logger.Info("node started",
		zap.String("listen", n.transport.Addr()), zap.Int("peers", len(n.cfg.Peers)))
	return nil
}

// Stop tears the node down in reverse order of Start.
func (n *Node) Stop() {
	n.members.Stop()
	n.gossip.Stop()
	if n.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		n.metricsSrv.Shutdown(ctx)
		cancel()
	}
	n.transport.Stop()
	n.logger.Info("node stopped")
}

// Handle routes one application operation. This is the node's only
// operation entry point.
func (n *Node) Handle(ctx context.Context, o op.Operation) (router.Outcome, error) {
	return n.router.Handle(ctx, o)
}

// Read returns the current state under key.
func (n *Node) Read(key string) (state.State, bool) {
	return n.store.Read(key)
}

// Addr returns the transport's bound listen address.
func (n *Node) Addr() string {
	return n.transport.Addr()
}

// AddPeer introduces a peer at runtime.
func (n *Node) AddPeer(id, addr string) {
	n.transport.AddPeer(id, addr)
	n.members.Add(id, addr)
}

// RemovePeer drops a peer from the transport and the membership table.
func (n *Node) RemovePeer(id string) {
	n.transport.RemovePeer(id)
	n.members.Remove(id)
}

// KeyLocked reports whether key sits under a provisional consensus
// lock. Exposed for tests and conflict diagnostics.
func (n *Node) KeyLocked(key string) bool {
	return n.consensus.KeyLocked(key)
}

// dispatch fans inbound envelopes to the protocol that owns the kind.
// Bare control frames never get here; the transport answers them.
func (n *Node) dispatch(_ string, env wire.Envelope) {
	switch env.Kind {
	case wire.Gossip:
		n.gossip.OnReceive(env)
	case wire.Digest:
		n.gossip.OnDigest(env)
	case wire.Prepare:
		n.consensus.OnPrepare(env)
	case wire.Vote:
		n.consensus.OnVote(env)
	case wire.Commit, wire.Abort:
		n.consensus.OnDecision(env)
	case wire.Ack:
		n.consensus.OnAck(env)
	case wire.Pong:
		if env.Sender != "" {
			n.members.ObservePong(env.Sender)
		}
	default:
		n.logger.Debug("unhandled envelope kind", zap.String("kind", string(env.Kind)))
	}
}

// ping probes one peer for the membership manager.
func (n *Node) ping(peerID string) error {
	env, err := wire.NewEnvelope(wire.Ping, n.cfg.NodeID, nil)
	if err != nil {
		return err
	}
	return n.transport.Send(peerID, env)
}

// onConnState feeds transport connection changes into the membership
// table.
func (n *Node) onConnState(peer string, connected bool) {
	if peer == "" {
		return
	}
	if connected {
		n.members.SetStatus(peer, membership.Connected)
	} else {
		n.members.SetStatus(peer, membership.Unreachable)
	}
}
