package router

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ucl/internal/clock"
	"ucl/internal/consensus"
	"ucl/internal/metrics"
	"ucl/internal/op"
	"ucl/internal/state"
)

// Outcome reports how an operation left the router. Applied is whether
// the operation took effect locally; Coordinated is whether a
// consensus round decided it. A gossiped operation is always
// {Applied: true, Coordinated: false}; a generic one is
// {Applied: <committed>, Coordinated: true}.
type Outcome struct {
	Applied     bool
	Coordinated bool
	// Reason explains a non-applied coordinated outcome (abort cause).
	Reason string
}

// Gossiper is the uncoordinated dissemination path.
type Gossiper interface {
	Submit(o op.Operation) (state.State, error)
}

// Proposer runs a consensus round as coordinator.
type Proposer interface {
	Propose(ctx context.Context, o op.Operation, participants []string) (consensus.Result, error)
}

// PeerView supplies the reachable peer set used as the participant set
// for coordinated operations.
type PeerView interface {
	Peers() []string
}

// Router classifies operations and hands each one to exactly one
// protocol. It also owns the node's vector clock: every operation
// entering Handle is stamped with a fresh tick before dispatch.
type Router struct {
	nodeID     string
	classifier *op.Classifier
	gossip     Gossiper
	consensus  Proposer
	peers      PeerView
	logger     *zap.Logger

	mu    sync.Mutex
	clock clock.VectorClock
}

// New builds a router. The classifier must not be nil; nil gossip or
// consensus disables that path (Handle returns an error for operations
// that would need it).
func New(nodeID string, classifier *op.Classifier, g Gossiper, c Proposer, peers PeerView, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		nodeID:     nodeID,
		classifier: classifier,
		gossip:     g,
		consensus:  c,
		peers:      peers,
		logger:     logger.Named("router"),
		clock:      clock.New(),
	}
}

// Clock returns a snapshot of the node's vector clock.
func (r *Router) Clock() clock.VectorClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock.Clone()
}

// Handle stamps the operation, classifies it, and dispatches it down
// the single protocol path its class selects. For semilattice and
// abelian operations it returns as soon as the local apply is done;
// dissemination continues in the background. For generic operations it
// blocks until the consensus round reaches commit or abort. Round
// aborts and timeouts come back as an Outcome with Applied false, not
// as an error; errors are reserved for operations the node cannot
// process at all.
func (r *Router) Handle(ctx context.Context, o op.Operation) (Outcome, error) {
	r.mu.Lock()
	r.clock.Tick(r.nodeID)
	stamped := op.New(o.Type, o.Key, o.Payload, r.nodeID, r.clock)
	r.mu.Unlock()

	class := r.classifier.Classify(stamped.Type)
	metrics.OperationsTotal.WithLabelValues(class.String()).Inc()
	log := r.logger.With(
		zap.Stringer("type", stamped.Type),
		zap.String("key", stamped.Key),
		zap.Stringer("class", class),
	)

	if !class.Coordinated() {
		if _, err := r.gossip.Submit(stamped); err != nil {
			return Outcome{}, err
		}
		log.Debug("operation gossiped")
		return Outcome{Applied: true}, nil
	}

	participants := append(r.peers.Peers(), r.nodeID)
	res, err := r.consensus.Propose(ctx, stamped, participants)
	if err != nil {
		return Outcome{Coordinated: true}, err
	}
	if res.Committed {
		log.Debug("operation committed", zap.String("round", res.RoundID))
	} else {
		log.Info("operation aborted",
			zap.String("round", res.RoundID), zap.String("reason", res.Reason))
	}
	return Outcome{Applied: res.Committed, Coordinated: true, Reason: res.Reason}, nil
}
