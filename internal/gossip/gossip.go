package gossip

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"ucl/internal/merge"
	"ucl/internal/metrics"
	"ucl/internal/op"
	"ucl/internal/state"
	"ucl/internal/wire"
)

// Sender delivers an envelope to one peer. *transport.Transport
// satisfies it.
type Sender interface {
	Send(peer string, env wire.Envelope) error
}

// PeerView supplies the current fan-out targets. *membership.Manager
// satisfies it.
type PeerView interface {
	Peers() []string
}

// Config tunes dissemination.
type Config struct {
	NodeID string
	// Fanout caps how many peers one broadcast touches; 0 means all.
	Fanout int
	// MaxHops bounds re-broadcast depth so retransmission storms die
	// out. A received envelope is forwarded only while its hop count is
	// below this.
	MaxHops int
	// SeenCap bounds the deduplication set.
	SeenCap int
	// RetryAttempts bounds per-peer redelivery of a failed send.
	RetryAttempts int
	// RetryInterval spaces redelivery attempts.
	RetryInterval time.Duration
	// DigestInterval spaces anti-entropy digest exchanges; 0 disables.
	DigestInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.MaxHops == 0 {
		c.MaxHops = 3
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
}

type retryItem struct {
	peer     string
	env      wire.Envelope
	attempts int
}

// Protocol is the coordination-free path: apply locally, broadcast
// asynchronously, merge on receive. Submit never blocks on network
// I/O; a peer being down never delays the local apply.
type Protocol struct {
	cfg    Config
	logger *zap.Logger
	store  state.Store
	reg    *merge.Registry
	send   Sender
	peers  PeerView
	seen   *seenSet
	recent *recentBuffer

	mu      sync.Mutex
	retries []retryItem

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the gossip protocol.
func New(cfg Config, store state.Store, reg *merge.Registry, send Sender, peers PeerView, logger *zap.Logger) *Protocol {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Protocol{
		cfg:    cfg,
		logger: logger.Named("gossip"),
		store:  store,
		reg:    reg,
		send:   send,
		peers:  peers,
		seen:   newSeenSet(cfg.SeenCap),
		recent: newRecentBuffer(cfg.SeenCap / 8),
	}
}

// Start launches the retry and anti-entropy loops.
func (p *Protocol) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.retryLoop(ctx)

	if p.cfg.DigestInterval > 0 {
		p.wg.Add(1)
		go p.digestLoop(ctx)
	}
}

// Stop terminates the background loops.
func (p *Protocol) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Submit applies o locally through its merge function and queues the
// broadcast. It returns once the local apply completes; propagation is
// asynchronous and best-effort.
func (p *Protocol) Submit(o op.Operation) (state.State, error) {
	fn, err := p.reg.Lookup(o.Type)
	if err != nil {
		return state.State{}, err
	}
	st := p.store.Apply(o.Key, o, fn)

	env, err := wire.NewEnvelope(wire.Gossip, p.cfg.NodeID, wire.GossipBody{Op: o, Hops: 0})
	if err != nil {
		return state.State{}, fmt.Errorf("build gossip envelope: %w", err)
	}
	p.seen.Add(env.ID)
	p.recent.Add(env)

	go p.broadcast(env, map[string]struct{}{p.cfg.NodeID: {}})
	return st, nil
}

// OnReceive handles an inbound gossip envelope: drop duplicates, merge
// the operation, and forward to peers that likely have not seen it yet.
func (p *Protocol) OnReceive(env wire.Envelope) {
	if !p.seen.Add(env.ID) {
		metrics.GossipDuplicatesTotal.Inc()
		p.logger.Debug("duplicate envelope dropped", zap.String("id", env.ID))
		return
	}

	var body wire.GossipBody
	if err := env.Decode(&body); err != nil {
		p.logger.Warn("bad gossip body", zap.String("id", env.ID), zap.Error(err))
		return
	}

	fn, err := p.reg.Lookup(body.Op.Type)
	if err != nil {
		p.logger.Warn("gossip for unmergeable operation",
			zap.String("type", body.Op.Type.String()), zap.Error(err))
		return
	}
	p.store.Apply(body.Op.Key, body.Op, fn)
	p.recent.Add(env)

	if body.Hops+1 > p.cfg.MaxHops {
		return
	}
	fwd, err := forwarded(env, body, p.cfg.NodeID)
	if err != nil {
		p.logger.Warn("re-encode gossip body", zap.Error(err))
		return
	}
	exclude := map[string]struct{}{
		p.cfg.NodeID:   {},
		env.Sender:     {},
		body.Op.Origin: {},
	}
	go p.broadcast(fwd, exclude)
}

// forwarded keeps the envelope ID (deduplication depends on it) but
// bumps the hop count and stamps us as the relay.
func forwarded(env wire.Envelope, body wire.GossipBody, relay string) (wire.Envelope, error) {
	next, err := wire.NewEnvelope(wire.Gossip, relay, wire.GossipBody{Op: body.Op, Hops: body.Hops + 1})
	if err != nil {
		return wire.Envelope{}, err
	}
	next.ID = env.ID
	return next, nil
}

func (p *Protocol) broadcast(env wire.Envelope, exclude map[string]struct{}) {
	metrics.GossipBroadcastsTotal.Inc()

	targets := make([]string, 0)
	for _, peer := range p.peers.Peers() {
		if _, skip := exclude[peer]; !skip {
			targets = append(targets, peer)
		}
	}
	if len(targets) == 0 {
		return
	}
	rand.Shuffle(len(targets), func(i, j int) {
		targets[i], targets[j] = targets[j], targets[i]
	})
	if p.cfg.Fanout > 0 && len(targets) > p.cfg.Fanout {
		targets = targets[:p.cfg.Fanout]
	}

	for _, peer := range targets {
		if err := p.send.Send(peer, env); err != nil {
			p.logger.Debug("broadcast send failed, scheduling retry",
				zap.String("peer", peer), zap.Error(err))
			p.enqueueRetry(retryItem{peer: peer, env: env, attempts: 1})
		}
	}
}

func (p *Protocol) enqueueRetry(it retryItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = append(p.retries, it)
}

// retryLoop redelivers failed sends on a fixed schedule. After the
// attempt budget, the send is dropped: the local apply already took
// effect and other gossip paths still carry the update, so delivery is
// probabilistic by design.
func (p *Protocol) retryLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			pending := p.retries
			p.retries = nil
			p.mu.Unlock()

			for _, it := range pending {
				if err := p.send.Send(it.peer, it.env); err == nil {
					continue
				}
				it.attempts++
				if it.attempts > p.cfg.RetryAttempts {
					metrics.GossipRetriesDroppedTotal.Inc()
					p.logger.Warn("gossip send dropped after retries",
						zap.String("peer", it.peer),
						zap.String("id", it.env.ID),
						zap.Int("attempts", it.attempts-1))
					continue
				}
				p.enqueueRetry(it)
			}
		}
	}
}

// digestLoop periodically offers one random peer the set of message
// IDs we remember, so it can detect gaps.
func (p *Protocol) digestLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.DigestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers := p.peers.Peers()
			if len(peers) == 0 {
				continue
			}
			peer := peers[rand.Intn(len(peers))]
			env, err := wire.NewEnvelope(wire.Digest, p.cfg.NodeID, wire.DigestBody{Seen: p.seen.Snapshot()})
			if err != nil {
				continue
			}
			if err := p.send.Send(peer, env); err != nil {
				p.logger.Debug("digest send failed", zap.String("peer", peer), zap.Error(err))
			}
		}
	}
}

// OnDigest re-delivers any buffered envelope the digesting peer has
// not seen.
func (p *Protocol) OnDigest(env wire.Envelope) {
	var body wire.DigestBody
	if err := env.Decode(&body); err != nil {
		p.logger.Warn("bad digest body", zap.Error(err))
		return
	}
	for _, missing := range p.recent.Missing(body.Seen) {
		if err := p.send.Send(env.Sender, missing); err != nil {
			p.logger.Debug("digest redelivery failed",
				zap.String("peer", env.Sender), zap.Error(err))
			return
		}
	}
}
