package consensus

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ucl/internal/merge"
	"ucl/internal/op"
	"ucl/internal/state"
	"ucl/internal/wire"
)

// Phase is a consensus round's position in its state machine.
type Phase int

const (
	Idle Phase = iota
	Preparing
	Committing
	Committed
	Aborting
	Aborted
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Aborting:
		return "aborting"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// QuorumPolicy decides how many commit votes a round needs.
type QuorumPolicy string

const (
	// QuorumAll is classic two-phase commit: every participant must
	// vote commit.
	QuorumAll QuorumPolicy = "all"
	// QuorumMajority commits once a majority voted commit, provided
	// nobody voted abort. Unresponsive participants learn the decision
	// from the retransmitted COMMIT, which carries the operation.
	QuorumMajority QuorumPolicy = "majority"
)

// Sender delivers an envelope to one peer.
type Sender interface {
	Send(peer string, env wire.Envelope) error
}

// Config tunes the protocol.
type Config struct {
	NodeID string
	// VoteTimeout bounds the prepare/vote phase.
	VoteTimeout time.Duration
	// DecisionRetryAttempts bounds retransmission of COMMIT/ABORT to
	// participants that have not acknowledged.
	DecisionRetryAttempts int
	// DecisionRetryInterval spaces those retransmissions.
	DecisionRetryInterval time.Duration
	// Quorum selects the vote rule; defaults to QuorumAll.
	Quorum QuorumPolicy
	// ParticipantAbortAfter lets a participant stuck between voting
	// commit and hearing a decision abort unilaterally. Zero keeps the
	// classic 2PC behavior: hold the lock until the decision arrives.
	ParticipantAbortAfter time.Duration
}

func (c *Config) withDefaults() {
	if c.VoteTimeout == 0 {
		c.VoteTimeout = 3 * time.Second
	}
	if c.DecisionRetryAttempts == 0 {
		c.DecisionRetryAttempts = 5
	}
	if c.DecisionRetryInterval == 0 {
		c.DecisionRetryInterval = 500 * time.Millisecond
	}
	if c.Quorum == "" {
		c.Quorum = QuorumAll
	}
}

// pendingOp is a participant's provisional state between voting commit
// and receiving the decision.
type pendingOp struct {
	roundID string
	op      op.Operation
	timer   *time.Timer
}

// decision is a coordinator's journal entry for a decided round. It is
// held in memory so COMMIT retransmission can resume while the process
// lives; durable persistence of the coordination log is out of scope.
type decision struct {
	commit bool
	op     op.Operation
}

// decisionRetention bounds how many decided rounds each role remembers.
const decisionRetention = 1024

// roundLog is a bounded FIFO map of recently decided rounds. The
// participant uses one to re-acknowledge duplicate decisions without
// re-applying, the coordinator as its in-memory decision journal.
// Eviction is by insertion order; retention outlasts the bounded
// decision-retransmission window by orders of magnitude, so an evicted
// round can no longer receive duplicates. Callers hold the protocol
// mutex.
type roundLog struct {
	cap   int
	byID  map[string]decision
	order []string
	next  int
}

func newRoundLog(capacity int) *roundLog {
	if capacity <= 0 {
		capacity = decisionRetention
	}
	return &roundLog{
		cap:   capacity,
		byID:  make(map[string]decision, capacity),
		order: make([]string, capacity),
	}
}

func (l *roundLog) add(id string, d decision) {
	if _, ok := l.byID[id]; ok {
		l.byID[id] = d
		return
	}
	if evicted := l.order[l.next]; evicted != "" {
		delete(l.byID, evicted)
	}
	l.order[l.next] = id
	l.next = (l.next + 1) % l.cap
	l.byID[id] = d
}

func (l *roundLog) get(id string) (decision, bool) {
	d, ok := l.byID[id]
	return d, ok
}

// voteMsg is one participant's vote as routed to the coordinator.
type voteMsg struct {
	Peer   string
	Commit bool
	Reason string
}

// waiter fans a coordinator's inbound votes and acks into the blocked
// Propose call.
type waiter struct {
	votes chan voteMsg
	acks  chan string
}

// Protocol implements both roles of coordinator-driven two-phase
// commit. One instance serves a node: it coordinates rounds the local
// router starts and participates in rounds started elsewhere.
type Protocol struct {
	cfg    Config
	logger *zap.Logger
	store  state.Store
	reg    *merge.Registry
	send   Sender
	locks  *lockTable

	mu      sync.Mutex
	waiters map[string]*waiter    // coordinator: round ID -> vote/ack sinks
	pending map[string]*pendingOp // participant: round ID -> provisional op
	decided *roundLog             // participant: recent decisions
	journal *roundLog             // coordinator: recent decided rounds
}

// New builds the protocol.
func New(cfg Config, store state.Store, reg *merge.Registry, send Sender, logger *zap.Logger) *Protocol {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Protocol{
		cfg:     cfg,
		logger:  logger.Named("consensus"),
		store:   store,
		reg:     reg,
		send:    send,
		locks:   newLockTable(),
		waiters: make(map[string]*waiter),
		pending: make(map[string]*pendingOp),
		decided: newRoundLog(0),
		journal: newRoundLog(0),
	}
}

// KeyLocked reports whether key is currently under a provisional
// lock. Exposed for conflict checks and tests.
func (p *Protocol) KeyLocked(key string) bool {
	_, held := p.locks.Holder(key)
	return held
}

// applyCommitted folds a committed operation into local state. Rename
// moves the key inside the store; everything else goes through the
// merge registry.
func (p *Protocol) applyCommitted(o op.Operation) error {
	if o.Type == op.Rename {
		p.store.Rename(o.Key, o.Payload.NewKey)
		return nil
	}
	fn, err := p.reg.Lookup(o.Type)
	if err != nil {
		return fmt.Errorf("apply committed %s: %w", o.Type, err)
	}
	p.store.Apply(o.Key, o, fn)
	return nil
}
