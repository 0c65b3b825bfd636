package membership

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is a peer's connection state as this node sees it.
type Status int

const (
	// Connecting means the peer is known but no traffic has confirmed
	// it yet.
	Connecting Status = iota
	// Connected means the peer recently answered a probe or carried
	// traffic.
	Connected
	// Unreachable means probes fail or the connection dropped. The
	// peer stays in the table and is re-probed.
	Unreachable
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Peer is one row of the membership table.
type Peer struct {
	ID       string
	Addr     string
	Status   Status
	LastSeen time.Time
}

// PingFunc probes one peer; it should send a PING and report transport
// failure. PING and PONG carry no operation semantics.
type PingFunc func(peerID string) error

// Manager tracks the known peers and their liveness. The table is
// read-mostly: snapshots for fan-out and participant selection take a
// read lock, updates a narrow write lock.
type Manager struct {
	mu    sync.RWMutex
	local string
	peers map[string]*Peer

	probeInterval    time.Duration
	unreachableAfter time.Duration

	logger *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds an empty membership table for the local node.
func NewManager(localID string, probeInterval, unreachableAfter time.Duration, logger *zap.Logger) *Manager {
	if probeInterval <= 0 {
		probeInterval = time.Second
	}
	if unreachableAfter <= 0 {
		unreachableAfter = 3 * probeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		local:            localID,
		peers:            make(map[string]*Peer),
		probeInterval:    probeInterval,
		unreachableAfter: unreachableAfter,
		logger:           logger.Named("membership"),
	}
}

// Add registers a peer. Known peers keep their state.
func (m *Manager) Add(id, addr string) {
	if id == m.local {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[id]; ok {
		return
	}
	m.peers[id] = &Peer{ID: id, Addr: addr, Status: Connecting, LastSeen: time.Now()}
	m.logger.Info("peer joined", zap.String("peer", id), zap.String("addr", addr))
}

// Remove drops a peer from the table.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[id]; ok {
		delete(m.peers, id)
		m.logger.Info("peer left", zap.String("peer", id))
	}
}

// Peers returns a sorted snapshot of peer IDs that are not known to be
// unreachable. Gossip fan-out and consensus participant selection both
// read this.
func (m *Manager) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.peers))
	for id, p := range m.peers {
		if p.Status != Unreachable {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// All returns the full table, unreachable peers included.
func (m *Manager) All() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Addr returns the dial address recorded for a peer.
func (m *Manager) Addr(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	if !ok {
		return "", false
	}
	return p.Addr, true
}

// SetStatus transitions a peer and logs the change. Wired to the
// transport's connection listener and to PONG receipt.
func (m *Manager) SetStatus(id string, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok || p.Status == s {
		return
	}
	m.logger.Info("peer status changed",
		zap.String("peer", id),
		zap.String("from", p.Status.String()),
		zap.String("to", s.String()))
	p.Status = s
	if s == Connected {
		p.LastSeen = time.Now()
	}
}

// ObservePong refreshes a peer's liveness after it answered a probe.
func (m *Manager) ObservePong(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		return
	}
	p.LastSeen = time.Now()
	if p.Status != Connected {
		m.logger.Info("peer recovered", zap.String("peer", id))
		p.Status = Connected
	}
}

// Start runs the probe loop: each tick pings one random peer and then
// sweeps for peers whose last sign of life is too old.
func (m *Manager) Start(ping PingFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeOne(ping)
				m.sweep()
			}
		}
	}()
}

// Stop terminates the probe loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) probeOne(ping PingFunc) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	if len(ids) == 0 {
		return
	}

	target := ids[rand.Intn(len(ids))]
	if err := ping(target); err != nil {
		m.logger.Debug("probe failed", zap.String("peer", target), zap.Error(err))
		m.SetStatus(target, Unreachable)
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.peers {
		if p.Status == Connected && now.Sub(p.LastSeen) > m.unreachableAfter {
			m.logger.Info("peer silent too long, marking unreachable",
				zap.String("peer", id),
				zap.Duration("silence", now.Sub(p.LastSeen)))
			p.Status = Unreachable
		}
	}
}
