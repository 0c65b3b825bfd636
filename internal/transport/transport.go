package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"ucl/internal/metrics"
	"ucl/internal/wire"
)

// ErrPeerUnreachable reports that a peer could not be dialed or its
// send queue is wedged. Callers own the retry policy: gossip retries
// best-effort and bounded, consensus retries decisions until
// acknowledged or the round is abandoned.
var ErrPeerUnreachable = errors.New("peer unreachable")

// Handler receives every inbound envelope. remote is the peer ID the
// connection is bound to, or empty for anonymous inbound connections
// (structured envelopes name their sender themselves). Handlers run on
// the connection's read loop and must not block for long.
type Handler func(remote string, env wire.Envelope)

// ConnListener observes peer connection state changes, feeding the
// membership manager.
type ConnListener func(peer string, connected bool)

// Config carries transport tuning.
type Config struct {
	NodeID           string
	ListenAddr       string
	MaxFrame         uint32
	DialTimeout      time.Duration
	ReconnectBackoff time.Duration
	SendQueueLen     int
}

func (c *Config) withDefaults() {
	if c.MaxFrame == 0 {
		c.MaxFrame = wire.DefaultMaxFrame
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = time.Second
	}
	if c.SendQueueLen == 0 {
		c.SendQueueLen = 128
	}
}

// Transport owns every peer connection: one accept loop for the
// listener, one read and one write loop per connection. Protocols only
// touch connections through Send and the Handler.
type Transport struct {
	cfg     Config
	logger  *zap.Logger
	handler Handler

	mu       sync.Mutex
	addrs    map[string]string    // peer ID -> dial address
	conns    map[string]*peerConn // live outbound connections
	lastDial map[string]time.Time // failed-dial backoff gate
	onState  ConnListener
	ln       net.Listener
	closed   bool

	wg sync.WaitGroup
}

// New builds a transport. The handler may be nil until Start.
func New(cfg Config, handler Handler, logger *zap.Logger) *Transport {
	cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		cfg:      cfg,
		logger:   logger.Named("transport"),
		handler:  handler,
		addrs:    make(map[string]string),
		conns:    make(map[string]*peerConn),
		lastDial: make(map[string]time.Time),
	}
}

// SetHandler installs the inbound dispatch function.
func (t *Transport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// SetConnListener installs the connection state observer.
func (t *Transport) SetConnListener(l ConnListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = l
}

// AddPeer records a peer's dial address.
func (t *Transport) AddPeer(id, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrs[id] = addr
}

// RemovePeer forgets a peer and drops any live connection to it.
func (t *Transport) RemovePeer(id string) {
	t.mu.Lock()
	pc := t.conns[id]
	delete(t.addrs, id)
	delete(t.conns, id)
	delete(t.lastDial, id)
	t.mu.Unlock()
	if pc != nil {
		pc.close()
	}
}

// Start begins listening and accepting peer connections.
func (t *Transport) Start() error {
	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.cfg.ListenAddr, err)
	}
	t.mu.Lock()
	t.ln = ln
	t.mu.Unlock()

	t.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	t.wg.Add(1)
	go t.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address, useful when the config asked
// for an ephemeral port.
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return t.cfg.ListenAddr
	}
	return t.ln.Addr().String()
}

// Stop closes the listener and every connection and waits for the
// loops to drain.
func (t *Transport) Stop() {
	t.mu.Lock()
	t.closed = true
	ln := t.ln
	conns := make([]*peerConn, 0, len(t.conns))
	for _, pc := range t.conns {
		conns = append(conns, pc)
	}
	t.conns = make(map[string]*peerConn)
	t.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, pc := range conns {
		pc.close()
		metrics.ConnectedPeers.Dec()
	}
	t.wg.Wait()
}

// Send queues env for delivery to peer, dialing if no connection is
// live. Dial failures and a wedged send queue surface as
// ErrPeerUnreachable; write failures tear the connection down and the
// next Send redials.
func (t *Transport) Send(peer string, env wire.Envelope) error {
	pc, err := t.connTo(peer)
	if err != nil {
		metrics.TransportSendFailuresTotal.Inc()
		return err
	}
	select {
	case pc.sendq <- env:
		return nil
	case <-pc.done:
		metrics.TransportSendFailuresTotal.Inc()
		return fmt.Errorf("%w: %s connection closed", ErrPeerUnreachable, peer)
	default:
		metrics.TransportSendFailuresTotal.Inc()
		return fmt.Errorf("%w: %s send queue full", ErrPeerUnreachable, peer)
	}
}

func (t *Transport) connTo(peer string) (*peerConn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: transport stopped", ErrPeerUnreachable)
	}
	if pc, ok := t.conns[peer]; ok {
		t.mu.Unlock()
		return pc, nil
	}
	addr, ok := t.addrs[peer]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: unknown peer %s", ErrPeerUnreachable, peer)
	}
	if last, ok := t.lastDial[peer]; ok && time.Since(last) < t.cfg.ReconnectBackoff {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s in dial backoff", ErrPeerUnreachable, peer)
	}
	t.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, t.cfg.DialTimeout)
	if err != nil {
		metrics.TransportDialsTotal.WithLabelValues("error").Inc()
		t.mu.Lock()
		t.lastDial[peer] = time.Now()
		t.mu.Unlock()
		t.notifyState(peer, false)
		return nil, fmt.Errorf("%w: dial %s (%s): %v", ErrPeerUnreachable, peer, addr, err)
	}
	metrics.TransportDialsTotal.WithLabelValues("ok").Inc()

	pc := t.newPeerConn(peer, conn)
	t.mu.Lock()
	if existing, ok := t.conns[peer]; ok {
		// Lost the dial race; keep the existing connection.
		t.mu.Unlock()
		pc.close()
		return existing, nil
	}
	t.conns[peer] = pc
	delete(t.lastDial, peer)
	t.mu.Unlock()

	metrics.ConnectedPeers.Inc()
	t.notifyState(peer, true)
	return pc, nil
}

func (t *Transport) dropConn(peer string, pc *peerConn) {
	t.mu.Lock()
	if t.conns[peer] == pc {
		delete(t.conns, peer)
		t.mu.Unlock()
		metrics.ConnectedPeers.Dec()
		t.notifyState(peer, false)
		return
	}
	t.mu.Unlock()
}

func (t *Transport) notifyState(peer string, connected bool) {
	t.mu.Lock()
	l := t.onState
	t.mu.Unlock()
	if l != nil {
		l(peer, connected)
	}
}

func (t *Transport) dispatch(remote string, env wire.Envelope) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(remote, env)
	}
}
