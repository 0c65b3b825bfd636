package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"ucl/internal/wire"
)

// syncWriter serializes frame writes onto one connection. The write
// loop and the read loop's control replies both emit frames; without
// the mutex their two-part writes could interleave on the stream.
type syncWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *syncWriter) write(env wire.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return wire.Write(w.conn, env)
}

// peerConn is a live connection to one peer: a buffered send queue
// drained by a write loop, and a read loop feeding the handler. It is
// owned exclusively by the Transport.
type peerConn struct {
	peer      string
	conn      net.Conn
	w         *syncWriter
	sendq     chan wire.Envelope
	done      chan struct{}
	closeOnce sync.Once
	lastSeen  time.Time
}

func (t *Transport) newPeerConn(peer string, conn net.Conn) *peerConn {
	pc := &peerConn{
		peer:     peer,
		conn:     conn,
		w:        &syncWriter{conn: conn},
		sendq:    make(chan wire.Envelope, t.cfg.SendQueueLen),
		done:     make(chan struct{}),
		lastSeen: time.Now(),
	}
	t.wg.Add(2)
	go t.writeLoop(pc)
	go t.readLoop(pc)
	return pc
}

func (pc *peerConn) close() {
	pc.closeOnce.Do(func() {
		close(pc.done)
		pc.conn.Close()
	})
}

func (t *Transport) writeLoop(pc *peerConn) {
	defer t.wg.Done()
	for {
		select {
		case env := <-pc.sendq:
			if err := pc.w.write(env); err != nil {
				t.logger.Warn("write failed, dropping connection",
					zap.String("peer", pc.peer), zap.Error(err))
				pc.close()
				t.dropConn(pc.peer, pc)
				return
			}
		case <-pc.done:
			return
		}
	}
}

func (t *Transport) readLoop(pc *peerConn) {
	defer t.wg.Done()
	defer pc.close()
	defer t.dropConn(pc.peer, pc)

	for {
		env, err := wire.Read(pc.conn, t.cfg.MaxFrame)
		if err != nil {
			if !errors.Is(err, wire.ErrConnectionClosed) {
				t.logger.Warn("read failed",
					zap.String("peer", pc.peer), zap.Error(err))
			}
			return
		}
		pc.lastSeen = time.Now()
		if t.answerControl(pc.w, env) {
			if env.Kind == wire.Shutdown {
				return
			}
			continue
		}
		t.dispatch(pc.peer, env)
	}
}

// acceptLoop serves inbound connections. Their peer identity is not
// known at the transport level; structured envelopes carry the sender.
func (t *Transport) acceptLoop(ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Error("accept failed", zap.Error(err))
			}
			return
		}
		t.wg.Add(1)
		go t.serveInbound(conn)
	}
}

func (t *Transport) serveInbound(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	w := &syncWriter{conn: conn}
	for {
		env, err := wire.Read(conn, t.cfg.MaxFrame)
		if err != nil {
			if !errors.Is(err, wire.ErrConnectionClosed) {
				t.logger.Warn("inbound read failed",
					zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}
		if t.answerControl(w, env) {
			if env.Kind == wire.Shutdown {
				return
			}
			continue
		}
		t.dispatch("", env)
	}
}

// answerControl handles bare control frames at the transport level and
// reports whether the envelope was consumed. PREP answers VOTE, COMT
// answers ACKK, PING answers PONG, SHUT terminates the read loop.
// Structured envelopes of the same kinds belong to the protocols and
// pass through, except PING which is always liveness-only.
func (t *Transport) answerControl(w *syncWriter, env wire.Envelope) bool {
	switch env.Kind {
	case wire.Shutdown:
		return true
	case wire.Ping:
		reply := wire.Envelope{Kind: wire.Pong, Sender: t.cfg.NodeID}
		if env.Bare() {
			reply = wire.Control(wire.Pong)
		}
		if err := w.write(reply); err != nil {
			t.logger.Debug("pong write failed", zap.Error(err))
		}
		return true
	case wire.Prepare:
		if !env.Bare() {
			return false
		}
		if err := w.write(wire.Control(wire.Vote)); err != nil {
			t.logger.Debug("vote probe reply failed", zap.Error(err))
		}
		return true
	case wire.Commit:
		if !env.Bare() {
			return false
		}
		if err := w.write(wire.Control(wire.Ack)); err != nil {
			t.logger.Debug("ack probe reply failed", zap.Error(err))
		}
		return true
	default:
		return false
	}
}
