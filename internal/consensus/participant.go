package consensus

import (
	"time"

	"go.uber.org/zap"

	"ucl/internal/wire"
)

// OnPrepare handles a coordinator's PREPARE: take the provisional lock
// and vote commit, or vote abort when another round already holds the
// key. The lock is held until this round's decision arrives (or the
// configured unilateral abort fires).
func (p *Protocol) OnPrepare(env wire.Envelope) {
	var body wire.PrepareBody
	if err := env.Decode(&body); err != nil {
		p.logger.Warn("bad prepare body", zap.Error(err))
		return
	}
	log := p.logger.With(zap.String("round", body.RoundID), zap.String("key", body.Op.Key))

	vote := wire.VoteBody{RoundID: body.RoundID, Commit: true}
	if p.locks.TryAcquire(body.Op.Key, body.RoundID) {
		pend := &pendingOp{roundID: body.RoundID, op: body.Op}
		if p.cfg.ParticipantAbortAfter > 0 {
			pend.timer = time.AfterFunc(p.cfg.ParticipantAbortAfter, func() {
				p.unilateralAbort(body.RoundID)
			})
		}
		p.mu.Lock()
		p.pending[body.RoundID] = pend
		p.mu.Unlock()
		log.Debug("voted commit, key locked")
	} else {
		holder, _ := p.locks.Holder(body.Op.Key)
		vote.Commit = false
		vote.Reason = "key locked by round " + holder
		log.Info("voted abort", zap.String("reason", vote.Reason))
	}

	reply, err := wire.NewEnvelope(wire.Vote, p.cfg.NodeID, vote)
	if err != nil {
		log.Error("encode vote", zap.Error(err))
		return
	}
	if err := p.send.Send(env.Sender, reply); err != nil {
		log.Warn("vote not delivered", zap.String("coordinator", env.Sender), zap.Error(err))
	}
}

// OnDecision handles COMMIT and ABORT: apply or discard the
// provisional operation, release the lock unconditionally, and
// acknowledge. Decisions are retransmitted at-least-once, so a
// duplicate re-acknowledges without re-applying.
func (p *Protocol) OnDecision(env wire.Envelope) {
	var body wire.DecisionBody
	if err := env.Decode(&body); err != nil {
		p.logger.Warn("bad decision body", zap.Error(err))
		return
	}
	commit := env.Kind == wire.Commit
	log := p.logger.With(zap.String("round", body.RoundID), zap.Bool("commit", commit))

	p.mu.Lock()
	pend, hasPending := p.pending[body.RoundID]
	_, alreadyDecided := p.decided.get(body.RoundID)
	if !alreadyDecided {
		p.decided.add(body.RoundID, decision{commit: commit})
	}
	if hasPending {
		delete(p.pending, body.RoundID)
	}
	p.mu.Unlock()

	switch {
	case alreadyDecided:
		log.Debug("duplicate decision, re-acking")
	case hasPending:
		if pend.timer != nil {
			pend.timer.Stop()
		}
		if commit {
			if err := p.applyCommitted(pend.op); err != nil {
				log.Error("apply failed", zap.Error(err))
			}
		}
		p.locks.Release(pend.op.Key, body.RoundID)
		log.Info("decision applied, lock released")
	case commit && body.Op != nil:
		// We never saw the prepare (or aborted unilaterally) but the
		// decision is commit: apply so the participant set stays
		// uniform.
		if err := p.applyCommitted(*body.Op); err != nil {
			log.Error("late apply failed", zap.Error(err))
		}
		log.Info("commit applied without prior prepare")
	default:
		log.Debug("decision for unknown round ignored")
	}

	ack, err := wire.NewEnvelope(wire.Ack, p.cfg.NodeID, wire.AckBody{RoundID: body.RoundID})
	if err != nil {
		return
	}
	if err := p.send.Send(env.Sender, ack); err != nil {
		log.Debug("ack not delivered", zap.String("coordinator", env.Sender), zap.Error(err))
	}
}

// OnVote routes a participant's vote to the coordinator goroutine
// blocked in Propose.
func (p *Protocol) OnVote(env wire.Envelope) {
	var body wire.VoteBody
	if err := env.Decode(&body); err != nil {
		p.logger.Warn("bad vote body", zap.Error(err))
		return
	}
	p.mu.Lock()
	w := p.waiters[body.RoundID]
	p.mu.Unlock()
	if w == nil {
		p.logger.Debug("vote for finished round", zap.String("round", body.RoundID))
		return
	}
	select {
	case w.votes <- voteMsg{Peer: env.Sender, Commit: body.Commit, Reason: body.Reason}:
	default:
	}
}

// OnAck routes a participant's decision acknowledgment to the
// coordinator.
func (p *Protocol) OnAck(env wire.Envelope) {
	var body wire.AckBody
	if err := env.Decode(&body); err != nil {
		p.logger.Warn("bad ack body", zap.Error(err))
		return
	}
	p.mu.Lock()
	w := p.waiters[body.RoundID]
	p.mu.Unlock()
	if w == nil {
		return
	}
	select {
	case w.acks <- env.Sender:
	default:
	}
}

// unilateralAbort fires when a participant held its provisional lock
// past the configured bound without hearing a decision. The pending
// effect is discarded and the lock released; if a commit decision
// arrives later anyway, OnDecision applies it from the carried
// operation.
func (p *Protocol) unilateralAbort(roundID string) {
	p.mu.Lock()
	pend, ok := p.pending[roundID]
	if ok {
		delete(p.pending, roundID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.locks.Release(pend.op.Key, roundID)
	p.logger.Warn("unilateral abort after decision timeout",
		zap.String("round", roundID), zap.String("key", pend.op.Key))
}
