package consensus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ucl/internal/metrics"
	"ucl/internal/op"
	"ucl/internal/wire"
)

// ErrNoParticipants reports a propose call with an empty participant
// set and no local vote to fall back on.
var ErrNoParticipants = errors.New("consensus round needs at least one participant")

// Result is a round's terminal outcome as seen by the coordinator.
type Result struct {
	RoundID   string
	Committed bool
	Reason    string
}

// Propose runs one round as coordinator: prepare the local key, fan
// PREPARE out to the remote participants, collect votes until the
// deadline, then drive the commit or abort decision to every
// participant. The call blocks until the round reaches a terminal
// phase; a deadline with missing votes aborts rather than hangs.
//
// The coordinator always participates: its own provisional lock and
// vote are taken before any network traffic, so a locally conflicting
// round aborts immediately.
func (p *Protocol) Propose(ctx context.Context, o op.Operation, participants []string) (Result, error) {
	roundID := uuid.NewString()
	res := Result{RoundID: roundID}
	log := p.logger.With(zap.String("round", roundID), zap.String("key", o.Key))

	remotes := make([]string, 0, len(participants))
	for _, id := range participants {
		if id != p.cfg.NodeID {
			remotes = append(remotes, id)
		}
	}

	// Local prepare. Failing to lock our own key is an immediate abort;
	// nothing was sent yet, so nobody else needs an ABORT.
	if !p.locks.TryAcquire(o.Key, roundID) {
		metrics.RoundsTotal.WithLabelValues("aborted").Inc()
		res.Reason = "key locked by another round"
		log.Info("round aborted before prepare", zap.String("reason", res.Reason))
		return res, nil
	}
	defer p.locks.Release(o.Key, roundID)

	if len(remotes) == 0 && len(participants) == 0 {
		return res, ErrNoParticipants
	}

	w := &waiter{
		votes: make(chan voteMsg, len(remotes)+1),
		acks:  make(chan string, len(remotes)+1),
	}
	p.mu.Lock()
	p.waiters[roundID] = w
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waiters, roundID)
		p.mu.Unlock()
	}()

	log.Info("round preparing", zap.Int("participants", len(remotes)+1))
	prep, err := wire.NewEnvelope(wire.Prepare, p.cfg.NodeID, wire.PrepareBody{RoundID: roundID, Op: o})
	if err != nil {
		p.abortRound(log, roundID, o, remotes, w)
		res.Reason = "encode prepare: " + err.Error()
		return res, err
	}
	for _, id := range remotes {
		if err := p.send.Send(id, prep); err != nil {
			// An unreachable participant simply never votes; the
			// deadline decides the round.
			log.Warn("prepare not delivered", zap.String("peer", id), zap.Error(err))
		}
	}

	commitVotes := 1 // our own provisional lock is our commit vote
	needed := p.votesNeeded(len(remotes) + 1)

	deadline := time.NewTimer(p.cfg.VoteTimeout)
	defer deadline.Stop()

	votesIn := 0
collect:
	for votesIn < len(remotes) {
		select {
		case v := <-w.votes:
			votesIn++
			if !v.Commit {
				res.Reason = "participant voted abort: " + v.Reason
				p.abortRound(log, roundID, o, remotes, w)
				metrics.RoundsTotal.WithLabelValues("aborted").Inc()
				return res, nil
			}
			commitVotes++
			if p.cfg.Quorum == QuorumMajority && commitVotes >= needed {
				break collect
			}
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			res.Reason = "canceled: " + ctx.Err().Error()
			p.abortRound(log, roundID, o, remotes, w)
			metrics.RoundsTotal.WithLabelValues("aborted").Inc()
			return res, nil
		}
	}

	if commitVotes < needed {
		res.Reason = "deadline with missing votes"
		p.abortRound(log, roundID, o, remotes, w)
		metrics.RoundsTotal.WithLabelValues("timeout").Inc()
		return res, nil
	}

	// Decision: commit. Journal it, apply locally, then push the
	// decision until every remote acknowledged or the retry budget
	// runs out.
	p.mu.Lock()
	p.journal.add(roundID, decision{commit: true, op: o})
	p.mu.Unlock()

	log.Info("round committing")
	if err := p.applyCommitted(o); err != nil {
		log.Error("local apply failed after commit decision", zap.Error(err))
	}
	p.retransmitDecision(log, roundID, o, true, remotes, w)

	metrics.RoundsTotal.WithLabelValues("committed").Inc()
	res.Committed = true
	log.Info("round committed")
	return res, nil
}

// votesNeeded maps the quorum policy onto a vote threshold for n total
// participants (coordinator included).
func (p *Protocol) votesNeeded(n int) int {
	if p.cfg.Quorum == QuorumMajority {
		return n/2 + 1
	}
	return n
}

// abortRound journals the abort and drives it to every remote
// participant with the same at-least-once retransmission commits get:
// a commit-voted participant that misses the decision would otherwise
// hold its provisional lock with the coordinator still alive. Sending
// to all remotes rather than just the recorded commit voters covers
// the race where a commit vote is still in flight when the abort
// decision is made; a participant that never locked the key ignores
// the unknown round.
func (p *Protocol) abortRound(log *zap.Logger, roundID string, o op.Operation, remotes []string, w *waiter) {
	p.mu.Lock()
	p.journal.add(roundID, decision{commit: false, op: o})
	p.mu.Unlock()

	log.Info("round aborting", zap.Int("participants", len(remotes)))
	p.retransmitDecision(log, roundID, o, false, remotes, w)
}

// retransmitDecision sends the decision to every remote and re-sends
// to non-responders until all acknowledged or the bound is hit.
// Decisions, once made, must eventually reach every participant so
// provisional locks release; this is the at-least-once leg of the
// protocol, shared by commits and aborts.
func (p *Protocol) retransmitDecision(log *zap.Logger, roundID string, o op.Operation, commit bool, remotes []string, w *waiter) {
	kind := wire.Commit
	if !commit {
		kind = wire.Abort
	}
	env, err := wire.NewEnvelope(kind, p.cfg.NodeID, wire.DecisionBody{RoundID: roundID, Commit: commit, Op: &o})
	if err != nil {
		log.Error("encode decision", zap.Error(err))
		return
	}

	awaiting := make(map[string]struct{}, len(remotes))
	for _, id := range remotes {
		awaiting[id] = struct{}{}
	}

	for attempt := 0; attempt <= p.cfg.DecisionRetryAttempts && len(awaiting) > 0; attempt++ {
		if attempt > 0 {
			time.Sleep(p.cfg.DecisionRetryInterval)
		}
		for id := range awaiting {
			if err := p.send.Send(id, env); err != nil {
				log.Debug("decision send failed", zap.String("peer", id), zap.Error(err))
			}
		}

		drain := time.NewTimer(p.cfg.DecisionRetryInterval)
		for len(awaiting) > 0 {
			select {
			case peer := <-w.acks:
				delete(awaiting, peer)
				continue
			case <-drain.C:
			}
			break
		}
		drain.Stop()
	}

	if len(awaiting) > 0 {
		missing := make([]string, 0, len(awaiting))
		for id := range awaiting {
			missing = append(missing, id)
		}
		log.Warn("decision unacknowledged after retries, abandoning retransmission",
			zap.Strings("peers", missing))
	}
}
