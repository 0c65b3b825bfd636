// Package consensus implements the coordinated path: a
// coordinator-driven two-phase protocol (prepare/vote, commit/ack)
// that gives a generic operation all-or-nothing application across its
// participant set. Participants guard the operation's key with a
// provisional lock between voting commit and hearing the decision;
// rounds on the same key serialize on that lock, rounds on different
// keys run in parallel.
//
// A participant that voted commit and never hears a decision blocks
// holding its lock. That is the classic two-phase-commit limitation,
// kept deliberately; the optional ParticipantAbortAfter bound is the
// only mitigation offered, and there is no cooperative termination
// protocol.
package consensus
