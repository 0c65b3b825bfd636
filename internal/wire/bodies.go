package wire

import "ucl/internal/op"

// GossipBody carries a coordination-free operation plus the remaining
// re-broadcast budget.
type GossipBody struct {
	Op   op.Operation `json:"op"`
	Hops int          `json:"hops"`
}

// PrepareBody opens a consensus round for an operation.
type PrepareBody struct {
	RoundID string       `json:"round_id"`
	Op      op.Operation `json:"op"`
}

// VoteBody answers a prepare.
type VoteBody struct {
	RoundID string `json:"round_id"`
	Commit  bool   `json:"commit"`
	Reason  string `json:"reason,omitempty"`
}

// DecisionBody delivers the coordinator's commit or abort decision.
// Commits carry the operation so a participant that missed the prepare
// can still apply it.
type DecisionBody struct {
	RoundID string        `json:"round_id"`
	Commit  bool          `json:"commit"`
	Op      *op.Operation `json:"op,omitempty"`
}

// AckBody confirms a participant processed a decision.
type AckBody struct {
	RoundID string `json:"round_id"`
}

// DigestBody is the anti-entropy exchange: the message IDs a node has
// recently seen, so a peer can detect and re-deliver missed broadcasts.
type DigestBody struct {
	Seen []string `json:"seen"`
}
