// Package merge provides the per-operation-type combinators used to
// fold operations into per-key state, and the registry that binds them.
// Combinators for gossip-routed types must be commutative and
// associative; set union and max are additionally idempotent, counter
// deltas rely on envelope deduplication for duplicate safety.
package merge
