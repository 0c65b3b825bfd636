// Package gossip implements the coordination-free dissemination path:
// operations with semilattice or abelian algebra apply locally at once
// and spread to peers by bounded epidemic broadcast. Envelope IDs drive
// deduplication, hop counts bound retransmission, failed sends retry on
// a best-effort schedule, and a periodic digest exchange lets peers
// recover broadcasts they missed. Convergence relies on the merge
// functions commuting, not on delivery order.
package gossip
