// Package membership tracks the cluster's peers and their liveness.
// PING/PONG probes drive peer state between connecting, connected and
// unreachable; the resulting snapshot feeds gossip fan-out and
// consensus participant selection.
package membership
