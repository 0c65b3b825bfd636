// Package transport manages the stream connections between cluster
// peers: an accept loop per node, a read and a write loop per
// connection, lazy dialing with backoff, and transport-level answers
// for bare liveness probes. Protocols send through Send and receive
// through the installed Handler; they never touch sockets.
package transport
