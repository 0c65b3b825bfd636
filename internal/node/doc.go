// Package node assembles a running coordination node: transport,
// membership, gossip, consensus and the router facade, wired together
// from a config.Config. The daemon and the integration harness both
// build nodes through this package.
package node
