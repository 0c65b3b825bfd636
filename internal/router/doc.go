// Package router is the coordination layer's single entry point. Every
// application operation passes through Handle, which classifies it and
// dispatches to exactly one protocol path: semilattice and abelian
// operations go to gossip and return after the local apply, generic
// operations go to a consensus round and block until it commits or
// aborts. No operation is ever routed down both paths.
package router
