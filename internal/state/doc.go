// Package state defines the State value operations merge into and the
// Store collaborator interface through which the coordination layer
// talks to the external storage engine.
package state
