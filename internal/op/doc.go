// Package op defines the operation model and the coordination
// classifier. An Operation is a typed, immutable description of a state
// change; the Classifier decides per operation type whether it can be
// propagated coordination-free (semilattice or abelian algebra) or must
// go through a consensus round (generic).
package op
