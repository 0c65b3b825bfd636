package op

import (
	"go.uber.org/zap"
)

// Class is the coordination class an operation routes under.
type Class int

const (
	// Semilattice operations are commutative, associative and
	// idempotent (set union, max). They disseminate via gossip.
	Semilattice Class = iota
	// Abelian operations are commutative, associative and invertible
	// (signed counter deltas). They also disseminate via gossip.
	Abelian
	// Generic operations carry no algebraic guarantee and require a
	// total order, established by a consensus round.
	Generic
)

func (c Class) String() string {
	switch c {
	case Semilattice:
		return "semilattice"
	case Abelian:
		return "abelian"
	case Generic:
		return "generic"
	default:
		return "unknown"
	}
}

// Coordinated reports whether the class requires a consensus round.
func (c Class) Coordinated() bool {
	return c == Generic
}

// Classifier maps operation types to coordination classes using an
// immutable table fixed at construction. It is a pure total function:
// types missing from the table classify as Generic, which is the
// fail-safe direction (when in doubt, coordinate), and are logged.
type Classifier struct {
	table  map[Type]Class
	logger *zap.Logger
}

// DefaultTable returns the classification table for the built-in
// operation types.
func DefaultTable() map[Type]Class {
	return map[Type]Class{
		SetAdd:        Semilattice,
		MaxSet:        Semilattice,
		CounterAdd:    Abelian,
		ListAppend:    Generic,
		RegisterWrite: Generic,
		Rename:        Generic,
	}
}

// NewClassifier builds a classifier over table. The table is copied so
// later mutation by the caller cannot change classification behavior.
func NewClassifier(table map[Type]Class, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	copied := make(map[Type]Class, len(table))
	for t, c := range table {
		copied[t] = c
	}
	return &Classifier{table: copied, logger: logger.Named("classifier")}
}

// Classify returns the coordination class for t. Unknown types fall
// back to Generic; the fallback is logged as a warning because it makes
// the operation pay the coordination cost.
func (c *Classifier) Classify(t Type) Class {
	if class, ok := c.table[t]; ok {
		return class
	}
	c.logger.Warn("unknown operation kind, coordinating",
		zap.String("type", t.String()))
	return Generic
}
