package op

import (
	"encoding/json"
	"fmt"

	"ucl/internal/clock"
)

// Type identifies a state-changing operation. The set is closed:
// classification is an exhaustive table over these values, and anything
// outside the table coordinates (see Classifier).
type Type int

const (
	// SetAdd inserts members into a grow-only set.
	SetAdd Type = iota
	// MaxSet raises a register to the maximum of its current value and
	// the supplied one.
	MaxSet
	// CounterAdd applies a signed delta to a counter.
	CounterAdd
	// ListAppend appends bytes to an ordered list.
	ListAppend
	// RegisterWrite overwrites a register with the supplied bytes.
	RegisterWrite
	// Rename moves the state under Key to the key named in the payload.
	Rename
)

var typeNames = map[Type]string{
	SetAdd:        "set_add",
	MaxSet:        "max_set",
	CounterAdd:    "counter_add",
	ListAppend:    "list_append",
	RegisterWrite: "register_write",
	Rename:        "rename",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// ParseType maps a wire name back to a Type.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown operation type %q", s)
}

// MarshalJSON encodes the type by name so wire payloads stay readable
// and stable across enum reordering.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Payload carries the operation arguments. Only the fields relevant to
// the operation's Type are set.
type Payload struct {
	Members []string `json:"members,omitempty"` // SetAdd
	Value   int64    `json:"value,omitempty"`   // MaxSet
	Delta   int64    `json:"delta,omitempty"`   // CounterAdd
	Bytes   []byte   `json:"bytes,omitempty"`   // ListAppend, RegisterWrite
	NewKey  string   `json:"new_key,omitempty"` // Rename
}

// Operation describes a single state change. Instances are immutable
// once created; exactly one protocol path (gossip or consensus) ever
// processes a given instance.
type Operation struct {
	Type    Type              `json:"type"`
	Key     string            `json:"key"`
	Payload Payload           `json:"payload"`
	Origin  string            `json:"origin"`
	Clock   clock.VectorClock `json:"clock,omitempty"`
}

// New builds an operation stamped with the origin node and a copy of
// its current vector clock.
func New(t Type, key string, p Payload, origin string, vc clock.VectorClock) Operation {
	o := Operation{Type: t, Key: key, Payload: p, Origin: origin}
	if vc != nil {
		o.Clock = vc.Clone()
	}
	return o
}

func (o Operation) String() string {
	return fmt.Sprintf("%s(%s) from %s", o.Type, o.Key, o.Origin)
}
