// Package clock provides vector clocks for tracking causality between
// operations originating on different nodes. Clocks order events only
// partially: two operations with concurrent clocks have no causal
// relationship and may be merged in either order.
package clock
