package auth

import "strings"

// ActionSet is a bitset over the fixed four-symbol action alphabet of the
// legacy permission model: Include, Alter, Exclude, Query ("IAEC"). The legacy
// tables store it packed as a string; in memory it is a set so union and
// membership are native operations.
type ActionSet uint8

const (
	ActionInclude ActionSet = 1 << iota
	ActionAlter
	ActionExclude
	ActionQuery
)

// actionOrder fixes the canonical rendering order. Merged codes always come
// out in this order, so they are deterministic and comparable as strings.
var actionOrder = []struct {
	action ActionSet
	symbol byte
}{
	{ActionInclude, 'I'},
	{ActionAlter, 'A'},
	{ActionExclude, 'E'},
	{ActionQuery, 'C'},
}

// ParseActionSet reads a packed action code. Unknown symbols are dropped, not
// errored; duplicates collapse.
func ParseActionSet(code string) ActionSet {
	var set ActionSet
	for _, r := range strings.ToUpper(code) {
		switch r {
		case 'I':
			set |= ActionInclude
		case 'A':
			set |= ActionAlter
		case 'E':
			set |= ActionExclude
		case 'C':
			set |= ActionQuery
		}
	}
	return set
}

// Union returns the set containing every action of s and other.
func (s ActionSet) Union(other ActionSet) ActionSet { return s | other }

// Has reports whether every action in q is present in s.
func (s ActionSet) Has(q ActionSet) bool { return s&q == q }

// Empty reports whether no action is granted.
func (s ActionSet) Empty() bool { return s == 0 }

// String renders the set in the canonical I, A, E, C order. Only granted
// symbols appear.
func (s ActionSet) String() string {
	var b strings.Builder
	for _, entry := range actionOrder {
		if s&entry.action != 0 {
			b.WriteByte(entry.symbol)
		}
	}
	return b.String()
}
