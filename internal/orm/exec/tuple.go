package exec

import (
	"fmt"
)

// Tuple is one row of a tuple query. Elements are addressed by position or
// by the alias of the selection that produced them.
type Tuple struct {
	values  []any
	aliases []string
}

// NewTuple creates a tuple; aliases[i] names values[i] and may be empty
func NewTuple(values []any, aliases []string) *Tuple {
	return &Tuple{values: values, aliases: aliases}
}

// Get returns the element at position i
func (t *Tuple) Get(i int) (any, error) {
	if i < 0 || i >= len(t.values) {
		return nil, fmt.Errorf("%w: position %d of %d", ErrNoSuchElement, i, len(t.values))
	}
	return t.values[i], nil
}

// GetAlias returns the element selected under alias
func (t *Tuple) GetAlias(alias string) (any, error) {
	for i, a := range t.aliases {
		if a != "" && a == alias {
			return t.values[i], nil
		}
	}
	return nil, fmt.Errorf("%w: alias %q", ErrNoSuchElement, alias)
}

// Values returns a copy of the elements
func (t *Tuple) Values() []any {
	return append([]any(nil), t.values...)
}

// Len returns the number of elements
func (t *Tuple) Len() int {
	return len(t.values)
}
