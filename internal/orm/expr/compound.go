package expr

import "fmt"

// Compound is a multi-valued selection: a tuple, an array or a constructor call
type Compound struct {
	Kind  TypeKind // KindTuple, KindArray or KindObject
	Name  string   // constructed type name for KindObject
	Items []Selection

	alias string
}

func (c *Compound) Alias() string { return c.alias }

// Type returns the tuple, array or object type of the compound
func (c *Compound) Type() Type {
	return Type{Kind: c.Kind, Name: c.Name}
}

func (c *Compound) withAlias(alias string) Selection {
	cp := *c
	cp.Items = append([]Selection(nil), c.Items...)
	cp.alias = alias
	return &cp
}

// Tuple groups selections into one tuple-valued selection
func Tuple(items ...Selection) (*Compound, error) {
	return compound(KindTuple, "", items)
}

// Array groups selections into one array-valued selection
func Array(items ...Selection) (*Compound, error) {
	return compound(KindArray, "", items)
}

// Construct groups selections passed positionally to a constructor of the
// named type
func Construct(name string, items ...Selection) (*Compound, error) {
	if name == "" {
		return nil, &InvalidSelectionError{Reason: "constructed type name is required"}
	}
	return compound(KindObject, name, items)
}

func compound(kind TypeKind, name string, items []Selection) (*Compound, error) {
	if err := CheckFlat(items); err != nil {
		return nil, err
	}
	return &Compound{Kind: kind, Name: name, Items: append([]Selection(nil), items...)}, nil
}

// IsCompound reports whether a selection is multi-valued
func IsCompound(s Selection) bool {
	_, ok := s.(*Compound)
	return ok
}

// CheckFlat checks sibling selections: none may be nil or compound, and
// non-empty aliases must be distinct
func CheckFlat(items []Selection) error {
	for i, item := range items {
		if IsNil(item) {
			return &InvalidSelectionError{Position: i, Reason: "selection is nil"}
		}
		if c, ok := item.(*Compound); ok {
			return &InvalidSelectionError{
				Position: i,
				Reason:   fmt.Sprintf("%s selection cannot be nested in a flat selection list", c.Type()),
			}
		}
	}
	return CheckAliases(items)
}

// CheckAliases reports the first alias shared by two sibling selections
func CheckAliases(items []Selection) error {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		alias := item.Alias()
		if alias == "" {
			continue
		}
		if seen[alias] {
			return &AliasConflictError{Alias: alias}
		}
		seen[alias] = true
	}
	return nil
}
