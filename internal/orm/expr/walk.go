package expr

import "reflect"

// Children returns the direct operands of a selection
func Children(s Selection) []Selection {
	switch n := s.(type) {
	case *Comparison:
		return []Selection{n.Left, n.Right}
	case *Range:
		return []Selection{n.Operand, n.Lower, n.Upper}
	case *Membership:
		out := []Selection{n.Operand}
		for _, v := range n.Values {
			out = append(out, v)
		}
		return out
	case *NullCheck:
		return []Selection{n.Operand}
	case *BooleanTest:
		return []Selection{n.Operand}
	case *Junction:
		out := make([]Selection, len(n.Predicates))
		for i, p := range n.Predicates {
			out[i] = p
		}
		return out
	case *Negation:
		return []Selection{n.Operand}
	case *Aggregate:
		return []Selection{n.Arg}
	case *Compound:
		return n.Items
	default:
		return nil
	}
}

// Walk visits s and its operands depth-first. Returning false from fn skips
// the operands of the visited node.
func Walk(s Selection, fn func(Selection) bool) {
	if IsNil(s) {
		return
	}
	if !fn(s) {
		return
	}
	for _, child := range Children(s) {
		Walk(child, fn)
	}
}

// CollectParameters returns every parameter reachable from the given
// selections, once per key, in order of first appearance
func CollectParameters(selections ...Selection) []*Parameter {
	var params []*Parameter
	seen := make(map[string]bool)
	for _, s := range selections {
		Walk(s, func(node Selection) bool {
			if p, ok := node.(*Parameter); ok && !seen[p.Key()] {
				seen[p.Key()] = true
				params = append(params, p)
			}
			return true
		})
	}
	return params
}

// CheckParameters fails when two parameters reachable from the given
// selections share a key but declare different types
func CheckParameters(selections ...Selection) error {
	declared := make(map[string]Type)
	var err error
	for _, s := range selections {
		Walk(s, func(node Selection) bool {
			if err != nil {
				return false
			}
			p, ok := node.(*Parameter)
			if !ok {
				return true
			}
			if t, seen := declared[p.Key()]; seen && t != p.Type() {
				err = mismatch("parameter "+p.Key(), t, p.Type(), "parameter is declared with two types")
				return false
			}
			declared[p.Key()] = p.Type()
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// IsNil reports whether s is nil or a nil node pointer
func IsNil(s Selection) bool {
	if s == nil {
		return true
	}
	v := reflect.ValueOf(s)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
