package criteria

import (
	"github.com/conduit-lang/persistence/internal/orm/expr"
)

// ResultKind selects how result rows are assembled
type ResultKind int

const (
	// ResultObject yields the raw value for one selection, an array otherwise
	ResultObject ResultKind = iota
	// ResultTuple yields one tuple per row
	ResultTuple
	// ResultArray yields one array of the element type per row
	ResultArray
	// ResultConstruct passes each row to a constructor of a user type
	ResultConstruct
)

// String returns the string representation of the result kind
func (k ResultKind) String() string {
	switch k {
	case ResultObject:
		return "object"
	case ResultTuple:
		return "tuple"
	case ResultArray:
		return "array"
	case ResultConstruct:
		return "construct"
	default:
		return "unknown"
	}
}

// ResultType is the declared result type of a query
type ResultType struct {
	Kind         ResultKind
	Elem         expr.Type // element type of ResultArray
	Name         string    // user type name of ResultConstruct
	Constructors []Constructor
}

// ObjectResult declares an unspecified result type
func ObjectResult() ResultType {
	return ResultType{Kind: ResultObject}
}

// TupleResult declares a tuple result type
func TupleResult() ResultType {
	return ResultType{Kind: ResultTuple}
}

// ArrayResult declares an array-of-elem result type
func ArrayResult(elem expr.Type) ResultType {
	return ResultType{Kind: ResultArray, Elem: elem}
}

// ConstructResult declares a user result type built by one of the given constructors
func ConstructResult(name string, constructors ...Constructor) ResultType {
	return ResultType{Kind: ResultConstruct, Name: name, Constructors: constructors}
}

// String returns the string representation of the result type
func (r ResultType) String() string {
	switch r.Kind {
	case ResultArray:
		return r.Elem.String() + "[]"
	case ResultConstruct:
		return r.Name
	default:
		return r.Kind.String()
	}
}

// Constructor builds a user type from positional selection values
type Constructor struct {
	Params []expr.Type
	New    func(args ...any) (any, error)
}

// accepts reports whether the constructor takes values of the given types.
// Exact matches only unless loose, where comparable types are accepted too.
func (c Constructor) accepts(types []expr.Type, loose bool) bool {
	if len(c.Params) != len(types) {
		return false
	}
	for i, p := range c.Params {
		if p == types[i] {
			continue
		}
		if !loose || !expr.Comparable(p, types[i]) {
			return false
		}
	}
	return true
}

// MatchConstructor selects the constructor whose parameters match the types
// positionally, preferring an exact match over a compatible one
func MatchConstructor(name string, constructors []Constructor, types []expr.Type) (*Constructor, error) {
	for _, loose := range []bool{false, true} {
		for i := range constructors {
			if constructors[i].accepts(types, loose) {
				return &constructors[i], nil
			}
		}
	}
	return nil, &ConstructionError{Type: name, Types: types}
}
