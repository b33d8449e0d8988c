// Package expr provides the typed expression algebra used to build criteria
// queries: roots, joins and attribute paths resolved against a mapping
// registry, literals and parameters, predicates, aggregates, orderings and
// compound selections. Every node declares its type, and incompatible
// operands are rejected when the node is built.
package expr

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-lang/persistence/internal/orm/schema"
)

// TypeKind classifies a Type
type TypeKind int

const (
	KindUnknown TypeKind = iota
	KindScalar
	KindEntity
	KindTuple
	KindArray
	KindObject
)

// Type is the declared type of an expression or selection
type Type struct {
	Kind      TypeKind
	Primitive schema.PrimitiveType // KindScalar
	Name      string               // entity name (KindEntity) or constructed type name (KindObject)
}

// Scalar returns the type of a column value
func Scalar(p schema.PrimitiveType) Type {
	return Type{Kind: KindScalar, Primitive: p}
}

// EntityType returns the type of an entity-valued expression
func EntityType(name string) Type {
	return Type{Kind: KindEntity, Name: name}
}

// Boolean is the type of every predicate
var Boolean = Scalar(schema.TypeBool)

// String returns the string representation of the type
func (t Type) String() string {
	switch t.Kind {
	case KindScalar:
		return t.Primitive.String()
	case KindEntity:
		return "entity " + t.Name
	case KindTuple:
		return "tuple"
	case KindArray:
		return "array"
	case KindObject:
		return "object " + t.Name
	default:
		return "unknown"
	}
}

// IsBoolean reports whether the type is the boolean scalar
func (t Type) IsBoolean() bool {
	return t.Kind == KindScalar && t.Primitive == schema.TypeBool
}

// IsNumeric reports whether the type is a numeric scalar
func (t Type) IsNumeric() bool {
	return t.Kind == KindScalar && t.Primitive.IsNumeric()
}

// IsText reports whether the type is a text scalar
func (t Type) IsText() bool {
	return t.Kind == KindScalar && t.Primitive.IsText()
}

// Orderable reports whether values of the type have a natural order
func (t Type) Orderable() bool {
	return t.Kind == KindScalar && (t.Primitive.IsNumeric() || t.Primitive.IsText() || t.Primitive.IsTemporal())
}

// family groups primitives whose values can be compared with each other
func family(p schema.PrimitiveType) int {
	switch {
	case p.IsNumeric():
		return 1
	case p.IsText():
		return 2
	case p == schema.TypeTimestamp || p == schema.TypeDate:
		return 3
	default:
		return 10 + int(p)
	}
}

// Comparable reports whether values of both types can be tested for equality
func Comparable(a, b Type) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindScalar:
		return family(a.Primitive) == family(b.Primitive)
	case KindEntity:
		return a.Name == b.Name
	default:
		return false
	}
}

// TypeOf infers the type of a Go value. Unsupported values have KindUnknown.
func TypeOf(v any) Type {
	switch v.(type) {
	case string:
		return Scalar(schema.TypeString)
	case bool:
		return Boolean
	case int, int8, int16, int32, uint8, uint16:
		return Scalar(schema.TypeInt)
	case int64, uint, uint32, uint64:
		return Scalar(schema.TypeBigInt)
	case float32, float64:
		return Scalar(schema.TypeFloat)
	case time.Time:
		return Scalar(schema.TypeTimestamp)
	case uuid.UUID:
		return Scalar(schema.TypeUUID)
	case json.RawMessage:
		return Scalar(schema.TypeJSON)
	case []byte:
		return Scalar(schema.TypeBytes)
	default:
		return Type{}
	}
}
