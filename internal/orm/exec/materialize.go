package exec

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/conduit-lang/persistence/internal/orm/criteria"
	"github.com/conduit-lang/persistence/internal/orm/expr"
	"github.com/conduit-lang/persistence/internal/orm/query"
	"github.com/conduit-lang/persistence/internal/orm/schema"
)

// Materialize assembles the rows of a rendered statement into results
// according to the descriptor's shape. Entity items become maps keyed by
// attribute name; scalar items are converted to the Go type of their
// expression type.
func Materialize(d *criteria.Descriptor, stmt *query.Statement, rows *sql.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	width := 0
	for _, w := range stmt.Widths {
		width += w
	}
	if len(columns) != width || len(stmt.Widths) != len(d.Items) {
		return nil, fmt.Errorf("%w: %d columns for %d projected columns", ErrResultShape, len(columns), width)
	}

	aliases := make([]string, len(d.Items))
	for i, item := range d.Items {
		aliases[i] = item.Alias()
	}

	results := []any{}
	for rows.Next() {
		raw := make([]any, width)
		ptrs := make([]any, width)
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		values, err := assembleItems(d, stmt, raw)
		if err != nil {
			return nil, err
		}
		result, err := shapeRow(d, values, aliases)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// assembleItems splits a scanned row into one value per projected item
func assembleItems(d *criteria.Descriptor, stmt *query.Statement, raw []any) ([]any, error) {
	values := make([]any, len(d.Items))
	offset := 0
	for i, item := range d.Items {
		w := stmt.Widths[i]
		if attrs := stmt.Attributes[i]; attrs != nil {
			record := make(map[string]any, len(attrs))
			for j, attr := range attrs {
				v, err := Convert(raw[offset+j], stmt.AttributeTypes[i][j])
				if err != nil {
					return nil, fmt.Errorf("attribute %s: %w", attr, err)
				}
				record[attr] = v
			}
			values[i] = record
		} else {
			v, err := Convert(raw[offset], item.Type())
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			values[i] = v
		}
		offset += w
	}
	return values, nil
}

func shapeRow(d *criteria.Descriptor, values []any, aliases []string) (any, error) {
	switch d.Shape {
	case criteria.ShapeTuple:
		return NewTuple(values, aliases), nil
	case criteria.ShapeConstruct:
		if d.Constructor == nil || d.Constructor.New == nil {
			return nil, &criteria.ConstructionError{Type: d.ResultType.Name}
		}
		v, err := d.Constructor.New(values...)
		if err != nil {
			return nil, &criteria.ConstructionError{Type: d.ResultType.Name, Types: d.Constructor.Params, Err: err}
		}
		return v, nil
	case criteria.ShapeArray:
		if d.ElemType.Kind == expr.KindUnknown {
			return values, nil
		}
		converted := make([]any, len(values))
		for i, v := range values {
			c, err := Convert(v, d.ElemType)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			converted[i] = c
		}
		return converted, nil
	default:
		return values[0], nil
	}
}

// Convert turns a scanned driver value into the Go type of t. Values of
// non-scalar types are returned unchanged, as is nil.
func Convert(v any, t expr.Type) (any, error) {
	if v == nil || t.Kind != expr.KindScalar {
		return v, nil
	}

	switch t.Primitive {
	case schema.TypeBytes:
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
		return v, nil
	case schema.TypeJSON:
		switch x := v.(type) {
		case []byte:
			return json.RawMessage(append([]byte(nil), x...)), nil
		case string:
			return json.RawMessage(x), nil
		}
		return v, nil
	case schema.TypeUUID:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case [16]byte:
			return uuid.UUID(x), nil
		case []byte:
			if len(x) == 16 {
				return uuid.FromBytes(x)
			}
			return uuid.ParseBytes(x)
		case string:
			return uuid.Parse(x)
		}
		return nil, fmt.Errorf("cannot convert %T to uuid", v)
	}

	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch t.Primitive {
	case schema.TypeString, schema.TypeText, schema.TypeEnum, schema.TypeDecimal:
		return cast.ToStringE(v)
	case schema.TypeInt:
		return cast.ToIntE(v)
	case schema.TypeBigInt:
		return cast.ToInt64E(v)
	case schema.TypeFloat:
		return cast.ToFloat64E(v)
	case schema.TypeBool:
		return cast.ToBoolE(v)
	case schema.TypeTimestamp, schema.TypeDate:
		return cast.ToTimeE(v)
	case schema.TypeTime:
		if tv, ok := v.(time.Time); ok {
			return tv, nil
		}
		return cast.ToStringE(v)
	default:
		return v, nil
	}
}
