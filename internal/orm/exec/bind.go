package exec

import (
	"fmt"

	"github.com/conduit-lang/persistence/internal/orm/criteria"
	"github.com/conduit-lang/persistence/internal/orm/expr"
	"github.com/conduit-lang/persistence/internal/orm/query"
)

// Bind replaces the parameter markers of a rendered statement with the
// bound values. Named parameters are bound by name and positional ones by
// "?N". Every declared parameter must be bound, nothing else may be, and a
// bound value must be comparable with the parameter's type. Values are
// converted to the parameter's type before binding; nil binds NULL.
func Bind(d *criteria.Descriptor, stmt *query.Statement, bindings map[string]any) ([]any, error) {
	declared := make(map[string]expr.Type, len(d.Parameters))
	for _, p := range d.Parameters {
		declared[p.Key()] = p.Type()
	}
	for key := range bindings {
		if _, ok := declared[key]; !ok {
			return nil, &BindingError{Key: key, Reason: "query declares no such parameter"}
		}
	}
	values := make(map[string]any, len(d.Parameters))
	for _, p := range d.Parameters {
		v, ok := bindings[p.Key()]
		if !ok {
			return nil, &BindingError{Key: p.Key(), Reason: "no value bound"}
		}
		if v == nil {
			values[p.Key()] = nil
			continue
		}
		if vt := expr.TypeOf(v); vt.Kind != expr.KindUnknown && !expr.Comparable(p.Type(), vt) {
			return nil, &BindingError{Key: p.Key(), Reason: fmt.Sprintf("%s value bound to %s parameter", vt, p.Type())}
		}
		converted, err := Convert(v, p.Type())
		if err != nil {
			return nil, &BindingError{Key: p.Key(), Reason: err.Error()}
		}
		values[p.Key()] = converted
	}

	args := make([]any, len(stmt.Args))
	for i, arg := range stmt.Args {
		if ref, ok := arg.(query.ParamRef); ok {
			args[i] = values[ref.Key]
			continue
		}
		args[i] = arg
	}
	return args, nil
}
