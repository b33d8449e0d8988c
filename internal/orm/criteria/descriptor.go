package criteria

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/persistence/internal/orm/expr"
	"github.com/conduit-lang/persistence/internal/orm/unit"
)

// Shape is how the execution boundary assembles one result row
type Shape int

const (
	// ShapeRaw yields the single selected value
	ShapeRaw Shape = iota
	// ShapeArray yields the selected values as an array
	ShapeArray
	// ShapeTuple yields a tuple of the selected values
	ShapeTuple
	// ShapeConstruct passes the selected values to a constructor
	ShapeConstruct
)

// String returns the string representation of the shape
func (s Shape) String() string {
	switch s {
	case ShapeRaw:
		return "raw"
	case ShapeArray:
		return "array"
	case ShapeTuple:
		return "tuple"
	case ShapeConstruct:
		return "construct"
	default:
		return "unknown"
	}
}

// Descriptor is the immutable form of a query handed to the execution
// boundary. Slices are private copies taken when the query was frozen.
type Descriptor struct {
	ID         uuid.UUID
	ResultType ResultType
	Roots      []*expr.Root
	Joins      []*expr.Join // every join reachable from the roots, parents first

	// Items are the projected values, in order; Shape and Constructor say
	// how each row of them is assembled
	Items       []expr.Selection
	Shape       Shape
	ElemType    expr.Type // element conversion for ShapeArray; KindUnknown keeps values as scanned
	Constructor *Constructor

	Restriction expr.Predicate
	Groupings   []expr.Expression
	Having      expr.Predicate
	Orderings   []expr.Order
	Distinct    bool
	Parameters  []*expr.Parameter
	FlushMode   unit.FlushMode
}

// Freeze validates a query and returns its descriptor. The query can no
// longer be mutated or frozen again afterwards; the builder never freezes a
// query itself.
func Freeze(q *Query) (*Descriptor, error) {
	if q.frozen {
		return nil, &IllegalStateError{Op: "freeze", Reason: "query is already frozen"}
	}
	if len(q.roots) == 0 {
		return nil, &IllegalStateError{Op: "freeze", Reason: "query has no root"}
	}

	items, declared, err := q.projection()
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		ID:          uuid.New(),
		ResultType:  q.resultType,
		Roots:       q.Roots(),
		Joins:       collectJoins(q.roots),
		Items:       items,
		ElemType:    q.resultType.Elem,
		Restriction: q.restriction,
		Groupings:   q.GroupList(),
		Having:      q.having,
		Orderings:   q.OrderList(),
		Distinct:    q.distinct,
		Parameters:  q.Parameters(),
		FlushMode:   q.builder.flushMode,
	}
	if err := q.shape(d, declared); err != nil {
		return nil, err
	}
	if err := checkSources(d); err != nil {
		return nil, err
	}

	q.frozen = true
	q.builder.logger.Debug("froze criteria query",
		zap.String("id", d.ID.String()),
		zap.String("result_type", d.ResultType.String()),
		zap.String("shape", d.Shape.String()),
		zap.Int("items", len(d.Items)),
		zap.Int("parameters", len(d.Parameters)))
	return d, nil
}

// projection returns the items to project and, for a single Select, the
// declared selection
func (q *Query) projection() ([]expr.Selection, expr.Selection, error) {
	switch {
	case len(q.selections) == 0:
		if len(q.roots) > 1 {
			return nil, nil, &IllegalStateError{Op: "freeze", Reason: "a query with several roots needs an explicit selection"}
		}
		return []expr.Selection{q.roots[0]}, q.roots[0], nil
	case q.multiselect:
		return q.Selections(), nil, nil
	default:
		s := q.selections[0]
		if c, ok := s.(*expr.Compound); ok {
			return append([]expr.Selection(nil), c.Items...), s, nil
		}
		return []expr.Selection{s}, s, nil
	}
}

// shape applies the result-shape policy of the declared result type
func (q *Query) shape(d *Descriptor, declared expr.Selection) error {
	compound, _ := declared.(*expr.Compound)

	switch q.resultType.Kind {
	case ResultTuple:
		d.Shape = ShapeTuple
	case ResultArray:
		d.Shape = ShapeArray
	case ResultConstruct:
		d.Shape = ShapeConstruct
		ctor, err := MatchConstructor(q.resultType.Name, q.resultType.Constructors, itemTypes(d.Items))
		if err != nil {
			return err
		}
		d.Constructor = ctor
	default:
		switch {
		case compound != nil && compound.Kind == expr.KindTuple:
			d.Shape = ShapeTuple
		case compound != nil && compound.Kind == expr.KindObject:
			d.Shape = ShapeConstruct
			ctor, err := MatchConstructor(compound.Name, q.builder.constructors[compound.Name], itemTypes(d.Items))
			if err != nil {
				return err
			}
			d.Constructor = ctor
		case compound != nil:
			d.Shape = ShapeArray
		case len(d.Items) == 1:
			d.Shape = ShapeRaw
		default:
			d.Shape = ShapeArray
		}
	}
	return nil
}

func itemTypes(items []expr.Selection) []expr.Type {
	types := make([]expr.Type, len(items))
	for i, item := range items {
		types[i] = item.Type()
	}
	return types
}

func collectJoins(roots []*expr.Root) []*expr.Join {
	var joins []*expr.Join
	var visit func(from expr.From)
	visit = func(from expr.From) {
		for _, j := range from.Joins() {
			joins = append(joins, j)
			visit(j)
		}
	}
	for _, root := range roots {
		visit(root)
	}
	return joins
}

// checkSources rejects paths and joins that start from a root of another query
func checkSources(d *Descriptor) error {
	known := make(map[expr.From]bool, len(d.Roots)+len(d.Joins))
	for _, r := range d.Roots {
		known[r] = true
	}
	for _, j := range d.Joins {
		known[j] = true
	}

	var err error
	check := func(s expr.Selection) bool {
		if err != nil {
			return false
		}
		var from expr.From
		var name string
		switch n := s.(type) {
		case *expr.Path:
			from, name = n.Source, n.Attribute
		case expr.From:
			from = n
		default:
			return true
		}
		if !known[from] {
			err = &expr.InvalidPathError{
				Entity: from.Entity().Name,
				Name:   name,
				Reason: "source is not a root or join of this query",
			}
		}
		return true
	}

	for _, item := range d.Items {
		expr.Walk(item, check)
	}
	expr.Walk(d.Restriction, check)
	for _, g := range d.Groupings {
		expr.Walk(g, check)
	}
	expr.Walk(d.Having, check)
	for _, o := range d.Orderings {
		expr.Walk(o.Expression, check)
	}
	return err
}
