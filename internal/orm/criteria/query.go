package criteria

import (
	"strings"

	"github.com/conduit-lang/persistence/internal/orm/expr"
)

// Query accumulates the clauses of a criteria query. Every mutator replaces
// its clause and returns the same query; a query may be mutated any number
// of times until it is frozen for execution.
type Query struct {
	builder    *Builder
	resultType ResultType

	roots       []*expr.Root
	selections  []expr.Selection
	multiselect bool
	restriction expr.Predicate
	groupings   []expr.Expression
	having      expr.Predicate
	orderings   []expr.Order
	distinct    bool

	frozen bool
}

// Builder returns the builder that created the query
func (q *Query) Builder() *Builder {
	return q.builder
}

// ResultType returns the declared result type
func (q *Query) ResultType() ResultType {
	return q.resultType
}

// From adds a root over the named entity
func (q *Query) From(entity string) (*expr.Root, error) {
	if err := q.mutable("from"); err != nil {
		return nil, err
	}
	root, err := expr.NewRoot(q.builder.registry, entity)
	if err != nil {
		return nil, err
	}
	q.roots = append(q.roots, root)
	return root, nil
}

// Roots returns the query roots
func (q *Query) Roots() []*expr.Root {
	return append([]*expr.Root(nil), q.roots...)
}

// Select replaces the selection list with a single item
func (q *Query) Select(s expr.Selection) (*Query, error) {
	if err := q.mutable("select"); err != nil {
		return q, err
	}
	if expr.IsNil(s) {
		return q, &expr.InvalidSelectionError{Reason: "selection is nil"}
	}
	if c, ok := s.(*expr.Compound); ok {
		if err := expr.CheckFlat(c.Items); err != nil {
			return q, err
		}
	}
	return q, q.replace(func(next *Query) {
		next.selections = []expr.Selection{s}
		next.multiselect = false
	})
}

// Multiselect replaces the selection list with the given items, none of which
// may be compound
func (q *Query) Multiselect(selections ...expr.Selection) (*Query, error) {
	if err := q.mutable("multiselect"); err != nil {
		return q, err
	}
	if err := expr.CheckFlat(selections); err != nil {
		return q, err
	}
	return q, q.replace(func(next *Query) {
		next.selections = append([]expr.Selection(nil), selections...)
		next.multiselect = true
	})
}

// MultiselectList is Multiselect taking a list
func (q *Query) MultiselectList(selections []expr.Selection) (*Query, error) {
	return q.Multiselect(selections...)
}

// Selection returns the declared selection: the single selected item, a
// tuple or array over the multiselect items, or nil when nothing is selected
func (q *Query) Selection() expr.Selection {
	if len(q.selections) == 0 {
		return nil
	}
	if !q.multiselect {
		return q.selections[0]
	}
	kind := expr.KindArray
	if q.resultType.Kind == ResultTuple {
		kind = expr.KindTuple
	}
	return &expr.Compound{Kind: kind, Name: q.resultType.Name, Items: q.Selections()}
}

// Selections returns the selected items, in order
func (q *Query) Selections() []expr.Selection {
	return append([]expr.Selection(nil), q.selections...)
}

// Where replaces the restriction with exactly e. A boolean expression that is
// not a predicate is wrapped in a truth test.
func (q *Query) Where(e expr.Expression) (*Query, error) {
	if err := q.mutable("where"); err != nil {
		return q, err
	}
	p, err := restriction("WHERE", e)
	if err != nil {
		return q, err
	}
	return q, q.replace(func(next *Query) { next.restriction = p })
}

// WherePredicates replaces the restriction with the conjunction of the given
// predicates. No predicates clears the restriction.
func (q *Query) WherePredicates(predicates ...expr.Predicate) (*Query, error) {
	if err := q.mutable("where"); err != nil {
		return q, err
	}
	p, err := conjoin("WHERE", predicates)
	if err != nil {
		return q, err
	}
	return q, q.replace(func(next *Query) { next.restriction = p })
}

// Restriction returns the restriction, or nil
func (q *Query) Restriction() expr.Predicate {
	return q.restriction
}

// GroupBy replaces the grouping list. No expressions clears grouping.
func (q *Query) GroupBy(expressions ...expr.Expression) (*Query, error) {
	if err := q.mutable("group by"); err != nil {
		return q, err
	}
	for i, e := range expressions {
		if expr.IsNil(e) {
			return q, &expr.InvalidSelectionError{Position: i, Reason: "grouping expression is nil"}
		}
	}
	return q, q.replace(func(next *Query) {
		next.groupings = append([]expr.Expression(nil), expressions...)
	})
}

// GroupByList is GroupBy taking a list
func (q *Query) GroupByList(expressions []expr.Expression) (*Query, error) {
	return q.GroupBy(expressions...)
}

// GroupList returns the grouping expressions
func (q *Query) GroupList() []expr.Expression {
	return append([]expr.Expression(nil), q.groupings...)
}

// Having replaces the group restriction with exactly e
func (q *Query) Having(e expr.Expression) (*Query, error) {
	if err := q.mutable("having"); err != nil {
		return q, err
	}
	p, err := restriction("HAVING", e)
	if err != nil {
		return q, err
	}
	return q, q.replace(func(next *Query) { next.having = p })
}

// HavingPredicates replaces the group restriction with the conjunction of the
// given predicates. No predicates clears it.
func (q *Query) HavingPredicates(predicates ...expr.Predicate) (*Query, error) {
	if err := q.mutable("having"); err != nil {
		return q, err
	}
	p, err := conjoin("HAVING", predicates)
	if err != nil {
		return q, err
	}
	return q, q.replace(func(next *Query) { next.having = p })
}

// GroupRestriction returns the group restriction, or nil
func (q *Query) GroupRestriction() expr.Predicate {
	return q.having
}

// OrderBy replaces the ordering list, highest precedence first. No orders
// clears ordering.
func (q *Query) OrderBy(orders ...expr.Order) (*Query, error) {
	if err := q.mutable("order by"); err != nil {
		return q, err
	}
	for i, o := range orders {
		if expr.IsNil(o.Expression) {
			return q, &expr.InvalidSelectionError{Position: i, Reason: "order expression is nil"}
		}
	}
	return q, q.replace(func(next *Query) {
		next.orderings = append([]expr.Order(nil), orders...)
	})
}

// OrderByList is OrderBy taking a list
func (q *Query) OrderByList(orders []expr.Order) (*Query, error) {
	return q.OrderBy(orders...)
}

// OrderList returns a copy of the ordering list
func (q *Query) OrderList() []expr.Order {
	return append([]expr.Order{}, q.orderings...)
}

// Distinct sets whether duplicate rows are removed
func (q *Query) Distinct(distinct bool) (*Query, error) {
	if err := q.mutable("distinct"); err != nil {
		return q, err
	}
	q.distinct = distinct
	return q, nil
}

// IsDistinct reports whether duplicate rows are removed
func (q *Query) IsDistinct() bool {
	return q.distinct
}

// Parameters returns every parameter the query references, once per key
func (q *Query) Parameters() []*expr.Parameter {
	params := expr.CollectParameters(q.clauses()...)
	if params == nil {
		params = []*expr.Parameter{}
	}
	return params
}

func (q *Query) clauses() []expr.Selection {
	nodes := make([]expr.Selection, 0, len(q.selections)+len(q.groupings)+len(q.orderings)+2)
	nodes = append(nodes, q.selections...)
	if q.restriction != nil {
		nodes = append(nodes, q.restriction)
	}
	for _, g := range q.groupings {
		nodes = append(nodes, g)
	}
	if q.having != nil {
		nodes = append(nodes, q.having)
	}
	for _, o := range q.orderings {
		nodes = append(nodes, o.Expression)
	}
	return nodes
}

// Frozen reports whether the query was handed to the execution boundary
func (q *Query) Frozen() bool {
	return q.frozen
}

func (q *Query) mutable(op string) error {
	if q.frozen {
		return &IllegalStateError{Op: op, Reason: "query is frozen"}
	}
	return nil
}

// replace applies a clause change to a copy of the query and keeps it only
// when every parameter key still declares a single type
func (q *Query) replace(apply func(next *Query)) error {
	next := *q
	apply(&next)
	if err := expr.CheckParameters(next.clauses()...); err != nil {
		return err
	}
	*q = next
	return nil
}

func restriction(clause string, e expr.Expression) (expr.Predicate, error) {
	if expr.IsNil(e) {
		return nil, &expr.TypeMismatchError{Operator: clause, Right: expr.Boolean, Reason: "restriction is nil"}
	}
	if p, ok := e.(expr.Predicate); ok {
		return p, nil
	}
	if !e.Type().IsBoolean() {
		return nil, &expr.TypeMismatchError{Operator: clause, Left: e.Type(), Right: expr.Boolean, Reason: "restriction must be boolean"}
	}
	return expr.IsTrue(e)
}

func conjoin(clause string, predicates []expr.Predicate) (expr.Predicate, error) {
	for i, p := range predicates {
		if expr.IsNil(p) {
			return nil, &expr.InvalidSelectionError{Position: i, Reason: strings.ToLower(clause) + " predicate is nil"}
		}
	}
	switch len(predicates) {
	case 0:
		return nil, nil
	case 1:
		return predicates[0], nil
	default:
		return expr.And(predicates...), nil
	}
}
