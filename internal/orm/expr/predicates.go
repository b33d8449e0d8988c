package expr

import "fmt"

// Operator represents a binary comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpLike
	OpNotLike
)

// String returns the SQL representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "<>"
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpLike:
		return "LIKE"
	case OpNotLike:
		return "NOT LIKE"
	default:
		return "UNKNOWN"
	}
}

func (o Operator) check(left, right Type) error {
	switch o {
	case OpEqual, OpNotEqual:
		if !Comparable(left, right) {
			return mismatch(o.String(), left, right, "types are not comparable")
		}
	case OpLike, OpNotLike:
		if !left.IsText() || !right.IsText() {
			return mismatch(o.String(), left, right, "operands must be text")
		}
	default:
		if !Comparable(left, right) || !left.Orderable() {
			return mismatch(o.String(), left, right, "types are not orderable")
		}
	}
	return nil
}

// predicate is embedded by every predicate node
type predicate struct {
	alias string
}

func (p predicate) Alias() string { return p.alias }
func (predicate) Type() Type { return Boolean }
func (predicate) isExpression() {}
func (predicate) isPredicate() {}

// Comparison compares two operands
type Comparison struct {
	predicate
	Operator Operator
	Left     Expression
	Right    Expression
}

func (c *Comparison) withAlias(alias string) Selection {
	cp := *c
	cp.alias = alias
	return &cp
}

func compare(op Operator, x Expression, y any) (*Comparison, error) {
	right := operand(y)
	if err := op.check(x.Type(), right.Type()); err != nil {
		return nil, err
	}
	return &Comparison{Operator: op, Left: x, Right: right}, nil
}

// Equal tests x = y. y may be an Expression or a Go value.
func Equal(x Expression, y any) (*Comparison, error) { return compare(OpEqual, x, y) }

// NotEqual tests x <> y
func NotEqual(x Expression, y any) (*Comparison, error) { return compare(OpNotEqual, x, y) }

// GreaterThan tests x > y
func GreaterThan(x Expression, y any) (*Comparison, error) { return compare(OpGreaterThan, x, y) }

// GreaterThanOrEqual tests x >= y
func GreaterThanOrEqual(x Expression, y any) (*Comparison, error) {
	return compare(OpGreaterThanOrEqual, x, y)
}

// LessThan tests x < y
func LessThan(x Expression, y any) (*Comparison, error) { return compare(OpLessThan, x, y) }

// LessThanOrEqual tests x <= y
func LessThanOrEqual(x Expression, y any) (*Comparison, error) {
	return compare(OpLessThanOrEqual, x, y)
}

// Like matches a text expression against a pattern
func Like(x Expression, pattern any) (*Comparison, error) { return compare(OpLike, x, pattern) }

// NotLike is the negated form of Like
func NotLike(x Expression, pattern any) (*Comparison, error) { return compare(OpNotLike, x, pattern) }

// Range tests lower <= operand <= upper
type Range struct {
	predicate
	Operand Expression
	Lower   Expression
	Upper   Expression
}

func (r *Range) withAlias(alias string) Selection {
	cp := *r
	cp.alias = alias
	return &cp
}

// Between tests that x lies within [lower, upper]
func Between(x Expression, lower, upper any) (*Range, error) {
	lo, hi := operand(lower), operand(upper)
	for _, bound := range []Expression{lo, hi} {
		if !Comparable(x.Type(), bound.Type()) || !x.Type().Orderable() {
			return nil, mismatch("BETWEEN", x.Type(), bound.Type(), "types are not orderable")
		}
	}
	return &Range{Operand: x, Lower: lo, Upper: hi}, nil
}

// Membership tests that an operand equals one of a list of values
type Membership struct {
	predicate
	Operand Expression
	Values  []Expression
}

func (m *Membership) withAlias(alias string) Selection {
	cp := *m
	cp.alias = alias
	return &cp
}

// In tests x IN (values...). Values may be Expressions or Go values.
func In(x Expression, values ...any) (*Membership, error) {
	if len(values) == 0 {
		return nil, mismatch("IN", x.Type(), Type{}, "at least one value is required")
	}
	m := &Membership{Operand: x, Values: make([]Expression, len(values))}
	for i, v := range values {
		e := operand(v)
		if err := OpEqual.check(x.Type(), e.Type()); err != nil {
			return nil, fmt.Errorf("IN value %d: %w", i, err)
		}
		m.Values[i] = e
	}
	return m, nil
}

// NullCheck tests an operand for NULL
type NullCheck struct {
	predicate
	Operand Expression
	Negated bool
}

func (n *NullCheck) withAlias(alias string) Selection {
	cp := *n
	cp.alias = alias
	return &cp
}

// IsNull tests x IS NULL
func IsNull(x Expression) *NullCheck {
	return &NullCheck{Operand: x}
}

// IsNotNull tests x IS NOT NULL
func IsNotNull(x Expression) *NullCheck {
	return &NullCheck{Operand: x, Negated: true}
}

// BooleanTest tests a boolean expression against true or false
type BooleanTest struct {
	predicate
	Operand Expression
	Value   bool
}

func (b *BooleanTest) withAlias(alias string) Selection {
	cp := *b
	cp.alias = alias
	return &cp
}

// IsTrue tests that a boolean expression is true
func IsTrue(x Expression) (*BooleanTest, error) {
	if !x.Type().IsBoolean() {
		return nil, mismatch("IS TRUE", x.Type(), Boolean, "operand must be boolean")
	}
	return &BooleanTest{Operand: x, Value: true}, nil
}

// IsFalse tests that a boolean expression is false
func IsFalse(x Expression) (*BooleanTest, error) {
	if !x.Type().IsBoolean() {
		return nil, mismatch("IS FALSE", x.Type(), Boolean, "operand must be boolean")
	}
	return &BooleanTest{Operand: x, Value: false}, nil
}

// BooleanOperator combines the predicates of a junction
type BooleanOperator int

const (
	OpAnd BooleanOperator = iota
	OpOr
)

// String returns the SQL keyword of the operator
func (o BooleanOperator) String() string {
	if o == OpOr {
		return "OR"
	}
	return "AND"
}

// Junction is a conjunction or disjunction. An empty conjunction is true and
// an empty disjunction is false.
type Junction struct {
	predicate
	Operator   BooleanOperator
	Predicates []Predicate
}

func (j *Junction) withAlias(alias string) Selection {
	cp := *j
	cp.alias = alias
	return &cp
}

// And conjoins predicates. Nested conjunctions are flattened into the result
// and nil predicates are skipped.
func And(predicates ...Predicate) *Junction {
	return junction(OpAnd, predicates)
}

// Or disjoins predicates. Nested disjunctions are flattened into the result
// and nil predicates are skipped.
func Or(predicates ...Predicate) *Junction {
	return junction(OpOr, predicates)
}

// Conjunction returns an empty conjunction, which is always true
func Conjunction() *Junction {
	return &Junction{Operator: OpAnd, Predicates: []Predicate{}}
}

// Disjunction returns an empty disjunction, which is always false
func Disjunction() *Junction {
	return &Junction{Operator: OpOr, Predicates: []Predicate{}}
}

func junction(op BooleanOperator, predicates []Predicate) *Junction {
	j := &Junction{Operator: op, Predicates: make([]Predicate, 0, len(predicates))}
	for _, p := range predicates {
		if IsNil(p) {
			continue
		}
		if nested, ok := p.(*Junction); ok && nested.Operator == op {
			j.Predicates = append(j.Predicates, nested.Predicates...)
			continue
		}
		j.Predicates = append(j.Predicates, p)
	}
	return j
}

// Negation is NOT applied to a predicate
type Negation struct {
	predicate
	Operand Predicate
}

func (n *Negation) withAlias(alias string) Selection {
	cp := *n
	cp.alias = alias
	return &cp
}

// Not negates a predicate. Double negation is kept as written.
func Not(p Predicate) *Negation {
	return &Negation{Operand: p}
}
