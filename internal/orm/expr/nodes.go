package expr

import (
	"fmt"

	"github.com/conduit-lang/persistence/internal/orm/schema"
)

// Selection is anything that may appear in a query projection
type Selection interface {
	// Alias returns the alias assigned with As, or ""
	Alias() string
	// Type returns the declared type of the selection
	Type() Type

	withAlias(alias string) Selection
}

// Expression is a single-valued selection usable as an operand
type Expression interface {
	Selection
	isExpression()
}

// Predicate is a boolean-valued expression
type Predicate interface {
	Expression
	isPredicate()
}

// As assigns an alias to a selection. Roots and joins are aliased in place;
// every other node is copied, so the same expression may be selected twice
// under different aliases.
func As[T Selection](s T, alias string) T {
	return s.withAlias(alias).(T)
}

// JoinType represents the kind of SQL join used to navigate an association
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinRight
)

// String returns the SQL keyword of the join type
func (j JoinType) String() string {
	switch j {
	case JoinInner:
		return "INNER"
	case JoinLeft:
		return "LEFT"
	case JoinRight:
		return "RIGHT"
	default:
		return "UNKNOWN"
	}
}

// From is a root or join that attribute paths and further joins start from
type From interface {
	Expression
	// Entity returns the entity the source ranges over
	Entity() *schema.Entity
	// Get navigates to a mapped attribute
	Get(attribute string) (*Path, error)
	// Join navigates a declared association
	Join(association string, joinType JoinType) (*Join, error)
	// Joins returns the joins created from this source, in creation order
	Joins() []*Join

	registry() *schema.Registry
}

// Root ranges over every instance of an entity
type Root struct {
	reg    *schema.Registry
	entity *schema.Entity
	joins  []*Join
	alias  string
}

// NewRoot creates a root over the named entity
func NewRoot(registry *schema.Registry, entity string) (*Root, error) {
	e, ok := registry.Entity(entity)
	if !ok {
		return nil, &InvalidPathError{Entity: entity, Reason: "entity is not mapped"}
	}
	return &Root{reg: registry, entity: e}, nil
}

func (r *Root) Alias() string { return r.alias }
func (r *Root) Type() Type { return EntityType(r.entity.Name) }
func (r *Root) Entity() *schema.Entity { return r.entity }
func (r *Root) Joins() []*Join { return append([]*Join(nil), r.joins...) }
func (r *Root) registry() *schema.Registry { return r.reg }
func (r *Root) isExpression() {}

func (r *Root) withAlias(alias string) Selection {
	r.alias = alias
	return r
}

// Get navigates to a mapped attribute of the root entity or its superclasses
func (r *Root) Get(attribute string) (*Path, error) {
	return get(r, attribute)
}

// Join navigates an association declared on the root entity or its superclasses
func (r *Root) Join(association string, joinType JoinType) (*Join, error) {
	j, err := join(r, association, joinType)
	if err != nil {
		return nil, err
	}
	r.joins = append(r.joins, j)
	return j, nil
}

// Join ranges over the targets of an association navigated from a parent source
type Join struct {
	Parent      From
	Association *schema.Association
	Owner       *schema.Entity // entity declaring the association
	Target      *schema.Entity
	JoinType    JoinType

	joins []*Join
	alias string
}

func (j *Join) Alias() string { return j.alias }
func (j *Join) Type() Type { return EntityType(j.Target.Name) }
func (j *Join) Entity() *schema.Entity { return j.Target }
func (j *Join) Joins() []*Join { return append([]*Join(nil), j.joins...) }
func (j *Join) registry() *schema.Registry { return j.Parent.registry() }
func (j *Join) isExpression() {}

func (j *Join) withAlias(alias string) Selection {
	j.alias = alias
	return j
}

// Get navigates to a mapped attribute of the joined entity
func (j *Join) Get(attribute string) (*Path, error) {
	return get(j, attribute)
}

// Join navigates a further association from the joined entity
func (j *Join) Join(association string, joinType JoinType) (*Join, error) {
	child, err := join(j, association, joinType)
	if err != nil {
		return nil, err
	}
	j.joins = append(j.joins, child)
	return child, nil
}

func get(source From, attribute string) (*Path, error) {
	entity := source.Entity()
	ref, ok := source.registry().Attribute(entity.Name, attribute)
	if !ok {
		if _, _, isAssoc := source.registry().Association(entity.Name, attribute); isAssoc {
			return nil, &InvalidPathError{Entity: entity.Name, Name: attribute, Reason: "is an association, navigate it with Join"}
		}
		return nil, &InvalidPathError{Entity: entity.Name, Name: attribute, Reason: "attribute is not mapped"}
	}
	return &Path{Source: source, Attribute: attribute, Owner: ref.Owner, Column: ref.Column}, nil
}

func join(parent From, association string, joinType JoinType) (*Join, error) {
	entity := parent.Entity()
	reg := parent.registry()
	assoc, owner, ok := reg.Association(entity.Name, association)
	if !ok {
		return nil, &InvalidPathError{Entity: entity.Name, Name: association, Reason: "association is not declared"}
	}
	target, ok := reg.Entity(assoc.Target)
	if !ok {
		return nil, &InvalidPathError{Entity: entity.Name, Name: association, Reason: fmt.Sprintf("target entity %s is not mapped", assoc.Target)}
	}
	return &Join{Parent: parent, Association: assoc, Owner: owner, Target: target, JoinType: joinType}, nil
}

// Path is a mapped attribute reached from a root or join
type Path struct {
	Source    From
	Attribute string
	Owner     *schema.Entity // entity declaring the column, possibly a superclass
	Column    *schema.Column

	alias string
}

func (p *Path) Alias() string { return p.alias }
func (p *Path) Type() Type { return Scalar(p.Column.Type) }
func (p *Path) isExpression() {}

func (p *Path) withAlias(alias string) Selection {
	c := *p
	c.alias = alias
	return &c
}

// String returns the attribute path, e.g. Customer.name
func (p *Path) String() string {
	return p.Source.Entity().Name + "." + p.Attribute
}

// Constant is a literal value
type Constant struct {
	Value any

	typ   Type
	alias string
}

// Literal wraps a Go value, inferring its type
func Literal(v any) *Constant {
	return &Constant{Value: v, typ: TypeOf(v)}
}

// Null returns a typed NULL literal
func Null(t Type) *Constant {
	return &Constant{typ: t}
}

func (c *Constant) Alias() string { return c.alias }
func (c *Constant) Type() Type { return c.typ }
func (c *Constant) isExpression() {}

func (c *Constant) withAlias(alias string) Selection {
	cp := *c
	cp.alias = alias
	return &cp
}

// Parameter is a placeholder bound when the query executes
type Parameter struct {
	Name     string
	Position int

	typ   Type
	alias string
}

// Param declares a named parameter
func Param(name string, t Type) *Parameter {
	return &Parameter{Name: name, typ: t}
}

// PositionalParam declares a positional parameter, numbered from 1
func PositionalParam(position int, t Type) *Parameter {
	return &Parameter{Position: position, typ: t}
}

// Key identifies the parameter for binding: its name, or ?N when positional
func (p *Parameter) Key() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("?%d", p.Position)
}

func (p *Parameter) Alias() string { return p.alias }
func (p *Parameter) Type() Type { return p.typ }
func (p *Parameter) isExpression() {}

func (p *Parameter) withAlias(alias string) Selection {
	cp := *p
	cp.alias = alias
	return &cp
}

// AggregateFunc names an aggregate function
type AggregateFunc int

const (
	AggCount AggregateFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

// String returns the SQL name of the aggregate
func (f AggregateFunc) String() string {
	switch f {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		return "UNKNOWN"
	}
}

// Aggregate applies an aggregate function to an expression
type Aggregate struct {
	Func     AggregateFunc
	Arg      Expression
	Distinct bool

	typ   Type
	alias string
}

func (a *Aggregate) Alias() string { return a.alias }
func (a *Aggregate) Type() Type { return a.typ }
func (a *Aggregate) isExpression() {}

func (a *Aggregate) withAlias(alias string) Selection {
	cp := *a
	cp.alias = alias
	return &cp
}

// Count counts the non-null values of an expression
func Count(e Expression) *Aggregate {
	return &Aggregate{Func: AggCount, Arg: e, typ: Scalar(schema.TypeBigInt)}
}

// CountDistinct counts the distinct non-null values of an expression
func CountDistinct(e Expression) *Aggregate {
	return &Aggregate{Func: AggCount, Arg: e, Distinct: true, typ: Scalar(schema.TypeBigInt)}
}

// Sum totals a numeric expression
func Sum(e Expression) (*Aggregate, error) {
	if !e.Type().IsNumeric() {
		return nil, mismatch("SUM", e.Type(), e.Type(), "operand must be numeric")
	}
	t := e.Type()
	if t.Primitive == schema.TypeInt {
		t = Scalar(schema.TypeBigInt)
	}
	return &Aggregate{Func: AggSum, Arg: e, typ: t}, nil
}

// Avg averages a numeric expression
func Avg(e Expression) (*Aggregate, error) {
	if !e.Type().IsNumeric() {
		return nil, mismatch("AVG", e.Type(), e.Type(), "operand must be numeric")
	}
	return &Aggregate{Func: AggAvg, Arg: e, typ: Scalar(schema.TypeFloat)}, nil
}

// Min returns the least value of an orderable expression
func Min(e Expression) (*Aggregate, error) {
	if !e.Type().Orderable() {
		return nil, mismatch("MIN", e.Type(), e.Type(), "operand must be orderable")
	}
	return &Aggregate{Func: AggMin, Arg: e, typ: e.Type()}, nil
}

// Max returns the greatest value of an orderable expression
func Max(e Expression) (*Aggregate, error) {
	if !e.Type().Orderable() {
		return nil, mismatch("MAX", e.Type(), e.Type(), "operand must be orderable")
	}
	return &Aggregate{Func: AggMax, Arg: e, typ: e.Type()}, nil
}

// operand converts a raw Go value to a literal; expressions pass through
func operand(v any) Expression {
	if e, ok := v.(Expression); ok {
		return e
	}
	return Literal(v)
}
