package criteria

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/persistence/internal/orm/expr"
	"github.com/conduit-lang/persistence/internal/orm/schema"
	"github.com/conduit-lang/persistence/internal/orm/schema/schematest"
	"github.com/conduit-lang/persistence/internal/orm/unit"
)

type fixture struct {
	builder *Builder
	query   *Query
	root    *expr.Root
	name    *expr.Path
	age     *expr.Path
	vip     *expr.Path
}

func newFixture(t *testing.T, resultType ResultType, opts ...Option) *fixture {
	t.Helper()
	builder, err := NewBuilder(schematest.CustomerRegistry(t), opts...)
	require.NoError(t, err)

	q := builder.CreateQuery(resultType)
	root, err := q.From("Customer")
	require.NoError(t, err)

	f := &fixture{builder: builder, query: q, root: root}
	f.name, err = root.Get("name")
	require.NoError(t, err)
	f.age, err = root.Get("age")
	require.NoError(t, err)
	f.vip, err = root.Get("vip")
	require.NoError(t, err)
	return f
}

func (f *fixture) predicate(t *testing.T, value string) expr.Predicate {
	t.Helper()
	p, err := expr.Equal(f.name, value)
	require.NoError(t, err)
	return p
}

func TestNewBuilder(t *testing.T) {
	_, err := NewBuilder(schema.NewRegistry())
	assert.ErrorIs(t, err, ErrIllegalState)

	b, err := NewBuilder(schematest.CustomerRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, unit.FlushAuto, b.FlushMode())

	b, err = NewBuilder(schematest.CustomerRegistry(t), WithFlushMode(unit.FlushCommit))
	require.NoError(t, err)
	assert.Equal(t, unit.FlushCommit, b.FlushMode())
	assert.Equal(t, ResultTuple, b.CreateTupleQuery().ResultType().Kind)
}

func TestWhere(t *testing.T) {
	t.Run("where replaces with exactly the predicate", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		p1, p2 := f.predicate(t, "Ann"), f.predicate(t, "Bo")

		q, err := f.query.WherePredicates(p1, p2)
		require.NoError(t, err)
		assert.Same(t, f.query, q)

		_, err = f.query.Where(p2)
		require.NoError(t, err)
		assert.Same(t, p2, f.query.Restriction())
	})

	t.Run("no predicates clears", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		_, err := f.query.Where(f.predicate(t, "Ann"))
		require.NoError(t, err)

		_, err = f.query.WherePredicates()
		require.NoError(t, err)
		assert.Nil(t, f.query.Restriction())
	})

	t.Run("several predicates are conjoined", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		p1, p2 := f.predicate(t, "Ann"), f.predicate(t, "Bo")

		_, err := f.query.WherePredicates(p1, p2)
		require.NoError(t, err)

		j, ok := f.query.Restriction().(*expr.Junction)
		require.True(t, ok)
		assert.Equal(t, expr.OpAnd, j.Operator)
		assert.Equal(t, []expr.Predicate{p1, p2}, j.Predicates)
	})

	t.Run("single predicate is set as given", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		p := f.predicate(t, "Ann")
		_, err := f.query.WherePredicates(p)
		require.NoError(t, err)
		assert.Same(t, p, f.query.Restriction())
	})

	t.Run("boolean path is wrapped", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		_, err := f.query.Where(f.vip)
		require.NoError(t, err)

		bt, ok := f.query.Restriction().(*expr.BooleanTest)
		require.True(t, ok)
		assert.True(t, bt.Value)
	})

	t.Run("non-boolean expression is rejected", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		p := f.predicate(t, "Ann")
		_, err := f.query.Where(p)
		require.NoError(t, err)

		_, err = f.query.Where(f.name)
		assert.ErrorIs(t, err, expr.ErrTypeMismatch)
		assert.Same(t, p, f.query.Restriction(), "failed call keeps the previous restriction")
	})
}

func TestNilNodesAreRejected(t *testing.T) {
	f := newFixture(t, ObjectResult())
	var comparison *expr.Comparison
	var junction *expr.Junction

	_, err := f.query.Where(comparison)
	assert.ErrorIs(t, err, expr.ErrTypeMismatch)
	_, err = f.query.WherePredicates(f.predicate(t, "Ann"), junction)
	assert.ErrorIs(t, err, expr.ErrInvalidSelection)
	_, err = f.query.Having(junction)
	assert.ErrorIs(t, err, expr.ErrTypeMismatch)
	_, err = f.query.HavingPredicates(comparison)
	assert.ErrorIs(t, err, expr.ErrInvalidSelection)

	var path *expr.Path
	_, err = f.query.Select(path)
	assert.ErrorIs(t, err, expr.ErrInvalidSelection)
	_, err = f.query.GroupBy(f.name, path)
	assert.ErrorIs(t, err, expr.ErrInvalidSelection)

	assert.Nil(t, f.query.Restriction())
	assert.Nil(t, f.query.GroupRestriction())
	assert.Empty(t, f.query.Parameters())
}

func TestHaving(t *testing.T) {
	f := newFixture(t, ObjectResult())
	count := expr.Count(f.root)
	gt, err := expr.GreaterThan(count, int64(1))
	require.NoError(t, err)
	p := f.predicate(t, "Ann")

	_, err = f.query.Having(gt)
	require.NoError(t, err)
	assert.Same(t, gt, f.query.GroupRestriction())

	_, err = f.query.HavingPredicates(gt, p)
	require.NoError(t, err)
	j, ok := f.query.GroupRestriction().(*expr.Junction)
	require.True(t, ok)
	assert.Len(t, j.Predicates, 2)

	_, err = f.query.HavingPredicates()
	require.NoError(t, err)
	assert.Nil(t, f.query.GroupRestriction())

	_, err = f.query.Having(count)
	assert.ErrorIs(t, err, expr.ErrTypeMismatch)
}

func TestGroupByAndOrderBy(t *testing.T) {
	f := newFixture(t, ObjectResult())

	_, err := f.query.GroupBy(f.name, f.age)
	require.NoError(t, err)
	assert.Equal(t, []expr.Expression{f.name, f.age}, f.query.GroupList())

	_, err = f.query.GroupByList([]expr.Expression{f.age})
	require.NoError(t, err)
	assert.Equal(t, []expr.Expression{f.age}, f.query.GroupList())

	_, err = f.query.GroupBy()
	require.NoError(t, err)
	assert.Empty(t, f.query.GroupList())

	_, err = f.query.OrderBy(expr.Desc(f.age), expr.Asc(f.name))
	require.NoError(t, err)
	orders := f.query.OrderList()
	require.Len(t, orders, 2)
	assert.Same(t, f.age, orders[0].Expression)

	_, err = f.query.OrderByList(nil)
	require.NoError(t, err)
	assert.Empty(t, f.query.OrderList())

	_, err = f.query.OrderBy(expr.Order{})
	assert.ErrorIs(t, err, expr.ErrInvalidSelection)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	f := newFixture(t, ObjectResult())
	minAge := expr.Param("minAge", expr.Scalar(schema.TypeInt))
	ge, err := expr.GreaterThanOrEqual(f.age, minAge)
	require.NoError(t, err)

	_, err = f.query.Where(ge)
	require.NoError(t, err)
	_, err = f.query.OrderBy(expr.Asc(f.name))
	require.NoError(t, err)

	orders := f.query.OrderList()
	orders[0] = expr.Desc(f.age)
	assert.Equal(t, []expr.Order{expr.Asc(f.name)}, f.query.OrderList())

	params := f.query.Parameters()
	require.Len(t, params, 1)
	params[0] = expr.Param("other", expr.Scalar(schema.TypeString))
	assert.Same(t, minAge, f.query.Parameters()[0])

	f.query.Roots()[0] = nil
	assert.NotNil(t, f.query.Roots()[0])
}

func TestParametersAcrossClauses(t *testing.T) {
	f := newFixture(t, ObjectResult())
	pName := expr.Param("name", expr.Scalar(schema.TypeString))
	pAge := expr.PositionalParam(1, expr.Scalar(schema.TypeInt))

	eq, err := expr.Equal(f.name, pName)
	require.NoError(t, err)
	lt, err := expr.LessThan(expr.Count(f.root), expr.Param("limit", expr.Scalar(schema.TypeBigInt)))
	require.NoError(t, err)
	ge, err := expr.GreaterThanOrEqual(f.age, pAge)
	require.NoError(t, err)

	_, err = f.query.WherePredicates(eq, ge)
	require.NoError(t, err)
	_, err = f.query.Having(lt)
	require.NoError(t, err)

	keys := []string{}
	for _, p := range f.query.Parameters() {
		keys = append(keys, p.Key())
	}
	assert.Equal(t, []string{"name", "?1", "limit"}, keys)
	assert.Empty(t, newFixture(t, ObjectResult()).query.Parameters())
}

func TestParameterKeyDeclaredWithTwoTypes(t *testing.T) {
	intParam := func() *expr.Parameter { return expr.Param("v", expr.Scalar(schema.TypeInt)) }
	stringParam := func() *expr.Parameter { return expr.Param("v", expr.Scalar(schema.TypeString)) }

	t.Run("within one clause", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		byAge, err := expr.Equal(f.age, intParam())
		require.NoError(t, err)
		byName, err := expr.Equal(f.name, stringParam())
		require.NoError(t, err)

		_, err = f.query.WherePredicates(byAge, byName)
		require.Error(t, err)
		var mismatch *expr.TypeMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, expr.Scalar(schema.TypeInt), mismatch.Left)
		assert.Equal(t, expr.Scalar(schema.TypeString), mismatch.Right)
		assert.Nil(t, f.query.Restriction(), "failed call keeps the previous restriction")

		d, err := Freeze(f.query)
		require.NoError(t, err)
		assert.Empty(t, d.Parameters)
	})

	t.Run("across clauses", func(t *testing.T) {
		f := newFixture(t, TupleResult())
		byAge, err := expr.Equal(f.age, intParam())
		require.NoError(t, err)
		_, err = f.query.Where(byAge)
		require.NoError(t, err)

		_, err = f.query.Multiselect(f.name, stringParam())
		assert.ErrorIs(t, err, expr.ErrTypeMismatch)
		assert.Empty(t, f.query.Selections())

		_, err = f.query.OrderBy(expr.Asc(stringParam()))
		assert.ErrorIs(t, err, expr.ErrTypeMismatch)
		assert.Empty(t, f.query.OrderList())

		_, err = f.query.Having(byAge)
		require.NoError(t, err, "the same declaration may appear in several clauses")
	})

	t.Run("replacing the clause that declared the key frees it", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		byAge, err := expr.Equal(f.age, intParam())
		require.NoError(t, err)
		byName, err := expr.Equal(f.name, stringParam())
		require.NoError(t, err)

		_, err = f.query.Where(byAge)
		require.NoError(t, err)
		_, err = f.query.Where(byName)
		require.NoError(t, err)

		params := f.query.Parameters()
		require.Len(t, params, 1)
		assert.Equal(t, expr.Scalar(schema.TypeString), params[0].Type())
	})
}

func TestSelect(t *testing.T) {
	t.Run("select replaces the list", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		_, err := f.query.Multiselect(f.name, f.age)
		require.NoError(t, err)

		_, err = f.query.Select(f.age)
		require.NoError(t, err)
		assert.Equal(t, []expr.Selection{f.age}, f.query.Selections())
		assert.Same(t, f.age, f.query.Selection())
	})

	t.Run("compound with colliding aliases", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		tuple := &expr.Compound{Kind: expr.KindTuple, Items: []expr.Selection{expr.As(f.name, "x"), expr.As(f.age, "x")}}
		_, err := f.query.Select(tuple)
		assert.ErrorIs(t, err, expr.ErrAliasConflict)
		assert.Nil(t, f.query.Selection())
	})

	t.Run("multiselect rejects compound items", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		tuple, err := expr.Tuple(f.name)
		require.NoError(t, err)

		_, err = f.query.Multiselect(f.age, tuple)
		assert.ErrorIs(t, err, expr.ErrInvalidSelection)

		var selErr *expr.InvalidSelectionError
		require.True(t, errors.As(err, &selErr))
		assert.Equal(t, 1, selErr.Position)
	})

	t.Run("multiselect rejects duplicate aliases", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		_, err := f.query.MultiselectList([]expr.Selection{expr.As(f.name, "a"), expr.As(f.age, "a")})
		assert.ErrorIs(t, err, expr.ErrAliasConflict)
	})

	t.Run("multiselect selection is a compound", func(t *testing.T) {
		f := newFixture(t, TupleResult())
		_, err := f.query.Multiselect(f.name, f.age)
		require.NoError(t, err)
		c, ok := f.query.Selection().(*expr.Compound)
		require.True(t, ok)
		assert.Equal(t, expr.KindTuple, c.Kind)
	})

	t.Run("distinct is independent", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		_, err := f.query.Distinct(true)
		require.NoError(t, err)
		_, err = f.query.Select(f.name)
		require.NoError(t, err)
		assert.True(t, f.query.IsDistinct())
	})
}

func TestFreezeShapes(t *testing.T) {
	t.Run("tuple result keeps three items in order", func(t *testing.T) {
		f := newFixture(t, TupleResult())
		_, err := f.query.Multiselect(f.name, f.age, f.vip)
		require.NoError(t, err)

		d, err := Freeze(f.query)
		require.NoError(t, err)
		assert.Equal(t, ShapeTuple, d.Shape)
		assert.Equal(t, []expr.Selection{f.name, f.age, f.vip}, d.Items)
	})

	t.Run("object result with one selection is raw", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		_, err := f.query.Multiselect(f.name)
		require.NoError(t, err)

		d, err := Freeze(f.query)
		require.NoError(t, err)
		assert.Equal(t, ShapeRaw, d.Shape)
	})

	t.Run("object result with two selections is an array", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		_, err := f.query.Multiselect(f.name, f.age)
		require.NoError(t, err)

		d, err := Freeze(f.query)
		require.NoError(t, err)
		assert.Equal(t, ShapeArray, d.Shape)
		assert.Equal(t, expr.KindUnknown, d.ElemType.Kind)
	})

	t.Run("default selection is the root", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		d, err := Freeze(f.query)
		require.NoError(t, err)
		assert.Equal(t, []expr.Selection{f.root}, d.Items)
		assert.Equal(t, ShapeRaw, d.Shape)
		assert.Equal(t, unit.FlushAuto, d.FlushMode)
	})

	t.Run("array result converts elements", func(t *testing.T) {
		f := newFixture(t, ArrayResult(expr.Scalar(schema.TypeString)))
		_, err := f.query.Multiselect(f.name, f.age)
		require.NoError(t, err)

		d, err := Freeze(f.query)
		require.NoError(t, err)
		assert.Equal(t, ShapeArray, d.Shape)
		assert.Equal(t, expr.Scalar(schema.TypeString), d.ElemType)
	})

	t.Run("selected tuple compound", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		tuple, err := expr.Tuple(f.name, f.age)
		require.NoError(t, err)
		_, err = f.query.Select(tuple)
		require.NoError(t, err)

		d, err := Freeze(f.query)
		require.NoError(t, err)
		assert.Equal(t, ShapeTuple, d.Shape)
		assert.Len(t, d.Items, 2)
	})

	t.Run("joins are captured parents first", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		orders, err := f.root.Join("orders", expr.JoinInner)
		require.NoError(t, err)
		_, err = orders.Join("invoice", expr.JoinLeft)
		require.NoError(t, err)

		d, err := Freeze(f.query)
		require.NoError(t, err)
		require.Len(t, d.Joins, 2)
		assert.Same(t, orders, d.Joins[0])
	})
}

type summary struct {
	name string
}

func summaryConstructors() []Constructor {
	return []Constructor{
		{
			Params: []expr.Type{expr.Scalar(schema.TypeString)},
			New: func(args ...any) (any, error) {
				return summary{name: fmt.Sprint(args[0])}, nil
			},
		},
		{
			Params: []expr.Type{expr.Scalar(schema.TypeString), expr.Scalar(schema.TypeBigInt)},
			New: func(args ...any) (any, error) {
				return summary{name: fmt.Sprint(args[0])}, nil
			},
		},
	}
}

func TestConstructorMatching(t *testing.T) {
	t.Run("matching constructor", func(t *testing.T) {
		f := newFixture(t, ConstructResult("Summary", summaryConstructors()...))
		_, err := f.query.Multiselect(f.name, f.age)
		require.NoError(t, err)

		d, err := Freeze(f.query)
		require.NoError(t, err)
		assert.Equal(t, ShapeConstruct, d.Shape)
		require.NotNil(t, d.Constructor)
		assert.Len(t, d.Constructor.Params, 2, "int selection accepted by bigint parameter")
	})

	t.Run("no matching constructor", func(t *testing.T) {
		f := newFixture(t, ConstructResult("Summary", summaryConstructors()...))
		_, err := f.query.Multiselect(f.age, f.name)
		require.NoError(t, err)

		_, err = Freeze(f.query)
		assert.ErrorIs(t, err, ErrConstruction)
		assert.False(t, f.query.Frozen(), "failed freeze leaves the query open")
	})

	t.Run("construct selection uses registered constructors", func(t *testing.T) {
		f := newFixture(t, ObjectResult(), WithConstructor("Summary", summaryConstructors()...))
		c, err := expr.Construct("Summary", f.name)
		require.NoError(t, err)
		_, err = f.query.Select(c)
		require.NoError(t, err)

		d, err := Freeze(f.query)
		require.NoError(t, err)
		assert.Equal(t, ShapeConstruct, d.Shape)
		assert.Len(t, d.Constructor.Params, 1)
	})

	t.Run("exact match is preferred", func(t *testing.T) {
		ctors := []Constructor{
			{Params: []expr.Type{expr.Scalar(schema.TypeBigInt)}},
			{Params: []expr.Type{expr.Scalar(schema.TypeInt)}},
		}
		ctor, err := MatchConstructor("X", ctors, []expr.Type{expr.Scalar(schema.TypeInt)})
		require.NoError(t, err)
		assert.Same(t, &ctors[1], ctor)
	})
}

func TestFreezeLifecycle(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := newFixture(t, ObjectResult(), WithLogger(zap.New(core)))

	_, err := f.query.Select(f.name)
	require.NoError(t, err)
	_, err = f.query.Select(f.age)
	require.NoError(t, err, "repeated mutation before freezing is legal")

	d, err := Freeze(f.query)
	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, [16]byte(d.ID))
	assert.True(t, f.query.Frozen())
	assert.Equal(t, 1, logs.FilterMessage("froze criteria query").Len())

	_, err = f.query.Select(f.name)
	assert.ErrorIs(t, err, ErrIllegalState)
	_, err = f.query.WherePredicates()
	assert.ErrorIs(t, err, ErrIllegalState)
	_, err = f.query.From("Phone")
	assert.ErrorIs(t, err, ErrIllegalState)

	_, err = Freeze(f.query)
	assert.ErrorIs(t, err, ErrIllegalState)

	var stateErr *IllegalStateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "freeze", stateErr.Op)
}

func TestFreezeValidation(t *testing.T) {
	t.Run("query without root", func(t *testing.T) {
		builder, err := NewBuilder(schematest.CustomerRegistry(t))
		require.NoError(t, err)
		_, err = Freeze(builder.CreateQuery(ObjectResult()))
		assert.ErrorIs(t, err, ErrIllegalState)
	})

	t.Run("several roots need a selection", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		_, err := f.query.From("Phone")
		require.NoError(t, err)
		_, err = Freeze(f.query)
		assert.ErrorIs(t, err, ErrIllegalState)
	})

	t.Run("path from another query", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		other := newFixture(t, ObjectResult())
		_, err := f.query.Select(other.name)
		require.NoError(t, err)

		_, err = Freeze(f.query)
		assert.ErrorIs(t, err, expr.ErrInvalidPath)
	})

	t.Run("unknown entity", func(t *testing.T) {
		f := newFixture(t, ObjectResult())
		_, err := f.query.From("Vendor")
		assert.ErrorIs(t, err, expr.ErrInvalidPath)
		assert.Len(t, f.query.Roots(), 1)
	})
}
