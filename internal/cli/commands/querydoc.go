package commands

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/persistence/internal/orm/criteria"
	"github.com/conduit-lang/persistence/internal/orm/expr"
)

// queryDocument is the YAML form of a criteria query
type queryDocument struct {
	Result   string              `yaml:"result"`
	From     string              `yaml:"from"`
	Joins    []joinDocument      `yaml:"joins"`
	Select   []string            `yaml:"select"`
	Where    []conditionDocument `yaml:"where"`
	GroupBy  []string            `yaml:"group_by"`
	Having   []conditionDocument `yaml:"having"`
	OrderBy  []orderDocument     `yaml:"order_by"`
	Distinct bool                `yaml:"distinct"`
}

type joinDocument struct {
	Name        string `yaml:"name"`
	From        string `yaml:"from"`
	Association string `yaml:"association"`
	Type        string `yaml:"type"`
}

type conditionDocument struct {
	Expr   string `yaml:"expr"`
	Op     string `yaml:"op"`
	Value  any    `yaml:"value"`
	Values []any  `yaml:"values"`
	Param  string `yaml:"param"`
}

type orderDocument struct {
	Expr string `yaml:"expr"`
	Desc bool   `yaml:"desc"`
}

func loadQueryDocument(r io.Reader) (*queryDocument, error) {
	var doc queryDocument
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("query document is empty")
		}
		return nil, fmt.Errorf("failed to decode query document: %w", err)
	}
	if doc.From == "" {
		return nil, fmt.Errorf("query document needs a from entity")
	}
	return &doc, nil
}

func loadQueryFile(path string) (*queryDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query file: %w", err)
	}
	return loadQueryDocument(bytes.NewReader(data))
}

// docQuery builds a criteria query from a document
type docQuery struct {
	query *criteria.Query
	root  *expr.Root
	joins map[string]*expr.Join
}

func buildQuery(builder *criteria.Builder, doc *queryDocument) (*criteria.Query, error) {
	var rt criteria.ResultType
	switch strings.ToLower(doc.Result) {
	case "", "object":
		rt = criteria.ObjectResult()
	case "tuple":
		rt = criteria.TupleResult()
	case "array":
		rt = criteria.ArrayResult(expr.Type{})
	default:
		return nil, fmt.Errorf("unknown result type %q", doc.Result)
	}

	dq := &docQuery{query: builder.CreateQuery(rt), joins: make(map[string]*expr.Join)}
	root, err := dq.query.From(doc.From)
	if err != nil {
		return nil, err
	}
	dq.root = root

	for _, jd := range doc.Joins {
		if err := dq.join(jd); err != nil {
			return nil, err
		}
	}

	if len(doc.Select) > 0 {
		items := make([]expr.Selection, 0, len(doc.Select))
		for _, s := range doc.Select {
			item, err := dq.selection(s)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if len(items) == 1 {
			if _, err := dq.query.Select(items[0]); err != nil {
				return nil, err
			}
		} else if _, err := dq.query.MultiselectList(items); err != nil {
			return nil, err
		}
	}

	where, err := dq.conditions(doc.Where)
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	if _, err := dq.query.WherePredicates(where...); err != nil {
		return nil, err
	}

	groups := make([]expr.Expression, 0, len(doc.GroupBy))
	for _, g := range doc.GroupBy {
		e, err := dq.expression(g)
		if err != nil {
			return nil, fmt.Errorf("group_by: %w", err)
		}
		groups = append(groups, e)
	}
	if _, err := dq.query.GroupByList(groups); err != nil {
		return nil, err
	}

	having, err := dq.conditions(doc.Having)
	if err != nil {
		return nil, fmt.Errorf("having: %w", err)
	}
	if _, err := dq.query.HavingPredicates(having...); err != nil {
		return nil, err
	}

	orders := make([]expr.Order, 0, len(doc.OrderBy))
	for _, od := range doc.OrderBy {
		e, err := dq.expression(od.Expr)
		if err != nil {
			return nil, fmt.Errorf("order_by: %w", err)
		}
		if od.Desc {
			orders = append(orders, expr.Desc(e))
		} else {
			orders = append(orders, expr.Asc(e))
		}
	}
	if _, err := dq.query.OrderByList(orders); err != nil {
		return nil, err
	}

	if _, err := dq.query.Distinct(doc.Distinct); err != nil {
		return nil, err
	}
	return dq.query, nil
}

func (dq *docQuery) join(jd joinDocument) error {
	var source expr.From = dq.root
	if jd.From != "" {
		parent, ok := dq.joins[jd.From]
		if !ok {
			return fmt.Errorf("join %s: unknown source %s", jd.Association, jd.From)
		}
		source = parent
	}

	var joinType expr.JoinType
	switch strings.ToLower(jd.Type) {
	case "", "inner":
		joinType = expr.JoinInner
	case "left":
		joinType = expr.JoinLeft
	case "right":
		joinType = expr.JoinRight
	default:
		return fmt.Errorf("join %s: unknown join type %q", jd.Association, jd.Type)
	}

	j, err := source.Join(jd.Association, joinType)
	if err != nil {
		return err
	}
	name := jd.Name
	if name == "" {
		name = jd.Association
	}
	if _, exists := dq.joins[name]; exists {
		return fmt.Errorf("join name %s is used twice", name)
	}
	dq.joins[name] = j
	return nil
}

// selection parses "<expression>" or "<expression> as <alias>"
func (dq *docQuery) selection(s string) (expr.Selection, error) {
	text, alias := s, ""
	if i := strings.Index(strings.ToLower(s), " as "); i >= 0 {
		text, alias = s[:i], strings.TrimSpace(s[i+4:])
	}
	e, err := dq.expression(text)
	if err != nil {
		return nil, err
	}
	if alias != "" {
		return expr.As[expr.Selection](e, alias), nil
	}
	return e, nil
}

var aggregates = map[string]func(expr.Expression) (*expr.Aggregate, error){
	"count": func(e expr.Expression) (*expr.Aggregate, error) { return expr.Count(e), nil },
	"sum":   expr.Sum,
	"avg":   expr.Avg,
	"min":   expr.Min,
	"max":   expr.Max,
}

// expression parses a path ("name", "phones.number"), a source ("phones",
// or the root entity name) or an aggregate over either ("count(phones)")
func (dq *docQuery) expression(s string) (expr.Expression, error) {
	s = strings.TrimSpace(s)
	if open := strings.Index(s, "("); open > 0 && strings.HasSuffix(s, ")") {
		fn, ok := aggregates[strings.ToLower(s[:open])]
		if !ok {
			return nil, fmt.Errorf("unknown function %s", s[:open])
		}
		arg, err := dq.expression(s[open+1 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return fn(arg)
	}

	if s == dq.root.Entity().Name {
		return dq.root, nil
	}
	if j, ok := dq.joins[s]; ok {
		return j, nil
	}
	if source, attr, ok := strings.Cut(s, "."); ok {
		j, found := dq.joins[source]
		if !found {
			return nil, fmt.Errorf("unknown join %s in %s", source, s)
		}
		return j.Get(attr)
	}
	return dq.root.Get(s)
}

func (dq *docQuery) conditions(docs []conditionDocument) ([]expr.Predicate, error) {
	predicates := make([]expr.Predicate, 0, len(docs))
	for _, cd := range docs {
		p, err := dq.condition(cd)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, p)
	}
	return predicates, nil
}

func (dq *docQuery) condition(cd conditionDocument) (expr.Predicate, error) {
	x, err := dq.expression(cd.Expr)
	if err != nil {
		return nil, err
	}

	operand := func() any {
		if cd.Param != "" {
			return expr.Param(cd.Param, x.Type())
		}
		return cd.Value
	}

	op := strings.ToLower(cd.Op)
	switch op {
	case "in", "between", "is_null", "is_not_null", "is_true", "is_false":
		if cd.Param != "" {
			return nil, fmt.Errorf("operator %s on %s does not take a param", op, cd.Expr)
		}
	}

	switch op {
	case "eq", "=":
		return expr.Equal(x, operand())
	case "ne", "<>":
		return expr.NotEqual(x, operand())
	case "gt", ">":
		return expr.GreaterThan(x, operand())
	case "ge", ">=":
		return expr.GreaterThanOrEqual(x, operand())
	case "lt", "<":
		return expr.LessThan(x, operand())
	case "le", "<=":
		return expr.LessThanOrEqual(x, operand())
	case "like":
		return expr.Like(x, operand())
	case "not_like":
		return expr.NotLike(x, operand())
	case "in":
		return expr.In(x, cd.Values...)
	case "between":
		if len(cd.Values) != 2 {
			return nil, fmt.Errorf("between on %s needs two values", cd.Expr)
		}
		return expr.Between(x, cd.Values[0], cd.Values[1])
	case "is_null":
		return expr.IsNull(x), nil
	case "is_not_null":
		return expr.IsNotNull(x), nil
	case "is_true":
		return expr.IsTrue(x)
	case "is_false":
		return expr.IsFalse(x)
	default:
		return nil, fmt.Errorf("unknown operator %q on %s", cd.Op, cd.Expr)
	}
}
