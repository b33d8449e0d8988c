// Package query renders frozen criteria query descriptors to SQL. Joined
// inheritance, secondary tables and association navigation are expanded
// into joins using the resolved mapping; parameters stay as markers in the
// argument list until the execution boundary binds them.
package query

import (
	"fmt"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/conduit-lang/persistence/internal/orm/criteria"
	"github.com/conduit-lang/persistence/internal/orm/expr"
	"github.com/conduit-lang/persistence/internal/orm/schema"
)

// Statement is a rendered query
type Statement struct {
	SQL  string
	Args []any

	// Widths holds the number of result columns of each projected item
	Widths []int
	// Attributes names the columns of entity items and AttributeTypes gives
	// their types; both are nil for scalar items
	Attributes     [][]string
	AttributeTypes [][]expr.Type
}

// ParamRef marks where a query parameter is bound in Statement.Args
type ParamRef struct {
	Key  string
	Type expr.Type
}

// Renderer renders descriptors against a mapping registry
type Renderer struct {
	registry *schema.Registry
	dialect  Dialect
	logger   *zap.Logger
}

// RendererOption configures a Renderer
type RendererOption func(*Renderer)

// WithLogger sets the logger used for rendered statements
func WithLogger(logger *zap.Logger) RendererOption {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRenderer creates a renderer for the given dialect
func NewRenderer(registry *schema.Registry, dialect Dialect, opts ...RendererOption) *Renderer {
	r := &Renderer{
		registry: registry,
		dialect:  dialect,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dialect returns the dialect statements are rendered for
func (r *Renderer) Dialect() Dialect {
	return r.dialect
}

// Render renders a frozen descriptor to a SELECT statement
func (r *Renderer) Render(d *criteria.Descriptor) (*Statement, error) {
	p, err := newPlan(r.registry, d)
	if err != nil {
		return nil, err
	}

	sb := squirrel.StatementBuilder.PlaceholderFormat(r.dialect.Placeholder()).Select()
	if d.Distinct {
		sb = sb.Distinct()
	}

	stmt := &Statement{}
	for _, item := range d.Items {
		if from, ok := item.(expr.From); ok {
			cols, attrs, types, err := p.entityColumns(from)
			if err != nil {
				return nil, err
			}
			sb = sb.Columns(cols...)
			stmt.Widths = append(stmt.Widths, len(cols))
			stmt.Attributes = append(stmt.Attributes, attrs)
			stmt.AttributeTypes = append(stmt.AttributeTypes, types)
			continue
		}
		s, err := p.sqlizer(item)
		if err != nil {
			return nil, err
		}
		if alias := item.Alias(); alias != "" && IsValidIdentifier(alias) {
			sb = sb.Column(squirrel.Alias(s, alias))
		} else {
			sb = sb.Column(s)
		}
		stmt.Widths = append(stmt.Widths, 1)
		stmt.Attributes = append(stmt.Attributes, nil)
		stmt.AttributeTypes = append(stmt.AttributeTypes, nil)
	}

	sb = p.apply(sb)

	if d.Restriction != nil {
		s, err := p.sqlizer(d.Restriction)
		if err != nil {
			return nil, err
		}
		sb = sb.Where(s)
	}

	for _, g := range d.Groupings {
		s, err := p.sqlizer(g)
		if err != nil {
			return nil, err
		}
		sql, args, err := s.ToSql()
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			return nil, fmt.Errorf("grouping expression %s cannot bind values", sql)
		}
		sb = sb.GroupBy(sql)
	}

	if d.Having != nil {
		s, err := p.sqlizer(d.Having)
		if err != nil {
			return nil, err
		}
		sb = sb.Having(s)
	}

	for _, o := range d.Orderings {
		s, err := p.sqlizer(o.Expression)
		if err != nil {
			return nil, err
		}
		sql, args, err := s.ToSql()
		if err != nil {
			return nil, err
		}
		sb = sb.OrderByClause(sql+" "+o.Direction(), args...)
	}

	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to render query: %w", err)
	}
	stmt.SQL = sql
	stmt.Args = args

	r.logger.Debug("rendered criteria query",
		zap.String("id", d.ID.String()),
		zap.String("sql", sql),
		zap.Int("args", len(args)))
	return stmt, nil
}

// sqlizer renders an expression with ? placeholders
func (p *plan) sqlizer(s expr.Selection) (squirrel.Sqlizer, error) {
	switch n := s.(type) {
	case *expr.Path:
		col, err := p.column(n.Source, n.Owner, n.Column)
		if err != nil {
			return nil, err
		}
		return squirrel.Expr(col), nil

	case expr.From:
		keys, err := p.key(n)
		if err != nil {
			return nil, err
		}
		if len(keys) != 1 {
			return nil, fmt.Errorf("entity %s has a composite key and cannot be used as an operand", n.Entity().Name)
		}
		return squirrel.Expr(keys[0]), nil

	case *expr.Constant:
		if n.Value == nil {
			return squirrel.Expr("NULL"), nil
		}
		return squirrel.Expr("?", n.Value), nil

	case *expr.Parameter:
		return squirrel.Expr("?", ParamRef{Key: n.Key(), Type: n.Type()}), nil

	case *expr.Aggregate:
		distinct := ""
		if n.Distinct {
			distinct = "DISTINCT "
		}
		if from, ok := n.Arg.(expr.From); ok && n.Func == expr.AggCount {
			keys, err := p.key(from)
			if err != nil {
				return nil, err
			}
			if len(keys) != 1 {
				return squirrel.Expr("COUNT(" + distinct + "*)"), nil
			}
		}
		arg, err := p.sqlizer(n.Arg)
		if err != nil {
			return nil, err
		}
		return squirrel.Expr(n.Func.String()+"("+distinct+"?)", arg), nil

	case *expr.Comparison:
		left, right, err := p.pair(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return squirrel.Expr("? "+n.Operator.String()+" ?", left, right), nil

	case *expr.Range:
		operand, lower, err := p.pair(n.Operand, n.Lower)
		if err != nil {
			return nil, err
		}
		upper, err := p.sqlizer(n.Upper)
		if err != nil {
			return nil, err
		}
		return squirrel.Expr("? BETWEEN ? AND ?", operand, lower, upper), nil

	case *expr.Membership:
		operand, err := p.sqlizer(n.Operand)
		if err != nil {
			return nil, err
		}
		args := []any{operand}
		placeholders := ""
		for i, v := range n.Values {
			s, err := p.sqlizer(v)
			if err != nil {
				return nil, err
			}
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, s)
		}
		return squirrel.Expr("? IN ("+placeholders+")", args...), nil

	case *expr.NullCheck:
		operand, err := p.sqlizer(n.Operand)
		if err != nil {
			return nil, err
		}
		if n.Negated {
			return squirrel.Expr("? IS NOT NULL", operand), nil
		}
		return squirrel.Expr("? IS NULL", operand), nil

	case *expr.BooleanTest:
		operand, err := p.sqlizer(n.Operand)
		if err != nil {
			return nil, err
		}
		return squirrel.Expr("? = ?", operand, n.Value), nil

	case *expr.Junction:
		parts := make([]squirrel.Sqlizer, 0, len(n.Predicates))
		for _, pred := range n.Predicates {
			s, err := p.sqlizer(pred)
			if err != nil {
				return nil, err
			}
			parts = append(parts, s)
		}
		if n.Operator == expr.OpOr {
			return squirrel.Or(parts), nil
		}
		return squirrel.And(parts), nil

	case *expr.Negation:
		inner, err := p.sqlizer(n.Operand)
		if err != nil {
			return nil, err
		}
		return squirrel.Expr("NOT (?)", inner), nil

	case *expr.Compound:
		return nil, &expr.InvalidSelectionError{Reason: fmt.Sprintf("%s selection cannot be used as an operand", n.Type())}

	default:
		return nil, fmt.Errorf("unsupported expression %T", s)
	}
}

func (p *plan) pair(a, b expr.Expression) (squirrel.Sqlizer, squirrel.Sqlizer, error) {
	left, err := p.sqlizer(a)
	if err != nil {
		return nil, nil, err
	}
	right, err := p.sqlizer(b)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// IsValidIdentifier reports whether s can be written unquoted as an alias,
// table or column name
func IsValidIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return s != ""
}
