// Package exec is the execution boundary of criteria queries: it freezes a
// query, renders it for the connected dialect, binds its parameters, runs
// it through database/sql and materializes the rows by result shape.
package exec

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/persistence/internal/orm/criteria"
	"github.com/conduit-lang/persistence/internal/orm/query"
	"github.com/conduit-lang/persistence/internal/orm/transaction"
)

// Executor runs criteria queries against a database
type Executor struct {
	db      *sql.DB
	dialect query.Dialect
	manager *transaction.Manager
	logger  *zap.Logger
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithManager runs every query through the transaction manager, which
// applies the unit's transaction type. Without a manager queries join an
// ambient transaction when the context carries one and otherwise run
// directly on the database.
func WithManager(m *transaction.Manager) Option {
	return func(e *Executor) {
		e.manager = m
	}
}

// NewExecutor creates an executor for a database of the given dialect
func NewExecutor(db *sql.DB, dialect query.Dialect, opts ...Option) *Executor {
	e := &Executor{
		db:      db,
		dialect: dialect,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prepare freezes and renders a query without running it
func (e *Executor) Prepare(q *criteria.Query) (*criteria.Descriptor, *query.Statement, error) {
	d, err := criteria.Freeze(q)
	if err != nil {
		return nil, nil, err
	}
	renderer := query.NewRenderer(q.Builder().Registry(), e.dialect, query.WithLogger(e.logger))
	stmt, err := renderer.Render(d)
	if err != nil {
		return nil, nil, err
	}
	return d, stmt, nil
}

// Execute runs a query and returns one result per row. bindings maps
// parameter names, or "?N" for positional parameters, to values. The query
// is frozen by the call and cannot be executed again.
func (e *Executor) Execute(ctx context.Context, q *criteria.Query, bindings map[string]any) ([]any, error) {
	d, stmt, err := e.Prepare(q)
	if err != nil {
		return nil, err
	}
	return e.ExecutePrepared(ctx, d, stmt, bindings)
}

// ExecutePrepared runs a statement returned by Prepare
func (e *Executor) ExecutePrepared(ctx context.Context, d *criteria.Descriptor, stmt *query.Statement, bindings map[string]any) ([]any, error) {
	args, err := Bind(d, stmt, bindings)
	if err != nil {
		return nil, err
	}

	var results []any
	run := func(ctx context.Context, q transaction.Querier) error {
		start := time.Now()
		rows, err := q.QueryContext(ctx, stmt.SQL, args...)
		if err != nil {
			return ConvertDBError(err)
		}
		defer rows.Close()

		results, err = Materialize(d, stmt, rows)
		if err != nil {
			return ConvertDBError(err)
		}
		e.logger.Debug("executed criteria query",
			zap.String("id", d.ID.String()),
			zap.String("flush_mode", d.FlushMode.String()),
			zap.Int("rows", len(results)),
			zap.Duration("duration", time.Since(start)))
		return nil
	}

	switch {
	case e.manager != nil:
		err = e.manager.Run(ctx, run)
	default:
		if tx, ok := transaction.FromContext(ctx); ok {
			err = run(ctx, tx)
		} else {
			err = run(ctx, e.db)
		}
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}
