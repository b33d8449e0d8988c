// Package criteria provides the criteria query builder: a mutable query that
// accumulates selections, restrictions, groupings and orderings built from
// the expression algebra, and the frozen descriptor the execution boundary
// consumes.
package criteria

import (
	"go.uber.org/zap"

	"github.com/conduit-lang/persistence/internal/orm/schema"
	"github.com/conduit-lang/persistence/internal/orm/unit"
)

// Builder creates criteria queries over a sealed mapping registry
type Builder struct {
	registry     *schema.Registry
	flushMode    unit.FlushMode
	constructors map[string][]Constructor
	logger       *zap.Logger
}

// Option configures a Builder
type Option func(*Builder)

// WithFlushMode sets the flush mode passed through to every query
func WithFlushMode(mode unit.FlushMode) Option {
	return func(b *Builder) {
		b.flushMode = mode
	}
}

// WithLogger sets the logger used when queries are frozen
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConstructor registers constructors for construct selections of the named type
func WithConstructor(name string, constructors ...Constructor) Option {
	return func(b *Builder) {
		b.constructors[name] = append(b.constructors[name], constructors...)
	}
}

// NewBuilder creates a query builder. The registry must be sealed.
func NewBuilder(registry *schema.Registry, opts ...Option) (*Builder, error) {
	if registry == nil || !registry.Sealed() {
		return nil, &IllegalStateError{Op: "new builder", Reason: "mapping registry is not sealed"}
	}
	b := &Builder{
		registry:     registry,
		flushMode:    unit.DefaultFlushMode,
		constructors: make(map[string][]Constructor),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Registry returns the mapping registry queries are resolved against
func (b *Builder) Registry() *schema.Registry {
	return b.registry
}

// FlushMode returns the flush mode handed to the execution boundary
func (b *Builder) FlushMode() unit.FlushMode {
	return b.flushMode
}

// CreateQuery creates a query with the given result type
func (b *Builder) CreateQuery(resultType ResultType) *Query {
	return &Query{builder: b, resultType: resultType}
}

// CreateTupleQuery creates a query returning one tuple per row
func (b *Builder) CreateTupleQuery() *Query {
	return b.CreateQuery(TupleResult())
}
