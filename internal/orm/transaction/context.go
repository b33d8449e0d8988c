package transaction

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	// contextKeyTransaction is the key for storing a transaction in context
	contextKeyTransaction contextKey = "persistence:transaction"
)

// FromContext retrieves the ambient transaction from the context
func FromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(contextKeyTransaction).(*Transaction)
	return tx, ok && tx != nil
}

// WithContext returns a new context carrying tx as the ambient transaction
func WithContext(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, contextKeyTransaction, tx)
}

// MustFromContext retrieves the ambient transaction and panics when there is none
func MustFromContext(ctx context.Context) *Transaction {
	tx, ok := FromContext(ctx)
	if !ok {
		panic("no transaction found in context")
	}
	return tx
}
