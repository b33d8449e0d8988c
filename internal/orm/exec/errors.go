package exec

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Execution error types
var (
	// ErrBinding is returned when a parameter binding is missing, unknown or ill-typed
	ErrBinding = errors.New("invalid parameter binding")

	// ErrResultShape is returned when result rows do not match the projection
	ErrResultShape = errors.New("result rows do not match the projection")

	// ErrNoSuchElement is returned when a tuple has no element at a position or alias
	ErrNoSuchElement = errors.New("no such tuple element")

	// ErrUndefinedObject is returned when the database lacks a mapped table or column
	ErrUndefinedObject = errors.New("undefined table or column")

	// ErrSyntax is returned when the database rejects the rendered statement
	ErrSyntax = errors.New("syntax error in rendered statement")

	// ErrQueryCanceled is returned when the query was canceled or timed out
	ErrQueryCanceled = errors.New("query canceled")
)

// BindingError reports a problem with one parameter binding
type BindingError struct {
	Key    string
	Reason string
}

// Error implements the error interface
func (e *BindingError) Error() string {
	return fmt.Sprintf("parameter %s: %s", e.Key, e.Reason)
}

// Is reports whether target is ErrBinding
func (e *BindingError) Is(target error) bool {
	return target == ErrBinding
}

// ConvertDBError converts driver errors raised while running a query to
// execution errors
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrQueryCanceled, err)
	}

	var code, message string
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code, message = pgErr.Code, pgErr.Message
	case errors.As(err, &pqErr):
		code, message = string(pqErr.Code), pqErr.Message
	default:
		return err
	}

	switch code {
	case "42P01", "42703": // undefined_table, undefined_column
		return fmt.Errorf("%w: %s", ErrUndefinedObject, message)
	case "42601": // syntax_error
		return fmt.Errorf("%w: %s", ErrSyntax, message)
	case "57014": // query_canceled
		return fmt.Errorf("%w: %s", ErrQueryCanceled, message)
	}
	return err
}

// IsBindingError returns true if the error is a binding error
func IsBindingError(err error) bool {
	return errors.Is(err, ErrBinding)
}

// IsUndefinedObject returns true if the error is ErrUndefinedObject
func IsUndefinedObject(err error) bool {
	return errors.Is(err, ErrUndefinedObject)
}
