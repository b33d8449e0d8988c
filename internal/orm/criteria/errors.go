package criteria

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/persistence/internal/orm/expr"
)

var (
	// ErrConstruction is returned when no constructor matches the selections
	ErrConstruction = errors.New("no matching constructor")

	// ErrIllegalState is returned when a query is used after it was frozen
	ErrIllegalState = errors.New("illegal query state")
)

// ConstructionError reports selections that no constructor of a result type accepts
type ConstructionError struct {
	Type  string
	Types []expr.Type
	Err   error // set when the constructor itself failed
}

// Error implements the error interface
func (e *ConstructionError) Error() string {
	names := make([]string, len(e.Types))
	for i, t := range e.Types {
		names[i] = t.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("constructing %s(%s): %v", e.Type, strings.Join(names, ", "), e.Err)
	}
	return fmt.Sprintf("no constructor of %s accepts (%s)", e.Type, strings.Join(names, ", "))
}

// Is makes errors.Is(err, ErrConstruction) match
func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstruction
}

// Unwrap returns the constructor failure, if any
func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// IllegalStateError reports an operation the query's lifecycle does not allow
type IllegalStateError struct {
	Op     string
	Reason string
}

// Error implements the error interface
func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Is makes errors.Is(err, ErrIllegalState) match
func (e *IllegalStateError) Is(target error) bool {
	return target == ErrIllegalState
}
