package expr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath is returned when navigating to an undeclared attribute or association
	ErrInvalidPath = errors.New("invalid path")

	// ErrTypeMismatch is returned when operand types are incompatible
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrAliasConflict is returned when sibling selections share an alias
	ErrAliasConflict = errors.New("alias conflict")

	// ErrInvalidSelection is returned for illegal nesting of compound selections
	ErrInvalidSelection = errors.New("invalid selection")
)

// InvalidPathError reports navigation to something the mapping does not declare
type InvalidPathError struct {
	Entity string
	Name   string
	Reason string
}

// Error implements the error interface
func (e *InvalidPathError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid path %s.%s", e.Entity, e.Name)
	}
	return fmt.Sprintf("invalid path %s.%s: %s", e.Entity, e.Name, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidPath) match
func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}

// TypeMismatchError reports operands whose declared types cannot be combined
type TypeMismatchError struct {
	Operator string
	Left     Type
	Right    Type
	Reason   string
}

// Error implements the error interface
func (e *TypeMismatchError) Error() string {
	msg := fmt.Sprintf("type mismatch in %s: %s and %s", e.Operator, e.Left, e.Right)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrTypeMismatch) match
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// AliasConflictError reports an alias used by more than one sibling selection
type AliasConflictError struct {
	Alias string
}

// Error implements the error interface
func (e *AliasConflictError) Error() string {
	return fmt.Sprintf("alias %q is used by more than one selection", e.Alias)
}

// Is makes errors.Is(err, ErrAliasConflict) match
func (e *AliasConflictError) Is(target error) bool {
	return target == ErrAliasConflict
}

// InvalidSelectionError reports a compound selection nested where it is not allowed
type InvalidSelectionError struct {
	Position int
	Reason   string
}

// Error implements the error interface
func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("invalid selection at position %d: %s", e.Position, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidSelection) match
func (e *InvalidSelectionError) Is(target error) bool {
	return target == ErrInvalidSelection
}

func mismatch(op string, left, right Type, reason string) error {
	return &TypeMismatchError{Operator: op, Left: left, Right: right, Reason: reason}
}
