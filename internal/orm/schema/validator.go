// Package schema provides validation for entity mappings
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMapping is matched by every *MappingError
var ErrMapping = errors.New("mapping error")

// MappingError reports an inconsistent mapping declaration
type MappingError struct {
	Entity  string
	Table   string
	Column  string
	Message string
	Hint    string
}

// Error implements the error interface
func (e *MappingError) Error() string {
	var b strings.Builder

	b.WriteString("mapping: ")
	if e.Entity != "" {
		b.WriteString(e.Entity)
		if e.Column != "" {
			b.WriteString(".")
			b.WriteString(e.Column)
		}
		b.WriteString(": ")
	} else if e.Table != "" {
		b.WriteString(e.Table)
		if e.Column != "" {
			b.WriteString(".")
			b.WriteString(e.Column)
		}
		b.WriteString(": ")
	}

	b.WriteString(e.Message)

	if e.Hint != "" {
		b.WriteString("\n  hint: ")
		b.WriteString(e.Hint)
	}

	return b.String()
}

// Is makes errors.Is(err, ErrMapping) match
func (e *MappingError) Is(target error) bool {
	return target == ErrMapping
}

// MappingErrors aggregates every violation found in one validation pass
type MappingErrors []*MappingError

// Error implements the error interface
func (m MappingErrors) Error() string {
	if len(m) == 1 {
		return m[0].Error()
	}
	msgs := make([]string, len(m))
	for i, err := range m {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("mapping validation failed with %d errors:\n%s", len(m), strings.Join(msgs, "\n"))
}

// Is makes errors.Is(err, ErrMapping) match
func (m MappingErrors) Is(target error) bool {
	return target == ErrMapping
}

// Unwrap exposes the individual errors to errors.As
func (m MappingErrors) Unwrap() []error {
	errs := make([]error, len(m))
	for i, err := range m {
		errs[i] = err
	}
	return errs
}

// MappingValidator validates entity mappings
type MappingValidator struct {
	errors []*MappingError
}

// NewMappingValidator creates a new mapping validator
func NewMappingValidator() *MappingValidator {
	return &MappingValidator{
		errors: make([]*MappingError, 0),
	}
}

// ValidateStructural validates a single entity without cross-entity checks.
// It runs during registration so that associations may reference entities
// that are registered later.
func (v *MappingValidator) ValidateStructural(entity *Entity) error {
	v.errors = make([]*MappingError, 0)

	if entity.Name == "" {
		v.addError(&MappingError{Message: "entity name is required"})
		return v.result()
	}
	if entity.Table == "" {
		v.addError(&MappingError{Entity: entity.Name, Message: "table name is required"})
	}

	v.validateColumns(entity)
	v.validatePrimaryKey(entity)
	v.validateSecondaryTables(entity)
	v.validateAssociations(entity)

	return v.result()
}

func (v *MappingValidator) validateColumns(entity *Entity) {
	attributes := make(map[string]bool)
	columns := make(map[string]bool)

	for _, col := range entity.Columns {
		if col.Attribute == "" {
			v.addError(&MappingError{Entity: entity.Name, Column: col.Name, Message: "column has no attribute name"})
			continue
		}
		if col.Name == "" {
			v.addError(&MappingError{Entity: entity.Name, Column: col.Attribute, Message: "attribute has no column name"})
			continue
		}
		if attributes[col.Attribute] {
			v.addError(&MappingError{Entity: entity.Name, Column: col.Attribute, Message: "duplicate attribute"})
		}
		attributes[col.Attribute] = true

		key := strings.ToLower(col.Table + "." + col.Name)
		if columns[key] {
			v.addError(&MappingError{Entity: entity.Name, Column: col.Name, Message: "duplicate column name"})
		}
		columns[key] = true

		if col.Table != "" {
			if _, ok := entity.SecondaryTable(col.Table); !ok {
				v.addError(&MappingError{
					Entity:  entity.Name,
					Column:  col.Attribute,
					Message: fmt.Sprintf("column is mapped to undeclared secondary table %s", col.Table),
				})
			}
		}
	}

	for _, assoc := range entity.Associations {
		if attributes[assoc.Name] {
			v.addError(&MappingError{Entity: entity.Name, Column: assoc.Name, Message: "association name collides with an attribute"})
		}
		attributes[assoc.Name] = true
	}
}

func (v *MappingValidator) validatePrimaryKey(entity *Entity) {
	if len(entity.PrimaryKey) == 0 {
		// Subclasses inherit the key of their superclass
		if entity.Superclass == "" {
			v.addError(&MappingError{
				Entity:  entity.Name,
				Message: "entity has no primary key",
				Hint:    "declare at least one primary-key column or a superclass",
			})
		}
		return
	}

	seen := make(map[string]bool)
	for _, pk := range entity.PrimaryKey {
		col, ok := entity.ColumnByName(pk)
		if !ok {
			v.addError(&MappingError{Entity: entity.Name, Column: pk, Message: "primary-key column is not mapped"})
			continue
		}
		if col.Table != "" {
			v.addError(&MappingError{Entity: entity.Name, Column: pk, Message: "primary-key column must live in the primary table"})
		}
		if seen[strings.ToLower(pk)] {
			v.addError(&MappingError{Entity: entity.Name, Column: pk, Message: "duplicate primary-key column"})
		}
		seen[strings.ToLower(pk)] = true
	}
}

func (v *MappingValidator) validateSecondaryTables(entity *Entity) {
	seen := make(map[string]bool)
	for _, st := range entity.SecondaryTables {
		if st.Name == "" {
			v.addError(&MappingError{Entity: entity.Name, Message: "secondary table has no name"})
			continue
		}
		if strings.EqualFold(st.Name, entity.Table) || seen[strings.ToLower(st.Name)] {
			v.addError(&MappingError{Entity: entity.Name, Table: st.Name, Message: fmt.Sprintf("duplicate table %s", st.Name)})
		}
		seen[strings.ToLower(st.Name)] = true
		v.validatePrimaryKeyJoinColumns(entity, st.Name, st.PrimaryKeyJoinColumns)
	}
	if entity.Superclass != "" {
		v.validatePrimaryKeyJoinColumns(entity, entity.Table, entity.InheritanceJoinColumns)
	}
}

func (v *MappingValidator) validatePrimaryKeyJoinColumns(entity *Entity, table string, specs []PrimaryKeyJoinColumnSpec) {
	seen := make(map[string]bool)
	for _, spec := range specs {
		if spec.Name == "" {
			continue
		}
		if seen[strings.ToLower(spec.Name)] {
			v.addError(&MappingError{Entity: entity.Name, Table: table, Column: spec.Name, Message: "duplicate primary-key join column"})
		}
		seen[strings.ToLower(spec.Name)] = true
	}
}

func (v *MappingValidator) validateAssociations(entity *Entity) {
	for _, assoc := range entity.Associations {
		if assoc.Name == "" {
			v.addError(&MappingError{Entity: entity.Name, Message: "association has no name"})
			continue
		}
		if assoc.Target == "" {
			v.addError(&MappingError{Entity: entity.Name, Column: assoc.Name, Message: "association has no target entity"})
		}
		if !assoc.Owning && assoc.MappedBy == "" {
			v.addError(&MappingError{
				Entity:  entity.Name,
				Column:  assoc.Name,
				Message: "inverse association must name the owning side",
				Hint:    "set mapped_by or mark the association as owning",
			})
		}
		if assoc.JoinTable != nil {
			if !assoc.Owning {
				v.addError(&MappingError{Entity: entity.Name, Column: assoc.Name, Message: "only the owning side may declare a join table"})
			}
			if err := ValidateJoinTableSpec(assoc.JoinTable); err != nil {
				var me *MappingError
				if errors.As(err, &me) {
					me.Entity = entity.Name
					v.addError(me)
				}
			}
		}
		if len(assoc.PrimaryKeyJoinColumns) > 0 && assoc.Kind != OneToOne {
			v.addError(&MappingError{
				Entity:  entity.Name,
				Column:  assoc.Name,
				Message: fmt.Sprintf("primary-key join columns require a one_to_one association, got %s", assoc.Kind),
			})
		}
	}
}

// ValidateJoinTableSpec checks a join table declaration on its own:
// declared column names must be unique across both sides.
func ValidateJoinTableSpec(spec *JoinTableSpec) error {
	seen := make(map[string]bool)
	for _, ref := range append(append([]ColumnRef{}, spec.JoinColumns...), spec.InverseJoinColumns...) {
		if ref.Name == "" {
			continue
		}
		key := strings.ToLower(ref.Name)
		if seen[key] {
			return &MappingError{
				Table:   spec.Name,
				Column:  ref.Name,
				Message: "duplicate column in join table",
			}
		}
		seen[key] = true
	}
	return nil
}

// ValidateUniqueConstraints checks that every constraint group references
// columns of the given table
func ValidateUniqueConstraints(table string, columns []string, constraints []UniqueConstraint) error {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[strings.ToLower(c)] = true
	}
	for _, uc := range constraints {
		if len(uc.Columns) == 0 {
			return &MappingError{Table: table, Message: fmt.Sprintf("unique constraint %q has no columns", uc.Name)}
		}
		for _, c := range uc.Columns {
			if !known[strings.ToLower(c)] {
				return &MappingError{
					Table:   table,
					Column:  c,
					Message: fmt.Sprintf("unique constraint %q references a column outside the table", uc.Name),
				}
			}
		}
	}
	return nil
}

func (v *MappingValidator) addError(err *MappingError) {
	v.errors = append(v.errors, err)
}

func (v *MappingValidator) result() error {
	if len(v.errors) == 0 {
		return nil
	}
	return MappingErrors(v.errors)
}

// Errors returns the errors of the last validation pass
func (v *MappingValidator) Errors() []*MappingError {
	return v.errors
}
