// Package schema provides the mapping metadata model for the persistence layer.
// It describes how entities, their primary keys, secondary tables and
// associations map onto tables, join tables and key columns, and resolves the
// defaults the declarations leave unset.
package schema

import (
	"fmt"
	"strings"
)

// PrimitiveType represents the value type stored in a mapped column
type PrimitiveType int

const (
	// Text types
	TypeString PrimitiveType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate
	TypeTime

	// Unique identifiers
	TypeUUID

	// Binary and document types
	TypeBytes
	TypeJSON

	// Enum
	TypeEnum
)

// String returns the string representation of the primitive type
func (p PrimitiveType) String() string {
	switch p {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeTime:
		return "time"
	case TypeUUID:
		return "uuid"
	case TypeBytes:
		return "bytes"
	case TypeJSON:
		return "json"
	case TypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// ParsePrimitiveType converts a string to a PrimitiveType
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	switch strings.ToLower(s) {
	case "string":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "int":
		return TypeInt, nil
	case "bigint":
		return TypeBigInt, nil
	case "float":
		return TypeFloat, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool":
		return TypeBool, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "time":
		return TypeTime, nil
	case "uuid":
		return TypeUUID, nil
	case "bytes":
		return TypeBytes, nil
	case "json":
		return TypeJSON, nil
	case "enum":
		return TypeEnum, nil
	default:
		return 0, fmt.Errorf("unknown primitive type: %s", s)
	}
}

// IsNumeric returns true if the type is a numeric type
func (p PrimitiveType) IsNumeric() bool {
	return p == TypeInt || p == TypeBigInt || p == TypeFloat || p == TypeDecimal
}

// IsText returns true if the type is a text type
func (p PrimitiveType) IsText() bool {
	return p == TypeString || p == TypeText || p == TypeEnum
}

// IsTemporal returns true if the type holds a point or span in time
func (p PrimitiveType) IsTemporal() bool {
	return p == TypeTimestamp || p == TypeDate || p == TypeTime
}

// AssociationKind represents the cardinality of an association
type AssociationKind int

const (
	ManyToOne AssociationKind = iota
	OneToOne
	OneToMany
	ManyToMany
)

// String returns the string representation of the association kind
func (k AssociationKind) String() string {
	switch k {
	case ManyToOne:
		return "many_to_one"
	case OneToOne:
		return "one_to_one"
	case OneToMany:
		return "one_to_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return "unknown"
	}
}

// ParseAssociationKind converts a string to an AssociationKind
func ParseAssociationKind(s string) (AssociationKind, error) {
	switch strings.ToLower(s) {
	case "many_to_one":
		return ManyToOne, nil
	case "one_to_one":
		return OneToOne, nil
	case "one_to_many":
		return OneToMany, nil
	case "many_to_many":
		return ManyToMany, nil
	default:
		return 0, fmt.Errorf("unknown association kind: %s", s)
	}
}

// IsCollection returns true if navigating the association yields many targets
func (k AssociationKind) IsCollection() bool {
	return k == OneToMany || k == ManyToMany
}

// ColumnRef pairs a foreign-key column with the column it references
type ColumnRef struct {
	Name                 string `yaml:"name"`
	ReferencedColumnName string `yaml:"referenced_column_name"`
}

// UniqueConstraint is a group of column names that must be unique together
type UniqueConstraint struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
}

// JoinTableSpec declares the join table of an association.
// Every field is optional; unset fields are resolved against the primary
// keys of both sides once the whole mapping is registered.
type JoinTableSpec struct {
	Name               string             `yaml:"name"`
	Catalog            string             `yaml:"catalog"`
	Schema             string             `yaml:"schema"`
	JoinColumns        []ColumnRef        `yaml:"join_columns"`
	InverseJoinColumns []ColumnRef        `yaml:"inverse_join_columns"`
	UniqueConstraints  []UniqueConstraint `yaml:"unique_constraints"`
}

// PrimaryKeyJoinColumnSpec declares a foreign-key column that is itself part
// of its table's primary key
type PrimaryKeyJoinColumnSpec struct {
	Name                 string `yaml:"name"`
	ReferencedColumnName string `yaml:"referenced_column_name"`
	ColumnDefinition     string `yaml:"column_definition"`
}

// Column represents a mapped attribute of an entity
type Column struct {
	Attribute string
	Name      string
	Type      PrimitiveType
	Nullable  bool

	// Table is empty for the entity's primary table, otherwise the name of
	// one of its secondary tables
	Table string
}

// SecondaryTable represents an additional table holding part of an entity's state
type SecondaryTable struct {
	Name                  string
	PrimaryKeyJoinColumns []PrimaryKeyJoinColumnSpec
}

// Association represents a navigable relationship from one entity to another
type Association struct {
	Name     string
	Kind     AssociationKind
	Target   string
	Owning   bool
	MappedBy string

	// Foreign key columns on the owning table (many_to_one, one_to_one)
	JoinColumns []ColumnRef

	// Join table for many_to_many and join-table backed one_to_many
	JoinTable *JoinTableSpec

	// Shared-identity one_to_one
	PrimaryKeyJoinColumns []PrimaryKeyJoinColumnSpec
}

// UsesJoinTable returns true if the association is stored in a join table
func (a *Association) UsesJoinTable() bool {
	return a.JoinTable != nil || (a.Kind == ManyToMany && a.Owning)
}

// Entity represents the complete mapping of an entity
type Entity struct {
	Name    string
	Table   string
	Schema  string
	Catalog string

	Columns    []*Column
	PrimaryKey []string // primary-key column names, in key order

	// Joined inheritance
	Superclass             string
	InheritanceJoinColumns []PrimaryKeyJoinColumnSpec

	SecondaryTables []*SecondaryTable
	Associations    []*Association
}

// NewEntity creates a new Entity whose table defaults to the snake_case name
func NewEntity(name string) *Entity {
	return &Entity{
		Name:            name,
		Table:           toSnakeCase(name),
		Columns:         make([]*Column, 0),
		PrimaryKey:      make([]string, 0),
		SecondaryTables: make([]*SecondaryTable, 0),
		Associations:    make([]*Association, 0),
	}
}

// Column returns the column mapped to the given attribute on this entity only
func (e *Entity) Column(attribute string) (*Column, bool) {
	for _, col := range e.Columns {
		if col.Attribute == attribute {
			return col, true
		}
	}
	return nil, false
}

// ColumnByName returns the column with the given column name
func (e *Entity) ColumnByName(name string) (*Column, bool) {
	for _, col := range e.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return nil, false
}

// Association returns the association with the given name on this entity only
func (e *Entity) Association(name string) (*Association, bool) {
	for _, assoc := range e.Associations {
		if assoc.Name == name {
			return assoc, true
		}
	}
	return nil, false
}

// SecondaryTable returns the secondary table with the given name
func (e *Entity) SecondaryTable(name string) (*SecondaryTable, bool) {
	for _, st := range e.SecondaryTables {
		if st.Name == name {
			return st, true
		}
	}
	return nil, false
}

// QualifiedTable returns the table name prefixed with catalog and schema when set
func (e *Entity) QualifiedTable() string {
	return qualify(e.Catalog, e.Schema, e.Table)
}

func qualify(catalog, schemaName, table string) string {
	parts := make([]string, 0, 3)
	if catalog != "" {
		parts = append(parts, catalog)
	}
	if schemaName != "" {
		parts = append(parts, schemaName)
	}
	parts = append(parts, table)
	return strings.Join(parts, ".")
}

// toSnakeCase converts a string to snake_case
func toSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			// camelCase boundary, or the end of an acronym ("HTTPServer" -> "http_server")
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
