package schema

import (
	"fmt"
	"strings"
)

// JoinContext names the structure a primary-key join column participates in
type JoinContext int

const (
	// JoinContextInheritance joins a subclass table to its superclass table
	JoinContextInheritance JoinContext = iota
	// JoinContextSecondaryTable joins a secondary table to the primary table
	JoinContextSecondaryTable
	// JoinContextOneToOne joins two entities sharing the same identity
	JoinContextOneToOne
)

// String returns the string representation of the join context
func (c JoinContext) String() string {
	switch c {
	case JoinContextInheritance:
		return "inheritance"
	case JoinContextSecondaryTable:
		return "secondary_table"
	case JoinContextOneToOne:
		return "one_to_one"
	default:
		return "unknown"
	}
}

// TableKey is the table name and primary-key columns of one side of a join
type TableKey struct {
	Catalog    string
	Schema     string
	Table      string
	PrimaryKey []string
}

// ResolvedJoinTable is a join table with every default filled in
type ResolvedJoinTable struct {
	Name               string
	Catalog            string
	Schema             string
	JoinColumns        []ColumnRef // reference the owning side
	InverseJoinColumns []ColumnRef // reference the inverse side
	UniqueConstraints  []UniqueConstraint
}

// QualifiedName returns the join table name prefixed with catalog and schema when set
func (jt *ResolvedJoinTable) QualifiedName() string {
	return qualify(jt.Catalog, jt.Schema, jt.Name)
}

// Columns returns every column of the join table, owning side first
func (jt *ResolvedJoinTable) Columns() []string {
	cols := make([]string, 0, len(jt.JoinColumns)+len(jt.InverseJoinColumns))
	for _, ref := range jt.JoinColumns {
		cols = append(cols, ref.Name)
	}
	for _, ref := range jt.InverseJoinColumns {
		cols = append(cols, ref.Name)
	}
	return cols
}

// ResolveJoinTableName returns the declared name, or the owning and inverse
// table names joined by an underscore
func ResolveJoinTableName(spec *JoinTableSpec, owningTable, inverseTable string) string {
	if spec != nil && spec.Name != "" {
		return spec.Name
	}
	return owningTable + "_" + inverseTable
}

// ResolveJoinColumns fills in foreign-key columns referencing a table with the
// given primary key. No declared columns yields one ColumnRef per key column,
// named after it. A declared column missing one half takes it from the key
// column at the same position.
func ResolveJoinColumns(declared []ColumnRef, ownerPrimaryKey []string) ([]ColumnRef, error) {
	if len(ownerPrimaryKey) == 0 {
		return nil, &MappingError{Message: "cannot resolve join columns against a table without primary key"}
	}

	if len(declared) == 0 {
		refs := make([]ColumnRef, len(ownerPrimaryKey))
		for i, pk := range ownerPrimaryKey {
			refs[i] = ColumnRef{Name: pk, ReferencedColumnName: pk}
		}
		return refs, nil
	}

	if len(declared) != len(ownerPrimaryKey) {
		return nil, &MappingError{
			Message: fmt.Sprintf("%d join columns declared for a %d-column primary key", len(declared), len(ownerPrimaryKey)),
		}
	}

	refs := make([]ColumnRef, len(declared))
	for i, ref := range declared {
		resolved := ref
		if resolved.ReferencedColumnName == "" {
			resolved.ReferencedColumnName = ownerPrimaryKey[i]
		}
		if !containsFold(ownerPrimaryKey, resolved.ReferencedColumnName) {
			return nil, &MappingError{
				Column:  resolved.ReferencedColumnName,
				Message: "join column references a column outside the primary key",
			}
		}
		if resolved.Name == "" {
			resolved.Name = resolved.ReferencedColumnName
		}
		refs[i] = resolved
	}
	return refs, nil
}

// ResolvePrimaryKeyJoinColumn fills in the name and referenced column of a
// primary-key join column. A column definition is rejected in a one-to-one
// context, where the column is shared with the referenced key.
func ResolvePrimaryKeyJoinColumn(spec PrimaryKeyJoinColumnSpec, referencedPK string, ctx JoinContext) (ColumnRef, error) {
	if spec.ColumnDefinition != "" && ctx == JoinContextOneToOne {
		return ColumnRef{}, &MappingError{
			Column:  spec.Name,
			Message: "column definition is not allowed on a one_to_one primary-key join column",
			Hint:    "the column shares the referenced primary key's definition",
		}
	}

	ref := ColumnRef{Name: spec.Name, ReferencedColumnName: spec.ReferencedColumnName}
	if ref.ReferencedColumnName == "" {
		ref.ReferencedColumnName = referencedPK
	}
	if ref.Name == "" {
		ref.Name = referencedPK
	}
	return ref, nil
}

// ResolvePrimaryKeyJoinColumns resolves a list of primary-key join columns
// against a (possibly composite) referenced primary key
func ResolvePrimaryKeyJoinColumns(specs []PrimaryKeyJoinColumnSpec, referencedPK []string, ctx JoinContext) ([]ColumnRef, error) {
	if len(referencedPK) == 0 {
		return nil, &MappingError{Message: fmt.Sprintf("%s join references a table without primary key", ctx)}
	}
	if len(specs) == 0 {
		specs = make([]PrimaryKeyJoinColumnSpec, len(referencedPK))
	}
	if len(specs) != len(referencedPK) {
		return nil, &MappingError{
			Message: fmt.Sprintf("%d primary-key join columns declared for a %d-column primary key", len(specs), len(referencedPK)),
		}
	}

	refs := make([]ColumnRef, len(specs))
	for i, spec := range specs {
		ref, err := ResolvePrimaryKeyJoinColumn(spec, referencedPK[i], ctx)
		if err != nil {
			return nil, err
		}
		if !containsFold(referencedPK, ref.ReferencedColumnName) {
			return nil, &MappingError{
				Column:  ref.ReferencedColumnName,
				Message: "primary-key join column references a column outside the primary key",
			}
		}
		refs[i] = ref
	}
	return refs, nil
}

// ResolveJoinTable resolves a join table declaration between an owning and an
// inverse table. A nil spec resolves every default.
func ResolveJoinTable(spec *JoinTableSpec, owning, inverse TableKey) (*ResolvedJoinTable, error) {
	if spec == nil {
		spec = &JoinTableSpec{}
	}
	if err := ValidateJoinTableSpec(spec); err != nil {
		return nil, err
	}

	name := ResolveJoinTableName(spec, owning.Table, inverse.Table)

	joinCols, err := ResolveJoinColumns(spec.JoinColumns, owning.PrimaryKey)
	if err != nil {
		return nil, withTable(err, name)
	}
	inverseCols, err := ResolveJoinColumns(spec.InverseJoinColumns, inverse.PrimaryKey)
	if err != nil {
		return nil, withTable(err, name)
	}

	// Defaults of both sides are the bare key column names; qualify the
	// synthesized side with its table when the names collide.
	if len(spec.InverseJoinColumns) == 0 && collides(inverseCols, joinCols) {
		inverseCols = qualifyRefs(inverseCols, inverse.Table)
	} else if len(spec.JoinColumns) == 0 && collides(joinCols, inverseCols) {
		joinCols = qualifyRefs(joinCols, owning.Table)
	}

	resolved := &ResolvedJoinTable{
		Name:               name,
		Catalog:            spec.Catalog,
		Schema:             spec.Schema,
		JoinColumns:        joinCols,
		InverseJoinColumns: inverseCols,
		UniqueConstraints:  spec.UniqueConstraints,
	}

	seen := make(map[string]bool)
	for _, col := range resolved.Columns() {
		if seen[strings.ToLower(col)] {
			return nil, &MappingError{Table: name, Column: col, Message: "duplicate column in join table"}
		}
		seen[strings.ToLower(col)] = true
	}

	if err := ValidateUniqueConstraints(name, resolved.Columns(), spec.UniqueConstraints); err != nil {
		return nil, err
	}

	return resolved, nil
}

func collides(a, b []ColumnRef) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x.Name, y.Name) {
				return true
			}
		}
	}
	return false
}

func qualifyRefs(refs []ColumnRef, table string) []ColumnRef {
	out := make([]ColumnRef, len(refs))
	for i, ref := range refs {
		out[i] = ColumnRef{Name: table + "_" + ref.Name, ReferencedColumnName: ref.ReferencedColumnName}
	}
	return out
}

func withTable(err error, table string) error {
	if me, ok := err.(*MappingError); ok && me.Table == "" {
		me.Table = table
	}
	return err
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
