// Package schema provides a fluent builder for entity mappings
package schema

// EntityBuilder builds an Entity declaration in code
type EntityBuilder struct {
	entity *Entity
}

// Define starts a new entity declaration
func Define(name string) *EntityBuilder {
	return &EntityBuilder{entity: NewEntity(name)}
}

// Table sets the primary table name
func (b *EntityBuilder) Table(name string) *EntityBuilder {
	b.entity.Table = name
	return b
}

// InSchema sets the catalog and schema of the primary table
func (b *EntityBuilder) InSchema(catalog, schemaName string) *EntityBuilder {
	b.entity.Catalog = catalog
	b.entity.Schema = schemaName
	return b
}

// ID adds a primary-key column
func (b *EntityBuilder) ID(attribute, column string, typ PrimitiveType) *EntityBuilder {
	b.entity.Columns = append(b.entity.Columns, &Column{Attribute: attribute, Name: column, Type: typ})
	b.entity.PrimaryKey = append(b.entity.PrimaryKey, column)
	return b
}

// Column adds a non-null column on the primary table
func (b *EntityBuilder) Column(attribute, column string, typ PrimitiveType) *EntityBuilder {
	b.entity.Columns = append(b.entity.Columns, &Column{Attribute: attribute, Name: column, Type: typ})
	return b
}

// Nullable adds a nullable column on the primary table
func (b *EntityBuilder) Nullable(attribute, column string, typ PrimitiveType) *EntityBuilder {
	b.entity.Columns = append(b.entity.Columns, &Column{Attribute: attribute, Name: column, Type: typ, Nullable: true})
	return b
}

// SecondaryColumn adds a column stored in a secondary table
func (b *EntityBuilder) SecondaryColumn(table, attribute, column string, typ PrimitiveType) *EntityBuilder {
	b.entity.Columns = append(b.entity.Columns, &Column{Attribute: attribute, Name: column, Type: typ, Nullable: true, Table: table})
	return b
}

// Extends declares a joined-inheritance superclass
func (b *EntityBuilder) Extends(superclass string, joinColumns ...PrimaryKeyJoinColumnSpec) *EntityBuilder {
	b.entity.Superclass = superclass
	b.entity.InheritanceJoinColumns = joinColumns
	return b
}

// Secondary declares a secondary table
func (b *EntityBuilder) Secondary(table string, joinColumns ...PrimaryKeyJoinColumnSpec) *EntityBuilder {
	b.entity.SecondaryTables = append(b.entity.SecondaryTables, &SecondaryTable{
		Name:                  table,
		PrimaryKeyJoinColumns: joinColumns,
	})
	return b
}

// ManyToOne declares an owning many_to_one association
func (b *EntityBuilder) ManyToOne(name, target string, joinColumns ...ColumnRef) *EntityBuilder {
	return b.Association(&Association{Name: name, Kind: ManyToOne, Target: target, Owning: true, JoinColumns: joinColumns})
}

// OneToMany declares an inverse one_to_many association mapped by the target
func (b *EntityBuilder) OneToMany(name, target, mappedBy string) *EntityBuilder {
	return b.Association(&Association{Name: name, Kind: OneToMany, Target: target, MappedBy: mappedBy})
}

// ManyToMany declares an owning many_to_many association; a nil spec uses
// every join table default
func (b *EntityBuilder) ManyToMany(name, target string, joinTable *JoinTableSpec) *EntityBuilder {
	return b.Association(&Association{Name: name, Kind: ManyToMany, Target: target, Owning: true, JoinTable: joinTable})
}

// InverseManyToMany declares the non-owning side of a many_to_many association
func (b *EntityBuilder) InverseManyToMany(name, target, mappedBy string) *EntityBuilder {
	return b.Association(&Association{Name: name, Kind: ManyToMany, Target: target, MappedBy: mappedBy})
}

// SharedIdentity declares an owning one_to_one association over primary-key join columns
func (b *EntityBuilder) SharedIdentity(name, target string, joinColumns ...PrimaryKeyJoinColumnSpec) *EntityBuilder {
	if len(joinColumns) == 0 {
		joinColumns = []PrimaryKeyJoinColumnSpec{{}}
	}
	return b.Association(&Association{Name: name, Kind: OneToOne, Target: target, Owning: true, PrimaryKeyJoinColumns: joinColumns})
}

// Association adds an arbitrary association declaration
func (b *EntityBuilder) Association(assoc *Association) *EntityBuilder {
	b.entity.Associations = append(b.entity.Associations, assoc)
	return b
}

// Build returns the declared entity
func (b *EntityBuilder) Build() *Entity {
	return b.entity
}
