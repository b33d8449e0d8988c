package codegen

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/persistence/internal/orm/query"
	"github.com/conduit-lang/persistence/internal/orm/schema"
)

// DDLGenerator generates CREATE TABLE statements for every table a sealed
// mapping reads: primary tables, secondary tables and join tables
type DDLGenerator struct {
	registry   *schema.Registry
	dialect    query.Dialect
	typeMapper *TypeMapper
	logger     *zap.Logger
}

// Option configures a DDLGenerator
type Option func(*DDLGenerator)

// WithLogger sets the logger used for generation diagnostics
func WithLogger(logger *zap.Logger) Option {
	return func(g *DDLGenerator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewDDLGenerator creates a new DDL generator over a sealed registry
func NewDDLGenerator(registry *schema.Registry, dialect query.Dialect, opts ...Option) *DDLGenerator {
	g := &DDLGenerator{
		registry:   registry,
		dialect:    dialect,
		typeMapper: NewTypeMapper(dialect),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type columnDef struct {
	name     string
	typ      string
	nullable bool
}

type foreignKey struct {
	columns    []string
	refTable   string
	refColumns []string
}

type tableDef struct {
	name        string
	columns     []columnDef
	primaryKey  []string
	uniques     []schema.UniqueConstraint
	foreignKeys []foreignKey
}

func (t *tableDef) hasColumn(name string) bool {
	for _, col := range t.columns {
		if strings.EqualFold(col.name, name) {
			return true
		}
	}
	return false
}

// tableSet keeps tables in creation order
type tableSet struct {
	order  []*tableDef
	byName map[string]*tableDef
}

func (s *tableSet) add(t *tableDef) error {
	key := strings.ToLower(t.name)
	if _, exists := s.byName[key]; exists {
		return &schema.MappingError{Table: t.name, Message: "table is mapped more than once"}
	}
	s.byName[key] = t
	s.order = append(s.order, t)
	return nil
}

func (s *tableSet) get(name string) (*tableDef, bool) {
	t, ok := s.byName[strings.ToLower(name)]
	return t, ok
}

// GenerateSchema returns one CREATE TABLE statement per mapped table. On
// PostgreSQL foreign keys follow as ALTER TABLE statements once every table
// exists; SQLite declares them inline.
func (g *DDLGenerator) GenerateSchema() ([]string, error) {
	tables, err := g.collectTables()
	if err != nil {
		return nil, err
	}

	stmts := make([]string, 0, len(tables.order))
	for _, t := range tables.order {
		if err := validateTable(t); err != nil {
			return nil, err
		}
		stmts = append(stmts, g.createTable(t))
		g.logger.Debug("generated table",
			zap.String("table", t.name),
			zap.Int("columns", len(t.columns)))
	}

	if g.dialect == query.DialectPostgres {
		for _, t := range tables.order {
			for _, fk := range t.foreignKeys {
				stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s);",
					t.name, constraintName(t.name, fk.columns), strings.Join(fk.columns, ", "),
					fk.refTable, strings.Join(fk.refColumns, ", ")))
			}
		}
	}
	return stmts, nil
}

// GenerateDropSchema returns DROP TABLE statements in reverse creation order
func (g *DDLGenerator) GenerateDropSchema() ([]string, error) {
	tables, err := g.collectTables()
	if err != nil {
		return nil, err
	}

	stmts := make([]string, 0, len(tables.order))
	for i := len(tables.order) - 1; i >= 0; i-- {
		name := tables.order[i].name
		if g.dialect == query.DialectPostgres {
			stmts = append(stmts, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", name))
		} else {
			stmts = append(stmts, fmt.Sprintf("DROP TABLE IF EXISTS %s;", name))
		}
	}
	return stmts, nil
}

func (g *DDLGenerator) collectTables() (*tableSet, error) {
	if !g.registry.Sealed() {
		return nil, &schema.MappingError{Message: "registry is not sealed"}
	}

	tables := &tableSet{byName: make(map[string]*tableDef)}
	names := g.registry.List()

	for _, name := range names {
		entity, _ := g.registry.Entity(name)
		primary, err := g.primaryTable(entity)
		if err != nil {
			return nil, err
		}
		if err := tables.add(primary); err != nil {
			return nil, withEntity(err, name)
		}
		for _, st := range entity.SecondaryTables {
			secondary, err := g.secondaryTable(entity, primary, st)
			if err != nil {
				return nil, err
			}
			if err := tables.add(secondary); err != nil {
				return nil, withEntity(err, name)
			}
		}
	}

	// Foreign keys of one_to_many associations land on tables created later
	for _, name := range names {
		entity, _ := g.registry.Entity(name)
		for _, assoc := range entity.Associations {
			if !assoc.Owning {
				continue
			}
			if err := g.addAssociation(tables, entity, assoc); err != nil {
				return nil, err
			}
		}
	}
	return tables, nil
}

func (g *DDLGenerator) primaryTable(entity *schema.Entity) (*tableDef, error) {
	pk, err := g.registry.PrimaryKey(entity.Name)
	if err != nil {
		return nil, err
	}
	t := &tableDef{name: entity.QualifiedTable(), primaryKey: pk}

	if entity.Superclass != "" {
		refs, err := g.registry.InheritanceJoin(entity.Name)
		if err != nil {
			return nil, err
		}
		super, _ := g.registry.Entity(entity.Superclass)
		if err := g.addKeyJoin(t, entity, super, refs, entity.InheritanceJoinColumns); err != nil {
			return nil, err
		}
	}

	for _, col := range entity.Columns {
		if col.Table != "" || t.hasColumn(col.Name) {
			continue
		}
		def, err := g.column(entity, col, pk)
		if err != nil {
			return nil, err
		}
		t.columns = append(t.columns, def)
	}
	return t, nil
}

func (g *DDLGenerator) secondaryTable(entity *schema.Entity, primary *tableDef, st *schema.SecondaryTable) (*tableDef, error) {
	refs, err := g.registry.SecondaryJoin(entity.Name, st.Name)
	if err != nil {
		return nil, err
	}
	t := &tableDef{name: st.Name, primaryKey: refNames(refs)}

	for i, ref := range refs {
		typ, err := g.keyColumnType(entity, ref.ReferencedColumnName, st.PrimaryKeyJoinColumns, i)
		if err != nil {
			return nil, err
		}
		t.columns = append(t.columns, columnDef{name: ref.Name, typ: typ})
	}
	t.foreignKeys = append(t.foreignKeys, foreignKey{
		columns:    refNames(refs),
		refTable:   primary.name,
		refColumns: referencedNames(refs),
	})

	for _, col := range entity.Columns {
		if !strings.EqualFold(col.Table, st.Name) || t.hasColumn(col.Name) {
			continue
		}
		def, err := g.column(entity, col, nil)
		if err != nil {
			return nil, err
		}
		t.columns = append(t.columns, def)
	}
	return t, nil
}

// addKeyJoin adds primary-key join columns referencing another entity's table
func (g *DDLGenerator) addKeyJoin(t *tableDef, entity, referenced *schema.Entity, refs []schema.ColumnRef, specs []schema.PrimaryKeyJoinColumnSpec) error {
	for i, ref := range refs {
		if t.hasColumn(ref.Name) {
			continue
		}
		typ, err := g.keyColumnType(referenced, ref.ReferencedColumnName, specs, i)
		if err != nil {
			return withEntity(err, entity.Name)
		}
		t.columns = append(t.columns, columnDef{name: ref.Name, typ: typ})
	}
	t.foreignKeys = append(t.foreignKeys, foreignKey{
		columns:    refNames(refs),
		refTable:   referenced.QualifiedTable(),
		refColumns: referencedNames(refs),
	})
	return nil
}

func (g *DDLGenerator) addAssociation(tables *tableSet, entity *schema.Entity, assoc *schema.Association) error {
	resolved, err := g.registry.ResolveAssociation(entity.Name, assoc.Name)
	if err != nil {
		return err
	}
	source, target := resolved.Source, resolved.Target

	switch {
	case resolved.JoinTable != nil:
		jt := resolved.JoinTable
		t := &tableDef{name: jt.QualifiedName(), primaryKey: jt.Columns(), uniques: jt.UniqueConstraints}
		for _, side := range []struct {
			refs  []schema.ColumnRef
			owner *schema.Entity
		}{{jt.JoinColumns, source}, {jt.InverseJoinColumns, target}} {
			for _, ref := range side.refs {
				typ, err := g.columnType(side.owner, ref.ReferencedColumnName)
				if err != nil {
					return withEntity(err, entity.Name)
				}
				t.columns = append(t.columns, columnDef{name: ref.Name, typ: typ})
			}
			t.foreignKeys = append(t.foreignKeys, foreignKey{
				columns:    refNames(side.refs),
				refTable:   side.owner.QualifiedTable(),
				refColumns: referencedNames(side.refs),
			})
		}
		return withEntity(tables.add(t), entity.Name)

	case resolved.SharedKey != nil:
		t, _ := tables.get(source.QualifiedTable())
		t.foreignKeys = append(t.foreignKeys, foreignKey{
			columns:    refNames(resolved.SharedKey),
			refTable:   target.QualifiedTable(),
			refColumns: referencedNames(resolved.SharedKey),
		})
		return nil

	default:
		holder, referenced := source, target
		if !resolved.ForeignKeyOnSource {
			holder, referenced = target, source
		}
		t, _ := tables.get(holder.QualifiedTable())
		for _, ref := range resolved.ForeignKey {
			if t.hasColumn(ref.Name) {
				continue
			}
			typ, err := g.columnType(referenced, ref.ReferencedColumnName)
			if err != nil {
				return withEntity(err, entity.Name)
			}
			t.columns = append(t.columns, columnDef{name: ref.Name, typ: typ, nullable: true})
		}
		t.foreignKeys = append(t.foreignKeys, foreignKey{
			columns:    refNames(resolved.ForeignKey),
			refTable:   referenced.QualifiedTable(),
			refColumns: referencedNames(resolved.ForeignKey),
		})
		return nil
	}
}

func (g *DDLGenerator) column(entity *schema.Entity, col *schema.Column, pk []string) (columnDef, error) {
	typ, err := g.typeMapper.MapType(col.Type)
	if err != nil {
		return columnDef{}, &schema.MappingError{Entity: entity.Name, Column: col.Attribute, Message: err.Error()}
	}
	nullable := col.Nullable
	for _, key := range pk {
		if strings.EqualFold(key, col.Name) {
			nullable = false
		}
	}
	return columnDef{name: col.Name, typ: typ, nullable: nullable}, nil
}

// keyColumnType prefers a declared column definition over the type of the
// referenced key column
func (g *DDLGenerator) keyColumnType(referenced *schema.Entity, column string, specs []schema.PrimaryKeyJoinColumnSpec, i int) (string, error) {
	if i < len(specs) && specs[i].ColumnDefinition != "" {
		return specs[i].ColumnDefinition, nil
	}
	return g.columnType(referenced, column)
}

// columnType returns the type of a column of the entity's primary table,
// following inheritance join columns up to the declaring superclass
func (g *DDLGenerator) columnType(entity *schema.Entity, column string) (string, error) {
	if col, ok := entity.ColumnByName(column); ok && col.Table == "" {
		return g.typeMapper.MapType(col.Type)
	}
	if entity.Superclass != "" {
		refs, err := g.registry.InheritanceJoin(entity.Name)
		if err != nil {
			return "", err
		}
		for i, ref := range refs {
			if !strings.EqualFold(ref.Name, column) {
				continue
			}
			if i < len(entity.InheritanceJoinColumns) && entity.InheritanceJoinColumns[i].ColumnDefinition != "" {
				return entity.InheritanceJoinColumns[i].ColumnDefinition, nil
			}
			super, _ := g.registry.Entity(entity.Superclass)
			return g.columnType(super, ref.ReferencedColumnName)
		}
	}
	return "", &schema.MappingError{
		Entity:  entity.Name,
		Table:   entity.Table,
		Column:  column,
		Message: "referenced column is not mapped on the primary table",
	}
}

func (g *DDLGenerator) createTable(t *tableDef) string {
	lines := make([]string, 0, len(t.columns)+len(t.uniques)+len(t.foreignKeys)+1)
	for _, col := range t.columns {
		lines = append(lines, fmt.Sprintf("%s %s %s", col.name, col.typ, g.typeMapper.MapNullability(col.nullable)))
	}
	lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(t.primaryKey, ", ")))
	for _, uc := range t.uniques {
		if uc.Name != "" {
			lines = append(lines, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", uc.Name, strings.Join(uc.Columns, ", ")))
		} else {
			lines = append(lines, fmt.Sprintf("UNIQUE (%s)", strings.Join(uc.Columns, ", ")))
		}
	}
	if g.dialect == query.DialectSQLite {
		for _, fk := range t.foreignKeys {
			lines = append(lines, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
				strings.Join(fk.columns, ", "), fk.refTable, strings.Join(fk.refColumns, ", ")))
		}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", t.name))
	for i, line := range lines {
		b.WriteString("  ")
		b.WriteString(line)
		if i < len(lines)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");")
	return b.String()
}

// validateTable rejects names that cannot be written unquoted
func validateTable(t *tableDef) error {
	if !validQualified(t.name) {
		return &schema.MappingError{Table: t.name, Message: "table name is not a valid identifier"}
	}
	for _, col := range t.columns {
		if !query.IsValidIdentifier(col.name) {
			return &schema.MappingError{Table: t.name, Column: col.name, Message: "column name is not a valid identifier"}
		}
	}
	for _, uc := range t.uniques {
		if uc.Name != "" && !query.IsValidIdentifier(uc.Name) {
			return &schema.MappingError{Table: t.name, Message: fmt.Sprintf("unique constraint name %q is not a valid identifier", uc.Name)}
		}
	}
	return nil
}

func validQualified(name string) bool {
	for _, part := range strings.Split(name, ".") {
		if !query.IsValidIdentifier(part) {
			return false
		}
	}
	return true
}

// constraintName derives fk_<table>_<columns>
func constraintName(table string, columns []string) string {
	parts := append([]string{"fk", strings.ReplaceAll(table, ".", "_")}, columns...)
	return strings.ToLower(strings.Join(parts, "_"))
}

func refNames(refs []schema.ColumnRef) []string {
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.Name
	}
	return names
}

func referencedNames(refs []schema.ColumnRef) []string {
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.ReferencedColumnName
	}
	return names
}

func withEntity(err error, entity string) error {
	if me, ok := err.(*schema.MappingError); ok && me.Entity == "" {
		me.Entity = entity
	}
	return err
}
