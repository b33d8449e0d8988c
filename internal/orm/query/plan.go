package query

import (
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/conduit-lang/persistence/internal/orm/criteria"
	"github.com/conduit-lang/persistence/internal/orm/expr"
	"github.com/conduit-lang/persistence/internal/orm/schema"
)

// scope holds the table aliases of one root or join: its primary table,
// the tables of its superclasses and the secondary tables it needs
type scope struct {
	entity *schema.Entity
	chain  []*schema.Entity // entity, then superclasses nearest first
	tables map[string]string
	needs  map[string]bool
}

func tableKey(entity string) string {
	return entity
}

func secondaryKey(entity, table string) string {
	return entity + "|" + table
}

type joinClause struct {
	kind  string
	table string
	alias string
	on    []string
}

// plan assigns table aliases in a fixed order (roots in declaration order,
// each followed by its superclass and secondary tables, then its joins
// depth-first) so that the same descriptor always renders the same SQL
type plan struct {
	registry *schema.Registry
	scopes   map[expr.From]*scope
	children map[expr.From][]*expr.Join
	from     string
	clauses  []joinClause
	next     int
}

func newPlan(registry *schema.Registry, d *criteria.Descriptor) (*plan, error) {
	p := &plan{
		registry: registry,
		scopes:   make(map[expr.From]*scope),
		children: make(map[expr.From][]*expr.Join),
	}

	for _, root := range d.Roots {
		p.addScope(root)
	}
	for _, j := range d.Joins {
		p.addScope(j)
		p.children[j.Parent] = append(p.children[j.Parent], j)
	}

	if err := p.markSecondaryTables(d); err != nil {
		return nil, err
	}

	for i, root := range d.Roots {
		if err := p.emitRoot(root, i == 0); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *plan) addScope(from expr.From) {
	entity := from.Entity()
	chain := append([]*schema.Entity{entity}, p.registry.Ancestors(entity.Name)...)
	p.scopes[from] = &scope{
		entity: entity,
		chain:  chain,
		tables: make(map[string]string),
		needs:  make(map[string]bool),
	}
}

// markSecondaryTables records which secondary tables each scope must join:
// those holding a referenced attribute, and all of them for selected entities
func (p *plan) markSecondaryTables(d *criteria.Descriptor) error {
	var err error
	mark := func(s expr.Selection) bool {
		path, ok := s.(*expr.Path)
		if !ok || path.Column.Table == "" {
			return true
		}
		sc, ok := p.scopes[path.Source]
		if !ok {
			err = &expr.InvalidPathError{Entity: path.Source.Entity().Name, Name: path.Attribute, Reason: "source is not part of the query"}
			return false
		}
		sc.needs[secondaryKey(path.Owner.Name, path.Column.Table)] = true
		return true
	}

	for _, item := range d.Items {
		if from, ok := item.(expr.From); ok {
			if sc, ok := p.scopes[from]; ok {
				for _, owner := range sc.chain {
					for _, st := range owner.SecondaryTables {
						sc.needs[secondaryKey(owner.Name, st.Name)] = true
					}
				}
			}
			continue
		}
		expr.Walk(item, mark)
	}
	expr.Walk(d.Restriction, mark)
	for _, g := range d.Groupings {
		expr.Walk(g, mark)
	}
	expr.Walk(d.Having, mark)
	for _, o := range d.Orderings {
		expr.Walk(o.Expression, mark)
	}
	return err
}

func (p *plan) alias() string {
	a := fmt.Sprintf("t%d", p.next)
	p.next++
	return a
}

func (p *plan) emitRoot(root *expr.Root, first bool) error {
	sc := p.scopes[root]
	alias := p.alias()
	sc.tables[tableKey(sc.entity.Name)] = alias

	if first {
		p.from = sc.entity.QualifiedTable() + " " + alias
	} else {
		p.clauses = append(p.clauses, joinClause{kind: "CROSS", table: sc.entity.QualifiedTable(), alias: alias})
	}

	if err := p.emitEntity(sc, "INNER"); err != nil {
		return err
	}
	return p.emitChildren(root)
}

func (p *plan) emitChildren(from expr.From) error {
	for _, j := range p.children[from] {
		if err := p.emitJoin(j); err != nil {
			return err
		}
	}
	return nil
}

// emitEntity joins the superclass tables and needed secondary tables of a
// scope whose primary table alias is already assigned
func (p *plan) emitEntity(sc *scope, ancestorKind string) error {
	prev := sc.entity
	for _, ancestor := range sc.chain[1:] {
		refs, err := p.registry.InheritanceJoin(prev.Name)
		if err != nil {
			return err
		}
		child := sc.tables[tableKey(prev.Name)]
		alias := p.alias()
		sc.tables[tableKey(ancestor.Name)] = alias

		on := make([]string, len(refs))
		for i, ref := range refs {
			on[i] = fmt.Sprintf("%s.%s = %s.%s", child, ref.Name, alias, ref.ReferencedColumnName)
		}
		p.clauses = append(p.clauses, joinClause{kind: ancestorKind, table: ancestor.QualifiedTable(), alias: alias, on: on})
		prev = ancestor
	}

	for _, owner := range sc.chain {
		for _, st := range owner.SecondaryTables {
			key := secondaryKey(owner.Name, st.Name)
			if !sc.needs[key] {
				continue
			}
			refs, err := p.registry.SecondaryJoin(owner.Name, st.Name)
			if err != nil {
				return err
			}
			primary := sc.tables[tableKey(owner.Name)]
			alias := p.alias()
			sc.tables[key] = alias

			on := make([]string, len(refs))
			for i, ref := range refs {
				on[i] = fmt.Sprintf("%s.%s = %s.%s", alias, ref.Name, primary, ref.ReferencedColumnName)
			}
			p.clauses = append(p.clauses, joinClause{kind: "LEFT", table: st.Name, alias: alias, on: on})
		}
	}
	return nil
}

// emitJoin joins the target of a navigated association, through its join
// table when it has one
func (p *plan) emitJoin(j *expr.Join) error {
	parent, ok := p.scopes[j.Parent]
	if !ok {
		return &expr.InvalidPathError{Entity: j.Owner.Name, Name: j.Association.Name, Reason: "join parent is not part of the query"}
	}
	resolved, err := p.registry.ResolveAssociation(j.Owner.Name, j.Association.Name)
	if err != nil {
		return err
	}
	src, ok := parent.tables[tableKey(resolved.Source.Name)]
	if !ok {
		return fmt.Errorf("association %s.%s: source table is not joined", resolved.Source.Name, j.Association.Name)
	}

	sc := p.scopes[j]
	kind := j.JoinType.String()

	var target string
	switch {
	case resolved.JoinTable != nil:
		link := p.alias()
		on := make([]string, len(resolved.SourceColumns))
		for i, ref := range resolved.SourceColumns {
			on[i] = fmt.Sprintf("%s.%s = %s.%s", link, ref.Name, src, ref.ReferencedColumnName)
		}
		p.clauses = append(p.clauses, joinClause{kind: kind, table: resolved.JoinTable.QualifiedName(), alias: link, on: on})

		target = p.alias()
		on = make([]string, len(resolved.TargetColumns))
		for i, ref := range resolved.TargetColumns {
			on[i] = fmt.Sprintf("%s.%s = %s.%s", target, ref.ReferencedColumnName, link, ref.Name)
		}
		p.clauses = append(p.clauses, joinClause{kind: kind, table: resolved.Target.QualifiedTable(), alias: target, on: on})

	default:
		target = p.alias()
		var on []string
		switch {
		case resolved.SharedKey != nil:
			for _, ref := range resolved.SharedKey {
				on = append(on, fmt.Sprintf("%s.%s = %s.%s", src, ref.Name, target, ref.ReferencedColumnName))
			}
		case resolved.ForeignKeyOnSource:
			for _, ref := range resolved.ForeignKey {
				on = append(on, fmt.Sprintf("%s.%s = %s.%s", src, ref.Name, target, ref.ReferencedColumnName))
			}
		default:
			for _, ref := range resolved.ForeignKey {
				on = append(on, fmt.Sprintf("%s.%s = %s.%s", target, ref.Name, src, ref.ReferencedColumnName))
			}
		}
		p.clauses = append(p.clauses, joinClause{kind: kind, table: resolved.Target.QualifiedTable(), alias: target, on: on})
	}

	sc.tables[tableKey(sc.entity.Name)] = target

	ancestorKind := "INNER"
	if j.JoinType == expr.JoinLeft {
		ancestorKind = "LEFT"
	}
	if err := p.emitEntity(sc, ancestorKind); err != nil {
		return err
	}
	return p.emitChildren(j)
}

// apply adds the FROM clause and every join to a select builder
func (p *plan) apply(sb squirrel.SelectBuilder) squirrel.SelectBuilder {
	sb = sb.From(p.from)
	for _, c := range p.clauses {
		clause := c.table + " " + c.alias
		if len(c.on) > 0 {
			clause += " ON " + strings.Join(c.on, " AND ")
		}
		switch c.kind {
		case "LEFT":
			sb = sb.LeftJoin(clause)
		case "RIGHT":
			sb = sb.RightJoin(clause)
		case "INNER":
			sb = sb.InnerJoin(clause)
		default:
			sb = sb.JoinClause(c.kind + " JOIN " + clause)
		}
	}
	return sb
}

// column returns the qualified column of an attribute reached from a source
func (p *plan) column(source expr.From, owner *schema.Entity, col *schema.Column) (string, error) {
	sc, ok := p.scopes[source]
	if !ok {
		return "", &expr.InvalidPathError{Entity: source.Entity().Name, Name: col.Attribute, Reason: "source is not part of the query"}
	}
	key := tableKey(owner.Name)
	if col.Table != "" {
		key = secondaryKey(owner.Name, col.Table)
	}
	alias, ok := sc.tables[key]
	if !ok {
		return "", fmt.Errorf("attribute %s.%s: table is not joined", owner.Name, col.Attribute)
	}
	return alias + "." + col.Name, nil
}

// key returns the qualified primary-key columns of a source
func (p *plan) key(from expr.From) ([]string, error) {
	sc, ok := p.scopes[from]
	if !ok {
		return nil, &expr.InvalidPathError{Entity: from.Entity().Name, Reason: "source is not part of the query"}
	}
	pk, err := p.registry.PrimaryKey(sc.entity.Name)
	if err != nil {
		return nil, err
	}
	alias := sc.tables[tableKey(sc.entity.Name)]
	cols := make([]string, len(pk))
	for i, c := range pk {
		cols[i] = alias + "." + c
	}
	return cols, nil
}

// entityColumns returns every mapped column of a selected entity with the
// attribute name and type of each
func (p *plan) entityColumns(from expr.From) ([]string, []string, []expr.Type, error) {
	sc, ok := p.scopes[from]
	if !ok {
		return nil, nil, nil, &expr.InvalidPathError{Entity: from.Entity().Name, Reason: "source is not part of the query"}
	}
	refs := p.registry.Attributes(sc.entity.Name)
	cols := make([]string, 0, len(refs))
	attrs := make([]string, 0, len(refs))
	types := make([]expr.Type, 0, len(refs))
	for _, ref := range refs {
		col, err := p.column(from, ref.Owner, ref.Column)
		if err != nil {
			return nil, nil, nil, err
		}
		cols = append(cols, col)
		attrs = append(attrs, ref.Column.Attribute)
		types = append(types, expr.Scalar(ref.Column.Type))
	}
	return cols, attrs, types, nil
}
