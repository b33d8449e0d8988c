// Package schema provides a registry for managing entity mappings
package schema

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry holds every entity mapping of a persistence unit.
//
// Entities are registered one by one (structural pass) and then sealed, which
// runs the cross-entity pass: superclass and association references, key
// inheritance and default resolution. A sealed registry is read-only and safe
// for concurrent readers.
type Registry struct {
	entities  map[string]*Entity
	validator *MappingValidator
	sealed    bool
	mu        sync.RWMutex

	cache  *resolutionCache
	logger *zap.Logger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithLogger sets the logger used for resolution diagnostics
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a new mapping registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entities:  make(map[string]*Entity),
		validator: NewMappingValidator(),
		cache:     newResolutionCache(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AttributeRef locates a mapped attribute, possibly declared on a superclass
type AttributeRef struct {
	Owner  *Entity // entity declaring the attribute
	Column *Column
}

// ResolvedAssociation describes how navigating an association reaches the
// target table. Exactly one of JoinTable, ForeignKey or SharedKey is set.
type ResolvedAssociation struct {
	Source      *Entity
	Target      *Entity
	Association *Association

	// JoinTable navigation: SourceColumns reference the source primary key,
	// TargetColumns reference the target primary key.
	JoinTable     *ResolvedJoinTable
	SourceColumns []ColumnRef
	TargetColumns []ColumnRef

	// ForeignKey navigation: columns on the source table referencing the
	// target key when ForeignKeyOnSource, else columns on the target table
	// referencing the source key.
	ForeignKey         []ColumnRef
	ForeignKeyOnSource bool

	// SharedKey navigation: source key columns (Name) equal target key
	// columns (ReferencedColumnName).
	SharedKey []ColumnRef
}

// Register registers a new entity mapping
func (r *Registry) Register(entity *Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return &MappingError{Entity: entity.Name, Message: "registry is sealed"}
	}
	if _, exists := r.entities[entity.Name]; exists {
		return &MappingError{Entity: entity.Name, Message: "entity is already registered"}
	}

	// Cross-entity checks wait for Seal so that references may point forward
	if err := r.validator.ValidateStructural(entity); err != nil {
		return fmt.Errorf("mapping validation failed for %s: %w", entity.Name, err)
	}

	r.entities[entity.Name] = entity
	// Resolutions computed against the previous entity set are stale
	r.cache = newResolutionCache()
	r.logger.Debug("registered entity",
		zap.String("entity", entity.Name),
		zap.String("table", entity.QualifiedTable()))
	return nil
}

// RegisterAll registers every entity, stopping at the first failure
func (r *Registry) RegisterAll(entities ...*Entity) error {
	for _, entity := range entities {
		if err := r.Register(entity); err != nil {
			return err
		}
	}
	return nil
}

// Seal runs the cross-entity resolution pass and freezes the registry.
// Superclasses are resolved before their subclasses.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}

	graph := NewInheritanceGraph(r.entities)
	if err := graph.ValidateGraph(); err != nil {
		return err
	}
	order, err := graph.TopologicalSort()
	if err != nil {
		return err
	}

	var errs MappingErrors
	collect := func(err error) {
		if err == nil {
			return
		}
		if me, ok := err.(*MappingError); ok {
			errs = append(errs, me)
			return
		}
		if list, ok := err.(MappingErrors); ok {
			errs = append(errs, list...)
			return
		}
		errs = append(errs, &MappingError{Message: err.Error()})
	}

	for _, name := range order {
		entity := r.entities[name]
		if _, err := r.primaryKey(entity); err != nil {
			collect(err)
			continue
		}
		if entity.Superclass != "" {
			_, err := r.inheritanceJoin(entity)
			collect(err)
		}
		for _, st := range entity.SecondaryTables {
			_, err := r.secondaryJoin(entity, st.Name)
			collect(err)
		}
		for _, assoc := range entity.Associations {
			_, err := r.resolveAssociation(entity, assoc)
			collect(err)
		}
	}
	if len(errs) > 0 {
		return errs
	}

	r.sealed = true
	r.logger.Debug("sealed mapping registry", zap.Strings("order", order))
	return nil
}

// Sealed reports whether Seal completed
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Entity retrieves an entity mapping by name
func (r *Registry) Entity(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, exists := r.entities[name]
	return entity, exists
}

// List returns the names of all registered entities, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered entities
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Ancestors returns the superclass chain of an entity, nearest first
func (r *Registry) Ancestors(name string) []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ancestors(name)
}

func (r *Registry) ancestors(name string) []*Entity {
	var chain []*Entity
	seen := map[string]bool{name: true}
	entity := r.entities[name]
	for entity != nil && entity.Superclass != "" {
		if seen[entity.Superclass] {
			break
		}
		seen[entity.Superclass] = true
		entity = r.entities[entity.Superclass]
		if entity != nil {
			chain = append(chain, entity)
		}
	}
	return chain
}

func (r *Registry) inheritsFromItself(entity *Entity) bool {
	seen := map[string]bool{}
	for current := entity; current != nil && current.Superclass != ""; current = r.entities[current.Superclass] {
		if current.Superclass == entity.Name || seen[current.Superclass] {
			return true
		}
		seen[current.Superclass] = true
	}
	return false
}

// IsSubclassOf reports whether sub equals super or extends it
func (r *Registry) IsSubclassOf(sub, super string) bool {
	if sub == super {
		return true
	}
	for _, ancestor := range r.Ancestors(sub) {
		if ancestor.Name == super {
			return true
		}
	}
	return false
}

// PrimaryKey returns the primary-key columns of an entity, inherited from its
// root superclass when it declares none
func (r *Registry) PrimaryKey(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.entities[name]
	if !ok {
		return nil, &MappingError{Entity: name, Message: "entity is not registered"}
	}
	return r.primaryKey(entity)
}

func (r *Registry) primaryKey(entity *Entity) ([]string, error) {
	if len(entity.PrimaryKey) > 0 {
		return entity.PrimaryKey, nil
	}
	// A subclass table carries the key through its primary-key join columns
	if entity.Superclass != "" {
		if r.inheritsFromItself(entity) {
			return nil, &MappingError{Entity: entity.Name, Message: "circular inheritance detected"}
		}
		refs, err := r.inheritanceJoin(entity)
		if err != nil {
			return nil, err
		}
		key := make([]string, len(refs))
		for i, ref := range refs {
			key[i] = ref.Name
		}
		return key, nil
	}
	return nil, &MappingError{Entity: entity.Name, Message: "entity has no primary key"}
}

// Attribute looks up a mapped attribute on the entity or its superclasses
func (r *Registry) Attribute(entity, attribute string) (*AttributeRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[entity]
	if !ok {
		return nil, false
	}
	for _, owner := range append([]*Entity{e}, r.ancestors(entity)...) {
		if col, ok := owner.Column(attribute); ok {
			return &AttributeRef{Owner: owner, Column: col}, true
		}
	}
	return nil, false
}

// Attributes returns every mapped attribute of an entity, superclass attributes first
func (r *Registry) Attributes(entity string) []*AttributeRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[entity]
	if !ok {
		return nil
	}
	chain := append([]*Entity{e}, r.ancestors(entity)...)
	var refs []*AttributeRef
	for i := len(chain) - 1; i >= 0; i-- {
		for _, col := range chain[i].Columns {
			refs = append(refs, &AttributeRef{Owner: chain[i], Column: col})
		}
	}
	return refs
}

// Association looks up an association on the entity or its superclasses
func (r *Registry) Association(entity, name string) (*Association, *Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[entity]
	if !ok {
		return nil, nil, false
	}
	for _, owner := range append([]*Entity{e}, r.ancestors(entity)...) {
		if assoc, ok := owner.Association(name); ok {
			return assoc, owner, true
		}
	}
	return nil, nil, false
}

// InheritanceJoin returns the primary-key join columns on the entity's table
// that reference its superclass table
func (r *Registry) InheritanceJoin(name string) ([]ColumnRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.entities[name]
	if !ok {
		return nil, &MappingError{Entity: name, Message: "entity is not registered"}
	}
	return r.inheritanceJoin(entity)
}

func (r *Registry) inheritanceJoin(entity *Entity) ([]ColumnRef, error) {
	v, err := r.cache.get("inherit:"+entity.Name, func() (interface{}, error) {
		super, ok := r.entities[entity.Superclass]
		if !ok {
			return nil, &MappingError{Entity: entity.Name, Message: fmt.Sprintf("superclass %s is not registered", entity.Superclass)}
		}
		superPK, err := r.primaryKey(super)
		if err != nil {
			return nil, err
		}
		refs, err := ResolvePrimaryKeyJoinColumns(entity.InheritanceJoinColumns, superPK, JoinContextInheritance)
		if err != nil {
			return nil, withEntity(err, entity.Name)
		}
		r.logger.Debug("resolved inheritance join",
			zap.String("entity", entity.Name),
			zap.String("superclass", super.Name))
		return refs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ColumnRef), nil
}

// SecondaryJoin returns the primary-key join columns on a secondary table
// that reference the entity's primary table
func (r *Registry) SecondaryJoin(name, table string) ([]ColumnRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.entities[name]
	if !ok {
		return nil, &MappingError{Entity: name, Message: "entity is not registered"}
	}
	return r.secondaryJoin(entity, table)
}

func (r *Registry) secondaryJoin(entity *Entity, table string) ([]ColumnRef, error) {
	v, err := r.cache.get("secondary:"+entity.Name+"."+table, func() (interface{}, error) {
		st, ok := entity.SecondaryTable(table)
		if !ok {
			return nil, &MappingError{Entity: entity.Name, Table: table, Message: "secondary table is not declared"}
		}
		pk, err := r.primaryKey(entity)
		if err != nil {
			return nil, err
		}
		refs, err := ResolvePrimaryKeyJoinColumns(st.PrimaryKeyJoinColumns, pk, JoinContextSecondaryTable)
		if err != nil {
			return nil, withEntity(withTable(err, table), entity.Name)
		}
		return refs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ColumnRef), nil
}

// ResolveAssociation resolves how an association declared on (or inherited
// by) the given entity reaches its target
func (r *Registry) ResolveAssociation(entity, name string) (*ResolvedAssociation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[entity]
	if !ok {
		return nil, &MappingError{Entity: entity, Message: "entity is not registered"}
	}
	for _, owner := range append([]*Entity{e}, r.ancestors(entity)...) {
		if assoc, ok := owner.Association(name); ok {
			return r.resolveAssociation(owner, assoc)
		}
	}
	return nil, &MappingError{Entity: entity, Column: name, Message: "association is not declared"}
}

// JoinTable returns the resolved join table of a join-table backed association
func (r *Registry) JoinTable(entity, association string) (*ResolvedJoinTable, error) {
	resolved, err := r.ResolveAssociation(entity, association)
	if err != nil {
		return nil, err
	}
	if resolved.JoinTable == nil {
		return nil, &MappingError{Entity: entity, Column: association, Message: "association is not mapped through a join table"}
	}
	return resolved.JoinTable, nil
}

func (r *Registry) resolveAssociation(owner *Entity, assoc *Association) (*ResolvedAssociation, error) {
	v, err := r.cache.get("assoc:"+owner.Name+"."+assoc.Name, func() (interface{}, error) {
		resolved, err := r.computeAssociation(owner, assoc)
		if err != nil {
			return nil, withEntity(err, owner.Name)
		}
		return resolved, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ResolvedAssociation), nil
}

func (r *Registry) computeAssociation(owner *Entity, assoc *Association) (*ResolvedAssociation, error) {
	target, ok := r.entities[assoc.Target]
	if !ok {
		return nil, &MappingError{Column: assoc.Name, Message: fmt.Sprintf("association references unknown entity %s", assoc.Target)}
	}

	resolved := &ResolvedAssociation{Source: owner, Target: target, Association: assoc}

	if !assoc.Owning {
		return r.computeInverse(resolved)
	}

	ownerPK, err := r.primaryKey(owner)
	if err != nil {
		return nil, err
	}
	targetPK, err := r.primaryKey(target)
	if err != nil {
		return nil, err
	}

	switch {
	case len(assoc.PrimaryKeyJoinColumns) > 0:
		refs, err := ResolvePrimaryKeyJoinColumns(assoc.PrimaryKeyJoinColumns, targetPK, JoinContextOneToOne)
		if err != nil {
			return nil, withColumn(err, assoc.Name)
		}
		resolved.SharedKey = refs

	case assoc.UsesJoinTable():
		jt, err := ResolveJoinTable(assoc.JoinTable,
			TableKey{Catalog: owner.Catalog, Schema: owner.Schema, Table: owner.Table, PrimaryKey: ownerPK},
			TableKey{Catalog: target.Catalog, Schema: target.Schema, Table: target.Table, PrimaryKey: targetPK})
		if err != nil {
			return nil, withColumn(err, assoc.Name)
		}
		resolved.JoinTable = jt
		resolved.SourceColumns = jt.JoinColumns
		resolved.TargetColumns = jt.InverseJoinColumns
		r.logger.Debug("resolved join table",
			zap.String("entity", owner.Name),
			zap.String("association", assoc.Name),
			zap.String("join_table", jt.QualifiedName()))

	case assoc.Kind == OneToMany:
		// Unidirectional one_to_many: foreign key lives on the target table
		refs, err := resolveForeignKey(assoc.JoinColumns, ownerPK, assoc.Name)
		if err != nil {
			return nil, withColumn(err, assoc.Name)
		}
		resolved.ForeignKey = refs

	default:
		refs, err := resolveForeignKey(assoc.JoinColumns, targetPK, assoc.Name)
		if err != nil {
			return nil, withColumn(err, assoc.Name)
		}
		resolved.ForeignKey = refs
		resolved.ForeignKeyOnSource = true
	}

	return resolved, nil
}

// computeInverse resolves the non-owning side by flipping the owning side
func (r *Registry) computeInverse(resolved *ResolvedAssociation) (*ResolvedAssociation, error) {
	assoc := resolved.Association
	owningAssoc, ok := resolved.Target.Association(assoc.MappedBy)
	if !ok {
		return nil, &MappingError{
			Column:  assoc.Name,
			Message: fmt.Sprintf("mapped_by names unknown association %s.%s", resolved.Target.Name, assoc.MappedBy),
		}
	}
	if !owningAssoc.Owning {
		return nil, &MappingError{
			Column:  assoc.Name,
			Message: fmt.Sprintf("mapped_by names %s.%s, which is not an owning association", resolved.Target.Name, assoc.MappedBy),
		}
	}
	if !r.isSubclassOfLocked(resolved.Source.Name, owningAssoc.Target) {
		return nil, &MappingError{
			Column:  assoc.Name,
			Message: fmt.Sprintf("%s.%s does not target %s", resolved.Target.Name, assoc.MappedBy, resolved.Source.Name),
		}
	}

	owning, err := r.resolveAssociation(resolved.Target, owningAssoc)
	if err != nil {
		return nil, err
	}

	switch {
	case owning.JoinTable != nil:
		resolved.JoinTable = owning.JoinTable
		resolved.SourceColumns = owning.TargetColumns
		resolved.TargetColumns = owning.SourceColumns
	case owning.SharedKey != nil:
		flipped := make([]ColumnRef, len(owning.SharedKey))
		for i, ref := range owning.SharedKey {
			flipped[i] = ColumnRef{Name: ref.ReferencedColumnName, ReferencedColumnName: ref.Name}
		}
		resolved.SharedKey = flipped
	default:
		resolved.ForeignKey = owning.ForeignKey
		resolved.ForeignKeyOnSource = !owning.ForeignKeyOnSource
	}
	return resolved, nil
}

func (r *Registry) isSubclassOfLocked(sub, super string) bool {
	if sub == super {
		return true
	}
	for _, ancestor := range r.ancestors(sub) {
		if ancestor.Name == super {
			return true
		}
	}
	return false
}

// resolveForeignKey defaults foreign-key columns to <association>_<key column>
func resolveForeignKey(declared []ColumnRef, referencedPK []string, association string) ([]ColumnRef, error) {
	refs, err := ResolveJoinColumns(declared, referencedPK)
	if err != nil {
		return nil, err
	}
	for i := range refs {
		if len(declared) == 0 || declared[i].Name == "" {
			refs[i].Name = association + "_" + refs[i].ReferencedColumnName
		}
	}
	return refs, nil
}

func withEntity(err error, entity string) error {
	if me, ok := err.(*MappingError); ok && me.Entity == "" {
		me.Entity = entity
	}
	return err
}

func withColumn(err error, column string) error {
	if me, ok := err.(*MappingError); ok && me.Column == "" {
		me.Column = column
	}
	return err
}

// resolutionCache memoizes resolutions; each key is computed at most once
// even under concurrent first access
type resolutionCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	once  sync.Once
	value interface{}
	err   error
}

func newResolutionCache() *resolutionCache {
	return &resolutionCache{entries: make(map[string]*cacheEntry)}
}

func (c *resolutionCache) get(key string, compute func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry{}
		c.entries[key] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.value, entry.err = compute()
	})
	return entry.value, entry.err
}

func (c *resolutionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
