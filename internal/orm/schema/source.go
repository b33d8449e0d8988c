package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// mappingDocument is the YAML form of a mapping source
type mappingDocument struct {
	Entities []entityDocument `yaml:"entities"`
}

type entityDocument struct {
	Name                   string                     `yaml:"name"`
	Table                  string                     `yaml:"table"`
	Schema                 string                     `yaml:"schema"`
	Catalog                string                     `yaml:"catalog"`
	PrimaryKey             []string                   `yaml:"primary_key"`
	Superclass             string                     `yaml:"superclass"`
	InheritanceJoinColumns []PrimaryKeyJoinColumnSpec `yaml:"inheritance_join_columns"`
	Columns                []columnDocument           `yaml:"columns"`
	SecondaryTables        []secondaryTableDocument   `yaml:"secondary_tables"`
	Associations           []associationDocument      `yaml:"associations"`
}

type columnDocument struct {
	Attribute string `yaml:"attribute"`
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Nullable  bool   `yaml:"nullable"`
	Table     string `yaml:"table"`
}

type secondaryTableDocument struct {
	Name                  string                     `yaml:"name"`
	PrimaryKeyJoinColumns []PrimaryKeyJoinColumnSpec `yaml:"primary_key_join_columns"`
}

type associationDocument struct {
	Name                  string                     `yaml:"name"`
	Kind                  string                     `yaml:"kind"`
	Target                string                     `yaml:"target"`
	Owning                *bool                      `yaml:"owning"`
	MappedBy              string                     `yaml:"mapped_by"`
	JoinColumns           []ColumnRef                `yaml:"join_columns"`
	JoinTable             *JoinTableSpec             `yaml:"join_table"`
	PrimaryKeyJoinColumns []PrimaryKeyJoinColumnSpec `yaml:"primary_key_join_columns"`
}

// LoadMapping decodes entity declarations from a YAML mapping source
func LoadMapping(r io.Reader) ([]*Entity, error) {
	var doc mappingDocument
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if err == io.EOF {
			return []*Entity{}, nil
		}
		return nil, fmt.Errorf("failed to decode mapping: %w", err)
	}

	entities := make([]*Entity, 0, len(doc.Entities))
	for _, ed := range doc.Entities {
		entity, err := ed.toEntity()
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// LoadMappingFile reads a YAML mapping source from disk
func LoadMappingFile(path string) ([]*Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	return LoadMapping(bytes.NewReader(data))
}

// LoadRegistry loads a mapping file into a new registry and seals it
func LoadRegistry(path string, opts ...RegistryOption) (*Registry, error) {
	entities, err := LoadMappingFile(path)
	if err != nil {
		return nil, err
	}
	registry := NewRegistry(opts...)
	if err := registry.RegisterAll(entities...); err != nil {
		return nil, err
	}
	if err := registry.Seal(); err != nil {
		return nil, err
	}
	return registry, nil
}

func (ed entityDocument) toEntity() (*Entity, error) {
	entity := NewEntity(ed.Name)
	if ed.Table != "" {
		entity.Table = ed.Table
	}
	entity.Schema = ed.Schema
	entity.Catalog = ed.Catalog
	entity.Superclass = ed.Superclass
	entity.InheritanceJoinColumns = ed.InheritanceJoinColumns
	entity.PrimaryKey = append(entity.PrimaryKey, ed.PrimaryKey...)

	for _, cd := range ed.Columns {
		typ := TypeString
		if cd.Type != "" {
			parsed, err := ParsePrimitiveType(cd.Type)
			if err != nil {
				return nil, &MappingError{Entity: ed.Name, Column: cd.Attribute, Message: err.Error()}
			}
			typ = parsed
		}
		name := cd.Name
		if name == "" {
			name = toSnakeCase(cd.Attribute)
		}
		entity.Columns = append(entity.Columns, &Column{
			Attribute: cd.Attribute,
			Name:      name,
			Type:      typ,
			Nullable:  cd.Nullable,
			Table:     cd.Table,
		})
	}

	for _, sd := range ed.SecondaryTables {
		entity.SecondaryTables = append(entity.SecondaryTables, &SecondaryTable{
			Name:                  sd.Name,
			PrimaryKeyJoinColumns: sd.PrimaryKeyJoinColumns,
		})
	}

	for _, ad := range ed.Associations {
		kind, err := ParseAssociationKind(ad.Kind)
		if err != nil {
			return nil, &MappingError{Entity: ed.Name, Column: ad.Name, Message: err.Error()}
		}
		// Associations own their mapping unless they name the owning side
		owning := ad.MappedBy == ""
		if ad.Owning != nil {
			owning = *ad.Owning
		}
		entity.Associations = append(entity.Associations, &Association{
			Name:                  ad.Name,
			Kind:                  kind,
			Target:                ad.Target,
			Owning:                owning,
			MappedBy:              ad.MappedBy,
			JoinColumns:           ad.JoinColumns,
			JoinTable:             ad.JoinTable,
			PrimaryKeyJoinColumns: ad.PrimaryKeyJoinColumns,
		})
	}

	return entity, nil
}
