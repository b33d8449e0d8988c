// Package codegen generates DDL for a sealed mapping.
// It turns the tables, join tables and key columns the registry resolves
// into CREATE TABLE statements for the configured dialect.
package codegen

import (
	"fmt"

	"github.com/conduit-lang/persistence/internal/orm/query"
	"github.com/conduit-lang/persistence/internal/orm/schema"
)

// TypeMapper maps primitive column types to column types of a dialect
type TypeMapper struct {
	dialect query.Dialect
}

// NewTypeMapper creates a new TypeMapper
func NewTypeMapper(dialect query.Dialect) *TypeMapper {
	return &TypeMapper{dialect: dialect}
}

// MapType converts a primitive type to a column type
func (tm *TypeMapper) MapType(p schema.PrimitiveType) (string, error) {
	if tm.dialect == query.DialectSQLite {
		return tm.mapSQLiteType(p)
	}
	return tm.mapPostgresType(p)
}

func (tm *TypeMapper) mapPostgresType(p schema.PrimitiveType) (string, error) {
	switch p {
	case schema.TypeString:
		return "VARCHAR(255)", nil
	case schema.TypeText:
		return "TEXT", nil
	case schema.TypeEnum:
		return "VARCHAR(64)", nil
	case schema.TypeInt:
		return "INTEGER", nil
	case schema.TypeBigInt:
		return "BIGINT", nil
	case schema.TypeFloat:
		return "DOUBLE PRECISION", nil
	case schema.TypeDecimal:
		return "NUMERIC", nil
	case schema.TypeBool:
		return "BOOLEAN", nil
	case schema.TypeTimestamp:
		return "TIMESTAMP WITH TIME ZONE", nil
	case schema.TypeDate:
		return "DATE", nil
	case schema.TypeTime:
		return "TIME", nil
	case schema.TypeUUID:
		return "UUID", nil
	case schema.TypeBytes:
		return "BYTEA", nil
	case schema.TypeJSON:
		return "JSONB", nil
	default:
		return "", fmt.Errorf("unsupported type: %s", p)
	}
}

// mapSQLiteType picks declared types whose affinity go-sqlite3 scans back
// into the values the executor converts
func (tm *TypeMapper) mapSQLiteType(p schema.PrimitiveType) (string, error) {
	switch p {
	case schema.TypeString, schema.TypeText, schema.TypeEnum, schema.TypeUUID, schema.TypeJSON:
		return "TEXT", nil
	case schema.TypeInt, schema.TypeBigInt, schema.TypeBool:
		return "INTEGER", nil
	case schema.TypeFloat:
		return "REAL", nil
	case schema.TypeDecimal:
		return "NUMERIC", nil
	case schema.TypeTimestamp:
		return "TIMESTAMP", nil
	case schema.TypeDate:
		return "DATE", nil
	case schema.TypeTime:
		return "TEXT", nil
	case schema.TypeBytes:
		return "BLOB", nil
	default:
		return "", fmt.Errorf("unsupported type: %s", p)
	}
}

// MapNullability returns the NULL/NOT NULL constraint for a column
func (tm *TypeMapper) MapNullability(nullable bool) string {
	if nullable {
		return "NULL"
	}
	return "NOT NULL"
}
