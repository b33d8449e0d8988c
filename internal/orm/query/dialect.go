package query

import (
	"fmt"

	"github.com/Masterminds/squirrel"
)

// Dialect selects the placeholder style of rendered statements
type Dialect int

const (
	// DialectPostgres numbers placeholders $1, $2, ...
	DialectPostgres Dialect = iota
	// DialectSQLite uses ? placeholders
	DialectSQLite
)

// String returns the string representation of the dialect
func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// Placeholder returns the squirrel placeholder format of the dialect
func (d Dialect) Placeholder() squirrel.PlaceholderFormat {
	if d == DialectSQLite {
		return squirrel.Question
	}
	return squirrel.Dollar
}

// DialectForDriver maps a database/sql driver name to its dialect
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres":
		return DialectPostgres, nil
	case "sqlite3":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("unsupported driver: %s", driver)
	}
}
