package store

import (
	"strconv"
	"time"
)

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// NewParamBuilder creates a dialect-aware parameter builder.
	NewParamBuilder() ParamBuilder

	// SystemTablesSQL returns the DDL for all system tables.
	SystemTablesSQL() string

	// InExpr matches field against values. An empty list matches nothing.
	InExpr(field string, pb ParamBuilder, values []string) string

	// IntervalDeleteExpr returns SQL for deleting rows older than N days.
	IntervalDeleteExpr(createdAtCol string, pb ParamBuilder, days string) string

	// TimeParam encodes a timestamp for storage. SQLite stores timestamps as
	// sortable UTC text.
	TimeParam(t time.Time) any

	// JSONParam encodes a JSON document for storage.
	JSONParam(b []byte) any

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error
}

// ParamBuilder accumulates query parameters and generates dialect-specific placeholders.
type ParamBuilder interface {
	// Add appends a value and returns its placeholder.
	Add(v any) string

	// Params returns all accumulated parameter values.
	Params() []any
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

// numberedParams renders placeholders as prefix + 1-based position,
// "$1" for PostgreSQL and "?1" for SQLite.
type numberedParams struct {
	prefix string
	params []any
}

func (p *numberedParams) Add(v any) string {
	p.params = append(p.params, v)
	return p.prefix + strconv.Itoa(len(p.params))
}

func (p *numberedParams) Params() []any { return p.params }
