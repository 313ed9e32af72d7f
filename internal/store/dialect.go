package store

import (
	"errors"
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"
)

var ErrUnsupportedDialect = errors.New("unsupported dialect")

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres", "mysql" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx", "mysql" or "sqlite").
	DriverName() string

	// Builder returns a squirrel statement builder using the dialect's placeholders.
	Builder() sq.StatementBuilderType

	// SupportsReturning reports whether INSERT ... RETURNING yields the new key.
	SupportsReturning() bool

	// SystemTablesSQL returns the DDL statements for the engine's own tables.
	SystemTablesSQL() []string

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error
}

// NewDialect creates a Dialect for the given driver name.
func NewDialect(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx", "":
		return &PostgresDialect{}, nil
	case "mysql":
		return &MySQLDialect{}, nil
	case "sqlite":
		return &SQLiteDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDialect, driver)
	}
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to splice into SQL as a table or column name.
func ValidIdentifier(name string) bool {
	return len(name) <= 64 && identifierRe.MatchString(name)
}
