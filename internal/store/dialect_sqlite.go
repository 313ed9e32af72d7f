package store

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string            { return "sqlite" }
func (d *SQLiteDialect) DriverName() string      { return "sqlite" }
func (d *SQLiteDialect) SupportsReturning() bool { return false }

func (d *SQLiteDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// SQLite has no table or column comments; they are kept in _meta_comments
// with column_name '' holding the table-level comment.
func (d *SQLiteDialect) SystemTablesSQL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS _audit_log (
    id          TEXT PRIMARY KEY,
    table_name  TEXT NOT NULL,
    record_id   TEXT NOT NULL,
    action      TEXT NOT NULL,
    actor_id    TEXT,
    ip_address  TEXT,
    old_values  TEXT,
    new_values  TEXT,
    created_at  DATETIME NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_record ON _audit_log(table_name, record_id)`,
		`CREATE TABLE IF NOT EXISTS _workflow_history (
    id          TEXT PRIMARY KEY,
    table_name  TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    transition  TEXT NOT NULL,
    from_state  TEXT NOT NULL,
    to_state    TEXT NOT NULL,
    actor_id    TEXT,
    created_at  DATETIME NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_history_entity ON _workflow_history(table_name, entity_id)`,
		`CREATE TABLE IF NOT EXISTS _meta_comments (
    table_name  TEXT NOT NULL,
    column_name TEXT NOT NULL DEFAULT '',
    comment     TEXT NOT NULL,
    PRIMARY KEY (table_name, column_name)
)`,
	}
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}
