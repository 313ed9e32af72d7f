package store

import (
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string            { return "postgres" }
func (d *PostgresDialect) DriverName() string      { return "pgx" }
func (d *PostgresDialect) SupportsReturning() bool { return true }

func (d *PostgresDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (d *PostgresDialect) SystemTablesSQL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS _audit_log (
    id          TEXT PRIMARY KEY,
    table_name  TEXT NOT NULL,
    record_id   TEXT NOT NULL,
    action      TEXT NOT NULL,
    actor_id    TEXT,
    ip_address  TEXT,
    old_values  JSONB,
    new_values  JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_history_entity ON _workflow_history(table_name, entity_id)`,
	}
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}
