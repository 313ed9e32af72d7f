package store

import (
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
)

// MySQLDialect implements Dialect for MySQL / MariaDB.
type MySQLDialect struct{}

func (d *MySQLDialect) Name() string            { return "mysql" }
func (d *MySQLDialect) DriverName() string      { return "mysql" }
func (d *MySQLDialect) SupportsReturning() bool { return false }

func (d *MySQLDialect) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (d *MySQLDialect) SystemTablesSQL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS _audit_log (
    id          VARCHAR(36) PRIMARY KEY,
    table_name  VARCHAR(64) NOT NULL,
    record_id   VARCHAR(64) NOT NULL,
    action      VARCHAR(16) NOT NULL,
    actor_id    VARCHAR(64),
    ip_address  VARCHAR(45),
    old_values  JSON,
    new_values  JSON,
    created_at  DATETIME(6) NOT NULL,
    INDEX idx_audit_log_record (table_name, record_id)
)`,
		`CREATE TABLE IF NOT EXISTS _workflow_history (
    id          VARCHAR(36) PRIMARY KEY,
    table_name  VARCHAR(64) NOT NULL,
    entity_id   VARCHAR(64) NOT NULL,
    transition  VARCHAR(64) NOT NULL,
    from_state  VARCHAR(64) NOT NULL,
    to_state    VARCHAR(64) NOT NULL,
    actor_id    VARCHAR(64),
    created_at  DATETIME(6) NOT NULL,
    INDEX idx_workflow_history_entity (table_name, entity_id)
)`,
	}
}

func (d *MySQLDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}
