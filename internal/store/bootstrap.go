package store

import (
	"context"
	"fmt"
	"strings"
)

// System tables hold engine state. They are never served as entities.
const (
	AuditLogTable        = "_audit_log"
	WorkflowHistoryTable = "_workflow_history"
	MetaCommentsTable    = "_meta_comments"
)

var systemTables = map[string]bool{
	AuditLogTable:        true,
	WorkflowHistoryTable: true,
	MetaCommentsTable:    true,
}

// IsSystemTable reports whether name is one of the engine's own tables.
func IsSystemTable(name string) bool {
	return systemTables[strings.ToLower(name)]
}

// Bootstrap creates the engine's system tables (audit log, workflow history,
// and for SQLite the comment side table) if they do not exist yet.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range s.Dialect.SystemTablesSQL() {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap system tables: %w", err)
		}
	}
	return nil
}
