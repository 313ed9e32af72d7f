// Package audit records append-only change history for entity writes.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"entityflow/internal/metadata"
	"entityflow/internal/store"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

const auditTable = store.AuditLogTable

// Entry is one audit row. Entries are never updated after insert.
type Entry struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	RecordID  string          `json:"record_id"`
	Action    string          `json:"action"`
	ActorID   string          `json:"actor_id,omitempty"`
	IPAddress string          `json:"ip_address,omitempty"`
	OldValues metadata.Record `json:"old_values,omitempty"`
	NewValues metadata.Record `json:"new_values,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Logger writes audit entries through the caller's querier so they share
// the surrounding transaction.
type Logger interface {
	LogCreate(ctx context.Context, q store.Querier, table string, id any, values metadata.Record, actor *metadata.Actor) error
	LogUpdate(ctx context.Context, q store.Querier, table string, id any, old, values metadata.Record, actor *metadata.Actor) error
	LogDelete(ctx context.Context, q store.Querier, table string, id any, old metadata.Record, actor *metadata.Actor) error
}

// SQLLogger stores entries in the _audit_log system table.
type SQLLogger struct {
	dialect store.Dialect
	now     func() time.Time
}

func NewSQLLogger(dialect store.Dialect) *SQLLogger {
	return &SQLLogger{dialect: dialect, now: time.Now}
}

func (l *SQLLogger) LogCreate(ctx context.Context, q store.Querier, table string, id any, values metadata.Record, actor *metadata.Actor) error {
	return l.insert(ctx, q, table, id, ActionCreate, nil, values, actor)
}

func (l *SQLLogger) LogUpdate(ctx context.Context, q store.Querier, table string, id any, old, values metadata.Record, actor *metadata.Actor) error {
	return l.insert(ctx, q, table, id, ActionUpdate, old, values, actor)
}

func (l *SQLLogger) LogDelete(ctx context.Context, q store.Querier, table string, id any, old metadata.Record, actor *metadata.Actor) error {
	return l.insert(ctx, q, table, id, ActionDelete, old, nil, actor)
}

func (l *SQLLogger) insert(ctx context.Context, q store.Querier, table string, id any, action string, old, values metadata.Record, actor *metadata.Actor) error {
	oldJSON, err := encode(old)
	if err != nil {
		return err
	}
	newJSON, err := encode(values)
	if err != nil {
		return err
	}
	var ip any
	if actor != nil && actor.IP != "" {
		ip = actor.IP
	}
	var actorID any
	if !actor.Anonymous() {
		actorID = actor.ID
	}

	query, args, err := l.dialect.Builder().Insert(auditTable).SetMap(map[string]any{
		"id":         uuid.New().String(),
		"table_name": table,
		"record_id":  fmt.Sprintf("%v", id),
		"action":     action,
		"actor_id":   actorID,
		"ip_address": ip,
		"old_values": oldJSON,
		"new_values": newJSON,
		"created_at": l.now().UTC(),
	}).ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Entries returns the audit trail of one record, oldest first.
func (l *SQLLogger) Entries(ctx context.Context, q store.Querier, table string, id any) ([]Entry, error) {
	b := l.dialect.Builder().
		Select("id", "table_name", "record_id", "action", "actor_id", "ip_address", "old_values", "new_values", "created_at").
		From(auditTable).
		Where(sq.Eq{"table_name": table, "record_id": fmt.Sprintf("%v", id)}).
		OrderBy("created_at ASC")
	rows, err := store.Select(ctx, q, b)
	if err != nil {
		return nil, fmt.Errorf("read audit entries: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := Entry{
			ID:        metadata.Record(row).String("id"),
			Table:     metadata.Record(row).String("table_name"),
			RecordID:  metadata.Record(row).String("record_id"),
			Action:    metadata.Record(row).String("action"),
			ActorID:   metadata.Record(row).String("actor_id"),
			IPAddress: metadata.Record(row).String("ip_address"),
			OldValues: decode(row["old_values"]),
			NewValues: decode(row["new_values"]),
		}
		if t, ok := row["created_at"].(time.Time); ok {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func encode(r metadata.Record) (any, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode audit values: %w", err)
	}
	return string(data), nil
}

func decode(v any) metadata.Record {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case []byte:
		s = string(val)
	default:
		return nil
	}
	var r metadata.Record
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil
	}
	return r
}
