// Package schema discovers table structure at runtime and caches it.
package schema

import (
	"fmt"
)

// TableSchema is the introspected structure of one table.
type TableSchema struct {
	Name        string                `json:"name"`
	Dialect     string                `json:"dialect"`
	PrimaryKey  string                `json:"primary_key"`
	Columns     []ColumnDescriptor    `json:"columns"`
	ForeignKeys map[string]ForeignKey `json:"foreign_keys"`
	Comment     string                `json:"comment,omitempty"`
	Metadata    map[string]any        `json:"metadata"`
}

// ColumnDescriptor describes one column. Type holds the normalized type,
// RawType the dialect's own spelling.
type ColumnDescriptor struct {
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	RawType       string         `json:"raw_type"`
	Nullable      bool           `json:"nullable"`
	HasDefault    bool           `json:"has_default"`
	AutoIncrement bool           `json:"auto_increment"`
	MaxLength     int            `json:"max_length,omitempty"`
	EnumValues    []string       `json:"enum_values,omitempty"`
	Comment       string         `json:"comment,omitempty"`
	Metadata      map[string]any `json:"metadata"`
}

type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
	OnDelete  string `json:"on_delete,omitempty"`
}

// Column looks up a column by name.
func (t *TableSchema) Column(name string) (*ColumnDescriptor, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// HasColumn reports whether the table has the named column.
func (t *TableSchema) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames returns the column names in table order.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryColumn returns the primary-key column descriptor, if any.
func (t *TableSchema) PrimaryColumn() (*ColumnDescriptor, bool) {
	if t.PrimaryKey == "" {
		return nil, false
	}
	return t.Column(t.PrimaryKey)
}

// SchemaError reasons.
const (
	ReasonInvalidName     = "invalid table name"
	ReasonUnknownTable    = "unknown table"
	ReasonSystemTable     = "system table"
	ReasonUnsupported     = "unsupported dialect"
	ReasonIntrospection   = "introspection failed"
	ReasonInvalidMetadata = "invalid metadata"
)

// SchemaError reports an unknown table, an unsupported dialect or a failed
// introspection. It is fatal for the request that triggered it.
type SchemaError struct {
	Table  string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema %s: %s: %v", e.Table, e.Reason, e.Err)
	}
	return fmt.Sprintf("schema %s: %s", e.Table, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// NotFound reports whether the table cannot be addressed at all, as
// opposed to being misconfigured.
func (e *SchemaError) NotFound() bool {
	switch e.Reason {
	case ReasonInvalidName, ReasonUnknownTable, ReasonSystemTable:
		return true
	}
	return false
}
