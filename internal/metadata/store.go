package metadata

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"entityflow/internal/schema"
	"entityflow/internal/store"
)

// SchemaSource resolves and invalidates table schemas.
type SchemaSource interface {
	GetSchema(ctx context.Context, table string) (*schema.TableSchema, error)
	Invalidate(ctx context.Context, table string) error
}

// Table bundles a table's schema with its parsed configuration.
type Table struct {
	Schema  *schema.TableSchema
	Meta    *TableMetadata
	Columns map[string]ColumnMeta
}

func (t *Table) Name() string       { return t.Schema.Name }
func (t *Table) PrimaryKey() string { return t.Schema.PrimaryKey }

// ColumnMeta returns the parsed metadata of a column (zero value if none).
func (t *Table) ColumnMeta(column string) ColumnMeta {
	return t.Columns[column]
}

// Label returns the display label of a column or virtual field.
func (t *Table) Label(field string) string {
	if vf, ok := t.Meta.VirtualFields[field]; ok && vf.Label != "" {
		return vf.Label
	}
	return t.Columns[field].LabelFor(field)
}

type cachedTable struct {
	table  *Table
	loaded time.Time
}

// Store caches parsed table configuration on top of a SchemaSource.
type Store struct {
	src    SchemaSource
	ttl    time.Duration
	logger *zap.Logger

	mu     sync.RWMutex
	tables map[string]cachedTable
}

// NewStore creates a metadata store. A zero ttl keeps entries until invalidated.
func NewStore(src SchemaSource, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{src: src, ttl: ttl, logger: logger, tables: make(map[string]cachedTable)}
}

// Table returns the schema and configuration of name. Configuration that
// does not fit the metadata schema and the engine's system tables are
// reported as a SchemaError.
func (s *Store) Table(ctx context.Context, name string) (*Table, error) {
	if store.IsSystemTable(name) {
		return nil, &schema.SchemaError{Table: name, Reason: schema.ReasonSystemTable}
	}

	s.mu.RLock()
	c, ok := s.tables[name]
	s.mu.RUnlock()
	if ok && (s.ttl == 0 || time.Since(c.loaded) < s.ttl) {
		return c.table, nil
	}

	ts, err := s.src.GetSchema(ctx, name)
	if err != nil {
		return nil, err
	}

	meta, err := Parse(ts.Metadata)
	if err != nil {
		s.logger.Error("table metadata rejected", zap.String("table", name), zap.Error(err))
		return nil, &schema.SchemaError{Table: name, Reason: schema.ReasonInvalidMetadata, Err: err}
	}

	t := &Table{Schema: ts, Meta: meta, Columns: make(map[string]ColumnMeta, len(ts.Columns))}
	for _, col := range ts.Columns {
		cm, err := ParseColumn(col.Metadata)
		if err != nil {
			s.logger.Error("column metadata rejected",
				zap.String("table", name), zap.String("column", col.Name), zap.Error(err))
			return nil, &schema.SchemaError{Table: name, Reason: schema.ReasonInvalidMetadata, Err: err}
		}
		t.Columns[col.Name] = cm
	}

	s.mu.Lock()
	s.tables[name] = cachedTable{table: t, loaded: time.Now()}
	s.mu.Unlock()
	return t, nil
}

// Invalidate drops both the parsed configuration and the cached schema.
func (s *Store) Invalidate(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.tables, name)
	s.mu.Unlock()
	return s.src.Invalidate(ctx, name)
}

// IsInvalid reports whether err came from rejected configuration.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidMetadata)
}
