package schema

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"entityflow/internal/store"
)

// inspector performs dialect-specific discovery of one table.
type inspector interface {
	inspect(ctx context.Context, q store.Querier, table string) (*TableSchema, error)
}

var errUnknownTable = errors.New("table does not exist")

// Introspector resolves TableSchemas through a read-through cache.
type Introspector struct {
	q       store.Querier
	dialect store.Dialect
	cache   Cache
	ttl     time.Duration
	logger  *zap.Logger
}

type Option func(*Introspector)

// WithCache replaces the default in-memory cache.
func WithCache(c Cache) Option {
	return func(i *Introspector) {
		i.cache = c
	}
}

// WithTTL sets the advisory cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Introspector) {
		i.ttl = ttl
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(i *Introspector) {
		if l != nil {
			i.logger = l
		}
	}
}

func NewIntrospector(q store.Querier, dialect store.Dialect, opts ...Option) *Introspector {
	i := &Introspector{
		q:       q,
		dialect: dialect,
		cache:   NewMemoryCache(),
		ttl:     time.Hour,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// GetSchema returns the structure of table, introspecting on a cache miss.
func (i *Introspector) GetSchema(ctx context.Context, table string) (*TableSchema, error) {
	if !store.ValidIdentifier(table) {
		return nil, &SchemaError{Table: table, Reason: ReasonInvalidName}
	}

	key := cacheKey(table)
	if data, ok, err := i.cache.Get(ctx, key); err != nil {
		i.logger.Warn("schema cache read failed", zap.String("table", table), zap.Error(err))
	} else if ok {
		var ts TableSchema
		if err := json.Unmarshal(data, &ts); err == nil {
			return &ts, nil
		}
	}

	insp, err := i.inspectorFor()
	if err != nil {
		return nil, &SchemaError{Table: table, Reason: ReasonUnsupported, Err: err}
	}

	ts, err := insp.inspect(ctx, i.q, table)
	if errors.Is(err, errUnknownTable) {
		return nil, &SchemaError{Table: table, Reason: ReasonUnknownTable}
	}
	if err != nil {
		return nil, &SchemaError{Table: table, Reason: ReasonIntrospection, Err: err}
	}
	ts.Dialect = i.dialect.Name()
	i.parseComments(ts)

	if data, err := json.Marshal(ts); err == nil {
		if err := i.cache.Set(ctx, key, data, i.ttl); err != nil {
			i.logger.Warn("schema cache write failed", zap.String("table", table), zap.Error(err))
		}
	}
	return ts, nil
}

// Invalidate drops the cached schema for table.
func (i *Introspector) Invalidate(ctx context.Context, table string) error {
	return i.cache.Delete(ctx, cacheKey(table))
}

func (i *Introspector) inspectorFor() (inspector, error) {
	switch i.dialect.Name() {
	case "postgres":
		return postgresInspector{}, nil
	case "mysql":
		return mysqlInspector{}, nil
	case "sqlite":
		return sqliteInspector{}, nil
	default:
		return nil, store.ErrUnsupportedDialect
	}
}

func (i *Introspector) parseComments(ts *TableSchema) {
	ts.Metadata = i.parseComment(ts.Name, "", ts.Comment)
	for k := range ts.Columns {
		c := &ts.Columns[k]
		c.Metadata = i.parseComment(ts.Name, c.Name, c.Comment)
	}
	if ts.ForeignKeys == nil {
		ts.ForeignKeys = map[string]ForeignKey{}
	}
}

// parseComment decodes a JSON comment. Anything that is not a JSON object
// yields empty metadata.
func (i *Introspector) parseComment(table, column, comment string) map[string]any {
	out := map[string]any{}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return out
	}
	if err := json.Unmarshal([]byte(comment), &out); err != nil {
		i.logger.Warn("ignoring malformed metadata comment",
			zap.String("table", table), zap.String("column", column), zap.Error(err))
		return map[string]any{}
	}
	return out
}
