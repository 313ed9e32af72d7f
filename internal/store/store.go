package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // Register mysql as database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	_ "modernc.org/sqlite"             // Register sqlite as database/sql driver

	"entityflow/internal/config"
)

var ErrNotFound = errors.New("not found")
var ErrUniqueViolation = errors.New("unique constraint violation")

// Querier is implemented by both *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store wraps a database connection and dialect.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// New creates a Store from config.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	dialect, err := NewDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dialect.Name() == "sqlite" {
		// SQLite: single writer, WAL mode for concurrent reads
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{DB: db, Dialect: dialect}, nil
}

// NewFromDB wraps an already opened connection.
func NewFromDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{DB: db, Dialect: dialect}
}

// Close closes the database connection.
func (s *Store) Close() {
	s.DB.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// QueryRows executes a query and returns results as []map[string]any.
func QueryRows(ctx context.Context, q Querier, sqlStr string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

// QueryRow executes a query and returns a single row as map[string]any.
func QueryRow(ctx context.Context, q Querier, sqlStr string, args ...any) (map[string]any, error) {
	rows, err := QueryRows(ctx, q, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// normalizeValue converts database-specific types to JSON-serializable Go types.
func normalizeValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case []byte:
		// database/sql often returns []byte for TEXT columns
		s := string(val)
		if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		return s
	default:
		return val
	}
}
