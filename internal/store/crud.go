package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var errNothingToInsert = errors.New("insert: no column values")

// Insert writes one row and returns its primary key value. A key present in
// values wins; otherwise the driver-assigned key is returned.
func Insert(ctx context.Context, q Querier, d Dialect, table, pk string, values map[string]any) (any, error) {
	if len(values) == 0 {
		return nil, errNothingToInsert
	}
	b := d.Builder().Insert(table).SetMap(values)

	if d.SupportsReturning() {
		query, args, err := b.Suffix("RETURNING " + pk).ToSql()
		if err != nil {
			return nil, fmt.Errorf("build insert: %w", err)
		}
		var id any
		if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return nil, d.MapError(err)
		}
		return normalizeValue(id), nil
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, d.MapError(err)
	}
	if v, ok := values[pk]; ok && v != nil {
		return v, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// UpdateByID updates the row identified by pk = id.
func UpdateByID(ctx context.Context, q Querier, d Dialect, table, pk string, id any, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	return Exec(ctx, q, d, d.Builder().Update(table).SetMap(values).Where(sq.Eq{pk: id}))
}

// DeleteWhere removes every row matching where.
func DeleteWhere(ctx context.Context, q Querier, d Dialect, table string, where sq.Sqlizer) (int64, error) {
	return Exec(ctx, q, d, d.Builder().Delete(table).Where(where))
}

// Exec runs a built statement and returns the number of rows affected.
// Driver errors go through the dialect's error mapping.
func Exec(ctx context.Context, q Querier, d Dialect, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, d.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// FindByID loads a single row; ErrNotFound when it does not exist.
func FindByID(ctx context.Context, q Querier, d Dialect, table, pk string, id any) (map[string]any, error) {
	query, args, err := d.Builder().Select("*").From(table).Where(sq.Eq{pk: id}).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	return QueryRow(ctx, q, query, args...)
}

// Select runs a select builder and returns all rows.
func Select(ctx context.Context, q Querier, b sq.SelectBuilder) ([]map[string]any, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	return QueryRows(ctx, q, query, args...)
}

// Exists reports whether the builder's query returns at least one row.
func Exists(ctx context.Context, q Querier, b sq.SelectBuilder) (bool, error) {
	rows, err := Select(ctx, q, b.Limit(1))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Count runs a SELECT COUNT(*) built by the caller.
func Count(ctx context.Context, q Querier, b sq.SelectBuilder) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}
	var n int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
