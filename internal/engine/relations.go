package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"entityflow/internal/metadata"
	"entityflow/internal/store"
)

// syncRelations replaces the pivot rows of every submitted relation:
// existing rows for id are deleted and one row per selected id inserted.
func (o *Orchestrator) syncRelations(ctx context.Context, q store.Querier, tbl *metadata.Table, id any, selections map[string][]any) error {
	fields := make([]string, 0, len(selections))
	for f := range selections {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		rel, ok := tbl.Meta.Relation(field)
		if !ok {
			continue
		}
		if _, err := store.DeleteWhere(ctx, q, o.store.Dialect, rel.PivotTable, sq.Eq{rel.LocalKey: id}); err != nil {
			return fmt.Errorf("clear %s: %w", rel.PivotTable, err)
		}

		ids := dedupe(selections[field])
		if len(ids) == 0 {
			continue
		}
		b := o.store.Dialect.Builder().Insert(rel.PivotTable).Columns(rel.LocalKey, rel.ForeignKey)
		for _, fid := range ids {
			b = b.Values(id, fid)
		}
		query, args, err := b.ToSql()
		if err != nil {
			return fmt.Errorf("build %s insert: %w", rel.PivotTable, err)
		}
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("fill %s: %w", rel.PivotTable, o.store.Dialect.MapError(err))
		}
	}
	return nil
}

// clearRelations removes every pivot row of id, used by hard deletes.
func (o *Orchestrator) clearRelations(ctx context.Context, q store.Querier, tbl *metadata.Table, id any) error {
	for _, rel := range tbl.Meta.ManyToMany {
		if _, err := store.DeleteWhere(ctx, q, o.store.Dialect, rel.PivotTable, sq.Eq{rel.LocalKey: id}); err != nil {
			return fmt.Errorf("clear %s: %w", rel.PivotTable, err)
		}
	}
	return nil
}

// Related returns the foreign ids linked to id through the relation field.
func (o *Orchestrator) Related(ctx context.Context, table, field string, id any) ([]any, error) {
	tbl, err := o.tables.Table(ctx, table)
	if err != nil {
		return nil, err
	}
	rel, ok := tbl.Meta.Relation(field)
	if !ok {
		return nil, fmt.Errorf("%s has no relation %q", table, field)
	}
	rows, err := store.Select(ctx, o.store.DB, o.store.Dialect.Builder().
		Select(rel.ForeignKey).From(rel.PivotTable).
		Where(sq.Eq{rel.LocalKey: id}).
		OrderBy(rel.ForeignKey))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel.PivotTable, err)
	}
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r[rel.ForeignKey])
	}
	return out, nil
}

// dedupe drops repeated ids and turns whole JSON numbers into integers.
func dedupe(ids []any) []any {
	seen := make(map[string]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, v := range ids {
		if f, ok := v.(float64); ok && f == math.Trunc(f) {
			v = int64(f)
		}
		k := fmt.Sprintf("%v", v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
