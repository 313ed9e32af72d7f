package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"entityflow/internal/metadata"
	"entityflow/internal/permission"
	"entityflow/internal/schema"
	"entityflow/internal/store"
	"entityflow/internal/validation"
)

const maxPerPage = 1000

// Filter restricts a list to rows where Field compares to Value.
type Filter struct {
	Field    string
	Operator string // eq, neq, gt, gte, lt, lte, in, not_in, like
	Value    any
}

// ListParams are the caller's paging, sorting and filter choices. Zero
// values fall back to the table's list_view.
type ListParams struct {
	Page    int
	PerPage int
	Sort    string // "name" or "-created_at"; comma separated for several
	Search  string
	Filters []Filter
}

type Page struct {
	Data    []metadata.Record `json:"data"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
	Total   int64             `json:"total"`
}

// ParseFilterKey splits "total.gte" into ("total", "gte") or "status" into ("status", "eq").
func ParseFilterKey(key string) (string, string) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return key, "eq"
}

// Get returns one live row the actor may read. Failures are *AppError
// values, except for schema errors.
func (o *Orchestrator) Get(ctx context.Context, table string, id any, actor *metadata.Actor) (metadata.Record, error) {
	start := time.Now()
	row, err := o.get(ctx, table, id, actor)
	o.observeRead(table, "get", err, start)
	return row, err
}

func (o *Orchestrator) get(ctx context.Context, table string, id any, actor *metadata.Actor) (metadata.Record, error) {
	tbl, err := o.tables.Table(ctx, table)
	if err != nil {
		return nil, err
	}
	row, err := o.findLive(ctx, o.store.DB, tbl, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NotFound(tbl.Name(), id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%v: %w", tbl.Name(), id, err)
	}
	if !o.perms.CanRead(actor, tbl, row) {
		return nil, PermissionDenied("read", tbl.Name())
	}
	return present(tbl, row), nil
}

// List returns one page of live rows visible to the actor.
func (o *Orchestrator) List(ctx context.Context, table string, params ListParams, actor *metadata.Actor) (*Page, error) {
	start := time.Now()
	page, err := o.list(ctx, table, params, actor)
	o.observeRead(table, "list", err, start)
	return page, err
}

func (o *Orchestrator) list(ctx context.Context, table string, params ListParams, actor *metadata.Actor) (*Page, error) {
	tbl, err := o.tables.Table(ctx, table)
	if err != nil {
		return nil, err
	}
	if !o.perms.CanRead(actor, tbl, nil) {
		return nil, PermissionDenied("read", tbl.Name())
	}

	where, err := o.listConditions(tbl, params, actor)
	if err != nil {
		return nil, err
	}
	orderBy, err := listOrder(tbl, params.Sort)
	if err != nil {
		return nil, err
	}

	lv := tbl.Meta.ListView
	page := params.Page
	if page < 1 {
		page = 1
	}
	perPage := params.PerPage
	if perPage <= 0 {
		perPage = lv.PerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	b := o.store.Dialect.Builder()
	total, err := store.Count(ctx, o.store.DB, b.Select("COUNT(*)").From(tbl.Name()).Where(where))
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", tbl.Name(), err)
	}

	rows, err := store.Select(ctx, o.store.DB, b.Select(listColumns(tbl)...).
		From(tbl.Name()).
		Where(where).
		OrderBy(orderBy...).
		Limit(uint64(perPage)).
		Offset(uint64((page-1)*perPage)))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", tbl.Name(), err)
	}

	data := make([]metadata.Record, 0, len(rows))
	for _, r := range rows {
		data = append(data, present(tbl, r))
	}
	return &Page{Data: data, Page: page, PerPage: perPage, Total: total}, nil
}

func (o *Orchestrator) listConditions(tbl *metadata.Table, params ListParams, actor *metadata.Actor) (sq.And, error) {
	where := sq.And{}
	if col, ok := tbl.Meta.SoftDeleteColumn(); ok && tbl.Schema.HasColumn(col) {
		where = append(where, sq.Eq{col: nil})
	}
	if col, value, ok := permission.ReadFilter(actor, tbl.Meta); ok {
		where = append(where, sq.Eq{col: value})
	}

	for _, f := range params.Filters {
		col, ok := tbl.Schema.Column(f.Field)
		if !ok || tbl.ColumnMeta(f.Field).Hidden {
			return nil, NewAppError("UNKNOWN_FIELD", 400, fmt.Sprintf("Unknown filter field: %s", f.Field))
		}
		cond, err := filterCondition(*col, f)
		if err != nil {
			return nil, err
		}
		where = append(where, cond)
	}

	if params.Search != "" && len(tbl.Meta.ListView.Searchable) > 0 {
		or := sq.Or{}
		pattern := "%" + params.Search + "%"
		for _, c := range tbl.Meta.ListView.Searchable {
			if tbl.Schema.HasColumn(c) {
				or = append(or, sq.Like{c: pattern})
			}
		}
		if len(or) > 0 {
			where = append(where, or)
		}
	}
	return where, nil
}

func filterCondition(col schema.ColumnDescriptor, f Filter) (sq.Sqlizer, error) {
	value := func(v any) any { return validation.Coerce(col, v) }
	list := func() []any {
		var out []any
		for _, v := range idList(f.Value) {
			out = append(out, value(v))
		}
		return out
	}

	switch f.Operator {
	case "", "eq":
		return sq.Eq{f.Field: value(f.Value)}, nil
	case "neq":
		return sq.NotEq{f.Field: value(f.Value)}, nil
	case "gt":
		return sq.Gt{f.Field: value(f.Value)}, nil
	case "gte":
		return sq.GtOrEq{f.Field: value(f.Value)}, nil
	case "lt":
		return sq.Lt{f.Field: value(f.Value)}, nil
	case "lte":
		return sq.LtOrEq{f.Field: value(f.Value)}, nil
	case "in":
		return sq.Eq{f.Field: list()}, nil
	case "not_in":
		return sq.NotEq{f.Field: list()}, nil
	case "like":
		return sq.Like{f.Field: f.Value}, nil
	default:
		return nil, NewAppError("INVALID_FILTER", 400, fmt.Sprintf("Unknown filter operator: %s", f.Operator))
	}
}

func listOrder(tbl *metadata.Table, sort string) ([]string, error) {
	lv := tbl.Meta.ListView
	if sort == "" {
		if lv.DefaultSort == "" || !tbl.Schema.HasColumn(lv.DefaultSort) {
			return []string{tbl.PrimaryKey() + " ASC"}, nil
		}
		return []string{lv.DefaultSort + " " + strings.ToUpper(lv.SortDirection)}, nil
	}

	var out []string
	for _, part := range strings.Split(sort, ",") {
		part = strings.TrimSpace(part)
		dir := "ASC"
		if strings.HasPrefix(part, "-") {
			dir = "DESC"
			part = part[1:]
		}
		if !tbl.Schema.HasColumn(part) {
			return nil, NewAppError("UNKNOWN_FIELD", 400, fmt.Sprintf("Unknown sort field: %s", part))
		}
		out = append(out, part+" "+dir)
	}
	return out, nil
}

func listColumns(tbl *metadata.Table) []string {
	cols := []string{tbl.PrimaryKey()}
	for _, c := range tbl.Meta.ListView.Columns {
		if c != tbl.PrimaryKey() && tbl.Schema.HasColumn(c) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 1 {
		return []string{"*"}
	}
	return cols
}

// present strips hidden and password columns from a row.
func present(tbl *metadata.Table, row map[string]any) metadata.Record {
	out := make(metadata.Record, len(row))
	for k, v := range row {
		cm := tbl.ColumnMeta(k)
		if cm.Hidden || cm.Type == "password" {
			continue
		}
		out[k] = v
	}
	return out
}

func (o *Orchestrator) observeRead(table, action string, err error, start time.Time) {
	if o.observer == nil {
		return
	}
	outcome := "success"
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		outcome = "failure"
	case err != nil:
		outcome = "error"
	}
	o.observer.ObserveOperation(table, action, outcome, time.Since(start))
}
