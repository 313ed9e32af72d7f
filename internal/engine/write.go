package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"entityflow/internal/hooks"
	"entityflow/internal/metadata"
	"entityflow/internal/validation"
)

// write is the in-flight state of one Save call.
type write struct {
	tbl      *metadata.Table
	req      Request
	id       any
	existing metadata.Record
	// key is a primary key generated for the insert.
	key any

	columns   metadata.Record
	virtual   metadata.Record
	relations map[string][]any

	// record is the persisted row as seen after the write.
	record metadata.Record
	// stored holds upload paths to remove if the write fails.
	stored []string
}

func (w *write) isCreate() bool { return w.req.ID == nil }

// payload is the record hooks see: columns, relation selections and,
// until validation has passed, virtual fields.
func (w *write) payload(withVirtual bool) metadata.Record {
	out := w.columns.Clone()
	if withVirtual {
		for k, v := range w.virtual {
			out[k] = v
		}
	}
	for k, ids := range w.relations {
		out[k] = ids
	}
	return out
}

func (w *write) result() metadata.Record {
	out := w.existing.Clone()
	for k, v := range w.columns {
		out[k] = v
	}
	out[w.tbl.PrimaryKey()] = w.id
	return out
}

// prepare sorts the submitted data into columns, virtual fields and
// many-to-many selections. The primary key, unknown keys and columns the
// engine fills itself are dropped. Admins may still set the owner and
// approval columns.
func (o *Orchestrator) prepare(w *write) {
	w.columns, w.virtual, w.relations = o.split(w.tbl, w.req.Data)
	for _, col := range managedInput(w.tbl.Meta, w.req.Actor.IsAdmin()) {
		if w.columns.Has(col) {
			o.logger.Debug("dropping managed column", zap.String("table", w.tbl.Name()), zap.String("column", col))
			delete(w.columns, col)
		}
	}
}

func managedInput(md *metadata.TableMetadata, admin bool) []string {
	cols := md.ManagedColumns()
	if !admin {
		return cols
	}
	keep := map[string]bool{}
	if md.RowLevelSecurity.Enabled || md.BusinessRules.MaxRecordsPerUser > 0 {
		keep[md.OwnerField()] = true
	}
	if col, ok := md.ApprovalField(); ok {
		keep[col] = true
	}
	out := cols[:0:0]
	for _, c := range cols {
		if !keep[c] {
			out = append(out, c)
		}
	}
	return out
}

func (o *Orchestrator) split(tbl *metadata.Table, data map[string]any) (columns, virtual metadata.Record, relations map[string][]any) {
	columns = metadata.Record{}
	virtual = metadata.Record{}
	relations = map[string][]any{}

	for k, v := range data {
		switch {
		case k == tbl.PrimaryKey():
			continue
		case tbl.Schema.HasColumn(k):
			columns[k] = v
		case hasVirtual(tbl, k):
			virtual[k] = v
		default:
			if _, ok := tbl.Meta.Relation(k); ok {
				relations[k] = idList(v)
				continue
			}
			o.logger.Debug("dropping unknown field", zap.String("table", tbl.Name()), zap.String("field", k))
		}
	}
	return columns, virtual, relations
}

func hasVirtual(tbl *metadata.Table, name string) bool {
	_, ok := tbl.Meta.VirtualFields[name]
	return ok
}

// fire runs the hooks of event and takes their output as the new payload.
func (o *Orchestrator) fire(ctx context.Context, w *write, event hooks.Event, withVirtual bool) error {
	if o.hooks.Count(w.tbl.Name(), event) == 0 {
		return nil
	}
	var id any
	if event != hooks.BeforeCreate {
		id = w.id
	}
	out, err := o.hooks.Run(ctx, hooks.Payload{
		Table:  w.tbl.Name(),
		Event:  event,
		ID:     id,
		Record: w.payload(withVirtual),
		Actor:  w.req.Actor,
	})
	if err != nil {
		o.logger.Info("hook aborted write",
			zap.String("table", w.tbl.Name()), zap.String("event", string(event)), zap.Error(err))
		return err
	}

	columns, virtual, relations := o.split(w.tbl, out)
	w.columns, w.relations = columns, relations
	if withVirtual {
		w.virtual = virtual
	}
	return nil
}

func (o *Orchestrator) coerce(w *write) {
	for name, v := range w.columns {
		if col, ok := w.tbl.Schema.Column(name); ok {
			w.columns[name] = validation.Coerce(*col, v)
		}
	}
}

// storeUploads saves request files for file and image columns and puts
// the stored path into the column.
func (o *Orchestrator) storeUploads(ctx context.Context, w *write) *AppError {
	if o.uploads == nil || len(w.req.Files) == 0 {
		return nil
	}
	errs := validation.Errors{}
	for field, up := range w.req.Files {
		if !w.tbl.Schema.HasColumn(field) || !w.tbl.ColumnMeta(field).IsUpload() {
			continue
		}
		path, err := o.uploads.Store(ctx, w.tbl.Name(), field, up)
		if err != nil {
			o.logger.Warn("upload failed", zap.String("table", w.tbl.Name()), zap.String("field", field), zap.Error(err))
			errs.Add(field, fmt.Sprintf("%s could not be uploaded", w.tbl.Label(field)))
			continue
		}
		w.stored = append(w.stored, path)
		w.columns[field] = path
	}
	if !errs.Empty() {
		return ValidationFailed(errs)
	}
	return nil
}

func (o *Orchestrator) discardUploads(ctx context.Context, w *write) {
	for _, path := range w.stored {
		if err := o.uploads.Delete(ctx, path); err != nil {
			o.logger.Warn("remove orphaned upload", zap.String("path", path), zap.Error(err))
		}
	}
}

// idList turns a submitted selection into a list of ids. Strings are
// treated as comma-separated lists.
func idList(v any) []any {
	var out []any
	add := func(x any) {
		if x == nil {
			return
		}
		if s, ok := x.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				return
			}
			x = s
		}
		out = append(out, x)
	}

	switch val := v.(type) {
	case nil:
	case []any:
		for _, x := range val {
			add(x)
		}
	case []string:
		for _, x := range val {
			add(x)
		}
	case []int:
		for _, x := range val {
			add(x)
		}
	case []int64:
		for _, x := range val {
			add(x)
		}
	case []float64:
		for _, x := range val {
			add(x)
		}
	case string:
		for _, part := range strings.Split(val, ",") {
			add(part)
		}
	default:
		add(val)
	}
	if out == nil {
		out = []any{}
	}
	return out
}
