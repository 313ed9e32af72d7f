package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"entityflow/internal/audit"
	"entityflow/internal/hooks"
	"entityflow/internal/metadata"
	"entityflow/internal/store"
)

// Delete soft-deletes the row when the table is configured for it and
// removes it otherwise.
func (o *Orchestrator) Delete(ctx context.Context, req DeleteRequest) (*Result, error) {
	start := time.Now()
	res, err := o.delete(ctx, req, false)
	o.observe(req.Table, "delete", res, err, start)
	return res, err
}

// ForceDelete always removes the row, including its pivot rows.
func (o *Orchestrator) ForceDelete(ctx context.Context, req DeleteRequest) (*Result, error) {
	start := time.Now()
	res, err := o.delete(ctx, req, true)
	o.observe(req.Table, "force_delete", res, err, start)
	return res, err
}

func (o *Orchestrator) delete(ctx context.Context, req DeleteRequest, force bool) (*Result, error) {
	tbl, err := o.tables.Table(ctx, req.Table)
	if err != nil {
		return nil, err
	}
	if !o.csrfValid(req.CSRFToken, req.Actor) {
		return failure(CSRFFailed()), nil
	}

	softCol, soft := tbl.Meta.SoftDeleteColumn()
	soft = soft && !force && tbl.Schema.HasColumn(softCol)

	// a force delete may target a row that is already soft-deleted
	var row metadata.Record
	if force {
		var raw map[string]any
		raw, err = store.FindByID(ctx, o.store.DB, o.store.Dialect, tbl.Name(), tbl.PrimaryKey(), req.ID)
		row = raw
	} else {
		row, err = o.findLive(ctx, o.store.DB, tbl, req.ID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return failure(NotFound(tbl.Name(), req.ID)), nil
	}
	if err != nil {
		o.logger.Error("load row", zap.String("table", tbl.Name()), zap.Error(err))
		return failure(PersistenceFailed()), nil
	}
	if !o.perms.CanDelete(req.Actor, tbl, row) {
		return failure(PermissionDenied("delete", tbl.Name())), nil
	}

	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		o.logger.Error("begin transaction", zap.String("table", tbl.Name()), zap.Error(err))
		return failure(PersistenceFailed()), nil
	}
	defer tx.Rollback()

	if appErr := o.runDelete(ctx, tx, tbl, req, row, soft); appErr != nil {
		return failure(appErr), nil
	}
	if err := tx.Commit(); err != nil {
		o.logger.Error("commit", zap.String("table", tbl.Name()), zap.Error(err))
		return failure(PersistenceFailed()), nil
	}

	o.notify(ctx, tbl, audit.ActionDelete, row, req.ID)
	return success(req.ID), nil
}

func (o *Orchestrator) runDelete(ctx context.Context, tx *sql.Tx, tbl *metadata.Table, req DeleteRequest, row metadata.Record, soft bool) *AppError {
	if err := o.fireDelete(ctx, tbl, hooks.BeforeDelete, req); err != nil {
		return HookAborted(err)
	}

	if soft {
		col, _ := tbl.Meta.SoftDeleteColumn()
		if _, err := store.UpdateByID(ctx, tx, o.store.Dialect, tbl.Name(), tbl.PrimaryKey(), req.ID,
			map[string]any{col: o.now().UTC()}); err != nil {
			o.logger.Error("soft delete failed", zap.String("table", tbl.Name()), zap.Error(err))
			return persistenceError(err)
		}
	} else {
		if err := o.clearRelations(ctx, tx, tbl, req.ID); err != nil {
			o.logger.Error("clear relations", zap.String("table", tbl.Name()), zap.Error(err))
			return persistenceError(err)
		}
		if _, err := store.DeleteWhere(ctx, tx, o.store.Dialect, tbl.Name(), sq.Eq{tbl.PrimaryKey(): req.ID}); err != nil {
			o.logger.Error("delete failed", zap.String("table", tbl.Name()), zap.Error(err))
			return persistenceError(err)
		}
	}

	if o.auditing(tbl) {
		if err := o.audit.LogDelete(ctx, tx, tbl.Name(), req.ID, row, req.Actor); err != nil {
			o.logger.Error("audit delete", zap.String("table", tbl.Name()), zap.Error(err))
			return PersistenceFailed()
		}
	}

	if err := o.fireDelete(ctx, tbl, hooks.AfterDelete, req); err != nil {
		return HookAborted(err)
	}
	return nil
}

// fireDelete runs delete hooks. They receive the id only; their returned
// record is ignored.
func (o *Orchestrator) fireDelete(ctx context.Context, tbl *metadata.Table, event hooks.Event, req DeleteRequest) error {
	_, err := o.hooks.Run(ctx, hooks.Payload{
		Table: tbl.Name(),
		Event: event,
		ID:    req.ID,
		Actor: req.Actor,
	})
	return err
}
