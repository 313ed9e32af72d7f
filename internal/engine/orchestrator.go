// Package engine drives create, update and delete requests through hooks,
// validation, automatic behaviors, persistence and notifications.
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
	"entityflow/internal/notify"
	"entityflow/internal/permission"
	"entityflow/internal/storage"
	"entityflow/internal/store"
	"entityflow/internal/validation"
	"entityflow/internal/workflow"
)

// FileHandler stores an upload for a column and returns the stored path.
type FileHandler interface {
	Store(ctx context.Context, table, field string, up storage.Upload) (string, error)
	Delete(ctx context.Context, path string) error
}

// CSRFVerifier checks the token submitted with a write.
type CSRFVerifier interface {
	Verify(token string, actor *metadata.Actor) bool
}

// Observer receives one call per orchestrated operation.
type Observer interface {
	ObserveOperation(table, action, outcome string, elapsed time.Duration)
}

// TransitionMarker routes a request to the table's workflow engine.
type TransitionMarker struct {
	Name string
}

// Request is one create or update. A nil ID means create.
type Request struct {
	Table      string
	ID         any
	Data       map[string]any
	Files      map[string]storage.Upload
	Transition *TransitionMarker
	CSRFToken  string
	Actor      *metadata.Actor
}

func (r Request) action() string {
	switch {
	case r.Transition != nil:
		return "transition"
	case r.ID == nil:
		return "create"
	default:
		return "update"
	}
}

// DeleteRequest identifies the row to delete.
type DeleteRequest struct {
	Table     string
	ID        any
	CSRFToken string
	Actor     *metadata.Actor
}

type Orchestrator struct {
	store     *store.Store
	tables    *metadata.Store
	validator *validation.Pipeline
	hooks     *hooks.Registry
	perms     permission.Manager
	audit     audit.Logger
	notifier  notify.Manager
	uploads   FileHandler
	csrf      CSRFVerifier
	workflows *workflow.Registry
	observer  Observer
	logger    *zap.Logger

	auditDefault bool
	now          func() time.Time
}

type Option func(*Orchestrator)

func WithHooks(r *hooks.Registry) Option {
	return func(o *Orchestrator) { o.hooks = r }
}

func WithPermissions(m permission.Manager) Option {
	return func(o *Orchestrator) { o.perms = m }
}

// WithAudit sets the audit logger and whether tables without an explicit
// audit behavior are audited.
func WithAudit(l audit.Logger, enabledByDefault bool) Option {
	return func(o *Orchestrator) {
		o.audit = l
		o.auditDefault = enabledByDefault
	}
}

func WithNotifier(n notify.Manager) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithUploads(f FileHandler) Option {
	return func(o *Orchestrator) { o.uploads = f }
}

// WithCSRF enables token verification before writes.
func WithCSRF(v CSRFVerifier) Option {
	return func(o *Orchestrator) { o.csrf = v }
}

func WithWorkflows(r *workflow.Registry) Option {
	return func(o *Orchestrator) { o.workflows = r }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func New(s *store.Store, tables *metadata.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  s,
		tables: tables,
		hooks:  hooks.NewRegistry(),
		perms:  permission.Policy{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.validator == nil {
		o.validator = validation.NewPipeline(s.Dialect, o.logger)
	}
	return o
}

// Hooks exposes the hook registry for registration.
func (o *Orchestrator) Hooks() *hooks.Registry { return o.hooks }

// Save runs a create, an update or, when a transition marker is present,
// a workflow transition. Only schema errors are returned as errors; every
// other failure is reported on the Result.
func (o *Orchestrator) Save(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := o.save(ctx, req)
	o.observe(req.Table, req.action(), res, err, start)
	return res, err
}

func (o *Orchestrator) save(ctx context.Context, req Request) (*Result, error) {
	tbl, err := o.tables.Table(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	if req.Transition != nil {
		return o.transition(ctx, tbl, req)
	}
	if !o.csrfValid(req.CSRFToken, req.Actor) {
		return failure(CSRFFailed()), nil
	}

	w := &write{tbl: tbl, req: req, id: req.ID}
	if w.isCreate() {
		if !o.perms.CanCreate(req.Actor, tbl) {
			return failure(PermissionDenied("create", tbl.Name())), nil
		}
	} else {
		if appErr := o.loadExisting(ctx, w); appErr != nil {
			return failure(appErr), nil
		}
		if !o.perms.CanUpdate(req.Actor, tbl, w.existing) {
			return failure(PermissionDenied("update", tbl.Name())), nil
		}
	}

	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		o.logger.Error("begin transaction", zap.String("table", tbl.Name()), zap.Error(err))
		return failure(PersistenceFailed()), nil
	}
	defer tx.Rollback()

	if appErr := o.run(ctx, tx, w); appErr != nil {
		o.discardUploads(ctx, w)
		return failure(appErr), nil
	}
	if err := tx.Commit(); err != nil {
		o.discardUploads(ctx, w)
		o.logger.Error("commit", zap.String("table", tbl.Name()), zap.Error(err))
		return failure(PersistenceFailed()), nil
	}

	event := audit.ActionUpdate
	if w.isCreate() {
		event = audit.ActionCreate
	}
	o.notify(ctx, tbl, event, w.record.Clone(), w.id)
	return success(w.id), nil
}

// run executes every step that shares the write transaction.
func (o *Orchestrator) run(ctx context.Context, tx *sql.Tx, w *write) *AppError {
	tbl := w.tbl
	o.prepare(w)

	if appErr := o.storeUploads(ctx, w); appErr != nil {
		return appErr
	}

	if err := o.fire(ctx, w, hooks.BeforeValidate, true); err != nil {
		return HookAborted(err)
	}
	errs, err := o.validator.Validate(ctx, tx, validation.Input{
		Table:    tbl,
		Record:   w.columns,
		Virtual:  w.virtual,
		Existing: w.existing,
		ID:       w.id,
		Actor:    w.req.Actor,
	})
	if err != nil {
		o.logger.Error("validation query failed", zap.String("table", tbl.Name()), zap.Error(err))
		return PersistenceFailed()
	}
	if !errs.Empty() {
		return ValidationFailed(errs)
	}
	if err := o.fire(ctx, w, hooks.AfterValidate, true); err != nil {
		return HookAborted(err)
	}

	w.virtual = nil
	o.coerce(w)
	if err := o.applyBehaviors(ctx, tx, w); err != nil {
		o.logger.Error("automatic behaviors", zap.String("table", tbl.Name()), zap.Error(err))
		return PersistenceFailed()
	}

	if err := o.fire(ctx, w, hooks.BeforeSave, false); err != nil {
		return HookAborted(err)
	}
	if w.isCreate() {
		if appErr := o.create(ctx, tx, w); appErr != nil {
			return appErr
		}
	} else if appErr := o.update(ctx, tx, w); appErr != nil {
		return appErr
	}
	if err := o.fire(ctx, w, hooks.AfterSave, false); err != nil {
		return HookAborted(err)
	}

	if err := o.syncRelations(ctx, tx, tbl, w.id, w.relations); err != nil {
		o.logger.Error("many-to-many sync", zap.String("table", tbl.Name()), zap.Error(err))
		return persistenceError(err)
	}
	w.record = w.result()
	return nil
}

func (o *Orchestrator) create(ctx context.Context, tx *sql.Tx, w *write) *AppError {
	tbl := w.tbl
	if err := o.fire(ctx, w, hooks.BeforeCreate, false); err != nil {
		return HookAborted(err)
	}

	values := w.columns
	if w.key != nil {
		values = w.columns.Clone()
		values[tbl.PrimaryKey()] = w.key
	}
	id, err := store.Insert(ctx, tx, o.store.Dialect, tbl.Name(), tbl.PrimaryKey(), values)
	if err != nil {
		o.logger.Error("insert failed", zap.String("table", tbl.Name()), zap.Error(err))
		return persistenceError(err)
	}
	w.id = id

	if o.auditing(tbl) {
		if err := o.audit.LogCreate(ctx, tx, tbl.Name(), id, w.columns, w.req.Actor); err != nil {
			o.logger.Error("audit create", zap.String("table", tbl.Name()), zap.Error(err))
			return PersistenceFailed()
		}
	}

	if err := o.fire(ctx, w, hooks.AfterCreate, false); err != nil {
		return HookAborted(err)
	}
	return nil
}

func (o *Orchestrator) update(ctx context.Context, tx *sql.Tx, w *write) *AppError {
	tbl := w.tbl
	if err := o.fire(ctx, w, hooks.BeforeUpdate, false); err != nil {
		return HookAborted(err)
	}

	if len(w.columns) > 0 {
		n, err := store.UpdateByID(ctx, tx, o.store.Dialect, tbl.Name(), tbl.PrimaryKey(), w.id, w.columns)
		if err != nil {
			o.logger.Error("update failed", zap.String("table", tbl.Name()), zap.Error(err))
			return persistenceError(err)
		}
		if n == 0 && w.existing == nil {
			return NotFound(tbl.Name(), w.id)
		}
	} else if w.existing == nil {
		found, err := store.Exists(ctx, tx, o.store.Dialect.Builder().
			Select("1").From(tbl.Name()).Where(sq.Eq{tbl.PrimaryKey(): w.id}))
		if err != nil {
			o.logger.Error("load row", zap.String("table", tbl.Name()), zap.Error(err))
			return PersistenceFailed()
		}
		if !found {
			return NotFound(tbl.Name(), w.id)
		}
	}

	if o.auditing(tbl) {
		if err := o.audit.LogUpdate(ctx, tx, tbl.Name(), w.id, w.existing, w.columns, w.req.Actor); err != nil {
			o.logger.Error("audit update", zap.String("table", tbl.Name()), zap.Error(err))
			return PersistenceFailed()
		}
	}

	if err := o.fire(ctx, w, hooks.AfterUpdate, false); err != nil {
		return HookAborted(err)
	}
	return nil
}

// loadExisting snapshots the row being updated when something needs it.
// Without a snapshot, existence is established by the update itself.
func (o *Orchestrator) loadExisting(ctx context.Context, w *write) *AppError {
	tbl := w.tbl
	if !o.needsSnapshot(tbl) {
		return nil
	}
	row, err := o.findLive(ctx, o.store.DB, tbl, w.id)
	if errors.Is(err, store.ErrNotFound) {
		return NotFound(tbl.Name(), w.id)
	}
	if err != nil {
		o.logger.Error("load row", zap.String("table", tbl.Name()), zap.Error(err))
		return PersistenceFailed()
	}
	w.existing = row
	return nil
}

func (o *Orchestrator) needsSnapshot(tbl *metadata.Table) bool {
	md := tbl.Meta
	rules := md.ValidationRules
	_, sluggable := md.SlugConfig()
	_, softDeletes := md.SoftDeleteColumn()
	return o.auditing(tbl) ||
		md.RowLevelSecurity.Enabled ||
		softDeletes ||
		sluggable ||
		len(rules.UniqueTogether) > 0 ||
		len(rules.RequiredIf) > 0 ||
		len(rules.Conditional) > 0 ||
		len(md.VirtualFields) > 0
}

// findLive loads a row, treating soft-deleted rows as missing.
func (o *Orchestrator) findLive(ctx context.Context, q store.Querier, tbl *metadata.Table, id any) (metadata.Record, error) {
	row, err := store.FindByID(ctx, q, o.store.Dialect, tbl.Name(), tbl.PrimaryKey(), id)
	if err != nil {
		return nil, err
	}
	if col, ok := tbl.Meta.SoftDeleteColumn(); ok && row[col] != nil {
		return nil, store.ErrNotFound
	}
	return metadata.Record(row), nil
}

func (o *Orchestrator) auditing(tbl *metadata.Table) bool {
	return o.audit != nil && tbl.Meta.AuditEnabled(o.auditDefault)
}

func (o *Orchestrator) csrfValid(token string, actor *metadata.Actor) bool {
	return o.csrf == nil || o.csrf.Verify(token, actor)
}

// transition short-circuits the CRUD pipeline.
func (o *Orchestrator) transition(ctx context.Context, tbl *metadata.Table, req Request) (*Result, error) {
	eng, ok := o.workflows.Engine(tbl.Name())
	if !ok {
		return failure(WorkflowFailed("no workflow is configured for " + tbl.Name())), nil
	}
	if req.ID == nil {
		return failure(WorkflowFailed("a transition needs an entity id")), nil
	}

	res, err := eng.Transition(ctx, req.ID, req.Transition.Name, req.Actor)
	if err != nil {
		o.logger.Error("workflow transition", zap.String("table", tbl.Name()),
			zap.String("transition", req.Transition.Name), zap.Error(err))
		return failure(PersistenceFailed()), nil
	}
	if !res.Success {
		out := failure(WorkflowFailed(res.Error))
		out.ID = req.ID
		out.From = res.From
		return out, nil
	}
	return &Result{Success: true, ID: req.ID, From: res.From, To: res.To, Warnings: res.Warnings}, nil
}

// notify dispatches after commit. Failures are logged only.
func (o *Orchestrator) notify(ctx context.Context, tbl *metadata.Table, event string, data metadata.Record, id any) {
	if o.notifier == nil {
		return
	}
	md := tbl.Meta
	if cfg, ok := md.EmailFor(event); ok {
		if err := o.notifier.SendEmailNotifications(ctx, tbl.Name(), cfg, event, data, id); err != nil {
			o.logger.Warn("email notification failed",
				zap.String("table", tbl.Name()), zap.String("event", event), zap.Error(err))
		}
	}
	if webhooks := md.WebhooksFor(event); len(webhooks) > 0 {
		if err := o.notifier.TriggerWebhooks(ctx, tbl.Name(), webhooks, event, data, id); err != nil {
			o.logger.Warn("webhook dispatch failed",
				zap.String("table", tbl.Name()), zap.String("event", event), zap.Error(err))
		}
	}
}

func (o *Orchestrator) observe(table, action string, res *Result, err error, start time.Time) {
	if o.observer == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case !res.Success:
		outcome = "failure"
	}
	o.observer.ObserveOperation(table, action, outcome, time.Since(start))
}

func persistenceError(err error) *AppError {
	if errors.Is(err, store.ErrUniqueViolation) {
		return Conflict("A record with this value already exists")
	}
	return PersistenceFailed()
}
