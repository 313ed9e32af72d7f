package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"entityflow/internal/metadata"
	"entityflow/internal/store"
)

const historyTable = store.WorkflowHistoryTable

// Outcome labels reported to an Observer.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	ErrDisabled          = errors.New("workflow is disabled")
	ErrUnknownTransition = errors.New("unknown transition")
	ErrNotAllowed        = errors.New("transition not allowed")
	ErrGuardFailed       = errors.New("transition guard not satisfied")
	ErrInvalidState      = errors.New("entity is in an unknown state")
)

// Error is a recoverable workflow failure. It never touches CRUD writes.
type Error struct {
	Transition string
	State      string
	Err        error
}

func (e *Error) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s (transition %q, state %q)", e.Err, e.Transition, e.State)
	}
	return fmt.Sprintf("%s (transition %q)", e.Err, e.Transition)
}

func (e *Error) Unwrap() error { return e.Err }

// Event is passed to transition hooks.
type Event struct {
	Table      string
	Transition string
	ID         any
	From       string
	To         string
	Record     metadata.Record
	Actor      *metadata.Actor
}

// Hook runs before or after a named transition. A before hook error
// cancels the transition.
type Hook func(ctx context.Context, ev Event) error

// Result is the outcome of Transition.
type Result struct {
	Success  bool     `json:"success"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Record is one row of transition history.
type Record struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"`
	Transition string    `json:"transition"`
	From       string    `json:"from_state"`
	To         string    `json:"to_state"`
	ActorID    string    `json:"actor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Observer receives one call per attempted transition.
type Observer func(table, transition, outcome string)

// Engine runs the state machine of one table.
type Engine struct {
	store  *store.Store
	def    *Definition
	logger *zap.Logger
	now    func() time.Time

	observe Observer

	mu     sync.RWMutex
	before map[string][]Hook
	after  map[string][]Hook

	guards map[string]*vm.Program
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observe = o }
}

// New validates def and compiles its guards.
func New(s *store.Store, def *Definition, opts ...Option) (*Engine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:  s,
		def:    def,
		logger: zap.NewNop(),
		now:    time.Now,
		before: make(map[string][]Hook),
		after:  make(map[string][]Hook),
		guards: make(map[string]*vm.Program),
	}
	for _, opt := range opts {
		opt(e)
	}

	for name, tr := range def.Transitions {
		if tr.Guard == "" {
			continue
		}
		prog, err := expr.Compile(tr.Guard, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("workflow %q: transition %q: compile guard: %w", def.Table, name, err)
		}
		e.guards[name] = prog
	}
	return e, nil
}

func (e *Engine) Definition() *Definition { return e.def }

// OnBefore registers a hook that runs before the named transition.
func (e *Engine) OnBefore(transition string, h Hook) {
	e.mu.Lock()
	e.before[transition] = append(e.before[transition], h)
	e.mu.Unlock()
}

// OnAfter registers a hook that runs after the named transition committed.
func (e *Engine) OnAfter(transition string, h Hook) {
	e.mu.Lock()
	e.after[transition] = append(e.after[transition], h)
	e.mu.Unlock()
}

// CanTransition reports whether transition name may leave fromState for actor.
// Roles are only checked when the transition declares permissions.
func (e *Engine) CanTransition(name, fromState string, actor *metadata.Actor) bool {
	return e.check(name, fromState, actor) == nil
}

func (e *Engine) check(name, fromState string, actor *metadata.Actor) error {
	if e.def.Disabled {
		return &Error{Transition: name, Err: ErrDisabled}
	}
	tr, ok := e.def.Transitions[name]
	if !ok {
		return &Error{Transition: name, Err: ErrUnknownTransition}
	}
	if !slices.Contains(e.def.States, fromState) {
		return &Error{Transition: name, State: fromState, Err: ErrInvalidState}
	}
	if tr.From != fromState {
		return &Error{Transition: name, State: fromState, Err: ErrNotAllowed}
	}
	if len(tr.Permissions) > 0 && !hasAnyRole(actor, tr.Permissions) {
		return &Error{Transition: name, State: fromState, Err: ErrNotAllowed}
	}
	return nil
}

// AvailableTransitions lists, sorted, the transitions leaving fromState.
// Permissions are not considered.
func (e *Engine) AvailableTransitions(fromState string) []string {
	if e.def.Disabled {
		return nil
	}
	var names []string
	for _, name := range e.def.TransitionNames() {
		if e.def.Transitions[name].From == fromState {
			names = append(names, name)
		}
	}
	return names
}

// CurrentState reads the live status column of entity id.
func (e *Engine) CurrentState(ctx context.Context, id any) (string, error) {
	row, err := store.FindByID(ctx, e.store.DB, e.store.Dialect, e.def.Table, e.def.PrimaryKey, id)
	if err != nil {
		return "", err
	}
	return metadata.Record(row).String(e.def.Field), nil
}

// Transition moves entity id along the named transition. Workflow rule
// failures are reported on the Result; the error return is reserved for
// database failures.
//
// The state write and history row share one transaction. After hooks run
// once it has committed; their failures come back as warnings.
func (e *Engine) Transition(ctx context.Context, id any, name string, actor *metadata.Actor) (*Result, error) {
	res, err := e.transition(ctx, id, name, actor)
	switch {
	case err != nil:
		e.report(name, OutcomeError)
	case res.Success:
		e.report(name, OutcomeSuccess)
	default:
		e.report(name, OutcomeRejected)
	}
	return res, err
}

func (e *Engine) transition(ctx context.Context, id any, name string, actor *metadata.Actor) (*Result, error) {
	row, err := store.FindByID(ctx, e.store.DB, e.store.Dialect, e.def.Table, e.def.PrimaryKey, id)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{Error: fmt.Sprintf("%s %v not found", e.def.Table, id)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %v: %w", e.def.Table, id, err)
	}
	record := metadata.Record(row)
	from := record.String(e.def.Field)

	if err := e.check(name, from, actor); err != nil {
		return &Result{From: from, Error: err.Error()}, nil
	}
	tr := e.def.Transitions[name]

	if prog, ok := e.guards[name]; ok {
		out, err := expr.Run(prog, map[string]any{"record": map[string]any(record), "actor": actor})
		if err != nil {
			return &Result{From: from, Error: fmt.Sprintf("evaluate guard: %v", err)}, nil
		}
		if pass, _ := out.(bool); !pass {
			return &Result{From: from, Error: (&Error{Transition: name, State: from, Err: ErrGuardFailed}).Error()}, nil
		}
	}

	ev := Event{Table: e.def.Table, Transition: name, ID: id, From: from, To: tr.To, Record: record, Actor: actor}
	for _, h := range e.hooks(e.before, name) {
		if err := h(ctx, ev); err != nil {
			return &Result{From: from, Error: fmt.Sprintf("before_%s: %v", name, err)}, nil
		}
	}

	if err := e.write(ctx, id, name, from, tr.To, actor); err != nil {
		return nil, err
	}

	res := &Result{Success: true, From: from, To: tr.To}
	ev.Record = record.Clone()
	ev.Record[e.def.Field] = tr.To
	for _, h := range e.hooks(e.after, name) {
		if err := h(ctx, ev); err != nil {
			e.logger.Error("post-transition hook failed, state change kept",
				zap.String("table", e.def.Table),
				zap.String("transition", name),
				zap.Any("id", id),
				zap.Error(err))
			res.Warnings = append(res.Warnings, fmt.Sprintf("after_%s: %v", name, err))
		}
	}
	return res, nil
}

func (e *Engine) write(ctx context.Context, id any, name, from, to string, actor *metadata.Actor) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := store.UpdateByID(ctx, tx, e.store.Dialect, e.def.Table, e.def.PrimaryKey, id,
		map[string]any{e.def.Field: to}); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	if e.def.History {
		var actorID any
		if !actor.Anonymous() {
			actorID = actor.ID
		}
		query, args, err := e.store.Dialect.Builder().Insert(historyTable).SetMap(map[string]any{
			"id":         uuid.New().String(),
			"table_name": e.def.Table,
			"entity_id":  fmt.Sprintf("%v", id),
			"transition": name,
			"from_state": from,
			"to_state":   to,
			"actor_id":   actorID,
			"created_at": e.now().UTC(),
		}).ToSql()
		if err != nil {
			return fmt.Errorf("build history insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// History returns the recorded transitions of entity id, oldest first.
func (e *Engine) History(ctx context.Context, id any) ([]Record, error) {
	b := e.store.Dialect.Builder().
		Select("id", "entity_id", "transition", "from_state", "to_state", "actor_id", "created_at").
		From(historyTable).
		Where(sq.Eq{"table_name": e.def.Table, "entity_id": fmt.Sprintf("%v", id)}).
		OrderBy("created_at ASC")
	rows, err := store.Select(ctx, e.store.DB, b)
	if err != nil {
		return nil, fmt.Errorf("read workflow history: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		r := metadata.Record(row)
		rec := Record{
			ID:         r.String("id"),
			EntityID:   r.String("entity_id"),
			Transition: r.String("transition"),
			From:       r.String("from_state"),
			To:         r.String("to_state"),
			ActorID:    r.String("actor_id"),
		}
		if t, ok := row["created_at"].(time.Time); ok {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, nil
}

func (e *Engine) hooks(m map[string][]Hook, name string) []Hook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(m[name])
}

func (e *Engine) report(name, outcome string) {
	if e.observe != nil {
		e.observe(e.def.Table, name, outcome)
	}
}

func hasAnyRole(actor *metadata.Actor, roles []string) bool {
	for _, r := range roles {
		if actor.HasRole(r) {
			return true
		}
	}
	return false
}
