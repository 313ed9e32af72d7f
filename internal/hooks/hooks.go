// Package hooks holds the ordered lifecycle callbacks of the orchestrator.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"entityflow/internal/metadata"
)

type Event string

const (
	BeforeValidate Event = "beforeValidate"
	AfterValidate  Event = "afterValidate"
	BeforeSave     Event = "beforeSave"
	AfterSave      Event = "afterSave"
	BeforeCreate   Event = "beforeCreate"
	AfterCreate    Event = "afterCreate"
	BeforeUpdate   Event = "beforeUpdate"
	AfterUpdate    Event = "afterUpdate"
	BeforeDelete   Event = "beforeDelete"
	AfterDelete    Event = "afterDelete"
)

// Events lists the lifecycle stages in firing order of a create.
var Events = []Event{
	BeforeValidate, AfterValidate, BeforeSave, BeforeCreate, AfterCreate,
	BeforeUpdate, AfterUpdate, AfterSave, BeforeDelete, AfterDelete,
}

// Payload is what a hook sees. ID is nil before an insert; delete hooks
// receive only the ID.
type Payload struct {
	Table  string
	Event  Event
	ID     any
	Record metadata.Record
	Actor  *metadata.Actor
}

// Func transforms or rejects a payload. Returning a nil record keeps the
// incoming one; returning an error aborts the operation.
type Func func(ctx context.Context, p Payload) (metadata.Record, error)

// AbortError wraps the error a hook returned.
type AbortError struct {
	Event Event
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s hook: %v", e.Event, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

type registration struct {
	table string
	fn    Func
}

// Registry keeps hook registrations per event in registration order.
type Registry struct {
	mu   sync.RWMutex
	regs map[Event][]registration
}

func NewRegistry() *Registry {
	return &Registry{regs: make(map[Event][]registration)}
}

// On registers fn for event on every table.
func (r *Registry) On(event Event, fn Func) {
	r.OnTable("", event, fn)
}

// OnTable registers fn for event on one table ("" means all tables).
func (r *Registry) OnTable(table string, event Event, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[event] = append(r.regs[event], registration{table: table, fn: fn})
}

// Count returns the number of hooks that would run for event on table.
func (r *Registry) Count(table string, event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, reg := range r.regs[event] {
		if reg.table == "" || reg.table == table {
			n++
		}
	}
	return n
}

// Run folds the hooks registered for p.Event over p.Record, FIFO. Each hook
// observes the previous hook's output. The first error stops the chain.
func (r *Registry) Run(ctx context.Context, p Payload) (metadata.Record, error) {
	if r == nil {
		return p.Record, nil
	}
	r.mu.RLock()
	regs := append([]registration(nil), r.regs[p.Event]...)
	r.mu.RUnlock()

	for _, reg := range regs {
		if reg.table != "" && reg.table != p.Table {
			continue
		}
		out, err := reg.fn(ctx, p)
		if err != nil {
			return nil, &AbortError{Event: p.Event, Err: err}
		}
		if out != nil {
			p.Record = out
		}
	}
	return p.Record, nil
}
