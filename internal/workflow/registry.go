package workflow

import (
	"fmt"
	"sort"

	"entityflow/internal/store"
)

// Registry holds one Engine per table.
type Registry struct {
	engines map[string]*Engine
}

// NewRegistry builds an engine for every definition.
func NewRegistry(s *store.Store, defs map[string]*Definition, opts ...Option) (*Registry, error) {
	r := &Registry{engines: make(map[string]*Engine, len(defs))}
	for table, def := range defs {
		e, err := New(s, def, opts...)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", table, err)
		}
		r.engines[def.Table] = e
	}
	return r, nil
}

// Engine returns the workflow engine of table. A nil Registry has none.
func (r *Registry) Engine(table string) (*Engine, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.engines[table]
	return e, ok
}

// Tables lists the tables with a workflow, sorted.
func (r *Registry) Tables() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.engines))
	for t := range r.engines {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
