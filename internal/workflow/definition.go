// Package workflow implements permission-gated state machines bound to a
// status column.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"entityflow/internal/store"
)

// Definition describes the workflow of one table. It is immutable once
// handed to an Engine.
type Definition struct {
	Table       string                `yaml:"table" json:"table"`
	PrimaryKey  string                `yaml:"primary_key" json:"primary_key"`
	Field       string                `yaml:"field" json:"field"`
	States      []string              `yaml:"states" json:"states"`
	Transitions map[string]Transition `yaml:"transitions" json:"transitions"`
	History     bool                  `yaml:"history" json:"history"`
	Disabled    bool                  `yaml:"disabled" json:"disabled"`
}

// Transition is a named move from one state to another.
type Transition struct {
	From        string   `yaml:"from" json:"from"`
	To          string   `yaml:"to" json:"to"`
	Permissions []string `yaml:"permissions" json:"permissions"`
	// Guard is an expr-lang boolean expression over the current row.
	Guard string `yaml:"guard" json:"guard"`
}

// Validate checks the definition and fills defaults.
func (d *Definition) Validate() error {
	if d.PrimaryKey == "" {
		d.PrimaryKey = "id"
	}
	if d.Field == "" {
		d.Field = "status"
	}
	for _, ident := range []string{d.Table, d.PrimaryKey, d.Field} {
		if !store.ValidIdentifier(ident) {
			return fmt.Errorf("workflow %q: invalid identifier %q", d.Table, ident)
		}
	}
	if len(d.States) == 0 {
		return fmt.Errorf("workflow %q: no states", d.Table)
	}
	for name, tr := range d.Transitions {
		if !slices.Contains(d.States, tr.From) {
			return fmt.Errorf("workflow %q: transition %q: unknown from state %q", d.Table, name, tr.From)
		}
		if !slices.Contains(d.States, tr.To) {
			return fmt.Errorf("workflow %q: transition %q: unknown to state %q", d.Table, name, tr.To)
		}
	}
	return nil
}

// TransitionNames returns the transition names in sorted order.
func (d *Definition) TransitionNames() []string {
	names := make([]string, 0, len(d.Transitions))
	for name := range d.Transitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse decodes and validates a YAML workflow definition.
func Parse(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDir reads every *.yaml / *.yml file in dir, keyed by table.
func LoadDir(dir string) (map[string]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	defs := make(map[string]*Definition)
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if _, dup := defs[def.Table]; dup {
			return nil, fmt.Errorf("%s: duplicate workflow for table %q", e.Name(), def.Table)
		}
		defs[def.Table] = def
	}
	return defs, nil
}
