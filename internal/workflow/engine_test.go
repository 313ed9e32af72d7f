package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityflow/internal/metadata"
	"entityflow/internal/store"
	"entityflow/internal/store/storetest"
)

const ordersDDL = `CREATE TABLE orders (
    id     INTEGER PRIMARY KEY,
    total  REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL
)`

func orderDefinition() *Definition {
	return &Definition{
		Table:  "orders",
		Field:  "status",
		States: []string{"pending", "processing", "shipped", "cancelled"},
		Transitions: map[string]Transition{
			"process": {From: "pending", To: "processing", Permissions: []string{"admin"}},
			"ship":    {From: "processing", To: "shipped", Guard: "record.total > 0"},
			"cancel":  {From: "pending", To: "cancelled"},
		},
		History: true,
	}
}

func setup(t *testing.T, def *Definition) (*Engine, *store.Store) {
	t.Helper()
	s := storetest.NewSQLite(t, ordersDDL,
		`INSERT INTO orders (id, total, status) VALUES (1, 10, 'pending')`,
		`INSERT INTO orders (id, total, status) VALUES (2, 0, 'processing')`,
		`INSERT INTO orders (id, total, status) VALUES (3, 5, 'archived')`)
	e, err := New(s, def)
	require.NoError(t, err)

	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return e, s
}

func TestTransitionRequiresRole(t *testing.T) {
	e, _ := setup(t, orderDefinition())
	ctx := context.Background()

	res, err := e.Transition(ctx, 1, "process", &metadata.Actor{ID: "7", Roles: []string{"guest"}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	state, err := e.CurrentState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "pending", state)

	res, err = e.Transition(ctx, 1, "process", &metadata.Actor{ID: "1", Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "pending", res.From)
	assert.Equal(t, "processing", res.To)

	state, err = e.CurrentState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "processing", state)
}

func TestCanTransitionOnlyFromDeclaredState(t *testing.T) {
	e, _ := setup(t, orderDefinition())
	admin := &metadata.Actor{ID: "1", Roles: []string{"admin"}}

	for _, state := range []string{"pending", "processing", "shipped", "cancelled", "archived"} {
		assert.Equal(t, state == "pending", e.CanTransition("process", state, admin), state)
	}
	assert.False(t, e.CanTransition("refund", "pending", admin))
	assert.True(t, e.CanTransition("cancel", "pending", nil), "no permissions declared")
}

func TestTransitionRolesIgnoreCase(t *testing.T) {
	e, _ := setup(t, orderDefinition())
	ctx := context.Background()

	assert.True(t, e.CanTransition("process", "pending", &metadata.Actor{ID: "1", Roles: []string{"Admin"}}))

	res, err := e.Transition(ctx, 1, "process", &metadata.Actor{ID: "1", Roles: []string{"ADMIN"}})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
}

func TestTransitionFromWrongStateLeavesRowUntouched(t *testing.T) {
	e, _ := setup(t, orderDefinition())
	ctx := context.Background()

	res, err := e.Transition(ctx, 2, "cancel", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "processing", res.From)

	state, err := e.CurrentState(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "processing", state)

	res, err = e.Transition(ctx, 3, "cancel", nil)
	require.NoError(t, err)
	assert.False(t, res.Success, "state outside the configured set blocks transitions")

	res, err = e.Transition(ctx, 99, "cancel", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

func TestAvailableTransitions(t *testing.T) {
	e, _ := setup(t, orderDefinition())
	assert.Equal(t, []string{"cancel", "process"}, e.AvailableTransitions("pending"))
	assert.Equal(t, []string{"ship"}, e.AvailableTransitions("processing"))
	assert.Empty(t, e.AvailableTransitions("shipped"))
}

func TestGuard(t *testing.T) {
	e, _ := setup(t, orderDefinition())
	ctx := context.Background()

	res, err := e.Transition(ctx, 2, "ship", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "guard")

	_, err = e.Transition(ctx, 1, "process", &metadata.Actor{ID: "1", Roles: []string{"admin"}})
	require.NoError(t, err)
	res, err = e.Transition(ctx, 1, "ship", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestHistory(t *testing.T) {
	e, _ := setup(t, orderDefinition())
	ctx := context.Background()
	admin := &metadata.Actor{ID: "42", Roles: []string{"admin"}}

	_, err := e.Transition(ctx, 1, "process", admin)
	require.NoError(t, err)
	_, err = e.Transition(ctx, 1, "ship", admin)
	require.NoError(t, err)
	_, err = e.Transition(ctx, 2, "cancel", admin)
	require.NoError(t, err)

	hist, err := e.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "process", hist[0].Transition)
	assert.Equal(t, "pending", hist[0].From)
	assert.Equal(t, "processing", hist[0].To)
	assert.Equal(t, "42", hist[0].ActorID)
	assert.Equal(t, "ship", hist[1].Transition)
	assert.Equal(t, "shipped", hist[1].To)
}

func TestHistoryDisabled(t *testing.T) {
	def := orderDefinition()
	def.History = false
	e, _ := setup(t, def)
	ctx := context.Background()

	res, err := e.Transition(ctx, 1, "cancel", nil)
	require.NoError(t, err)
	require.True(t, res.Success)

	hist, err := e.History(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestHooks(t *testing.T) {
	e, _ := setup(t, orderDefinition())
	ctx := context.Background()

	var calls []string
	e.OnBefore("cancel", func(_ context.Context, ev Event) error {
		calls = append(calls, "before:"+ev.From)
		return nil
	})
	e.OnAfter("cancel", func(_ context.Context, ev Event) error {
		calls = append(calls, "after:"+ev.Record.String("status"))
		return errors.New("mailer down")
	})

	res, err := e.Transition(ctx, 1, "cancel", nil)
	require.NoError(t, err)
	assert.True(t, res.Success, "after hook failures do not undo the transition")
	assert.Equal(t, []string{"after_cancel: mailer down"}, res.Warnings)
	assert.Equal(t, []string{"before:pending", "after:cancelled"}, calls)

	state, err := e.CurrentState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", state)
}

func TestBeforeHookCancels(t *testing.T) {
	e, _ := setup(t, orderDefinition())
	ctx := context.Background()

	e.OnBefore("cancel", func(context.Context, Event) error { return errors.New("locked") })

	res, err := e.Transition(ctx, 1, "cancel", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "locked")

	state, err := e.CurrentState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "pending", state)

	hist, err := e.History(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestDisabled(t *testing.T) {
	def := orderDefinition()
	def.Disabled = true
	e, _ := setup(t, def)

	var outcomes []string
	e.observe = func(_, _, outcome string) { outcomes = append(outcomes, outcome) }

	res, err := e.Transition(context.Background(), 1, "cancel", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrDisabled.Error())
	assert.Empty(t, e.AvailableTransitions("pending"))
	assert.Equal(t, []string{OutcomeRejected}, outcomes)
}

func TestNewRejectsBadGuard(t *testing.T) {
	def := orderDefinition()
	def.Transitions["ship"] = Transition{From: "processing", To: "shipped", Guard: "record.total >"}
	_, err := New(storetest.NewSQLite(t, ordersDDL), def)
	assert.Error(t, err)
}

func TestDefinitionValidate(t *testing.T) {
	def := orderDefinition()
	def.Transitions["bad"] = Transition{From: "draft", To: "pending"}
	assert.Error(t, def.Validate())

	def = orderDefinition()
	def.Table = "orders; drop"
	assert.Error(t, def.Validate())

	def = &Definition{Table: "orders", States: []string{"a"}}
	require.NoError(t, def.Validate())
	assert.Equal(t, "id", def.PrimaryKey)
	assert.Equal(t, "status", def.Field)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	yml := `table: orders
field: status
states: [pending, processing]
history: true
transitions:
  process:
    from: pending
    to: processing
    permissions: [admin]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.yaml"), []byte(yml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Contains(t, defs, "orders")
	def := defs["orders"]
	assert.True(t, def.History)
	assert.Equal(t, "id", def.PrimaryKey)
	assert.Equal(t, Transition{From: "pending", To: "processing", Permissions: []string{"admin"}}, def.Transitions["process"])

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.yml"), []byte(yml), 0o644))
	_, err = LoadDir(dir)
	assert.Error(t, err)
}
