package store_test

import (
	"context"
	"errors"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityflow/internal/store"
	"entityflow/internal/store/storetest"
)

const itemsDDL = `CREATE TABLE items (
    id    INTEGER PRIMARY KEY AUTOINCREMENT,
    name  TEXT NOT NULL UNIQUE,
    price REAL
)`

func TestNewDialect(t *testing.T) {
	for _, name := range []string{"postgres", "mysql", "sqlite"} {
		d, err := store.NewDialect(name)
		require.NoError(t, err)
		assert.Equal(t, name, d.Name())
	}

	_, err := store.NewDialect("oracle")
	assert.ErrorIs(t, err, store.ErrUnsupportedDialect)
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, store.ValidIdentifier("products"))
	assert.True(t, store.ValidIdentifier("_audit_log"))
	assert.False(t, store.ValidIdentifier("1table"))
	assert.False(t, store.ValidIdentifier("users; DROP TABLE users"))
	assert.False(t, store.ValidIdentifier(""))
}

func TestIsSystemTable(t *testing.T) {
	for _, name := range []string{store.AuditLogTable, store.WorkflowHistoryTable, store.MetaCommentsTable, "_AUDIT_LOG"} {
		assert.True(t, store.IsSystemTable(name), name)
	}
	assert.False(t, store.IsSystemTable("audit_log"))
	assert.False(t, store.IsSystemTable("products"))
}

func TestCRUDHelpers(t *testing.T) {
	s := storetest.NewSQLite(t, itemsDDL)
	ctx := context.Background()
	d := s.Dialect

	id, err := store.Insert(ctx, s.DB, d, "items", "id", map[string]any{"name": "lamp", "price": 12.5})
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	row, err := store.FindByID(ctx, s.DB, d, "items", "id", id)
	require.NoError(t, err)
	assert.Equal(t, "lamp", row["name"])

	n, err := store.UpdateByID(ctx, s.DB, d, "items", "id", id, map[string]any{"price": 15.0})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	count, err := store.Count(ctx, s.DB, d.Builder().Select("COUNT(*)").From("items"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	exists, err := store.Exists(ctx, s.DB, d.Builder().Select("1").From("items").Where(sq.Eq{"name": "lamp"}))
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = store.Insert(ctx, s.DB, d, "items", "id", map[string]any{"name": "lamp"})
	assert.True(t, errors.Is(err, store.ErrUniqueViolation))

	deskID, err := store.Insert(ctx, s.DB, d, "items", "id", map[string]any{"name": "desk"})
	require.NoError(t, err)
	_, err = store.UpdateByID(ctx, s.DB, d, "items", "id", deskID, map[string]any{"name": "lamp"})
	assert.True(t, errors.Is(err, store.ErrUniqueViolation), "update errors go through the dialect mapping")

	n, err = store.Exec(ctx, s.DB, d, d.Builder().Update("items").Set("price", 1.0))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	_, err = store.DeleteWhere(ctx, s.DB, d, "items", sq.Eq{"id": deskID})
	require.NoError(t, err)

	n, err = store.DeleteWhere(ctx, s.DB, d, "items", sq.Eq{"id": id})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = store.FindByID(ctx, s.DB, d, "items", "id", id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
