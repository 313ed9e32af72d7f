package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityflow/internal/metadata"
	"entityflow/internal/schema"
)

func table(t *testing.T, raw map[string]any) *metadata.Table {
	t.Helper()
	md, err := metadata.Parse(raw)
	require.NoError(t, err)
	return &metadata.Table{Schema: &schema.TableSchema{Name: "posts", PrimaryKey: "id"}, Meta: md}
}

func TestMissingConfigurationIsPermissiveByDefault(t *testing.T) {
	tbl := table(t, nil)
	guest := &metadata.Actor{ID: "g", Roles: []string{"guest"}}

	assert.True(t, Policy{}.CanCreate(guest, tbl))
	assert.True(t, Policy{}.CanDelete(guest, tbl, metadata.Record{"id": 1}))
	assert.False(t, Policy{FailClosed: true}.CanCreate(guest, tbl))
	assert.True(t, Policy{FailClosed: true}.CanCreate(&metadata.Actor{Roles: []string{"admin"}}, tbl))
	assert.True(t, Policy{FailClosed: true}.CanCreate(&metadata.Actor{Roles: []string{"Admin"}}, tbl))
}

func TestRoleChecks(t *testing.T) {
	tbl := table(t, map[string]any{"permissions": map[string]any{
		"create": []any{"Editor"},
		"read":   []any{"*"},
		"delete": []any{"admin"},
	}})
	editor := &metadata.Actor{ID: "e", Roles: []string{"editor"}}

	assert.True(t, Policy{}.CanCreate(editor, tbl))
	assert.False(t, Policy{}.CanCreate(&metadata.Actor{Roles: []string{"guest"}}, tbl))
	assert.False(t, Policy{}.CanCreate(nil, tbl))
	assert.True(t, Policy{}.CanRead(nil, tbl, metadata.Record{}))
	assert.False(t, Policy{}.CanDelete(editor, tbl, metadata.Record{}))
	assert.True(t, Policy{}.CanUpdate(editor, tbl, metadata.Record{}), "unconfigured action")
}

func TestRowLevelSecurity(t *testing.T) {
	tbl := table(t, map[string]any{"row_level_security": map[string]any{
		"enabled": true, "owner_field": "author_id", "capabilities": []any{"moderate"},
	}})
	row := metadata.Record{"id": 1, "author_id": "u1"}

	assert.True(t, Policy{}.CanUpdate(&metadata.Actor{ID: "u1"}, tbl, row))
	assert.False(t, Policy{}.CanUpdate(&metadata.Actor{ID: "u2"}, tbl, row))
	assert.True(t, Policy{}.CanUpdate(&metadata.Actor{ID: "u2", Capabilities: []string{"moderate"}}, tbl, row))
	assert.False(t, Policy{}.CanDelete(nil, tbl, row))
	assert.True(t, Policy{}.CanCreate(&metadata.Actor{ID: "u2"}, tbl))

	col, val, ok := ReadFilter(&metadata.Actor{ID: "u2"}, tbl.Meta)
	assert.True(t, ok)
	assert.Equal(t, "author_id", col)
	assert.Equal(t, "u2", val)

	_, _, ok = ReadFilter(&metadata.Actor{ID: "a", Roles: []string{"admin"}}, tbl.Meta)
	assert.False(t, ok)
}
