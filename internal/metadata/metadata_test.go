package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityflow/internal/schema"
)

func mustJSON(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestParseEmptyIsPermissive(t *testing.T) {
	md, err := Parse(map[string]any{})
	require.NoError(t, err)

	_, ok := md.Roles("create")
	assert.False(t, ok)
	_, ok = md.SoftDeleteColumn()
	assert.False(t, ok)
	_, _, ok = md.TimestampFields()
	assert.False(t, ok)
	_, ok = md.SlugConfig()
	assert.False(t, ok)
	assert.Equal(t, 25, md.ListView.PerPage)
	assert.Equal(t, "desc", md.ListView.SortDirection)
	assert.True(t, md.AuditEnabled(true))
	assert.False(t, md.AuditEnabled(false))
	assert.Empty(t, md.ManagedColumns())
}

func TestParseFullConfig(t *testing.T) {
	md, err := Parse(mustJSON(t, `{
		"permissions": {"create": ["editor", "admin"], "delete": "admin"},
		"row_level_security": {"enabled": true, "owner_field": "author_id", "capabilities": ["moderate"]},
		"behaviors": {
			"soft_deletes": {"enabled": true},
			"timestamps": {},
			"sluggable": {"source": "title", "target": "slug", "unique": true},
			"audit": {"enabled": false}
		},
		"list_view": {"columns": ["title", "slug"], "per_page": "50", "default_sort": "title", "sort_direction": "asc"},
		"validation_rules": {
			"unique_together": [["sku", "category"]],
			"required_if": {"shipping_address": {"needs_shipping": "1"}},
			"conditional": [{"field": "discount", "condition": "quantity > 10", "max": 50}]
		},
		"business_rules": {"max_records_per_user": 3, "require_approval": true},
		"notifications": {
			"email": {"enabled": true, "events": ["create"], "recipients": ["ops@example.com"]},
			"webhooks": [{"url": "https://hooks.example.com/x", "events": ["update"]}, {"url": "https://hooks.example.com/all"}]
		},
		"many_to_many": [{"field": "tags", "pivot_table": "post_tags", "local_key": "post_id", "foreign_key": "tag_id"}],
		"virtual_fields": {"password_confirmation": {"matches": "password", "required": true}}
	}`))
	require.NoError(t, err)

	roles, ok := md.Roles("create")
	assert.True(t, ok)
	assert.Equal(t, []string{"editor", "admin"}, roles)
	roles, _ = md.Roles("delete")
	assert.Equal(t, []string{"admin"}, roles, "single value widened to a list")

	col, ok := md.SoftDeleteColumn()
	assert.True(t, ok)
	assert.Equal(t, "deleted_at", col)

	created, updated, ok := md.TimestampFields()
	assert.True(t, ok)
	assert.Equal(t, "created_at", created)
	assert.Equal(t, "updated_at", updated)

	sl, ok := md.SlugConfig()
	require.True(t, ok)
	assert.Equal(t, "-", sl.Separator)
	assert.True(t, sl.Lowercased())
	assert.True(t, sl.Unique)

	assert.False(t, md.AuditEnabled(true))
	assert.Equal(t, 50, md.ListView.PerPage)
	assert.Equal(t, "author_id", md.OwnerField())

	field, ok := md.ApprovalField()
	assert.True(t, ok)
	assert.Equal(t, "approved_at", field)

	_, ok = md.EmailFor("create")
	assert.True(t, ok)
	_, ok = md.EmailFor("delete")
	assert.False(t, ok)

	hooks := md.WebhooksFor("update")
	require.Len(t, hooks, 2)
	assert.Equal(t, "POST", hooks[0].Method)
	assert.Len(t, md.WebhooksFor("create"), 1)

	rel, ok := md.Relation("tags")
	assert.True(t, ok)
	assert.Equal(t, "post_tags", rel.PivotTable)

	require.Len(t, md.ValidationRules.Conditional, 1)
	assert.Equal(t, 50.0, *md.ValidationRules.Conditional[0].Max)

	assert.ElementsMatch(t,
		[]string{"created_at", "updated_at", "slug", "deleted_at", "approved_at", "author_id"},
		md.ManagedColumns())
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"slug without source": `{"behaviors": {"sluggable": {"target": "slug"}}}`,
		"webhook url":         `{"notifications": {"webhooks": [{"url": "not a url"}]}}`,
		"bad identifier":      `{"validation_rules": {"unique_together": [["sku; drop"]]}}`,
		"wrong shape":         `{"behaviors": {"timestamps": "yes"}}`,
		"negative limit":      `{"business_rules": {"max_records_per_user": -1}}`,
		"unknown event":       `{"notifications": {"email": {"events": ["publish"]}}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(mustJSON(t, raw))
			assert.True(t, errors.Is(err, ErrInvalidMetadata), "got %v", err)
		})
	}
}

func TestParseColumn(t *testing.T) {
	cm, err := ParseColumn(mustJSON(t, `{"type": "email", "min": "3", "minlength": 2, "placeholder": "you@example.com"}`))
	require.NoError(t, err)

	assert.True(t, cm.HasValidator("email"))
	assert.False(t, cm.HasValidator("url"))
	assert.Equal(t, 3.0, *cm.Min)
	assert.Equal(t, 2, *cm.MinLength)
	assert.Equal(t, "you@example.com", cm.Extra["placeholder"])
	assert.Equal(t, "Contact Email", cm.LabelFor("contact_email"))

	_, err = ParseColumn(mustJSON(t, `{"validators": ["phone"]}`))
	assert.Error(t, err)
}

func TestActor(t *testing.T) {
	var nobody *Actor
	assert.False(t, nobody.HasRole("admin"))
	assert.True(t, nobody.Anonymous())
	assert.Equal(t, "", nobody.Identifier())

	a := &Actor{ID: "u1", Roles: []string{"admin"}, Capabilities: []string{"moderate"}}
	assert.True(t, a.IsAdmin())
	assert.True(t, a.Can("moderate"))
	assert.True(t, a.Can("admin"))
	assert.False(t, a.Can("publish"))

	shouting := &Actor{ID: "u2", Roles: []string{"Admin", "EDITOR"}}
	assert.True(t, shouting.IsAdmin(), "role names ignore case")
	assert.True(t, shouting.HasRole("editor"))
	assert.True(t, shouting.Can("Editor"))
}

func TestRecordHelpers(t *testing.T) {
	r := Record{"a": "x", "b": nil, "c": 12, "d": ""}
	assert.Equal(t, "x", r.String("a"))
	assert.Equal(t, "12", r.String("c"))
	assert.True(t, r.Blank("b"))
	assert.True(t, r.Blank("d"))
	assert.True(t, r.Blank("zz"))
	assert.False(t, r.Blank("c"))

	clone := r.Clone()
	clone["a"] = "y"
	assert.Equal(t, "x", r["a"])
}

type fakeSource struct {
	calls       int
	invalidated []string
	schema      *schema.TableSchema
}

func (f *fakeSource) GetSchema(_ context.Context, table string) (*schema.TableSchema, error) {
	f.calls++
	if f.schema == nil {
		return nil, &schema.SchemaError{Table: table, Reason: "unknown table"}
	}
	return f.schema, nil
}

func (f *fakeSource) Invalidate(_ context.Context, table string) error {
	f.invalidated = append(f.invalidated, table)
	return nil
}

func TestStoreCachesAndInvalidates(t *testing.T) {
	src := &fakeSource{schema: &schema.TableSchema{
		Name:       "posts",
		PrimaryKey: "id",
		Columns: []schema.ColumnDescriptor{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "title", Type: schema.TypeString, Metadata: map[string]any{"label": "Headline"}},
		},
		Metadata: map[string]any{"behaviors": map[string]any{"soft_deletes": map[string]any{"enabled": true}}},
	}}
	s := NewStore(src, 0, nil)
	ctx := context.Background()

	tbl, err := s.Table(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, "posts", tbl.Name())
	assert.Equal(t, "Headline", tbl.Label("title"))
	assert.Equal(t, "Id", tbl.Label("id"))

	_, err = s.Table(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	require.NoError(t, s.Invalidate(ctx, "posts"))
	assert.Equal(t, []string{"posts"}, src.invalidated)
	_, err = s.Table(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestStoreRejectsInvalidMetadata(t *testing.T) {
	src := &fakeSource{schema: &schema.TableSchema{
		Name:     "posts",
		Metadata: map[string]any{"behaviors": map[string]any{"sluggable": map[string]any{"target": "slug"}}},
	}}
	_, err := NewStore(src, 0, nil).Table(context.Background(), "posts")

	var se *schema.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "invalid metadata", se.Reason)
	assert.True(t, IsInvalid(err))
}
