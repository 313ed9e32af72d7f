package validation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityflow/internal/metadata"
	"entityflow/internal/schema"
	"entityflow/internal/store"
	"entityflow/internal/store/storetest"
)

func buildTable(t *testing.T, ts *schema.TableSchema, tableMeta string) *metadata.Table {
	t.Helper()
	raw := map[string]any{}
	if tableMeta != "" {
		require.NoError(t, json.Unmarshal([]byte(tableMeta), &raw))
	}
	md, err := metadata.Parse(raw)
	require.NoError(t, err)

	tbl := &metadata.Table{Schema: ts, Meta: md, Columns: map[string]metadata.ColumnMeta{}}
	for _, col := range ts.Columns {
		cm, err := metadata.ParseColumn(col.Metadata)
		require.NoError(t, err)
		tbl.Columns[col.Name] = cm
	}
	return tbl
}

func contactsSchema() *schema.TableSchema {
	return &schema.TableSchema{
		Name:       "contacts",
		PrimaryKey: "id",
		Columns: []schema.ColumnDescriptor{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "name", Type: schema.TypeString, MaxLength: 10},
			{Name: "email", Type: schema.TypeString, Metadata: map[string]any{"type": "email"}},
			{Name: "website", Type: schema.TypeString, Nullable: true, Metadata: map[string]any{"validators": []any{"url"}}},
			{Name: "age", Type: schema.TypeInteger, Nullable: true, Metadata: map[string]any{"min": 18, "max": 120}},
			{Name: "score", Type: schema.TypeDecimal, Nullable: true},
			{Name: "born_on", Type: schema.TypeDate, Nullable: true},
			{Name: "tier", Type: schema.TypeEnum, EnumValues: []string{"free", "pro"}, HasDefault: true},
			{Name: "bio", Type: schema.TypeText, Nullable: true, Metadata: map[string]any{"minlength": 5}},
			{Name: "secret", Type: schema.TypeString, Metadata: map[string]any{"hidden": true}},
		},
	}
}

func TestStructuralCreate(t *testing.T) {
	p := NewPipeline(&store.SQLiteDialect{}, nil)
	tbl := buildTable(t, contactsSchema(), "")

	errs := p.Structural(Input{Table: tbl, Record: metadata.Record{
		"name":    "A name that is too long",
		"email":   "not-an-email",
		"website": "ftp://example.com",
		"age":     "12",
		"score":   "abc",
		"born_on": "yesterday",
		"tier":    "enterprise",
		"bio":     "hey",
	}})

	assert.Equal(t, []string{"Name may not be longer than 10 characters"}, errs["name"])
	assert.Equal(t, []string{"Email must be a valid email address"}, errs["email"])
	assert.Equal(t, []string{"Website must be a valid URL"}, errs["website"])
	assert.Equal(t, []string{"Age must be at least 18"}, errs["age"])
	assert.Equal(t, []string{"Score must be a number"}, errs["score"])
	assert.Equal(t, []string{"Born On must be a valid date"}, errs["born_on"])
	assert.Equal(t, []string{"Tier must be one of: free, pro"}, errs["tier"])
	assert.Equal(t, []string{"Bio must be at least 5 characters"}, errs["bio"])
	assert.NotContains(t, errs, "secret", "hidden columns are skipped")
	assert.NotContains(t, errs, "id")
}

func TestStructuralRequiredOnlyWhenRelevant(t *testing.T) {
	p := NewPipeline(&store.SQLiteDialect{}, nil)
	tbl := buildTable(t, contactsSchema(), "")

	errs := p.Structural(Input{Table: tbl, Record: metadata.Record{}})
	assert.Equal(t, []string{"Name is required"}, errs["name"])
	assert.Equal(t, []string{"Email is required"}, errs["email"])
	assert.NotContains(t, errs, "tier", "columns with defaults are optional")
	assert.NotContains(t, errs, "age")

	errs = p.Structural(Input{Table: tbl, ID: 1, Record: metadata.Record{"age": "40", "email": ""}})
	assert.NotContains(t, errs, "name", "absent fields are not checked on update")
	assert.Equal(t, []string{"Email is required"}, errs["email"])
	assert.NotContains(t, errs, "age")
}

func TestStructuralValidRecord(t *testing.T) {
	p := NewPipeline(&store.SQLiteDialect{}, nil)
	tbl := buildTable(t, contactsSchema(), "")

	errs := p.Structural(Input{Table: tbl, Record: metadata.Record{
		"name":    "Ada",
		"email":   "ada@example.com",
		"website": "https://ada.dev",
		"age":     float64(36),
		"score":   "9.5",
		"born_on": "1815-12-10",
		"tier":    "pro",
	}})
	assert.True(t, errs.Empty(), "%v", errs)
}

func TestVirtualFields(t *testing.T) {
	p := NewPipeline(&store.SQLiteDialect{}, nil)
	ts := &schema.TableSchema{Name: "users", PrimaryKey: "id", Columns: []schema.ColumnDescriptor{
		{Name: "id", Type: schema.TypeInteger},
		{Name: "password", Type: schema.TypeString},
	}}
	tbl := buildTable(t, ts, `{"virtual_fields": {"password_confirmation": {"required": true, "matches": "password", "minlength": 8}}}`)

	errs := p.Virtual(Input{Table: tbl, Record: metadata.Record{"password": "correct horse"}, Virtual: metadata.Record{}})
	assert.Equal(t, []string{"Password Confirmation is required"}, errs["password_confirmation"])

	errs = p.Virtual(Input{Table: tbl, Record: metadata.Record{"password": "correct horse"},
		Virtual: metadata.Record{"password_confirmation": "short"}})
	assert.Equal(t, []string{
		"Password Confirmation must be at least 8 characters",
		"Password Confirmation does not match Password",
	}, errs["password_confirmation"])

	errs = p.Virtual(Input{Table: tbl, Record: metadata.Record{"password": "correct horse"},
		Virtual: metadata.Record{"password_confirmation": "correct horse"}})
	assert.True(t, errs.Empty())
}

func TestRequiredIfAndConditional(t *testing.T) {
	p := NewPipeline(&store.SQLiteDialect{}, nil)
	ts := &schema.TableSchema{Name: "orders", PrimaryKey: "id", Columns: []schema.ColumnDescriptor{
		{Name: "id", Type: schema.TypeInteger},
		{Name: "needs_shipping", Type: schema.TypeBoolean},
		{Name: "country", Type: schema.TypeString, Nullable: true},
		{Name: "shipping_address", Type: schema.TypeString, Nullable: true},
		{Name: "quantity", Type: schema.TypeInteger},
		{Name: "discount", Type: schema.TypeInteger, Nullable: true},
	}}
	tbl := buildTable(t, ts, `{"validation_rules": {
		"required_if": {"shipping_address": {"needs_shipping": true, "country": "NL"}},
		"conditional": [
			{"field": "discount", "condition": "quantity > 10", "max": 50},
			{"field": "discount", "condition": "quantity <= 10", "max": 5, "message": "Small orders get at most 5% off"}
		]
	}}`)
	ctx := context.Background()

	errs, err := p.Rules(ctx, nil, Input{Table: tbl, ID: 1, Record: metadata.Record{
		"needs_shipping": "1", "country": "NL", "quantity": "20", "discount": "60",
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Shipping Address is required"}, errs["shipping_address"])
	assert.Equal(t, []string{"Discount may not be greater than 50"}, errs["discount"])

	errs, err = p.Rules(ctx, nil, Input{Table: tbl, ID: 1, Record: metadata.Record{
		"needs_shipping": "1", "country": "BE", "quantity": "3", "discount": "10",
	}})
	require.NoError(t, err)
	assert.NotContains(t, errs, "shipping_address", "all conditions must hold")
	assert.Equal(t, []string{"Small orders get at most 5% off"}, errs["discount"])

	errs, err = p.Rules(ctx, nil, Input{Table: tbl, ID: 1, Record: metadata.Record{"quantity": "30"}})
	require.NoError(t, err)
	assert.True(t, errs.Empty(), "empty discount is not bounded")
}

func TestConditionalSkipsOperandsOutsideGrammar(t *testing.T) {
	p := NewPipeline(&store.SQLiteDialect{}, nil)
	ts := &schema.TableSchema{Name: "offers", PrimaryKey: "id", Columns: []schema.ColumnDescriptor{
		{Name: "id", Type: schema.TypeInteger},
		{Name: "price", Type: schema.TypeDecimal},
		{Name: "discount", Type: schema.TypeInteger, Nullable: true},
	}}
	tbl := buildTable(t, ts, `{"validation_rules": {
		"conditional": [{"field": "discount", "condition": "price > 100", "max": 10}]
	}}`)
	ctx := context.Background()

	errs, err := p.Rules(ctx, nil, Input{Table: tbl, ID: 1, Record: metadata.Record{"price": "49.99", "discount": "5"}})
	require.NoError(t, err)
	assert.True(t, errs.Empty(), "a decimal operand does not block the save")

	errs, err = p.Rules(ctx, nil, Input{Table: tbl, ID: 1, Record: metadata.Record{"price": 149.5, "discount": 50}})
	require.NoError(t, err)
	assert.True(t, errs.Empty())

	errs, err = p.Rules(ctx, nil, Input{Table: tbl, ID: 1, Record: metadata.Record{"price": "150", "discount": "50"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Discount may not be greater than 10"}, errs["discount"])
}

func TestUniqueTogetherAndBusinessRules(t *testing.T) {
	s := storetest.NewSQLite(t, `CREATE TABLE products (
		id          INTEGER PRIMARY KEY,
		sku         TEXT NOT NULL,
		category    TEXT NOT NULL,
		user_id     TEXT,
		approved_at DATETIME,
		deleted_at  DATETIME
	)`)
	storetest.Comment(t, s, "products", "", `{
		"validation_rules": {"unique_together": [["sku", "category"]]},
		"business_rules": {"max_records_per_user": 2, "require_approval": true},
		"behaviors": {"soft_deletes": {"enabled": true}}
	}`)
	ctx := context.Background()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO products (sku, category, user_id) VALUES
		('SKU-001', 'electronics', 'u1'), ('SKU-002', 'electronics', 'u1')`)
	require.NoError(t, err)
	_, err = s.DB.ExecContext(ctx, `INSERT INTO products (sku, category, user_id, deleted_at) VALUES
		('SKU-003', 'garden', 'u2', '2026-01-01 00:00:00')`)
	require.NoError(t, err)

	md := metadata.NewStore(schema.NewIntrospector(s.DB, s.Dialect), 0, nil)
	tbl, err := md.Table(ctx, "products")
	require.NoError(t, err)
	p := NewPipeline(s.Dialect, nil)

	rec := metadata.Record{"sku": "SKU-001", "category": "electronics", "approved_at": "2026-01-01"}
	errs, err := p.Rules(ctx, s.DB, Input{Table: tbl, Record: rec, Actor: &metadata.Actor{ID: "u1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"The combination of Sku, Category already exists"}, errs["sku"])
	assert.Equal(t, []string{"You may not create more than 2 records"}, errs[GeneralField])
	assert.Nil(t, rec["approved_at"], "approval is reset on create")

	errs, err = p.Rules(ctx, s.DB, Input{Table: tbl,
		Record: metadata.Record{"sku": "SKU-001", "category": "furniture"}, Actor: &metadata.Actor{ID: "u2"}})
	require.NoError(t, err)
	assert.True(t, errs.Empty(), "%v", errs)

	errs, err = p.Rules(ctx, s.DB, Input{Table: tbl, ID: int64(1), Existing: metadata.Record{"sku": "SKU-001", "category": "electronics"},
		Record: metadata.Record{"category": "electronics"}})
	require.NoError(t, err)
	assert.NotContains(t, errs, "sku", "the current row is excluded on update")

	errs, err = p.Rules(ctx, s.DB, Input{Table: tbl, Record: metadata.Record{"sku": "SKU-003", "category": "garden"}})
	require.NoError(t, err)
	assert.NotContains(t, errs, "sku", "soft-deleted rows do not count")
}
