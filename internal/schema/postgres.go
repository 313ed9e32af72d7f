package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"entityflow/internal/store"
)

type postgresInspector struct{}

const pgTableQuery = `
	SELECT COALESCE(obj_description(c.oid, 'pg_class'), '')
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE c.relname = $1 AND n.nspname = current_schema() AND c.relkind IN ('r', 'p')`

const pgColumnsQuery = `
	SELECT c.column_name, c.data_type, c.udt_name, c.is_nullable, c.column_default,
	       c.character_maximum_length, c.is_identity,
	       COALESCE(col_description(pc.oid, c.ordinal_position::int), '')
	FROM information_schema.columns c
	JOIN pg_class pc ON pc.relname = c.table_name
	JOIN pg_namespace pn ON pn.oid = pc.relnamespace AND pn.nspname = c.table_schema
	WHERE c.table_name = $1 AND c.table_schema = current_schema()
	ORDER BY c.ordinal_position`

const pgPrimaryKeyQuery = `
	SELECT kcu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
	  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
	WHERE tc.table_name = $1 AND tc.table_schema = current_schema()
	  AND tc.constraint_type = 'PRIMARY KEY'
	ORDER BY kcu.ordinal_position`

const pgForeignKeysQuery = `
	SELECT kcu.column_name, ccu.table_name, ccu.column_name, rc.delete_rule
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
	  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage ccu
	  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
	JOIN information_schema.referential_constraints rc
	  ON rc.constraint_name = tc.constraint_name AND rc.constraint_schema = tc.table_schema
	WHERE tc.table_name = $1 AND tc.table_schema = current_schema()
	  AND tc.constraint_type = 'FOREIGN KEY'`

const pgEnumQuery = `
	SELECT e.enumlabel
	FROM pg_type t
	JOIN pg_enum e ON t.oid = e.enumtypid
	WHERE t.typname = $1
	ORDER BY e.enumsortorder`

func (postgresInspector) inspect(ctx context.Context, q store.Querier, table string) (*TableSchema, error) {
	ts := &TableSchema{Name: table, ForeignKeys: map[string]ForeignKey{}}

	if err := q.QueryRowContext(ctx, pgTableQuery, table).Scan(&ts.Comment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errUnknownTable
		}
		return nil, fmt.Errorf("table lookup: %w", err)
	}

	rows, err := q.QueryContext(ctx, pgColumnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	defer rows.Close()

	var enumTypes []int
	for rows.Next() {
		var (
			name, dataType, udtName, isNullable, isIdentity, comment string
			def                                                      sql.NullString
			maxLen                                                   sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &udtName, &isNullable, &def, &maxLen, &isIdentity, &comment); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col := ColumnDescriptor{
			Name:          name,
			RawType:       dataType,
			Type:          NormalizeType(dataType),
			Nullable:      isNullable == "YES",
			HasDefault:    def.Valid,
			AutoIncrement: isIdentity == "YES" || strings.HasPrefix(def.String, "nextval("),
			Comment:       comment,
		}
		if maxLen.Valid {
			col.MaxLength = int(maxLen.Int64)
		}
		if dataType == "USER-DEFINED" {
			col.RawType = udtName
			enumTypes = append(enumTypes, len(ts.Columns))
		}
		ts.Columns = append(ts.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	rows.Close()

	for _, idx := range enumTypes {
		values, err := pgEnumValues(ctx, q, ts.Columns[idx].RawType)
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			ts.Columns[idx].Type = TypeEnum
			ts.Columns[idx].EnumValues = values
		}
	}

	pk, err := singleColumn(ctx, q, pgPrimaryKeyQuery, table)
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}
	ts.PrimaryKey = pk

	fks, err := foreignKeys(ctx, q, pgForeignKeysQuery, table)
	if err != nil {
		return nil, err
	}
	ts.ForeignKeys = fks
	return ts, nil
}

func pgEnumValues(ctx context.Context, q store.Querier, typeName string) ([]string, error) {
	rows, err := q.QueryContext(ctx, pgEnumQuery, typeName)
	if err != nil {
		return nil, fmt.Errorf("enum values: %w", err)
	}
	defer rows.Close()
	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan enum value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// singleColumn returns the first column of the first row, or "" when empty.
func singleColumn(ctx context.Context, q store.Querier, query string, args ...any) (string, error) {
	var v string
	err := q.QueryRowContext(ctx, query, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// foreignKeys scans (column, ref_table, ref_column, on_delete) rows.
func foreignKeys(ctx context.Context, q store.Querier, query string, args ...any) (map[string]ForeignKey, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	defer rows.Close()

	fks := map[string]ForeignKey{}
	for rows.Next() {
		var fk ForeignKey
		var onDelete sql.NullString
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn, &onDelete); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fk.OnDelete = onDelete.String
		fks[fk.Column] = fk
	}
	return fks, rows.Err()
}
