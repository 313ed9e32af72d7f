package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"entityflow/internal/store"
)

type mysqlInspector struct{}

const myTableQuery = `
	SELECT COALESCE(table_comment, '')
	FROM information_schema.tables
	WHERE table_schema = DATABASE() AND table_name = ?`

const myColumnsQuery = `
	SELECT column_name, data_type, column_type, is_nullable, column_default,
	       character_maximum_length, column_key, extra, COALESCE(column_comment, '')
	FROM information_schema.columns
	WHERE table_schema = DATABASE() AND table_name = ?
	ORDER BY ordinal_position`

const myForeignKeysQuery = `
	SELECT kcu.column_name, kcu.referenced_table_name, kcu.referenced_column_name, rc.delete_rule
	FROM information_schema.key_column_usage kcu
	JOIN information_schema.referential_constraints rc
	  ON rc.constraint_name = kcu.constraint_name AND rc.constraint_schema = kcu.table_schema
	WHERE kcu.table_schema = DATABASE() AND kcu.table_name = ?
	  AND kcu.referenced_table_name IS NOT NULL`

func (mysqlInspector) inspect(ctx context.Context, q store.Querier, table string) (*TableSchema, error) {
	ts := &TableSchema{Name: table, ForeignKeys: map[string]ForeignKey{}}

	if err := q.QueryRowContext(ctx, myTableQuery, table).Scan(&ts.Comment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errUnknownTable
		}
		return nil, fmt.Errorf("table lookup: %w", err)
	}

	rows, err := q.QueryContext(ctx, myColumnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name, dataType, columnType, isNullable, columnKey, extra, comment string
			def                                                               sql.NullString
			maxLen                                                            sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &columnType, &isNullable, &def, &maxLen, &columnKey, &extra, &comment); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col := ColumnDescriptor{
			Name:          name,
			RawType:       columnType,
			Type:          NormalizeType(columnType),
			Nullable:      isNullable == "YES",
			HasDefault:    def.Valid,
			AutoIncrement: strings.Contains(extra, "auto_increment"),
			Comment:       comment,
		}
		if maxLen.Valid {
			col.MaxLength = int(maxLen.Int64)
		}
		if values := extractEnumValues(columnType); len(values) > 0 {
			col.Type = TypeEnum
			col.EnumValues = values
		}
		if columnKey == "PRI" && ts.PrimaryKey == "" {
			ts.PrimaryKey = name
		}
		ts.Columns = append(ts.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	rows.Close()

	fks, err := foreignKeys(ctx, q, myForeignKeysQuery, table)
	if err != nil {
		return nil, err
	}
	ts.ForeignKeys = fks
	return ts, nil
}
