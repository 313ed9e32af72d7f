package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"entityflow/internal/store"
)

type sqliteInspector struct{}

func (sqliteInspector) inspect(ctx context.Context, q store.Querier, table string) (*TableSchema, error) {
	ts := &TableSchema{Name: table, ForeignKeys: map[string]ForeignKey{}}

	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errUnknownTable
	}
	if err != nil {
		return nil, fmt.Errorf("table lookup: %w", err)
	}

	comments, err := sqliteComments(ctx, q, table)
	if err != nil {
		return nil, err
	}
	ts.Comment = comments[""]

	// table was validated as an identifier by the caller; PRAGMA takes no parameters
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info: %w", err)
	}
	defer rows.Close()

	var pkCols []string
	for rows.Next() {
		var (
			cid, notNull, pk int
			colName, colType string
			def              sql.NullString
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &def, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col := ColumnDescriptor{
			Name:       colName,
			RawType:    colType,
			Type:       NormalizeType(colType),
			Nullable:   notNull == 0 && pk == 0,
			HasDefault: def.Valid,
			MaxLength:  lengthFromType(colType),
			Comment:    comments[colName],
		}
		if pk > 0 {
			pkCols = append(pkCols, colName)
		}
		ts.Columns = append(ts.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("table_info: %w", err)
	}
	rows.Close()

	if len(pkCols) > 0 {
		ts.PrimaryKey = pkCols[0]
		// INTEGER PRIMARY KEY aliases the rowid
		if c, ok := ts.Column(pkCols[0]); ok && len(pkCols) == 1 && strings.EqualFold(c.RawType, "integer") {
			c.AutoIncrement = true
		}
	}

	fkRows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("foreign_key_list: %w", err)
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var (
			id, seq                                  int
			refTable, from, onUpdate, onDelete, match string
			to                                       sql.NullString
		)
		if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		ts.ForeignKeys[from] = ForeignKey{Column: from, RefTable: refTable, RefColumn: to.String, OnDelete: onDelete}
	}
	if err := fkRows.Err(); err != nil {
		return nil, fmt.Errorf("foreign_key_list: %w", err)
	}
	return ts, nil
}

// sqliteComments reads the _meta_comments side table; a missing side table
// means no comments.
func sqliteComments(ctx context.Context, q store.Querier, table string) (map[string]string, error) {
	comments := map[string]string{}

	var exists int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = '_meta_comments'").Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("comment table lookup: %w", err)
	}
	if exists == 0 {
		return comments, nil
	}

	rows, err := q.QueryContext(ctx,
		"SELECT column_name, comment FROM _meta_comments WHERE table_name = ?", table)
	if err != nil {
		return nil, fmt.Errorf("comments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var column, comment string
		if err := rows.Scan(&column, &comment); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments[column] = comment
	}
	return comments, rows.Err()
}
