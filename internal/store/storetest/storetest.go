// Package storetest provides an in-memory SQLite store for tests.
package storetest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"entityflow/internal/store"
)

// NewSQLite opens a private in-memory database with the system tables
// bootstrapped and runs the given DDL statements against it.
func NewSQLite(t testing.TB, ddl ...string) *store.Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	_, err = db.ExecContext(ctx, "PRAGMA foreign_keys=ON")
	require.NoError(t, err)

	s := store.NewFromDB(db, &store.SQLiteDialect{})
	require.NoError(t, s.Bootstrap(ctx))

	for _, stmt := range ddl {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	return s
}

// Comment stores a table (column "") or column comment in the SQLite side table.
func Comment(t testing.TB, s *store.Store, table, column, comment string) {
	t.Helper()
	_, err := s.DB.ExecContext(context.Background(),
		"INSERT OR REPLACE INTO _meta_comments (table_name, column_name, comment) VALUES (?, ?, ?)",
		table, column, comment)
	require.NoError(t, err)
}
