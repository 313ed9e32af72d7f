package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityflow/internal/metadata"
	"entityflow/internal/store/storetest"
)

func TestLogAndReadBack(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	l := NewSQLLogger(s.Dialect)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	actor := &metadata.Actor{ID: "u1", IP: "10.0.0.1"}

	require.NoError(t, l.LogCreate(ctx, s.DB, "posts", int64(7), metadata.Record{"title": "Hi"}, actor))
	require.NoError(t, l.LogUpdate(ctx, s.DB, "posts", int64(7),
		metadata.Record{"title": "Hi"}, metadata.Record{"title": "Hello"}, actor))
	require.NoError(t, l.LogDelete(ctx, s.DB, "posts", int64(7), metadata.Record{"title": "Hello"}, nil))
	require.NoError(t, l.LogCreate(ctx, s.DB, "posts", int64(8), metadata.Record{"title": "Other"}, actor))

	entries, err := l.Entries(ctx, s.DB, "posts", 7)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, ActionCreate, entries[0].Action)
	assert.Equal(t, "7", entries[0].RecordID)
	assert.Equal(t, "u1", entries[0].ActorID)
	assert.Equal(t, "10.0.0.1", entries[0].IPAddress)
	assert.Nil(t, entries[0].OldValues)
	assert.Equal(t, "Hi", entries[0].NewValues["title"])

	assert.Equal(t, ActionUpdate, entries[1].Action)
	assert.Equal(t, "Hi", entries[1].OldValues["title"])
	assert.Equal(t, "Hello", entries[1].NewValues["title"])

	assert.Equal(t, ActionDelete, entries[2].Action)
	assert.Equal(t, "", entries[2].ActorID)
	assert.NotEmpty(t, entries[2].ID)
}
