package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalUploaderStoreOpenDelete(t *testing.T) {
	u := NewLocalUploader(t.TempDir(), 0)
	ctx := context.Background()

	path, err := u.Store(ctx, "posts", "cover", Upload{Filename: "../../etc/cover.png", Reader: strings.NewReader("png")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "posts/"))
	assert.True(t, strings.HasSuffix(path, "/cover.png"))

	rc, err := u.Open(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	require.NoError(t, u.Delete(ctx, path))
	_, err = u.Open(ctx, path)
	assert.Error(t, err)
}

func TestLocalUploaderMaxSize(t *testing.T) {
	u := NewLocalUploader(t.TempDir(), 4)
	_, err := u.Store(context.Background(), "posts", "cover", Upload{Filename: "a.txt", Reader: strings.NewReader("too long")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))

	_, err = u.Store(context.Background(), "posts", "cover", Upload{Filename: "", Reader: strings.NewReader("x")})
	assert.Error(t, err)
}
