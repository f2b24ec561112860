package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T) *FilesystemBackend {
	t.Helper()
	b := NewFilesystemBackend(t.TempDir())
	require.NoError(t, b.Probe(context.Background()))
	return b
}

func TestFilesystemRoundTrip(t *testing.T) {
	b := newTestFilesystem(t)
	ctx := context.Background()

	payload := []byte("hello from disk")
	locator, err := b.Upload(ctx, payload, "a/b.txt", "text/plain")
	require.NoError(t, err)
	assert.Contains(t, locator, "file://")

	data, err := b.Download(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFilesystemOverwrite(t *testing.T) {
	b := newTestFilesystem(t)
	ctx := context.Background()

	_, err := b.Upload(ctx, []byte("old"), "k", "")
	require.NoError(t, err)
	_, err = b.Upload(ctx, []byte("new"), "k", "")
	require.NoError(t, err)

	data, err := b.Download(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestFilesystemDelete(t *testing.T) {
	b := newTestFilesystem(t)
	ctx := context.Background()

	_, err := b.Upload(ctx, []byte("x"), "k", "")
	require.NoError(t, err)

	deleted, err := b.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	// Deleting an absent key reports false without error.
	deleted, err = b.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = b.Download(ctx, "k")
	assert.Error(t, err)
}

func TestFilesystemListPrefixAndLimit(t *testing.T) {
	b := newTestFilesystem(t)
	ctx := context.Background()

	for _, key := range []string{"logs/1.txt", "logs/2.txt", "logs/3.txt", "img/a.png"} {
		_, err := b.Upload(ctx, []byte("x"), key, "")
		require.NoError(t, err)
	}

	entries, err := b.List(ctx, "logs/", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "logs/1.txt", entries[0].Key)
	assert.WithinDuration(t, time.Now(), entries[0].LastModified, time.Minute)

	limited, err := b.List(ctx, "logs/", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := b.List(ctx, "video/", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	b := newTestFilesystem(t)
	ctx := context.Background()

	_, err := b.Upload(ctx, []byte("x"), "../escape", "")
	// Cleaning forces the key under the root; either an error or a
	// safely rooted write is acceptable, escaping the root is not.
	if err == nil {
		data, derr := b.Download(ctx, "escape")
		require.NoError(t, derr)
		assert.Equal(t, []byte("x"), data)
	}
}
