package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry_Files(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	_, err := reg.GetFile(ctx, "x")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, reg.UpsertFile(ctx, &IndexedFile{FileID: "b", ChunkCount: 1}))
	require.NoError(t, reg.UpsertFile(ctx, &IndexedFile{FileID: "a", ChunkCount: 2}))

	files, err := reg.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a", files[0].FileID)

	// returned records are copies
	files[0].ChunkCount = 99
	f, err := reg.GetFile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, f.ChunkCount)

	require.NoError(t, reg.DeleteFile(ctx, "a"))
	assert.ErrorIs(t, reg.DeleteFile(ctx, "a"), ErrNotFound)
}

func TestMemoryRegistry_Metadata(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	_, err := reg.GetMetadata(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	now := time.Now()
	md := &IndexMetadata{LastRefreshTime: now, TotalFiles: 2}
	require.NoError(t, reg.SaveMetadata(ctx, md))
	md.TotalFiles = 10

	got, err := reg.GetMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalFiles)
	assert.True(t, got.LastRefreshTime.Equal(now))
}
