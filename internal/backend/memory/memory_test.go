package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/shadowvfs/internal/backend"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
)

func TestBulkOrdering(t *testing.T) {
	ctx := context.Background()
	b := New()

	req := backend.BulkRequest{
		FoldersToCreate: []string{"/a", "/a/b"},
		FilesToWrite: []backend.FileWrite{
			{Path: "/a/b/c", Data: []byte{0xDE, 0xAD}, Meta: vfstypes.Now()},
		},
	}
	require.NoError(t, b.Bulk(ctx, req))

	data, err := b.ReadFile(ctx, "/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, data)

	entries, err := b.ReadDir(ctx, "/a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Filename)
}

func TestBulkDeleteThenRecreate(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Bulk(ctx, backend.BulkRequest{
		FilesToWrite: []backend.FileWrite{{Path: "/x", Data: []byte{0x01}, Meta: vfstypes.Now()}},
	}))

	require.NoError(t, b.Bulk(ctx, backend.BulkRequest{
		ToDelete:        []string{"/x"},
		FoldersToCreate: []string{"/x"},
	}))

	entries, err := b.ReadDir(ctx, "/x")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLInfoMissing(t *testing.T) {
	b := New()
	_, ok, err := b.LInfo(context.Background(), "/nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMutexNeverStale(t *testing.T) {
	b := New()
	m := b.NewMutex()
	stale, err := m.Lock(context.Background())
	require.NoError(t, err)
	assert.False(t, stale)
	require.NoError(t, m.Unlock(context.Background()))
}
