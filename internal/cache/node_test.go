package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/shadowvfs/pkg/vfstypes"
)

func TestMkDirRequiresNotExists(t *testing.T) {
	n := newNode(nil, "a", "/a", vfstypes.Nonexistent, vfstypes.FileMeta{})
	require.NoError(t, n.MkDir())
	assert.Equal(t, vfstypes.DirectoryNew, n.Type())
	assert.NotNil(t, n.children)
	assert.Error(t, n.MkDir())
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	n := newNode(nil, "f", "/f", vfstypes.Nonexistent, vfstypes.FileMeta{})
	require.NoError(t, n.WriteFile([]byte("hello")))
	data, err := n.ReadFile(nil, nil) // cache hit path never touches the backend
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestDeleteThenMkDirIsIdempotentAtOldNonexistent(t *testing.T) {
	n := newNode(nil, "a", "/a", vfstypes.Nonexistent, vfstypes.FileMeta{})
	require.NoError(t, n.MkDir())
	require.NoError(t, n.DeleteFile())
	assert.Equal(t, vfstypes.Nonexistent, n.Type())
	assert.Equal(t, vfstypes.Nonexistent, n.oldType)
}

func TestExactlyOnePayloadPopulated(t *testing.T) {
	n := newNode(nil, "a", "/a", vfstypes.Nonexistent, vfstypes.FileMeta{})
	require.NoError(t, n.WriteFile([]byte("x")))
	assert.NotNil(t, n.data)
	assert.Nil(t, n.children)
	assert.Empty(t, n.destination)

	require.NoError(t, n.DeleteFile())
	require.NoError(t, n.MkLnk("/target"))
	assert.Nil(t, n.data)
	assert.Nil(t, n.children)
	assert.Equal(t, "/target", n.destination)
}
