package vfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/shadowvfs/internal/observe"
	"github.com/objectfs/shadowvfs/pkg/vfserr"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
)

func TestMkDirNonRecursiveRequiresExistingParent(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	err := v.MkDir(ctx, "/a/b", MkDirOptions{})
	require.Error(t, err)
	assert.True(t, vfserr.IsKind(err, vfserr.ENOENT))

	require.NoError(t, v.MkDir(ctx, "/a", MkDirOptions{}))
	require.NoError(t, v.MkDir(ctx, "/a/b", MkDirOptions{}))
}

func TestMkDirRecursiveCreatesAncestors(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.MkDir(ctx, "/a/b/c", MkDirOptions{Recursive: true}))

	entry, ok, err := v.LInfo(ctx, "/a/b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vfstypes.FileTypeDirectory, entry.FileType)
}

func TestMkDirRecursiveRejectsNonDirAncestor(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.WriteFileString(ctx, "/a", "data"))
	err := v.MkDir(ctx, "/a/b", MkDirOptions{Recursive: true})
	require.Error(t, err)
	assert.True(t, vfserr.IsKind(err, vfserr.ENOTDIR))
}

func TestWriteFileCreateThenOverwrite(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	var events []observe.Event
	v.Observe().Register(observe.ListenerFunc(func(n observe.Notification) error {
		events = append(events, n.Event)
		return nil
	}))

	require.NoError(t, v.WriteFileString(ctx, "/x", "one"))
	require.NoError(t, v.WriteFileString(ctx, "/x", "two"))

	data, err := v.ReadFile(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	require.Len(t, events, 2)
	assert.Equal(t, observe.FileCreated, events[0])
	assert.Equal(t, observe.FileContentsChanged, events[1])
}

func TestReadDirDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.MkDir(ctx, "/a", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/a/f", "data"))

	var events []observe.Event
	v.Observe().Register(observe.ListenerFunc(func(n observe.Notification) error {
		events = append(events, n.Event)
		return nil
	}))

	names, err := v.ReadDir(ctx, "/a", ReadDirOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, names)
	assert.Empty(t, events)
}

func TestRmNonEmptyDirRequiresRecursive(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.MkDir(ctx, "/a", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/a/f", "data"))

	err := v.Rm(ctx, "/a", RmOptions{Folder: true})
	require.Error(t, err)
	assert.True(t, vfserr.IsKind(err, vfserr.ENOTEMPTY))

	require.NoError(t, v.Rm(ctx, "/a", RmOptions{Folder: true, Recursive: true}))

	_, ok, err := v.LInfo(ctx, "/a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRmFileRejectsFolderFlag(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.WriteFileString(ctx, "/f", "data"))

	err := v.Rm(ctx, "/f", RmOptions{Folder: true})
	require.Error(t, err)
	assert.True(t, vfserr.IsKind(err, vfserr.ENOTDIR))

	err = v.Rm(ctx, "/f", RmOptions{})
	require.NoError(t, err)
}

func TestSymlinkFollowingInfoAndReadFile(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.WriteFileString(ctx, "/target", "payload"))
	require.NoError(t, v.MkLnk(ctx, "/link", "/target"))

	data, err := v.ReadFile(ctx, "/link")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	info, err := v.Info(ctx, "/link")
	require.NoError(t, err)
	assert.Equal(t, vfstypes.FileTypeFile, info.FileType)
	assert.Equal(t, "/target", info.FilePath)

	linfo, ok, err := v.LInfo(ctx, "/link")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vfstypes.FileTypeSymlink, linfo.FileType)

	dest, err := v.ReadLink(ctx, "/link")
	require.NoError(t, err)
	assert.Equal(t, "/target", dest)
}

func TestDuSumsFileSizesRecursively(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.MkDir(ctx, "/a", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/a/x", "12345"))
	require.NoError(t, v.MkDir(ctx, "/a/b", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/a/b/y", "123"))
	require.NoError(t, v.MkLnk(ctx, "/a/link", "/a/x"))

	size, err := v.Du(ctx, "/a")
	require.NoError(t, err)
	assert.EqualValues(t, 8, size)
}

func TestCopyRecursiveAndRejectsNestedTarget(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.MkDir(ctx, "/a", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/a/f", "data"))
	require.NoError(t, v.MkDir(ctx, "/a/sub", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/a/sub/g", "more"))

	require.NoError(t, v.Copy(ctx, "/a", "/b", CopyOptions{}))

	data, err := v.ReadFile(ctx, "/b/f")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	data, err = v.ReadFile(ctx, "/b/sub/g")
	require.NoError(t, err)
	assert.Equal(t, "more", string(data))

	// Original is untouched.
	_, ok, err := v.LInfo(ctx, "/a/f")
	require.NoError(t, err)
	assert.True(t, ok)

	err = v.Copy(ctx, "/a", "/a/sub/nested", CopyOptions{})
	require.Error(t, err)
	assert.True(t, vfserr.IsKind(err, vfserr.EInternal))

	err = v.Copy(ctx, "/a", "/a", CopyOptions{})
	require.Error(t, err)
	assert.True(t, vfserr.IsKind(err, vfserr.EInternal))
}

func TestMoveCopiesThenDeletesSource(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.MkDir(ctx, "/a", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/a/f", "data"))

	require.NoError(t, v.Move(ctx, "/a", "/b", MoveOptions{}))

	data, err := v.ReadFile(ctx, "/b/f")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	_, ok, err := v.LInfo(ctx, "/a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForEachVisitsEveryEntryAndAllowsReentrantCalls(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.MkDir(ctx, "/a", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/a/x", "1"))
	require.NoError(t, v.MkDir(ctx, "/a/b", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/a/b/y", "22"))

	var visited []string
	err := v.ForEach(ctx, "/a", func(entry vfstypes.FileEntry) (bool, error) {
		visited = append(visited, entry.FilePath)
		if entry.FileType == vfstypes.FileTypeFile {
			// Calling back into the VFS from within the callback must not
			// deadlock the single-worker scheduler.
			if _, err := v.ReadFile(ctx, entry.FilePath); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/a", "/a/x", "/a/b", "/a/b/y"}, visited)
}

func TestForEachStopsWhenCallbackReturnsFalse(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.MkDir(ctx, "/a", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/a/x", "1"))

	var visited []string
	err := v.ForEach(ctx, "/a", func(entry vfstypes.FileEntry) (bool, error) {
		visited = append(visited, entry.FilePath)
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a"}, visited)
}

func TestWipeRemovesEverything(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.MkDir(ctx, "/a", MkDirOptions{}))
	require.NoError(t, v.WriteFileString(ctx, "/b", "data"))

	require.NoError(t, v.Wipe(ctx))

	names, err := v.ReadDir(ctx, "/", ReadDirOptions{})
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCommitFlushesToBackendAndDropsShadowTree(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	require.NoError(t, v.WriteFileString(ctx, "/x", "data"))
	require.NoError(t, v.Commit(ctx))

	data, err := v.ReadFile(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestPossibleUnknownChangesNotFiredWhenMutexNeverStale(t *testing.T) {
	ctx := context.Background()
	v := NewInMemory()
	defer v.Close(ctx)

	var gotStale bool
	v.Observe().Register(observe.ListenerFunc(func(n observe.Notification) error {
		if n.Event == observe.PossibleUnknownChanges {
			gotStale = true
		}
		return nil
	}))

	require.NoError(t, v.WriteFileString(ctx, "/x", "data"))
	require.NoError(t, v.Commit(ctx))
	// The memory backend's mutex never reports stale, so no notification fires.
	assert.False(t, gotStale)
}
