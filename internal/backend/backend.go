// Package backend defines the contract the commit engine drives: reads
// (ReadFile, ReadDir, LInfo), the single bulk mutation entry point, and a
// mutex factory for cross-instance contention. It deliberately says nothing
// about how or where data is stored — internal/backend/memory and
// internal/backend/s3 are the two reference implementations shipped here,
// an in-process map+mutex store and an S3-backed object store,
// respectively.
//
// The interface is trimmed to exactly the operations the commit engine and
// shadow tree need: whole-file reads, directory listing, lstat-style
// single-entry lookup, and one ordered bulk-apply call.
package backend

import (
	"context"

	"github.com/objectfs/shadowvfs/pkg/vfstypes"
)

// Backend is the persistence contract the commit engine drives.
type Backend interface {
	// ReadFile returns the current contents of the file at path.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// ReadDir returns the entries directly under path.
	ReadDir(ctx context.Context, path string) ([]vfstypes.FileEntry, error)

	// LInfo returns the entry for path itself, without following a
	// trailing symlink. ok is false if nothing exists at path.
	LInfo(ctx context.Context, path string) (entry vfstypes.FileEntry, ok bool, err error)

	// Bulk applies a single ordered batch of mutations. Implementations
	// must honour the four-phase ordering documented on BulkRequest.
	Bulk(ctx context.Context, req BulkRequest) error

	// NewMutex returns a fresh handle onto this backend's mutual
	// exclusion primitive. Repeated calls may return handles that
	// contend with each other; a single cache instance calls this once
	// and reuses the handle for the life of the cache.
	NewMutex() Mutex
}

// BulkRequest is the commit engine's single mutation entry point. The
// caller (the commit engine) guarantees the four-phase ordering below; a
// Backend implementation may rely on it and need not re-derive dependency
// order itself.
//
//  1. ToDelete is processed first. Deletions are recursive: deleting a
//     directory deletes its subtree. No descendant of a deleted path
//     appears elsewhere in any of the other four lists.
//  2. FoldersToCreate is processed in top-down order: every parent
//     directory appears before any of its children.
//  3. FilesToWrite and SymlinksToCreate require their parent directory to
//     already exist (pre-existing, or just created in phase 2). Existing
//     files are overwritten; creating a symlink where one already exists
//     is an error.
//  4. MetaUpdates is applied last.
//
// Meta values passed in FilesToWrite, SymlinksToCreate, FoldersToCreate and
// MetaUpdates are consumed by the backend and must not be mutated by the
// caller after the Bulk call returns.
type BulkRequest struct {
	ToDelete         []string
	FoldersToCreate  []string
	FilesToWrite     []FileWrite
	SymlinksToCreate []SymlinkCreate
	MetaUpdates      []MetaUpdate
}

// Empty reports whether every list in the request is empty — the skip
// condition the commit engine consults.
func (r BulkRequest) Empty() bool {
	return len(r.ToDelete) == 0 &&
		len(r.FoldersToCreate) == 0 &&
		len(r.FilesToWrite) == 0 &&
		len(r.SymlinksToCreate) == 0 &&
		len(r.MetaUpdates) == 0
}

// FileWrite is one file creation or overwrite.
type FileWrite struct {
	Path string
	Data []byte
	Meta vfstypes.FileMeta
}

// SymlinkCreate is one symlink creation. Destination is stored verbatim,
// not resolved.
type SymlinkCreate struct {
	Path        string
	Destination string
	Meta        vfstypes.FileMeta
}

// MetaUpdate is a metadata-only update to an existing path.
type MetaUpdate struct {
	Path string
	Meta vfstypes.FileMeta
}

// Mutex is the backend mutual exclusion primitive contract: a
// process-local (or, for networked backends, a conditional-write-backed)
// lock the scheduler holds for the span between commits.
type Mutex interface {
	// Lock acquires the mutex, blocking until it is available. Stale is
	// true if the backend detects that another holder mutated state
	// since this handle last released the lock — the scheduler surfaces
	// that as an OnPossibleUnknownChanges notification.
	Lock(ctx context.Context) (stale bool, err error)

	// Unlock releases the mutex.
	Unlock(ctx context.Context) error
}
