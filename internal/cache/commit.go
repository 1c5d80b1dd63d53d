package cache

import (
	"context"

	"github.com/objectfs/shadowvfs/internal/backend"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
)

// CommitStats summarises one commit's bulk request, for logging/metrics.
type CommitStats struct {
	Deletes         int
	FoldersCreated  int
	FilesWritten    int
	SymlinksCreated int
	MetaUpdates     int
	RedundantWrites int // files whose fingerprint matched their last commit's
	Skipped         bool
}

// BuildBulkRequest walks the shadow tree breadth-first from the root,
// building the five-list BulkRequest the backend contract expects.
// Because the walk is breadth-first and children are appended after their
// parent, FoldersToCreate comes out in top-down order for free, as the
// contract requires.
//
// redundantCheck, if non-nil, is called for every FILE_DIRTY node about to
// be written, reporting whether its fingerprint matches what the caller
// last recorded for that path, and recording the new fingerprint as the
// baseline for next time. A true result only counts toward
// commit_redundant_writes_total when oldType is FILE — rewriting a
// path with the same bytes it already had is redundant, creating one for
// the first time never is. It never changes which list a node lands in.
func (t *Tree) BuildBulkRequest(ctx context.Context, redundantCheck func(path string, fp uint64) bool) (backend.BulkRequest, CommitStats, error) {
	var req backend.BulkRequest
	var stats CommitStats

	if t.root == nil {
		return req, stats, nil
	}

	type queued struct {
		node *CachedNode
	}

	queue := []queued{{t.root}}

	for len(queue) > 0 {
		cur := queue[0].node
		queue = queue[1:]

		newType := cur.newType
		oldType := cur.oldType

		switch {
		case newType == vfstypes.Nonexistent && oldType != vfstypes.Nonexistent:
			req.ToDelete = append(req.ToDelete, cur.filePath)

		case newType == vfstypes.DirectoryNew && oldType == vfstypes.Nonexistent:
			req.FoldersToCreate = append(req.FoldersToCreate, cur.filePath)
			for _, c := range cur.children {
				queue = append(queue, queued{c})
			}

		case newType == vfstypes.DirectoryNew && oldType != vfstypes.Nonexistent:
			req.ToDelete = append(req.ToDelete, cur.filePath)
			req.FoldersToCreate = append(req.FoldersToCreate, cur.filePath)
			for _, c := range cur.children {
				queue = append(queue, queued{c})
			}

		case newType == vfstypes.FileDirty && (oldType == vfstypes.Nonexistent || oldType == vfstypes.File):
			data, err := cur.ReadFile(ctx, t.backend)
			if err != nil {
				return backend.BulkRequest{}, stats, err
			}
			if redundantCheck != nil {
				// Always fed, even on first-time creation, so the
				// caller has a baseline fingerprint for this path by
				// the time it's next rewritten. Only an overwrite of a
				// backend-known file (oldType FILE) can be "redundant";
				// creating a file can't be.
				fp := cur.Fingerprint(fingerprintHash)
				redundant := redundantCheck(cur.filePath, fp)
				if redundant && oldType == vfstypes.File {
					stats.RedundantWrites++
				}
			}
			req.FilesToWrite = append(req.FilesToWrite, backend.FileWrite{
				Path: cur.filePath,
				Data: data,
				Meta: cur.meta,
			})

		case newType == vfstypes.FileDirty:
			// oldType is neither NONEXISTENT nor FILE (a directory or
			// symlink is being replaced by a file).
			data, err := cur.ReadFile(ctx, t.backend)
			if err != nil {
				return backend.BulkRequest{}, stats, err
			}
			if redundantCheck != nil {
				redundantCheck(cur.filePath, cur.Fingerprint(fingerprintHash))
			}
			req.ToDelete = append(req.ToDelete, cur.filePath)
			req.FilesToWrite = append(req.FilesToWrite, backend.FileWrite{
				Path: cur.filePath,
				Data: data,
				Meta: cur.meta,
			})

		case newType == vfstypes.SymlinkDirty && oldType == vfstypes.Nonexistent:
			req.SymlinksToCreate = append(req.SymlinksToCreate, backend.SymlinkCreate{
				Path:        cur.filePath,
				Destination: cur.destination,
				Meta:        cur.meta,
			})

		case newType == vfstypes.SymlinkDirty:
			req.ToDelete = append(req.ToDelete, cur.filePath)
			req.SymlinksToCreate = append(req.SymlinksToCreate, backend.SymlinkCreate{
				Path:        cur.filePath,
				Destination: cur.destination,
				Meta:        cur.meta,
			})

		case newType == vfstypes.Directory:
			for _, c := range cur.children {
				queue = append(queue, queued{c})
			}
			if cur.metaDirty {
				req.MetaUpdates = append(req.MetaUpdates, backend.MetaUpdate{Path: cur.filePath, Meta: cur.meta})
			}

		case newType == vfstypes.File, newType == vfstypes.Symlink:
			if cur.metaDirty {
				req.MetaUpdates = append(req.MetaUpdates, backend.MetaUpdate{Path: cur.filePath, Meta: cur.meta})
			}
		}
	}

	stats.Deletes = len(req.ToDelete)
	stats.FoldersCreated = len(req.FoldersToCreate)
	stats.FilesWritten = len(req.FilesToWrite)
	stats.SymlinksCreated = len(req.SymlinksToCreate)
	stats.MetaUpdates = len(req.MetaUpdates)
	stats.Skipped = req.Empty()

	return req, stats, nil
}
