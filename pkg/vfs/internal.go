package vfs

import (
	"context"
	"time"

	"github.com/objectfs/shadowvfs/internal/observe"
	"github.com/objectfs/shadowvfs/internal/scheduler"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
)

// submit runs task on the scheduler's worker, timing it for internal/metrics
// and logging its outcome at DEBUG (success) or WARN (error) via
// internal/vfslog.
func (v *VFS) submit(ctx context.Context, op string, task scheduler.Task) error {
	start := time.Now()
	err := v.sched.Submit(ctx, task)
	elapsed := time.Since(start)

	if v.met != nil {
		v.met.RecordOperation(op, elapsed, err == nil)
	}
	if v.log != nil {
		fields := map[string]any{"op": op, "duration_ms": elapsed.Milliseconds()}
		if err != nil {
			fields["error"] = err.Error()
			v.log.Warn("vfs: operation failed", fields)
		} else {
			v.log.Debug("vfs: operation completed", fields)
		}
	}
	return err
}

// notify fires an observer notification synchronously, from within the
// causing operation, rather than deferring it to commit time.
func (v *VFS) notify(event observe.Event, path string, t vfstypes.FileType) {
	if v.obs == nil {
		return
	}
	_ = v.obs.Dispatch(observe.Notification{Event: event, Path: path, Type: t})
}

// fileType maps a shadow-tree node type to the backend-visible FileType
// notifications and listing records carry.
func fileType(t vfstypes.CachedNodeType) vfstypes.FileType {
	switch {
	case t.IsDir():
		return vfstypes.FileTypeDirectory
	case t.IsSymlink():
		return vfstypes.FileTypeSymlink
	default:
		return vfstypes.FileTypeFile
	}
}
