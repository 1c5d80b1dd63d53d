package vfs

import (
	"context"
	"strings"

	"github.com/objectfs/shadowvfs/internal/cache"
	"github.com/objectfs/shadowvfs/internal/observe"
	"github.com/objectfs/shadowvfs/pkg/vfserr"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
	"github.com/objectfs/shadowvfs/pkg/vpath"
)

// Du returns the recursive sum of file sizes under path. It does not
// follow symlinks during traversal; a symlink entry contributes 0.
func (v *VFS) Du(ctx context.Context, path string) (int64, error) {
	path = vpath.Resolve(path)
	var total int64
	err := v.submit(ctx, "Du", func(ctx context.Context, tree *cache.Tree) error {
		node, err := tree.Resolve(ctx, path)
		if err != nil {
			return err
		}
		if !node.Exists() {
			return vfserr.New(vfserr.ENOENT, path)
		}
		sum, err := duWalk(ctx, tree, node)
		if err != nil {
			return err
		}
		total = sum
		return nil
	})
	return total, err
}

func duWalk(ctx context.Context, tree *cache.Tree, node *cache.CachedNode) (int64, error) {
	switch {
	case node.Type().IsSymlink():
		return 0, nil

	case node.Type().IsDir():
		children, err := node.RetrieveChildren(ctx, tree.Backend())
		if err != nil {
			return 0, err
		}
		var sum int64
		for _, c := range children {
			if !c.Exists() {
				continue
			}
			s, err := duWalk(ctx, tree, c)
			if err != nil {
				return 0, err
			}
			sum += s
		}
		return sum, nil

	default:
		data, err := node.ReadFile(ctx, tree.Backend())
		if err != nil {
			return 0, err
		}
		return int64(len(data)), nil
	}
}

// Move copies source to target and then deletes source. It rejects moving
// a path into one of its own descendants.
func (v *VFS) Move(ctx context.Context, source, target string, _ MoveOptions) error {
	source = vpath.Resolve(source)
	target = vpath.Resolve(target)
	return v.submit(ctx, "Move", func(ctx context.Context, tree *cache.Tree) error {
		if err := v.copyTree(ctx, tree, source, target); err != nil {
			return err
		}

		node, err := tree.Resolve(ctx, source)
		if err != nil {
			return err
		}
		t := fileType(node.Type())
		if err := node.DeleteFile(); err != nil {
			return err
		}
		v.notify(observe.FileDeleted, source, t)
		return nil
	})
}

// Copy recursively copies source to target. It rejects copying a path into
// one of its own descendants.
func (v *VFS) Copy(ctx context.Context, source, target string, _ CopyOptions) error {
	source = vpath.Resolve(source)
	target = vpath.Resolve(target)
	return v.submit(ctx, "Copy", func(ctx context.Context, tree *cache.Tree) error {
		return v.copyTree(ctx, tree, source, target)
	})
}

func (v *VFS) copyTree(ctx context.Context, tree *cache.Tree, source, target string) error {
	if isNestedUnder(target, source) {
		// The closed error-kind taxonomy has no
		// "invalid argument" kind; EInternal is the closest fit for a
		// request that can never be satisfied regardless of tree state.
		return vfserr.New(vfserr.EInternal, target)
	}

	src, err := tree.Resolve(ctx, source)
	if err != nil {
		return err
	}
	if !src.Exists() {
		return vfserr.New(vfserr.ENOENT, source)
	}

	return v.copyNode(ctx, tree, src, target)
}

func (v *VFS) copyNode(ctx context.Context, tree *cache.Tree, src *cache.CachedNode, targetPath string) error {
	dst, err := tree.Resolve(ctx, targetPath)
	if err != nil {
		return err
	}

	switch {
	case src.Type().IsDir():
		if dst.Exists() && dst.Type().IsDir() {
			// Merge into the existing directory rather than failing;
			// there is no atomic replace-directory primitive here, same
			// as MkLnk's no-atomic-replace-symlink rule.
		} else {
			if err := dst.MkDir(); err != nil {
				return err
			}
			v.notify(observe.FileCreated, targetPath, vfstypes.FileTypeDirectory)
		}

		children, err := src.RetrieveChildren(ctx, tree.Backend())
		if err != nil {
			return err
		}
		for _, c := range children {
			if !c.Exists() {
				continue
			}
			if err := v.copyNode(ctx, tree, c, vpath.Join(targetPath, c.Filename())); err != nil {
				return err
			}
		}
		return nil

	case src.Type().IsSymlink():
		wasNew := !dst.Exists()
		if err := dst.MkLnk(src.Destination()); err != nil {
			return err
		}
		if wasNew {
			v.notify(observe.FileCreated, targetPath, vfstypes.FileTypeSymlink)
		}
		return nil

	default:
		data, err := src.ReadFile(ctx, tree.Backend())
		if err != nil {
			return err
		}
		wasNew := !dst.Exists()
		if err := dst.WriteFile(data); err != nil {
			return err
		}
		if wasNew {
			v.notify(observe.FileCreated, targetPath, vfstypes.FileTypeFile)
		} else {
			v.notify(observe.FileContentsChanged, targetPath, vfstypes.FileTypeFile)
		}
		return nil
	}
}

func isNestedUnder(target, source string) bool {
	if target == source {
		return true
	}
	prefix := source
	if prefix != "/" {
		prefix += "/"
	}
	return strings.HasPrefix(target, prefix)
}

// Wipe removes every entry under the root.
func (v *VFS) Wipe(ctx context.Context) error {
	return v.submit(ctx, "Wipe", func(ctx context.Context, tree *cache.Tree) error {
		root, err := tree.Root(ctx)
		if err != nil {
			return err
		}
		children, err := root.RetrieveChildren(ctx, tree.Backend())
		if err != nil {
			return err
		}
		for _, c := range children {
			if !c.Exists() {
				continue
			}
			t := fileType(c.Type())
			path := c.FilePath()
			if err := c.DeleteFile(); err != nil {
				return err
			}
			v.notify(observe.FileDeleted, path, t)
		}
		return nil
	})
}

// ForEachFunc is invoked once per visited entry during ForEach. cont
// reports whether traversal should continue to the entry's siblings and,
// for a directory, its children.
type ForEachFunc func(entry vfstypes.FileEntry) (cont bool, err error)

// ForEach walks path breadth-first, calling callback for path itself and
// every descendant. It deliberately does not run as a single scheduler
// task — each LInfo/ReadDir step is its own independently submitted
// operation — so callback may itself call other VFS methods without
// deadlocking the single-worker scheduler.
func (v *VFS) ForEach(ctx context.Context, path string, callback ForEachFunc) error {
	path = vpath.Resolve(path)

	entry, ok, err := v.LInfo(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return vfserr.New(vfserr.ENOENT, path)
	}

	queue := []vfstypes.FileEntry{entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		cont, err := callback(cur)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		if cur.FileType != vfstypes.FileTypeDirectory {
			continue
		}

		children, err := v.ReadDir(ctx, cur.FilePath, ReadDirOptions{FullPaths: true})
		if err != nil {
			return err
		}
		for _, childPath := range children {
			childEntry, ok, err := v.LInfo(ctx, childPath)
			if err != nil {
				return err
			}
			if ok {
				queue = append(queue, childEntry)
			}
		}
	}
	return nil
}
