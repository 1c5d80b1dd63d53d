package vfs

import (
	"context"

	"github.com/objectfs/shadowvfs/internal/cache"
	"github.com/objectfs/shadowvfs/internal/observe"
	"github.com/objectfs/shadowvfs/pkg/vfserr"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
	"github.com/objectfs/shadowvfs/pkg/vpath"
)

// MkDir creates a directory at path. With opts.Recursive false, path's
// parent must already exist and path must not; with it true, every missing
// ancestor is created.
func (v *VFS) MkDir(ctx context.Context, path string, opts MkDirOptions) error {
	path = vpath.Resolve(path)
	return v.submit(ctx, "MkDir", func(ctx context.Context, tree *cache.Tree) error {
		if opts.Recursive {
			return v.mkdirAll(ctx, tree, path)
		}

		node, err := tree.Resolve(ctx, path)
		if err != nil {
			return err
		}
		if err := node.MkDir(); err != nil {
			return err
		}
		v.notify(observe.FileCreated, path, vfstypes.FileTypeDirectory)
		return nil
	})
}

func (v *VFS) mkdirAll(ctx context.Context, tree *cache.Tree, path string) error {
	cur := "/"
	for _, name := range vpath.Split(path)[1:] {
		cur = vpath.Join(cur, name)

		node, err := tree.Resolve(ctx, cur)
		if err != nil {
			return err
		}
		if node.Exists() {
			if !node.Type().IsDir() {
				return vfserr.New(vfserr.ENOTDIR, cur)
			}
			continue
		}
		if err := node.MkDir(); err != nil {
			return err
		}
		v.notify(observe.FileCreated, cur, vfstypes.FileTypeDirectory)
	}
	return nil
}

// MkLnk creates a symlink at path pointing at destination, stored verbatim.
func (v *VFS) MkLnk(ctx context.Context, path, destination string) error {
	path = vpath.Resolve(path)
	return v.submit(ctx, "MkLnk", func(ctx context.Context, tree *cache.Tree) error {
		node, err := tree.Resolve(ctx, path)
		if err != nil {
			return err
		}
		if err := node.MkLnk(destination); err != nil {
			return err
		}
		v.notify(observe.FileCreated, path, vfstypes.FileTypeSymlink)
		return nil
	})
}

// WriteFile creates or overwrites the file at path with data.
func (v *VFS) WriteFile(ctx context.Context, path string, data []byte) error {
	path = vpath.Resolve(path)
	return v.submit(ctx, "WriteFile", func(ctx context.Context, tree *cache.Tree) error {
		node, err := tree.Resolve(ctx, path)
		if err != nil {
			return err
		}
		wasNew := !node.Exists()
		if err := node.WriteFile(data); err != nil {
			return err
		}
		if wasNew {
			v.notify(observe.FileCreated, path, vfstypes.FileTypeFile)
		} else {
			v.notify(observe.FileContentsChanged, path, vfstypes.FileTypeFile)
		}
		return nil
	})
}

// WriteFileString is WriteFile for a UTF-8 string.
func (v *VFS) WriteFileString(ctx context.Context, path, s string) error {
	return v.WriteFile(ctx, path, []byte(s))
}

// ReadFile returns the contents of the file at path, following symlinks.
func (v *VFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	path = vpath.Resolve(path)
	var data []byte
	err := v.submit(ctx, "ReadFile", func(ctx context.Context, tree *cache.Tree) error {
		node, err := tree.Resolve(ctx, path)
		if err != nil {
			return err
		}
		if node.Type().IsSymlink() {
			node, err = tree.ResolveSymlink(ctx, node)
			if err != nil {
				return err
			}
		}
		data, err = node.ReadFile(ctx, tree.Backend())
		return err
	})
	return data, err
}

// ReadLink returns the verbatim destination stored at path. It does not
// follow path itself; path must be a symlink or it fails ENOTLNK.
func (v *VFS) ReadLink(ctx context.Context, path string) (string, error) {
	path = vpath.Resolve(path)
	var dest string
	err := v.submit(ctx, "ReadLink", func(ctx context.Context, tree *cache.Tree) error {
		node, err := tree.Resolve(ctx, path)
		if err != nil {
			return err
		}
		if !node.Exists() {
			return vfserr.New(vfserr.ENOENT, path)
		}
		if !node.Type().IsSymlink() {
			return vfserr.New(vfserr.ENOTLNK, path)
		}
		dest = node.Destination()
		return nil
	})
	return dest, err
}

// ReadDir lists the entries directly under path, following symlinks. Order
// is unspecified. Names are bare unless opts.FullPaths is set.
func (v *VFS) ReadDir(ctx context.Context, path string, opts ReadDirOptions) ([]string, error) {
	path = vpath.Resolve(path)
	var out []string
	err := v.submit(ctx, "ReadDir", func(ctx context.Context, tree *cache.Tree) error {
		node, err := tree.Resolve(ctx, path)
		if err != nil {
			return err
		}
		if node.Type().IsSymlink() {
			node, err = tree.ResolveSymlink(ctx, node)
			if err != nil {
				return err
			}
		}
		if !node.Exists() {
			return vfserr.New(vfserr.ENOENT, path)
		}
		if !node.Type().IsDir() {
			return vfserr.New(vfserr.ENOTDIR, path)
		}

		children, err := node.RetrieveChildren(ctx, tree.Backend())
		if err != nil {
			return err
		}
		out = make([]string, 0, len(children))
		for _, c := range children {
			if !c.Exists() {
				continue
			}
			if opts.FullPaths {
				out = append(out, c.FilePath())
			} else {
				out = append(out, c.Filename())
			}
		}
		return nil
	})
	return out, err
}

// Rm removes the file, symlink, or directory at path. Removing a directory
// requires opts.Folder; removing a non-empty directory additionally
// requires opts.Recursive, or it fails ENOTEMPTY.
func (v *VFS) Rm(ctx context.Context, path string, opts RmOptions) error {
	path = vpath.Resolve(path)
	return v.submit(ctx, "Rm", func(ctx context.Context, tree *cache.Tree) error {
		node, err := tree.Resolve(ctx, path)
		if err != nil {
			return err
		}
		if !node.Exists() {
			return vfserr.New(vfserr.ENOENT, path)
		}

		isDir := node.Type().IsDir()
		if isDir && !opts.Folder {
			return vfserr.New(vfserr.EISDIR, path)
		}
		if !isDir && opts.Folder {
			return vfserr.New(vfserr.ENOTDIR, path)
		}

		if isDir && !opts.Recursive {
			children, err := node.RetrieveChildren(ctx, tree.Backend())
			if err != nil {
				return err
			}
			for _, c := range children {
				if c.Exists() {
					return vfserr.New(vfserr.ENOTEMPTY, path)
				}
			}
		}

		t := fileType(node.Type())
		if err := node.DeleteFile(); err != nil {
			return err
		}
		v.notify(observe.FileDeleted, path, t)
		return nil
	})
}

// LInfo returns the entry for path itself, without following a trailing
// symlink. ok is false if nothing exists at path.
func (v *VFS) LInfo(ctx context.Context, path string) (vfstypes.FileEntry, bool, error) {
	path = vpath.Resolve(path)
	var entry vfstypes.FileEntry
	var ok bool
	err := v.submit(ctx, "LInfo", func(ctx context.Context, tree *cache.Tree) error {
		node, err := tree.Resolve(ctx, path)
		if err != nil {
			return err
		}
		if !node.Exists() {
			return nil
		}
		ok = true
		entry = vfstypes.FileEntry{
			Filename:    node.Filename(),
			FilePath:    node.FilePath(),
			FileType:    fileType(node.Type()),
			Destination: node.Destination(),
			Meta:        node.Meta(),
		}
		return nil
	})
	return entry, ok, err
}

// Info returns the entry for path, following symlinks. The result's
// FileType is always FILE or DIRECTORY.
func (v *VFS) Info(ctx context.Context, path string) (vfstypes.BasicFileEntry, error) {
	path = vpath.Resolve(path)
	var entry vfstypes.BasicFileEntry
	err := v.submit(ctx, "Info", func(ctx context.Context, tree *cache.Tree) error {
		node, err := tree.Resolve(ctx, path)
		if err != nil {
			return err
		}
		if !node.Exists() {
			return vfserr.New(vfserr.ENOENT, path)
		}
		if node.Type().IsSymlink() {
			node, err = tree.ResolveSymlink(ctx, node)
			if err != nil {
				return err
			}
		}
		if !node.Exists() {
			return vfserr.New(vfserr.ENOENT, path)
		}
		entry = vfstypes.BasicFileEntry{
			Filename: node.Filename(),
			FilePath: node.FilePath(),
			FileType: fileType(node.Type()),
			Meta:     node.Meta(),
		}
		return nil
	})
	return entry, err
}
