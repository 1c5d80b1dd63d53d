// Package fuse adapts pkg/vfs onto a FUSE mount, using hanwen/go-fuse's
// Inode-embedding node API over the shadow tree facade instead of a
// separate on-disk directory/file node split.
//
// Every node is resolved against the VFS by absolute path on each call
// rather than cached locally: the shadow tree is the source of truth and
// is cheap to re-resolve, so there is no separate inode cache to keep
// coherent with concurrent commits.
package fuse

import (
	"context"
	"log"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/shadowvfs/pkg/vfserr"
	"github.com/objectfs/shadowvfs/pkg/vfs"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
	"github.com/objectfs/shadowvfs/pkg/vpath"
)

// Config controls mount-time filesystem behavior.
type Config struct {
	ReadOnly   bool
	DefaultUID uint32
	DefaultGID uint32
	FileMode   uint32
	DirMode    uint32
}

// DefaultConfig returns sane single-user defaults.
func DefaultConfig() *Config {
	return &Config{
		FileMode: 0644,
		DirMode:  0755,
	}
}

// Stats tracks FUSE operation counts for observability.
type Stats struct {
	mu           sync.Mutex
	Lookups      int64
	Opens        int64
	Reads        int64
	Writes       int64
	BytesRead    int64
	BytesWritten int64
	Errors       int64
}

func (s *Stats) inc(field *int64, n int64) {
	s.mu.Lock()
	*field += n
	s.mu.Unlock()
}

// FileSystem is the FUSE-facing view of a *vfs.VFS.
type FileSystem struct {
	v      *vfs.VFS
	config *Config
	stats  *Stats
}

// NewFileSystem returns a FileSystem serving v.
func NewFileSystem(v *vfs.VFS, config *Config) *FileSystem {
	if config == nil {
		config = DefaultConfig()
	}
	return &FileSystem{v: v, config: config, stats: &Stats{}}
}

// Root returns the inode-embeddable root node.
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &Node{fs: f, path: "/"}
}

// GetStats returns a snapshot of operation counters.
func (f *FileSystem) GetStats() Stats {
	f.stats.mu.Lock()
	defer f.stats.mu.Unlock()
	return Stats{
		Lookups: f.stats.Lookups, Opens: f.stats.Opens,
		Reads: f.stats.Reads, Writes: f.stats.Writes,
		BytesRead: f.stats.BytesRead, BytesWritten: f.stats.BytesWritten,
		Errors: f.stats.Errors,
	}
}

// Node represents one entry — file, directory, or symlink — addressed by
// its absolute path in the shadow tree.
type Node struct {
	fs.Inode
	fs   *FileSystem
	path string
}

var (
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeReadlinker = (*Node)(nil)
	_ fs.NodeSymlinker = (*Node)(nil)
)

func errnoFor(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case vfserr.IsKind(err, vfserr.ENOENT):
		return syscall.ENOENT
	case vfserr.IsKind(err, vfserr.EEXIST):
		return syscall.EEXIST
	case vfserr.IsKind(err, vfserr.EISDIR):
		return syscall.EISDIR
	case vfserr.IsKind(err, vfserr.ENOTDIR):
		return syscall.ENOTDIR
	case vfserr.IsKind(err, vfserr.ENOTFILE):
		return syscall.EINVAL
	case vfserr.IsKind(err, vfserr.ENOTLNK):
		return syscall.EINVAL
	case vfserr.IsKind(err, vfserr.ENOTEMPTY):
		return syscall.ENOTEMPTY
	case vfserr.IsKind(err, vfserr.ELOOP):
		return syscall.ELOOP
	default:
		return syscall.EIO
	}
}

func (n *Node) attrFor(out *fuse.Attr, ft vfstypes.FileType, meta vfstypes.FileMeta, size uint64) {
	switch ft {
	case vfstypes.FileTypeDirectory:
		out.Mode = syscall.S_IFDIR | n.fs.config.DirMode
	case vfstypes.FileTypeSymlink:
		out.Mode = syscall.S_IFLNK | 0777
	default:
		out.Mode = syscall.S_IFREG | n.fs.config.FileMode
	}
	out.Uid = n.fs.config.DefaultUID
	out.Gid = n.fs.config.DefaultGID
	out.Size = size
	sec := uint64(meta.MTime / 1000)
	out.Mtime = sec
	out.Atime = sec
	out.Ctime = sec
}

// Lookup resolves name under n and returns a child inode.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fs.stats.inc(&n.fs.stats.Lookups, 1)

	childPath := vpath.Join(n.path, name)
	entry, ok, err := n.fs.v.LInfo(ctx, childPath)
	if err != nil {
		n.fs.stats.inc(&n.fs.stats.Errors, 1)
		return nil, errnoFor(err)
	}
	if !ok {
		return nil, syscall.ENOENT
	}

	var size uint64
	if entry.FileType == vfstypes.FileTypeFile {
		if data, err := n.fs.v.ReadFile(ctx, childPath); err == nil {
			size = uint64(len(data))
		}
	}
	n.attrFor(&out.Attr, entry.FileType, entry.Meta, size)

	mode := uint32(syscall.S_IFREG)
	if entry.FileType == vfstypes.FileTypeDirectory {
		mode = syscall.S_IFDIR
	} else if entry.FileType == vfstypes.FileTypeSymlink {
		mode = syscall.S_IFLNK
	}

	child := &Node{fs: n.fs, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode}), 0
}

// Readdir lists n's children.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := n.fs.v.ReadDir(ctx, n.path, vfs.ReadDirOptions{})
	if err != nil {
		n.fs.stats.inc(&n.fs.stats.Errors, 1)
		return nil, errnoFor(err)
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		childPath := vpath.Join(n.path, name)
		info, ok, err := n.fs.v.LInfo(ctx, childPath)
		if err != nil || !ok {
			continue
		}
		mode := uint32(fuse.S_IFREG)
		switch info.FileType {
		case vfstypes.FileTypeDirectory:
			mode = fuse.S_IFDIR
		case vfstypes.FileTypeSymlink:
			mode = fuse.S_IFLNK
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

// Mkdir creates a child directory.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, syscall.EROFS
	}
	childPath := vpath.Join(n.path, name)
	if err := n.fs.v.MkDir(ctx, childPath, vfs.MkDirOptions{}); err != nil {
		n.fs.stats.inc(&n.fs.stats.Errors, 1)
		return nil, errnoFor(err)
	}
	child := &Node{fs: n.fs, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR}), 0
}

// Rmdir removes a child directory; it must be empty.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	childPath := vpath.Join(n.path, name)
	if err := n.fs.v.Rm(ctx, childPath, vfs.RmOptions{Folder: true}); err != nil {
		return errnoFor(err)
	}
	return 0
}

// Unlink removes a child file or symlink.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	childPath := vpath.Join(n.path, name)
	if err := n.fs.v.Rm(ctx, childPath, vfs.RmOptions{}); err != nil {
		return errnoFor(err)
	}
	return 0
}

// Symlink creates a symlink child pointing at target.
func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, syscall.EROFS
	}
	childPath := vpath.Join(n.path, name)
	if err := n.fs.v.MkLnk(ctx, childPath, target); err != nil {
		return nil, errnoFor(err)
	}
	child := &Node{fs: n.fs, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFLNK}), 0
}

// Readlink returns the symlink's stored destination.
func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	dest, err := n.fs.v.ReadLink(ctx, n.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	return []byte(dest), 0
}

// Create creates and opens a new file.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	childPath := vpath.Join(n.path, name)
	if err := n.fs.v.WriteFile(ctx, childPath, nil); err != nil {
		n.fs.stats.inc(&n.fs.stats.Errors, 1)
		return nil, nil, 0, errnoFor(err)
	}

	child := &Node{fs: n.fs, path: childPath}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG})
	handle, _, errno := child.Open(ctx, flags)
	return inode, handle, 0, errno
}

// Open buffers the file's whole contents for this handle's lifetime,
// matching pkg/vfs's whole-file read/write contract — there is no partial
// write at an offset against the shadow tree, so writes accumulate in the
// handle and flush as one WriteFile call.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.fs.stats.inc(&n.fs.stats.Opens, 1)

	data, err := n.fs.v.ReadFile(ctx, n.path)
	if err != nil {
		return nil, 0, errnoFor(err)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &FileHandle{fs: n.fs, path: n.path, data: buf}, 0, 0
}

// Getattr reports the node's size and times.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := n.fs.v.Info(ctx, n.path)
	if err != nil {
		return errnoFor(err)
	}
	var size uint64
	if fh, ok := f.(*FileHandle); ok {
		size = uint64(len(fh.data))
	} else if info.FileType == vfstypes.FileTypeFile {
		if data, err := n.fs.v.ReadFile(ctx, n.path); err == nil {
			size = uint64(len(data))
		}
	}
	n.attrFor(&out.Attr, info.FileType, info.Meta, size)
	return 0
}

// FileHandle is an open file's in-memory working copy, flushed back to the
// VFS on Flush/Release.
type FileHandle struct {
	fs    *FileSystem
	path  string
	mu    sync.Mutex
	data  []byte
	dirty bool
}

var (
	_ fs.FileReader  = (*FileHandle)(nil)
	_ fs.FileWriter  = (*FileHandle)(nil)
	_ fs.FileFlusher = (*FileHandle)(nil)
	_ fs.FileReleaser = (*FileHandle)(nil)
)

// Read serves dest from the handle's buffered copy.
func (h *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()
	defer func() { h.fs.stats.inc(&h.fs.stats.BytesRead, 0) }()
	h.fs.stats.inc(&h.fs.stats.Reads, 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	_ = start
	return fuse.ReadResultData(h.data[off:end]), 0
}

// Write updates the handle's buffered copy at off, growing it if needed.
func (h *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if h.fs.config.ReadOnly {
		return 0, syscall.EROFS
	}
	h.fs.stats.inc(&h.fs.stats.Writes, 1)
	h.fs.stats.inc(&h.fs.stats.BytesWritten, int64(len(data)))

	h.mu.Lock()
	defer h.mu.Unlock()

	end := off + int64(len(data))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[off:end], data)
	h.dirty = true
	return uint32(len(data)), 0
}

// Flush writes the handle's buffered copy back through the VFS if dirty.
func (h *FileHandle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	dirty := h.dirty
	var snapshot []byte
	if dirty {
		snapshot = make([]byte, len(h.data))
		copy(snapshot, h.data)
	}
	h.mu.Unlock()

	if !dirty {
		return 0
	}
	if err := h.fs.v.WriteFile(ctx, h.path, snapshot); err != nil {
		h.fs.stats.inc(&h.fs.stats.Errors, 1)
		log.Printf("fuse: flush failed for %s: %v", h.path, err)
		return syscall.EIO
	}

	h.mu.Lock()
	h.dirty = false
	h.mu.Unlock()
	return 0
}

// Release flushes any pending writes before the handle is discarded.
func (h *FileHandle) Release(ctx context.Context) syscall.Errno {
	return h.Flush(ctx)
}
