// Package cache implements the cached shadow tree: CachedNode, the single
// complex entity the tree is built from, and Tree, the root-anchored
// structure that resolves logical paths to nodes, applies per-operation
// mutations, and drives the commit walk.
//
// Nodes populate lazily from the backend. A directory's children are an
// unordered slice scanned linearly by filename; there is no per-node
// lock here because the scheduler's single worker goroutine is the only
// thing that ever mutates or walks the tree.
package cache

import (
	"context"

	"github.com/objectfs/shadowvfs/internal/backend"
	"github.com/objectfs/shadowvfs/pkg/vfserr"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
	"github.com/objectfs/shadowvfs/pkg/vpath"
)

// CachedNode is one node of the shadow tree: at most one of
// data/children/destination is populated, determined by newType, and a
// child's FilePath always equals Join(parent.FilePath, child.Filename).
type CachedNode struct {
	filename string
	filePath string
	parent   *CachedNode

	oldType vfstypes.CachedNodeType // immutable after construction
	newType vfstypes.CachedNodeType

	data        []byte
	children    []*CachedNode // nil means "not yet loaded"; non-nil (possibly empty) means loaded
	destination string

	meta      vfstypes.FileMeta
	metaDirty bool

	fingerprint    uint64 // lazily computed dedup fingerprint of data
	fingerprintSet bool
}

// newNode constructs a CachedNode from a backend FileEntry or a
// freshly-manufactured placeholder. parent may be nil only for the root.
func newNode(parent *CachedNode, filename, filePath string, oldType vfstypes.CachedNodeType, meta vfstypes.FileMeta) *CachedNode {
	return &CachedNode{
		filename: filename,
		filePath: filePath,
		parent:   parent,
		oldType:  oldType,
		newType:  oldType,
		meta:     meta,
	}
}

// Filename returns the node's bare name ("" for the root).
func (n *CachedNode) Filename() string { return n.filename }

// FilePath returns the node's absolute path.
func (n *CachedNode) FilePath() string { return n.filePath }

// Type returns the node's current (possibly dirty/new) type.
func (n *CachedNode) Type() vfstypes.CachedNodeType { return n.newType }

// Exists reports whether the node currently represents something, i.e.
// newType != NONEXISTENT.
func (n *CachedNode) Exists() bool { return n.newType.Exists() }

// Destination returns the symlink destination as stored (not resolved). It
// is only meaningful when Type().IsSymlink().
func (n *CachedNode) Destination() string { return n.destination }

// Meta returns a defensive copy of the node's metadata.
func (n *CachedNode) Meta() vfstypes.FileMeta { return n.meta }

func (n *CachedNode) touch() {
	n.meta = vfstypes.Now()
	n.metaDirty = true
}

// MkDir requires !Exists(); it creates a new, empty directory node.
func (n *CachedNode) MkDir() error {
	if n.Exists() {
		return vfserr.New(vfserr.EEXIST, n.filePath)
	}
	n.newType = vfstypes.DirectoryNew
	n.data = nil
	n.destination = ""
	n.children = []*CachedNode{}
	n.touch()
	if n.parent != nil {
		n.parent.touch()
	}
	return nil
}

// MkLnk requires !Exists(); it creates a new dirty symlink node recording
// destination verbatim (not resolved).
func (n *CachedNode) MkLnk(destination string) error {
	if n.Exists() {
		return vfserr.New(vfserr.EEXIST, n.filePath)
	}
	n.newType = vfstypes.SymlinkDirty
	n.destination = destination
	n.data = nil
	n.children = nil
	n.touch()
	if n.parent != nil {
		n.parent.touch()
	}
	return nil
}

// WriteFile requires !Exists() || IsFile(); it (re)writes the node's
// cached bytes and marks it FILE_DIRTY.
func (n *CachedNode) WriteFile(data []byte) error {
	if n.Exists() && !n.newType.IsFile() {
		if n.newType.IsDir() {
			return vfserr.New(vfserr.EISDIR, n.filePath)
		}
		return vfserr.New(vfserr.ENOTFILE, n.filePath)
	}

	wasNew := !n.Exists()

	out := make([]byte, len(data))
	copy(out, data)
	n.data = out
	n.fingerprintSet = false
	n.newType = vfstypes.FileDirty
	n.children = nil
	n.destination = ""

	n.touch()
	if wasNew && n.parent != nil {
		n.parent.touch()
	}
	return nil
}

// DeleteFile requires Exists(); it marks the node NONEXISTENT and clears
// any cached payload.
func (n *CachedNode) DeleteFile() error {
	if !n.Exists() {
		return vfserr.New(vfserr.ENOENT, n.filePath)
	}
	n.newType = vfstypes.Nonexistent
	n.data = nil
	n.children = nil
	n.destination = ""
	n.fingerprintSet = false
	if n.parent != nil {
		n.parent.touch()
	}
	n.touch()
	return nil
}

// ReadFile requires Exists() && IsFile(); it returns the node's cached
// bytes, fetching them from the backend on a cache miss.
func (n *CachedNode) ReadFile(ctx context.Context, be backend.Backend) ([]byte, error) {
	if !n.Exists() {
		return nil, vfserr.New(vfserr.ENOENT, n.filePath)
	}
	if !n.newType.IsFile() {
		return nil, vfserr.New(vfserr.ENOTFILE, n.filePath)
	}

	if n.data == nil {
		data, err := be.ReadFile(ctx, n.filePath)
		if err != nil {
			return nil, err
		}
		n.data = data
	}

	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out, nil
}

// Fingerprint lazily computes and caches an xxhash fingerprint of the
// node's bytes, used only for the commit_redundant_writes_total
// metric — it never changes commit semantics.
func (n *CachedNode) Fingerprint(hash func([]byte) uint64) uint64 {
	if !n.fingerprintSet {
		n.fingerprint = hash(n.data)
		n.fingerprintSet = true
	}
	return n.fingerprint
}

// RetrieveChildren requires Exists() && IsDir(); on first call it issues
// backend.ReadDir and wraps each entry as a CachedNode. Subsequent calls
// return the cached list. May only be called once per node for the life of
// the cache (children != nil thereafter).
func (n *CachedNode) RetrieveChildren(ctx context.Context, be backend.Backend) ([]*CachedNode, error) {
	if !n.Exists() {
		return nil, vfserr.New(vfserr.ENOENT, n.filePath)
	}
	if !n.newType.IsDir() {
		return nil, vfserr.New(vfserr.ENOTDIR, n.filePath)
	}

	if n.children != nil {
		return n.children, nil
	}

	if n.newType == vfstypes.DirectoryNew {
		// Newly created, never flushed: it has no backend counterpart yet.
		n.children = []*CachedNode{}
		return n.children, nil
	}

	entries, err := be.ReadDir(ctx, n.filePath)
	if err != nil {
		return nil, err
	}

	children := make([]*CachedNode, 0, len(entries))
	for _, e := range entries {
		childType := vfstypes.FromFileType(e.FileType)
		child := newNode(n, e.Filename, vpath.Join(n.filePath, e.Filename), childType, e.Meta)
		child.destination = e.Destination
		children = append(children, child)
	}
	n.children = children
	return n.children, nil
}

// RetrieveChild resolves into RetrieveChildren; if no child named `name`
// exists, it manufactures a NONEXISTENT placeholder, appends it, and
// returns it. The placeholder participates normally in later mutations
// (e.g. a subsequent MkDir/WriteFile/MkLnk call on it).
func (n *CachedNode) RetrieveChild(ctx context.Context, be backend.Backend, name string) (*CachedNode, error) {
	children, err := n.RetrieveChildren(ctx, be)
	if err != nil {
		return nil, err
	}

	for _, c := range children {
		if c.filename == name {
			return c, nil
		}
	}

	placeholder := newNode(n, name, vpath.Join(n.filePath, name), vfstypes.Nonexistent, vfstypes.FileMeta{})
	n.children = append(n.children, placeholder)
	return placeholder, nil
}

// cachedBytes sums this node's own uncommitted (FILE_DIRTY) data length with
// its children's, recursively. Clean file data read from the backend and
// unloaded children (children == nil) contribute nothing.
func (n *CachedNode) cachedBytes() int64 {
	var sum int64
	if n.newType == vfstypes.FileDirty {
		sum = int64(len(n.data))
	}
	for _, c := range n.children {
		sum += c.cachedBytes()
	}
	return sum
}

// drop severs this node's parent and children links so the tree becomes
// unreachable and collectible, implemented here by simply letting Go's GC
// do its job once nothing references the nodes — there is no
// cyclic-reference-counting host to work around.
func (n *CachedNode) drop() {
	n.parent = nil
	for _, c := range n.children {
		c.drop()
	}
	n.children = nil
}
