package cache

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/objectfs/shadowvfs/internal/backend"
	"github.com/objectfs/shadowvfs/pkg/vfserr"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
	"github.com/objectfs/shadowvfs/pkg/vpath"
)

// maxSymlinkHops bounds ResolveSymlink; exceeding it is an ELOOP.
const maxSymlinkHops = 64

// Tree is the root-anchored shadow tree: a lazily populated mirror of the
// backend's directory tree, carrying per-entry old/new state. It is private
// to one cache instance: nothing outside this package's caller holds a
// reference to the CachedNodes it hands out across a commit.
type Tree struct {
	backend backend.Backend
	root    *CachedNode
}

// New returns an empty Tree. The root node is materialised lazily, on
// first Root() call.
func New(be backend.Backend) *Tree {
	return &Tree{backend: be}
}

// Root returns the root node, materialising it from the backend on first
// access.
func (t *Tree) Root(ctx context.Context) (*CachedNode, error) {
	if t.root != nil {
		return t.root, nil
	}

	entry, ok, err := t.backend.LInfo(ctx, "/")
	if err != nil {
		return nil, err
	}

	oldType := vfstypes.Directory
	meta := vfstypes.Now()
	if ok {
		oldType = vfstypes.FromFileType(entry.FileType)
		meta = entry.Meta
	} else {
		oldType = vfstypes.Nonexistent
	}

	root := newNode(nil, "", "/", oldType, meta)
	if !ok {
		// No backend root yet: treat it as a directory pending creation,
		// matching "the root node has newType in {DIRECTORY, DIRECTORY_NEW}".
		root.newType = vfstypes.DirectoryNew
		root.children = []*CachedNode{}
	} else {
		root.children = nil // lazy: load on first RetrieveChildren
	}

	t.root = root
	return t.root, nil
}

// Backend returns the backend this tree lazily populates from, so callers
// above this package can drive CachedNode's backend-aware methods
// (ReadFile, RetrieveChildren) without this package exposing them itself.
func (t *Tree) Backend() backend.Backend {
	return t.backend
}

// Materialized reports whether a root has ever been fetched — the commit
// engine's precondition ("a commit is only meaningful
// when a root has ever been materialised").
func (t *Tree) Materialized() bool {
	return t.root != nil
}

// Resolve walks from the root to the node at path, fetching children
// lazily. Interior components that don't exist, or aren't directories,
// fail with ENOENT/ENOTDIR against the path reached so far. The final
// component is returned without any existence or type check. Symlinks are
// never followed by this walk.
func (t *Tree) Resolve(ctx context.Context, path string) (*CachedNode, error) {
	root, err := t.Root(ctx)
	if err != nil {
		return nil, err
	}

	path = vpath.Resolve(path)
	if path == "/" {
		return root, nil
	}

	components := vpath.Split(path)[1:]
	cur := root
	soFar := "/"

	for _, name := range components {
		// cur is about to serve as the parent directory for `name`; every
		// component except the final one must exist and be a directory.
		// (When this is the final component, the check below is exactly
		// the interior check for the second-to-last component — the final
		// component itself is returned unchecked)
		if !cur.Exists() {
			return nil, vfserr.New(vfserr.ENOENT, soFar)
		}
		if !cur.Type().IsDir() {
			return nil, vfserr.New(vfserr.ENOTDIR, soFar)
		}

		child, err := cur.RetrieveChild(ctx, t.backend, name)
		if err != nil {
			return nil, err
		}
		cur = child
		soFar = vpath.Join(soFar, name)
	}

	return cur, nil
}

// ResolveParent resolves the parent directory of path and returns it along
// with path's basename. Useful for create-style operations that need the
// containing directory to already exist.
func (t *Tree) ResolveParent(ctx context.Context, path string) (parent *CachedNode, name string, err error) {
	path = vpath.Resolve(path)
	dir := vpath.Dirname(path)
	name = vpath.Basename(path)

	parent, err = t.Resolve(ctx, dir)
	if err != nil {
		return nil, "", err
	}
	if !parent.Exists() {
		return nil, "", vfserr.New(vfserr.ENOENT, dir)
	}
	if !parent.Type().IsDir() {
		return nil, "", vfserr.New(vfserr.ENOTDIR, dir)
	}
	return parent, name, nil
}

// ResolveSymlink dereferences node while it is a symlink, following each
// hop's destination (resolved against the symlink's own parent directory
// when relative) until a non-symlink node is reached or maxSymlinkHops is
// exceeded (ELOOP).
func (t *Tree) ResolveSymlink(ctx context.Context, node *CachedNode) (*CachedNode, error) {
	cur := node
	for hop := 0; cur.Type().IsSymlink(); hop++ {
		if hop >= maxSymlinkHops {
			return nil, vfserr.New(vfserr.ELOOP, node.FilePath())
		}

		dest := cur.Destination()
		var target string
		if vpath.IsAbsolute(dest) {
			target = vpath.Resolve(dest)
		} else {
			target = vpath.Join(vpath.Dirname(cur.FilePath()), dest)
		}

		next, err := t.Resolve(ctx, target)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Drop dismantles the entire shadow tree (parent/children links cleared
// top-down) and clears the root reference, per the commit completion step
// and Wipe.
func (t *Tree) Drop() {
	if t.root != nil {
		t.root.drop()
	}
	t.root = nil
}

// CachedBytes sums the length of uncommitted (FILE_DIRTY) file data held in
// memory across the materialised shadow tree. It walks whatever subtree has been loaded
// so far; unloaded directories contribute nothing. Intended for the
// scheduler's periodic soft-limit check, not per-operation bookkeeping, so
// it recomputes rather than maintaining a running counter through every
// mutation.
func (t *Tree) CachedBytes() int64 {
	if t.root == nil {
		return 0
	}
	return t.root.cachedBytes()
}

// fingerprintHash is the dedup-fingerprint function threaded through to
// CachedNode.Fingerprint .
func fingerprintHash(data []byte) uint64 {
	return xxhash.Sum64(data)
}
