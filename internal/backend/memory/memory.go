// Package memory implements a volatile, process-local backend.Backend,
// addressed as a nested directory tree guarded by a sync.RWMutex. It is
// the backend the unit and property test suites exercise, since it has no
// network nondeterminism.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/objectfs/shadowvfs/internal/backend"
	"github.com/objectfs/shadowvfs/pkg/vfserr"
	"github.com/objectfs/shadowvfs/pkg/vfstypes"
	"github.com/objectfs/shadowvfs/pkg/vpath"
)

// entry is one node of the backend's own tree, independent of the shadow
// tree the cache layer maintains on top of it.
type entry struct {
	fileType    vfstypes.FileType
	data        []byte
	destination string
	meta        vfstypes.FileMeta
	children    map[string]*entry // only for directories
}

// Backend is a volatile, in-memory backend.Backend implementation.
type Backend struct {
	mu   sync.RWMutex
	root *entry
}

var _ backend.Backend = (*Backend)(nil)

// New returns an empty in-memory backend, with just a root directory.
func New() *Backend {
	return &Backend{
		root: &entry{
			fileType: vfstypes.FileTypeDirectory,
			meta:     vfstypes.Now(),
			children: make(map[string]*entry),
		},
	}
}

func (b *Backend) ReadFile(_ context.Context, path string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.lookup(path)
	if !ok {
		return nil, vfserr.New(vfserr.ENOENT, path)
	}
	if e.fileType != vfstypes.FileTypeFile {
		return nil, vfserr.New(vfserr.ENOTFILE, path)
	}

	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (b *Backend) ReadDir(_ context.Context, path string) ([]vfstypes.FileEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.lookup(path)
	if !ok {
		return nil, vfserr.New(vfserr.ENOENT, path)
	}
	if e.fileType != vfstypes.FileTypeDirectory {
		return nil, vfserr.New(vfserr.ENOTDIR, path)
	}

	names := make([]string, 0, len(e.children))
	for name := range e.children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]vfstypes.FileEntry, 0, len(names))
	for _, name := range names {
		child := e.children[name]
		out = append(out, toFileEntry(name, vpath.Join(path, name), child))
	}
	return out, nil
}

func (b *Backend) LInfo(_ context.Context, path string) (vfstypes.FileEntry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.lookup(path)
	if !ok {
		return vfstypes.FileEntry{}, false, nil
	}
	return toFileEntry(vpath.Basename(path), path, e), true, nil
}

func toFileEntry(name, path string, e *entry) vfstypes.FileEntry {
	return vfstypes.FileEntry{
		Filename:    name,
		FilePath:    path,
		FileType:    e.fileType,
		Destination: e.destination,
		Meta:        e.meta,
	}
}

func (b *Backend) Bulk(_ context.Context, req backend.BulkRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range req.ToDelete {
		if err := b.delete(p); err != nil {
			return err
		}
	}

	for _, p := range req.FoldersToCreate {
		if err := b.mkdir(p); err != nil {
			return err
		}
	}

	for _, fw := range req.FilesToWrite {
		if err := b.writeFile(fw.Path, fw.Data, fw.Meta); err != nil {
			return err
		}
	}

	for _, sc := range req.SymlinksToCreate {
		if err := b.mksymlink(sc.Path, sc.Destination, sc.Meta); err != nil {
			return err
		}
	}

	for _, mu := range req.MetaUpdates {
		if err := b.updateMeta(mu.Path, mu.Meta); err != nil {
			return err
		}
	}

	return nil
}

func (b *Backend) NewMutex() backend.Mutex {
	return &mutex{}
}

// mutex is the in-process advisory lock: there is only ever one holder in a
// single process, so it never reports staleness.
type mutex struct {
	mu sync.Mutex
}

func (m *mutex) Lock(_ context.Context) (bool, error) {
	m.mu.Lock()
	return false, nil
}

func (m *mutex) Unlock(_ context.Context) error {
	m.mu.Unlock()
	return nil
}

// lookup walks the backend's own tree (not the shadow tree) to find path.
func (b *Backend) lookup(path string) (*entry, bool) {
	if path == "/" {
		return b.root, true
	}

	cur := b.root
	for _, name := range strings.Split(strings.Trim(path, "/"), "/") {
		if cur.fileType != vfstypes.FileTypeDirectory {
			return nil, false
		}
		next, ok := cur.children[name]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (b *Backend) parentOf(path string) (*entry, string, bool) {
	dir := vpath.Dirname(path)
	name := vpath.Basename(path)
	parent, ok := b.lookup(dir)
	if !ok || parent.fileType != vfstypes.FileTypeDirectory {
		return nil, "", false
	}
	return parent, name, true
}

func (b *Backend) delete(path string) error {
	parent, name, ok := b.parentOf(path)
	if !ok {
		return vfserr.New(vfserr.ENOENT, path)
	}
	if _, exists := parent.children[name]; !exists {
		return vfserr.New(vfserr.ENOENT, path)
	}
	delete(parent.children, name)
	return nil
}

func (b *Backend) mkdir(path string) error {
	parent, name, ok := b.parentOf(path)
	if !ok {
		return vfserr.New(vfserr.ENOENT, path)
	}
	if _, exists := parent.children[name]; exists {
		return vfserr.New(vfserr.EEXIST, path)
	}
	parent.children[name] = &entry{
		fileType: vfstypes.FileTypeDirectory,
		meta:     vfstypes.Now(),
		children: make(map[string]*entry),
	}
	return nil
}

func (b *Backend) writeFile(path string, data []byte, meta vfstypes.FileMeta) error {
	parent, name, ok := b.parentOf(path)
	if !ok {
		return vfserr.New(vfserr.ENOENT, path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	parent.children[name] = &entry{
		fileType: vfstypes.FileTypeFile,
		data:     out,
		meta:     meta,
	}
	return nil
}

func (b *Backend) mksymlink(path, destination string, meta vfstypes.FileMeta) error {
	parent, name, ok := b.parentOf(path)
	if !ok {
		return vfserr.New(vfserr.ENOENT, path)
	}
	if _, exists := parent.children[name]; exists {
		return vfserr.New(vfserr.EEXIST, path)
	}
	parent.children[name] = &entry{
		fileType:    vfstypes.FileTypeSymlink,
		destination: destination,
		meta:        meta,
	}
	return nil
}

func (b *Backend) updateMeta(path string, meta vfstypes.FileMeta) error {
	e, ok := b.lookup(path)
	if !ok {
		return vfserr.New(vfserr.ENOENT, path)
	}
	e.meta = meta
	return nil
}
