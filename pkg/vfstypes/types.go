// Package vfstypes holds the data model shared between the backend contract
// and the shadow tree: the backend-visible FileType, the cache-internal
// CachedNodeType (which extends FileType with pending-mutation variants),
// FileMeta, and the two listing records (FileEntry, BasicFileEntry).
package vfstypes

import "time"

// FileType is what a backend stores: a file, a directory, or a symlink.
type FileType uint8

const (
	FileTypeFile FileType = iota
	FileTypeDirectory
	FileTypeSymlink
)

func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "file"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// CachedNodeType is what the shadow tree tracks for one node: the backend's
// FileType, extended with pending-mutation ("_NEW" / "_DIRTY") variants and
// a NONEXISTENT sentinel. Exactly seven values.
type CachedNodeType uint8

const (
	Directory CachedNodeType = iota
	DirectoryNew
	File
	FileDirty
	Symlink
	SymlinkDirty
	Nonexistent
)

func (t CachedNodeType) String() string {
	switch t {
	case Directory:
		return "DIRECTORY"
	case DirectoryNew:
		return "DIRECTORY_NEW"
	case File:
		return "FILE"
	case FileDirty:
		return "FILE_DIRTY"
	case Symlink:
		return "SYMLINK"
	case SymlinkDirty:
		return "SYMLINK_DIRTY"
	case Nonexistent:
		return "NONEXISTENT"
	default:
		return "UNKNOWN"
	}
}

// IsDir reports whether t is a directory variant (DIRECTORY or
// DIRECTORY_NEW).
func (t CachedNodeType) IsDir() bool {
	return t == Directory || t == DirectoryNew
}

// IsFile reports whether t is a file variant (FILE or FILE_DIRTY).
func (t CachedNodeType) IsFile() bool {
	return t == File || t == FileDirty
}

// IsSymlink reports whether t is a symlink variant (SYMLINK or
// SYMLINK_DIRTY).
func (t CachedNodeType) IsSymlink() bool {
	return t == Symlink || t == SymlinkDirty
}

// Exists reports whether t is anything other than NONEXISTENT.
func (t CachedNodeType) Exists() bool {
	return t != Nonexistent
}

// FromFileType converts a backend FileType into the matching "clean"
// (non-dirty) CachedNodeType.
func FromFileType(t FileType) CachedNodeType {
	switch t {
	case FileTypeDirectory:
		return Directory
	case FileTypeSymlink:
		return Symlink
	default:
		return File
	}
}

// FileMeta is a trivially copyable value record of the metadata the backend
// tracks. Currently just mtime; the cache defensively copies it on read-out,
// and backends may retain what they're handed without defensive copy.
type FileMeta struct {
	// MTime is milliseconds since the Unix epoch, UTC.
	MTime int64
}

// Now returns a FileMeta stamped with the current time.
func Now() FileMeta {
	return FileMeta{MTime: time.Now().UnixMilli()}
}

// FileEntry is a directory listing record: name, absolute path, backend
// type, optional symlink destination (verbatim, not resolved), and meta.
type FileEntry struct {
	Filename    string
	FilePath    string
	FileType    FileType
	Destination string // only meaningful when FileType == FileTypeSymlink
	Meta        FileMeta
}

// BasicFileEntry is FileEntry restricted to FILE|DIRECTORY, returned from
// symlink-following lookups (Info, as opposed to LInfo).
type BasicFileEntry struct {
	Filename string
	FilePath string
	FileType FileType // FileTypeFile or FileTypeDirectory only
	Meta     FileMeta
}
