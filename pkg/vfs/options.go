package vfs

// MkDirOptions configures MkDir.
type MkDirOptions struct {
	// Recursive creates each missing ancestor directory instead of
	// requiring the parent to already exist.
	Recursive bool
}

// ReadDirOptions configures ReadDir.
type ReadDirOptions struct {
	// FullPaths returns each entry's absolute path instead of its bare
	// name.
	FullPaths bool
}

// RmOptions configures Rm.
type RmOptions struct {
	// Folder must be true to remove a directory; Rm rejects removing a
	// directory when it is false.
	Folder bool
	// Recursive allows removing a non-empty directory. Without it, Rm on
	// a non-empty directory fails with ENOTEMPTY.
	Recursive bool
}

// MoveOptions configures Move. Reserved for future policy flags; Move
// currently always merges into an existing destination directory and
// overwrites an existing destination file, mirroring Copy.
type MoveOptions struct{}

// CopyOptions configures Copy. Reserved for future policy flags; see
// MoveOptions.
type CopyOptions struct{}
