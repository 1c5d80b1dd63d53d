// Package vfserr provides the closed error-kind taxonomy shadowvfs surfaces
// to callers, wrapped in a structured error envelope (code, category,
// retryability, context) the rest of the ambient stack consumes —
// specialised down to the fixed set of POSIX-style kinds this VFS needs
// plus the backend-facing categories retry/circuit-breaking consult.
package vfserr

import (
	"fmt"
	"time"
)

// Kind is one of the closed set of recoverable VFS error kinds.
type Kind string

const (
	ENOENT    Kind = "ENOENT"
	EEXIST    Kind = "EEXIST"
	EISDIR    Kind = "EISDIR"
	EISFILE   Kind = "EISFILE"
	ENOTDIR   Kind = "ENOTDIR"
	ENOTFILE  Kind = "ENOTFILE"
	ENOTLNK   Kind = "ENOTLNK"
	ENOTEMPTY Kind = "ENOTEMPTY"
	// ELOOP is raised when symlink resolution exceeds the hop limit.
	ELOOP Kind = "ELOOP"

	// Backend-facing kinds, surfaced by the reference backends and
	// consulted by pkg/retry and internal/circuit.
	EConnection  Kind = "ECONNECTION"
	EThrottled   Kind = "ETHROTTLED"
	EUnavailable Kind = "EUNAVAILABLE"
	EInternal    Kind = "EINTERNAL"
)

// Category groups kinds for logging and metrics.
type Category string

const (
	CategoryFilesystem Category = "filesystem"
	CategoryStorage    Category = "storage"
	CategoryConnection Category = "connection"
	CategoryInternal   Category = "internal"
)

var messages = map[Kind]string{
	ENOENT:    "no such file or directory",
	EEXIST:    "file already exists",
	EISDIR:    "is a directory",
	EISFILE:   "is a file",
	ENOTDIR:   "not a directory",
	ENOTFILE:  "not a file",
	ENOTLNK:   "not a symbolic link",
	ENOTEMPTY: "directory not empty",
	ELOOP:     "too many levels of symbolic links",

	EConnection:  "connection to backend failed",
	EThrottled:   "backend request throttled",
	EUnavailable: "backend temporarily unavailable",
	EInternal:    "internal error",
}

var categories = map[Kind]Category{
	ENOENT:    CategoryFilesystem,
	EEXIST:    CategoryFilesystem,
	EISDIR:    CategoryFilesystem,
	EISFILE:   CategoryFilesystem,
	ENOTDIR:   CategoryFilesystem,
	ENOTFILE:  CategoryFilesystem,
	ENOTLNK:   CategoryFilesystem,
	ENOTEMPTY: CategoryFilesystem,
	ELOOP:     CategoryFilesystem,

	EConnection:  CategoryConnection,
	EThrottled:   CategoryStorage,
	EUnavailable: CategoryStorage,
	EInternal:    CategoryInternal,
}

// retryableByDefault marks the backend-facing kinds as transient by
// default; the POSIX-style kinds are never worth retrying.
var retryableByDefault = map[Kind]bool{
	EConnection:  true,
	EThrottled:   true,
	EUnavailable: true,
}

// Error is the structured error shadowvfs returns from every facade
// operation. It always carries the offending absolute path.
type Error struct {
	Kind      Kind
	Category  Category
	Path      string
	Message   string
	Cause     error
	Retryable bool
	Timestamp time.Time
}

// New constructs an Error of the given kind for the given path.
func New(kind Kind, path string) *Error {
	return &Error{
		Kind:      kind,
		Category:  categories[kind],
		Path:      path,
		Message:   messages[kind],
		Retryable: retryableByDefault[kind],
		Timestamp: time.Now(),
	}
}

// Wrap constructs an Error of the given kind for the given path, wrapping an
// underlying cause (typically a backend transport error).
func Wrap(kind Kind, path string, cause error) *Error {
	e := New(kind, path)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is by comparing Kind; it ignores Path so callers can
// write errors.Is(err, vfserr.New(vfserr.ENOENT, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
