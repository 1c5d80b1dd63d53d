// Package observe implements the listener registry that the facade
// notifies of shadow-tree lifecycle events: file creation, content
// changes, deletion, and possible-unknown-changes signals raised when the
// backend mutex reports staleness.
package observe

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/objectfs/shadowvfs/pkg/vfstypes"
)

// Event identifies which lifecycle notification fired.
type Event int

const (
	FileCreated Event = iota
	FileContentsChanged
	FileDeleted
	PossibleUnknownChanges
)

func (e Event) String() string {
	switch e {
	case FileCreated:
		return "file_created"
	case FileContentsChanged:
		return "file_contents_changed"
	case FileDeleted:
		return "file_deleted"
	case PossibleUnknownChanges:
		return "possible_unknown_changes"
	default:
		return "unknown"
	}
}

// Notification carries one event to listeners. Path is empty for
// PossibleUnknownChanges, which concerns the whole tree rather than one
// entry. Type is only meaningful for FileCreated and FileContentsChanged.
type Notification struct {
	Event Event
	Path  string
	Type  vfstypes.FileType
}

// Listener receives notifications. Implementations must not block for long;
// Dispatch calls every listener synchronously and one slow listener delays
// the rest.
type Listener interface {
	Notify(Notification) error
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(Notification) error

func (f ListenerFunc) Notify(n Notification) error { return f(n) }

// Registry holds the set of registered listeners and dispatches
// notifications to them.
type Registry struct {
	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[int]Listener)}
}

// Subscription identifies a registered listener for later removal.
type Subscription int

// Register adds a listener and returns a Subscription that Unregister
// accepts.
func (r *Registry) Register(l Listener) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	return Subscription(id)
}

// Unregister removes a previously registered listener. It is safe to call
// from within a listener's own Notify method (dispatch snapshots the
// listener set before iterating).
func (r *Registry) Unregister(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, int(sub))
}

// Dispatch sends n to every currently-registered listener. A listener that
// returns an error or panics does not stop dispatch to the others; all
// errors (and recovered panics, wrapped as errors) are aggregated with
// multierr and returned together.
func (r *Registry) Dispatch(n Notification) error {
	r.mu.RLock()
	snapshot := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		snapshot = append(snapshot, l)
	}
	r.mu.RUnlock()

	var errs error
	for _, l := range snapshot {
		if err := callListener(l, n); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func callListener(l Listener, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = multierr.Append(err, panicError{recovered: r})
		}
	}()
	return l.Notify(n)
}

type panicError struct {
	recovered any
}

func (p panicError) Error() string {
	return fmt.Sprintf("observe: listener panicked: %v", p.recovered)
}
