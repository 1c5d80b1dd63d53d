package observe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchReachesAllListeners(t *testing.T) {
	r := NewRegistry()
	var got []Notification

	r.Register(ListenerFunc(func(n Notification) error {
		got = append(got, n)
		return nil
	}))
	r.Register(ListenerFunc(func(n Notification) error {
		got = append(got, n)
		return nil
	}))

	err := r.Dispatch(Notification{Event: FileCreated, Path: "/a"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestUnregisterDuringDispatchIsSafe(t *testing.T) {
	r := NewRegistry()
	var sub Subscription
	called := 0

	sub = r.Register(ListenerFunc(func(n Notification) error {
		called++
		r.Unregister(sub)
		return nil
	}))

	require.NoError(t, r.Dispatch(Notification{Event: FileDeleted, Path: "/a"}))
	require.NoError(t, r.Dispatch(Notification{Event: FileDeleted, Path: "/a"}))
	assert.Equal(t, 1, called)
}

func TestErroringListenerDoesNotBlockOthers(t *testing.T) {
	r := NewRegistry()
	secondCalled := false

	r.Register(ListenerFunc(func(n Notification) error {
		return errors.New("boom")
	}))
	r.Register(ListenerFunc(func(n Notification) error {
		secondCalled = true
		return nil
	}))

	err := r.Dispatch(Notification{Event: PossibleUnknownChanges})
	require.Error(t, err)
	assert.True(t, secondCalled)
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	r := NewRegistry()
	secondCalled := false

	r.Register(ListenerFunc(func(n Notification) error {
		panic("listener exploded")
	}))
	r.Register(ListenerFunc(func(n Notification) error {
		secondCalled = true
		return nil
	}))

	err := r.Dispatch(Notification{Event: FileContentsChanged, Path: "/x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener exploded")
	assert.True(t, secondCalled)
}
