package circuit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/shadowvfs/pkg/vfserr"
)

func tripAfterTwo() Config {
	return Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     40 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	}
}

type rawTransportErr struct{}

func (rawTransportErr) Error() string { return "connection reset by peer" }

func TestStateStringsMatchDomainNames(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

func TestDefaultIsSuccessfulIgnoresFilesystemKindsButCountsBackendKinds(t *testing.T) {
	assert.True(t, defaultIsSuccessful(nil))
	assert.True(t, defaultIsSuccessful(vfserr.New(vfserr.ENOENT, "/missing")))
	assert.True(t, defaultIsSuccessful(vfserr.New(vfserr.EEXIST, "/dup")))
	assert.True(t, defaultIsSuccessful(vfserr.New(vfserr.ENOTEMPTY, "/dir")))

	assert.False(t, defaultIsSuccessful(vfserr.New(vfserr.EConnection, "/x")))
	assert.False(t, defaultIsSuccessful(vfserr.New(vfserr.EThrottled, "/x")))
	assert.False(t, defaultIsSuccessful(vfserr.New(vfserr.EUnavailable, "/x")))

	// A raw, non-vfserr error (a transport failure the backend didn't get
	// a chance to classify) is also treated as a failure.
	assert.False(t, defaultIsSuccessful(rawTransportErr{}))
}

func TestCircuitBreakerIgnoresFilesystemErrorsForTripping(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", tripAfterTwo())

	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error { return vfserr.New(vfserr.ENOENT, "/missing") })
		assert.True(t, vfserr.IsKind(err, vfserr.ENOENT))
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerTripsOnConsecutiveBackendFailures(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", tripAfterTwo())

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return vfserr.New(vfserr.EConnection, "/bucket/key") })
	}
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpenState)
}

func TestCircuitBreakerHalfOpenProbeCloses(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", tripAfterTwo())

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return vfserr.New(vfserr.EThrottled, "/x") })
	}
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.GetState())

	err := cb.Execute(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenProbeReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", tripAfterTwo())

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return vfserr.New(vfserr.EUnavailable, "/x") })
	}
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.GetState())

	err := cb.Execute(func() error { return vfserr.New(vfserr.EConnection, "/x") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreakerHalfOpenRejectsBeyondMaxRequests(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", tripAfterTwo())
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return vfserr.New(vfserr.EConnection, "/x") })
	}
	require.Equal(t, StateOpen, cb.GetState())
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.GetState())

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
	close(release)
}

func TestExecuteWithFallbackRunsFallbackWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", tripAfterTwo())
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return vfserr.New(vfserr.EConnection, "/x") })
	}
	require.Equal(t, StateOpen, cb.GetState())

	called := false
	err, usedFallback := cb.ExecuteWithFallback(
		func() error { return nil },
		func() error { called = true; return nil },
	)
	assert.NoError(t, err)
	assert.True(t, usedFallback)
	assert.True(t, called)
}

func TestExecuteWithFallbackSkipsFallbackWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", tripAfterTwo())
	called := false
	err, usedFallback := cb.ExecuteWithFallback(
		func() error { return nil },
		func() error { called = true; return nil },
	)
	assert.NoError(t, err)
	assert.False(t, usedFallback)
	assert.False(t, called)
}

func TestExecuteWithContextPropagatesContextAndError(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", Config{})
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "value")

	var seen any
	err := cb.ExecuteWithContext(ctx, func(ctx context.Context) error {
		seen = ctx.Value(ctxKey{})
		return vfserr.New(vfserr.ENOENT, "/missing")
	})
	assert.True(t, vfserr.IsKind(err, vfserr.ENOENT))
	assert.Equal(t, "value", seen)
}

func TestGetCountsTracksConsecutiveRuns(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", Config{Interval: time.Minute})

	_ = cb.Execute(func() error { return vfserr.New(vfserr.EConnection, "/x") })
	_ = cb.Execute(func() error { return nil })

	counts := cb.GetCounts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.ConsecutiveFailures)
}

func TestResetClearsCountsAndState(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", tripAfterTwo())
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return vfserr.New(vfserr.EConnection, "/x") })
	}
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, uint32(0), cb.GetCounts().TotalFailures)
}

func TestNameReturnsConstructorArgument(t *testing.T) {
	cb := NewCircuitBreaker("s3-backend", Config{})
	assert.Equal(t, "s3-backend", cb.Name())
}

func TestOnStateChangeFiresOnTransitions(t *testing.T) {
	var transitions [][2]State
	cfg := tripAfterTwo()
	cfg.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, [2]State{from, to})
	}
	cb := NewCircuitBreaker("s3-backend", cfg)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return vfserr.New(vfserr.EConnection, "/x") })
	}

	require.Len(t, transitions, 1)
	assert.Equal(t, StateClosed, transitions[0][0])
	assert.Equal(t, StateOpen, transitions[0][1])
}
