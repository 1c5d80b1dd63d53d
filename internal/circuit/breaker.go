package circuit

import (
	"context"
	stderr "errors"
	"sync"
	"time"

	"github.com/objectfs/shadowvfs/pkg/vfserr"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a CircuitBreaker.
type Config struct {
	// MaxRequests caps how many calls are allowed through while half-open.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is how long the closed state accumulates counts before
	// they're reset, bounding how far back a trip decision looks.
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the breaker stays open before trying half-open.
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip decides, from the current counts, whether a closed
	// breaker should open.
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange is called whenever the breaker transitions state.
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful classifies a call's error for counting purposes. The
	// default only counts vfserr-tagged backend-facing failures
	// (connection, storage) against the breaker; a nil error or a
	// POSIX-style vfserr.Error (ENOENT, EEXIST, ...) both count as
	// success, since those indicate the backend answered correctly, not
	// that it is unreachable or overloaded. A non-vfserr error is treated
	// as a failure, since it means something below the Backend contract
	// (network, auth, marshaling) broke in a way this taxonomy can't
	// classify.
	IsSuccessful func(err error) bool `yaml:"-"`
}

// Counts tracks one interval's worth of request outcomes.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
	LastActivity         time.Time
}

// CircuitBreaker wraps backend calls, tripping open after a run of
// backend-facing failures and probing with a single half-open request
// before closing again.
type CircuitBreaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker, applying defaults for any
// zero-valued Config fields.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		counts: Counts{},
		expiry: time.Now().Add(config.Interval),
	}
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.Requests >= 20 &&
		float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

// defaultIsSuccessful counts only backend-facing vfserr categories
// (connection, storage) as circuit failures. A plain error with no
// vfserr.Error underneath it (a transport-level failure the backend
// didn't get a chance to classify) is also a failure; everything else —
// including the filesystem-category POSIX kinds — is a success from the
// breaker's point of view.
func defaultIsSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var verr *vfserr.Error
	if !stderr.As(err, &verr) {
		return false
	}
	switch verr.Category {
	case vfserr.CategoryConnection, vfserr.CategoryStorage:
		return false
	default:
		return true
	}
}

// Execute runs fn if the breaker is closed or probing half-open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	err, _ := cb.ExecuteWithFallback(fn, nil)
	return err
}

// ExecuteWithFallback runs fn if the breaker allows it, otherwise runs
// fallback (if non-nil) and reports whether the fallback path was taken.
func (cb *CircuitBreaker) ExecuteWithFallback(fn func() error, fallback func() error) (error, bool) {
	if err := cb.beforeRequest(); err != nil {
		if fallback != nil {
			return fallback(), true
		}
		return err, false
	}

	err := fn()
	cb.afterRequest(err)
	return err, false
}

// ExecuteWithContext runs fn if the breaker allows it, threading ctx
// through to fn.
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)

	if state == StateOpen {
		return ErrOpenState
	}

	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return ErrTooManyRequests
	}

	cb.counts.onRequest()
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	cb.counts.onSuccess()

	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	cb.counts.onFailure()

	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) (State, time.Time) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.expiry
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	prev := cb.state

	if cb.state == state {
		return
	}

	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// GetState returns the breaker's current state, advancing it past an
// expired interval or timeout first.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.currentState(time.Now())
	return state
}

// GetCounts returns a copy of the breaker's current-interval counts.
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.counts
}

// Reset forces the breaker back to closed with cleared counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.clear()
	cb.setState(StateClosed, time.Now())
}

// Name returns the breaker's identifying name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	c.Requests = 0
	c.TotalSuccesses = 0
	c.TotalFailures = 0
	c.ConsecutiveSuccesses = 0
	c.ConsecutiveFailures = 0
	c.LastActivity = time.Time{}
}

var (
	// ErrOpenState is returned by Execute/ExecuteWithContext when the
	// breaker is open and rejecting calls.
	ErrOpenState = stderr.New("circuit breaker is open")

	// ErrTooManyRequests is returned when a half-open breaker has already
	// admitted its probe quota for the interval.
	ErrTooManyRequests = stderr.New("too many requests in half-open state")
)
