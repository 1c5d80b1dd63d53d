// Package vfs is shadowvfs's external interface: the
// facade every caller uses instead of reaching into internal/cache or
// internal/scheduler directly. Every operation resolves its path against
// root with pkg/vpath, submits a closure to the scheduler, and translates
// cache-layer errors into the pkg/vfserr taxonomy the caller sees.
//
// One exported method per operation, each taking a context.Context and
// returning a structured error. shadowvfs has no open file descriptors —
// every read or write is a single whole-file call against the shadow
// tree, so there is no FileHandle type here.
package vfs

import (
	"context"
	"fmt"
	"time"

	"github.com/objectfs/shadowvfs/internal/backend"
	"github.com/objectfs/shadowvfs/internal/backend/memory"
	s3backend "github.com/objectfs/shadowvfs/internal/backend/s3"
	"github.com/objectfs/shadowvfs/internal/circuit"
	"github.com/objectfs/shadowvfs/internal/config"
	"github.com/objectfs/shadowvfs/internal/metrics"
	"github.com/objectfs/shadowvfs/internal/observe"
	"github.com/objectfs/shadowvfs/internal/scheduler"
	"github.com/objectfs/shadowvfs/internal/vfslog"
	"github.com/objectfs/shadowvfs/pkg/retry"
)

// VFS is an in-memory, write-back virtual filesystem backed by a
// persistence Backend. It is safe for concurrent use by multiple
// goroutines: every operation is serialized onto the scheduler's single
// worker.
type VFS struct {
	sched *scheduler.Scheduler
	obs   *observe.Registry
	met   *metrics.Collector
	log   *vfslog.Logger
}

// New builds a VFS from cfg: the configured backend (memory or S3), the
// metrics collector, the logger, and the scheduler, starting the
// scheduler's worker goroutine before returning. A nil cfg uses
// config.NewDefault().
func New(ctx context.Context, cfg *config.Configuration) (*VFS, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := vfslog.New(vfslog.Config{
		Level:  parseLevel(cfg.Global.LogLevel),
		Format: parseFormat(cfg.Global.LogFormat),
	}).WithComponent("vfs")

	met, err := metrics.NewCollector(metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Port:      cfg.Metrics.Port,
		Path:      cfg.Metrics.Path,
		Namespace: cfg.Metrics.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("vfs: metrics: %w", err)
	}
	if err := met.Start(ctx); err != nil {
		return nil, fmt.Errorf("vfs: metrics listener: %w", err)
	}

	be, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	obs := observe.NewRegistry()
	sched := scheduler.New(be, scheduler.Config{
		CacheCommitDelay:       cfg.Commit.CacheCommitDelay,
		AlwaysCommitCacheAfter: cfg.Commit.AlwaysCommitCacheAfter,
		MaxCachedBytes:         cfg.Commit.MaxCachedBytes,
	}, obs, met, log)

	return &VFS{sched: sched, obs: obs, met: met, log: log}, nil
}

// NewInMemory returns a VFS over a fresh in-memory backend with no metrics
// or file logging, and automatic-commit timers effectively disabled: the
// shadow tree only reaches the backend via an explicit Commit call. Meant
// for tests and short-lived embedded use.
func NewInMemory() *VFS {
	obs := observe.NewRegistry()
	sched := scheduler.New(memory.New(), scheduler.Config{
		CacheCommitDelay:       time.Hour,
		AlwaysCommitCacheAfter: 24 * time.Hour,
	}, obs, nil, nil)
	return &VFS{sched: sched, obs: obs}
}

func newBackend(ctx context.Context, cfg *config.Configuration) (backend.Backend, error) {
	switch cfg.Backend.Kind {
	case "s3":
		return s3backend.New(ctx, s3backend.Config{
			Bucket:             cfg.Backend.S3.Bucket,
			Region:             cfg.Backend.S3.Region,
			Endpoint:           cfg.Backend.S3.Endpoint,
			Prefix:             cfg.Backend.S3.Prefix,
			ForcePathStyle:     cfg.Backend.S3.Endpoint != "",
			CompressionEnabled: cfg.Backend.S3.CompressionEnabled,
			CompressionMinSize: cfg.Backend.S3.CompressionMinSize,
			Retry:              retryConfig(cfg),
			CircuitBreaker:     circuitBreakerConfig(cfg),
		})
	default:
		return memory.New(), nil
	}
}

func retryConfig(cfg *config.Configuration) retry.Config {
	r := retry.DefaultConfig()
	r.MaxAttempts = cfg.Network.Retry.MaxAttempts
	if cfg.Network.Retry.BaseDelay > 0 {
		r.InitialDelay = cfg.Network.Retry.BaseDelay
	}
	if cfg.Network.Retry.MaxDelay > 0 {
		r.MaxDelay = cfg.Network.Retry.MaxDelay
	}
	return r
}

func circuitBreakerConfig(cfg *config.Configuration) circuit.Config {
	cb := cfg.Network.CircuitBreaker
	if !cb.Enabled {
		// A single-slot breaker that never trips: requests
		// pass straight through the Execute wrapper untouched.
		return circuit.Config{
			MaxRequests: 1,
			ReadyToTrip: func(circuit.Counts) bool { return false },
		}
	}
	threshold := uint32(cb.FailureThreshold)
	return circuit.Config{
		MaxRequests: 1,
		Timeout:     cb.Timeout,
		ReadyToTrip: func(counts circuit.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
}

func parseLevel(s string) vfslog.Level {
	switch s {
	case "DEBUG":
		return vfslog.Debug
	case "WARN":
		return vfslog.Warn
	case "ERROR":
		return vfslog.Error
	default:
		return vfslog.Info
	}
}

func parseFormat(s string) vfslog.Format {
	if s == "json" {
		return vfslog.FormatJSON
	}
	return vfslog.FormatText
}

// Close stops the scheduler's worker and the metrics listener, if any. It
// does not commit outstanding mutations; call Commit first if that is
// desired.
func (v *VFS) Close(ctx context.Context) error {
	v.sched.Close()
	if v.met != nil {
		return v.met.Stop(ctx)
	}
	return nil
}

// Commit forces an immediate flush of the shadow tree to the backend.
func (v *VFS) Commit(ctx context.Context) error {
	return v.sched.Commit(ctx)
}

// Observe returns the registry callers register Listeners on to receive
// FileCreated/FileContentsChanged/FileDeleted/PossibleUnknownChanges
// notifications.
func (v *VFS) Observe() *observe.Registry {
	return v.obs
}
