// Package scheduler implements the single FIFO worker that serializes all
// operations against one Tree and Backend. Every operation — a read, a
// mutation, or an explicit Commit — is submitted as a task and runs on
// the worker goroutine in submission order; two callers never observe
// interleaved effects on the same tree.
//
// The worker also owns two timers: CacheCommitDelay restarts on every task
// and fires an automatic commit once the queue has been idle that long;
// AlwaysCommitCacheAfter is armed by the first task after a commit that
// leaves the shadow tree materialised, and forces a commit regardless of
// ongoing activity, bounding how long dirty state can accumulate in memory.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/objectfs/shadowvfs/internal/backend"
	"github.com/objectfs/shadowvfs/internal/cache"
	"github.com/objectfs/shadowvfs/internal/metrics"
	"github.com/objectfs/shadowvfs/internal/observe"
	"github.com/objectfs/shadowvfs/internal/vfslog"
)

// Task is a unit of work run exclusively on the worker goroutine. It
// receives the tree and must not retain CachedNode references for use after
// it returns.
type Task func(ctx context.Context, tree *cache.Tree) error

// Config tunes the worker's automatic-commit timers and cache sizing.
type Config struct {
	CacheCommitDelay       time.Duration
	AlwaysCommitCacheAfter time.Duration
	// MaxCachedBytes is a soft ceiling on in-memory uncommitted file data,
	// checked on the idle timer tick. Zero disables the check.
	MaxCachedBytes int64
}

type submission struct {
	ctx      context.Context
	task     Task
	queuedAt time.Time
	done     chan error
	// isCommit marks the internal task Commit submits, so the worker
	// loop can disarm the staleness timer on success instead of treating
	// it like an ordinary read/mutation task.
	isCommit bool
}

// Scheduler runs one worker goroutine that owns a *cache.Tree and a
// backend.Mutex, serializing all access to both.
type Scheduler struct {
	cfg     Config
	tree    *cache.Tree
	be      backend.Backend
	mutex   backend.Mutex
	obs     *observe.Registry
	metrics *metrics.Collector
	log     *vfslog.Logger

	// mutexHeld tracks whether the worker currently holds the backend
	// mutex. It is acquired on the first task after a commit (or after
	// startup) and released when that commit completes, so it spans the
	// whole window during which the shadow tree can diverge from the
	// backend's last known state.
	mutexHeld bool

	// lastFingerprint is the xxhash fingerprint each path had the last
	// time a commit wrote it, keyed by absolute path. Consulted on
	// rewrite to report commit_redundant_writes_total; it never
	// changes which bulk-request list a node lands in, only the metric.
	lastFingerprint map[string]uint64

	// inFlight counts submissions currently queued or executing, for the
	// scheduler_inflight_operations gauge. Touched from caller goroutines
	// in enqueue, not the worker, so it's managed with atomic ops rather
	// than being confined to the single-worker-goroutine rule the rest of
	// the scheduler's state follows.
	inFlight int64

	tasks chan submission
	stop  chan struct{}
	done  chan struct{}
}

// New constructs a Scheduler over be and starts its worker goroutine.
func New(be backend.Backend, cfg Config, obs *observe.Registry, m *metrics.Collector, log *vfslog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:             cfg,
		tree:            cache.New(be),
		be:              be,
		mutex:           be.NewMutex(),
		obs:             obs,
		metrics:         m,
		log:             log,
		lastFingerprint: make(map[string]uint64),
		tasks:           make(chan submission),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit enqueues task and blocks until the worker has run it, returning
// its error.
func (s *Scheduler) Submit(ctx context.Context, task Task) error {
	sub := submission{ctx: ctx, task: task, queuedAt: time.Now(), done: make(chan error, 1)}
	return s.enqueue(ctx, sub)
}

// enqueue sends sub to the worker and waits for its result, tracking how
// many submissions (queued or executing) are outstanding so the
// scheduler_inflight_operations gauge reflects real load.
func (s *Scheduler) enqueue(ctx context.Context, sub submission) error {
	if s.metrics != nil {
		s.metrics.SetInFlight(int(atomic.AddInt64(&s.inFlight, 1)))
		defer func() {
			s.metrics.SetInFlight(int(atomic.AddInt64(&s.inFlight, -1)))
		}()
	}

	select {
	case s.tasks <- sub:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-sub.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker after any in-flight task completes. It does not
// commit outstanding mutations; call Commit first if that is desired.
func (s *Scheduler) Close() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)

	idleTimer := time.NewTimer(s.cfg.CacheCommitDelay)
	defer idleTimer.Stop()
	var staleTimer *time.Timer
	defer func() {
		if staleTimer != nil {
			staleTimer.Stop()
		}
	}()

	resetIdle := func() {
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(s.cfg.CacheCommitDelay)
	}

	armStaleIfNeeded := func() {
		if staleTimer == nil {
			staleTimer = time.NewTimer(s.cfg.AlwaysCommitCacheAfter)
		}
	}

	disarmStale := func() {
		if staleTimer != nil {
			staleTimer.Stop()
			staleTimer = nil
		}
	}

	var staleC <-chan time.Time
	for {
		if staleTimer != nil {
			staleC = staleTimer.C
		} else {
			staleC = nil
		}

		select {
		case sub := <-s.tasks:
			if s.metrics != nil {
				s.metrics.RecordQueueWait(time.Since(sub.queuedAt))
			}

			if err := s.ensureMutexLocked(sub.ctx); err != nil {
				sub.done <- err
				resetIdle()
				continue
			}

			err := s.runTask(sub.ctx, sub.task)
			sub.done <- err

			if sub.isCommit {
				if err == nil {
					disarmStale()
				}
			} else if s.tree.Materialized() {
				armStaleIfNeeded()
			}
			resetIdle()

		case <-idleTimer.C:
			if s.tree.Materialized() {
				s.checkCacheSize()
				if err := s.commit(context.Background(), "idle"); err == nil {
					disarmStale()
				}
			}
			resetIdle()

		case <-staleC:
			if err := s.commit(context.Background(), "stale"); err == nil {
				disarmStale()
			}

		case <-s.stop:
			return
		}
	}
}

// ensureMutexLocked acquires the backend mutex if the worker doesn't
// already hold it. Every task submitted through Submit passes through
// here first, so the mutex stays held for the entire span from the
// first task after a commit through the next commit's completion,
// matching the span the S3 backend's conditional-put mutex is meant to
// cover. Staleness is reported the moment it's detected, at acquisition
// time, not deferred until the eventual commit.
func (s *Scheduler) ensureMutexLocked(ctx context.Context) error {
	if s.mutexHeld {
		return nil
	}
	stale, err := s.mutex.Lock(ctx)
	if err != nil {
		return err
	}
	s.mutexHeld = true
	if stale && s.obs != nil {
		_ = s.obs.Dispatch(observe.Notification{Event: observe.PossibleUnknownChanges})
	}
	return nil
}

func (s *Scheduler) runTask(ctx context.Context, task Task) (err error) {
	var catcher panics.Catcher
	catcher.Try(func() {
		err = task(ctx, s.tree)
	})
	if r := catcher.Recovered(); r != nil {
		if s.log != nil {
			s.log.Error("scheduler: task panicked", map[string]any{"panic": r.AsError().Error()})
		}
		return r.AsError()
	}
	return err
}

// Commit forces an immediate commit on the worker goroutine and blocks
// until it completes.
func (s *Scheduler) Commit(ctx context.Context) error {
	sub := submission{ctx: ctx, queuedAt: time.Now(), done: make(chan error, 1), isCommit: true}
	sub.task = func(ctx context.Context, tree *cache.Tree) error {
		return s.commit(ctx, "explicit")
	}
	return s.enqueue(ctx, sub)
}

// commit runs on the worker goroutine: it builds and applies the bulk
// request over the backend mutex the worker has held since the first
// task after the previous commit, then releases it. The mutex is never
// locked here — by the time a materialized tree reaches commit, some
// task already acquired it via ensureMutexLocked — only released, so the
// held span covers the entire window between commits, not just the bulk
// apply itself.
func (s *Scheduler) commit(ctx context.Context, trigger string) error {
	if !s.tree.Materialized() {
		return nil
	}

	defer func() {
		_ = s.mutex.Unlock(ctx)
		s.mutexHeld = false
	}()

	req, stats, err := s.tree.BuildBulkRequest(ctx, s.checkRedundant)
	if err != nil {
		s.recordCommit(trigger, err, stats)
		return err
	}

	if req.Empty() {
		s.recordCommit(trigger, nil, stats)
		s.tree.Drop()
		return nil
	}

	bulkErr := s.be.Bulk(ctx, req)

	// The shadow tree is dismantled after bulk completion whether or not
	// it succeeded: a failed bulk apply is fatal to this commit attempt,
	// not to the process, and the in-memory state it was built from
	// cannot be trusted for a retry.
	s.tree.Drop()

	if bulkErr == nil {
		for _, p := range req.ToDelete {
			delete(s.lastFingerprint, p)
		}
	}

	if bulkErr != nil {
		s.recordCommit(trigger, bulkErr, stats)
		if s.log != nil {
			s.log.Error("scheduler: commit failed", map[string]any{
				"trigger": trigger,
				"deletes": stats.Deletes,
				"folders": stats.FoldersCreated,
				"files":   stats.FilesWritten,
				"error":   bulkErr.Error(),
			})
		}
		return bulkErr
	}

	s.recordCommit(trigger, nil, stats)
	return nil
}

// checkRedundant is BuildBulkRequest's redundantCheck callback: it reports
// whether fp matches the fingerprint path had after its last commit, then
// records fp as the new baseline regardless of the outcome. Runs only on
// the worker goroutine, so the map needs no locking of its own.
func (s *Scheduler) checkRedundant(path string, fp uint64) bool {
	prev, known := s.lastFingerprint[path]
	s.lastFingerprint[path] = fp
	return known && prev == fp
}

// checkCacheSize reports the shadow tree's current in-memory byte usage to
// metrics and, if it exceeds cfg.MaxCachedBytes, logs a warning. It never
// blocks or rejects a mutation to enforce the ceiling — every write still
// eventually flushes.
func (s *Scheduler) checkCacheSize() {
	bytes := s.tree.CachedBytes()
	if s.metrics != nil {
		s.metrics.SetCachedBytes(bytes)
	}
	if s.cfg.MaxCachedBytes > 0 && bytes > s.cfg.MaxCachedBytes && s.log != nil {
		s.log.Warn("scheduler: cached bytes exceed configured ceiling", map[string]any{
			"cached_bytes": bytes,
			"max_cached_bytes": s.cfg.MaxCachedBytes,
		})
	}
}

func (s *Scheduler) recordCommit(trigger string, err error, stats cache.CommitStats) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCommit(trigger, err, metrics.CommitStats{
		Deletes:         stats.Deletes,
		FoldersCreated:  stats.FoldersCreated,
		FilesWritten:    stats.FilesWritten,
		SymlinksCreated: stats.SymlinksCreated,
		MetaUpdates:     stats.MetaUpdates,
		RedundantWrites: stats.RedundantWrites,
	})
}

// Observe returns the registry tasks should use to report FileCreated,
// FileContentsChanged and FileDeleted notifications as they mutate the
// shadow tree — these fire from within the causing operation, not
// deferred to commit.
func (s *Scheduler) Observe() *observe.Registry {
	return s.obs
}
