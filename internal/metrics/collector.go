// Package metrics implements the Prometheus instrumentation for the
// scheduler and commit engine: a Collector wrapping a dedicated
// prometheus.Registry, a Config struct for namespace/port/enablement, and
// one method per class of event the rest of the module wants to record.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Config configures the metrics collector and its HTTP exposition.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns a Config suitable for a standalone process.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "shadowvfs",
	}
}

// Collector records scheduler queue behaviour, commit outcomes, and
// per-operation counts.
type Collector struct {
	config   Config
	registry *prometheus.Registry
	server   *http.Server

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	queueWait         prometheus.Histogram
	inFlight          prometheus.Gauge

	cachedBytes prometheus.Gauge

	commitsTotal      *prometheus.CounterVec
	commitFailures    prometheus.Counter
	commitRedundant   prometheus.Counter
	commitDeletes     prometheus.Counter
	commitFoldersNew  prometheus.Counter
	commitFilesWrite  prometheus.Counter
	commitSymlinksNew prometheus.Counter
	commitMetaUpdates prometheus.Counter
}

// NewCollector builds and registers a Collector. If !cfg.Enabled it
// returns a usable Collector whose recording methods are no-ops.
func NewCollector(cfg Config) (*Collector, error) {
	if !cfg.Enabled {
		return &Collector{config: cfg}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: cfg, registry: registry}

	c.operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "operations_total",
		Help:      "Total number of VFS operations, by name and outcome.",
	}, []string{"operation", "status"})

	c.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of VFS operations, from scheduler enqueue to completion.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
	}, []string{"operation"})

	c.queueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Name:      "scheduler_queue_wait_seconds",
		Help:      "Time an operation spent queued before the worker picked it up.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 18),
	})

	c.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Name:      "scheduler_inflight_operations",
		Help:      "Number of operations currently queued or executing.",
	})

	c.cachedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Name:      "cached_bytes",
		Help:      "Bytes of uncommitted file data currently held in the shadow tree.",
	})

	c.commitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "commits_total",
		Help:      "Total number of cache commits, by trigger and outcome.",
	}, []string{"trigger", "status"})

	c.commitFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "commit_failures_total",
		Help:      "Total number of commits that failed to reach the backend.",
	})

	c.commitRedundant = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "commit_redundant_writes_total",
		Help:      "Writes whose fingerprint matched the backend's last known contents.",
	})

	c.commitDeletes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "commit_deletes_total",
		Help:      "Entries deleted across all commits.",
	})
	c.commitFoldersNew = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "commit_folders_created_total",
		Help:      "Folders created across all commits.",
	})
	c.commitFilesWrite = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "commit_files_written_total",
		Help:      "Files written across all commits.",
	})
	c.commitSymlinksNew = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "commit_symlinks_created_total",
		Help:      "Symlinks created across all commits.",
	})
	c.commitMetaUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "commit_meta_updates_total",
		Help:      "Metadata-only updates applied across all commits.",
	})

	collectors := []prometheus.Collector{
		c.operationCounter, c.operationDuration, c.queueWait, c.inFlight,
		c.cachedBytes,
		c.commitsTotal, c.commitFailures, c.commitRedundant,
		c.commitDeletes, c.commitFoldersNew, c.commitFilesWrite,
		c.commitSymlinksNew, c.commitMetaUpdates,
	}
	for _, coll := range collectors {
		if err := registry.Register(coll); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}

	return c, nil
}

// Start serves the registry's metrics over HTTP until ctx is cancelled or
// Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			_ = err
		}
	}()

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop shuts down the metrics HTTP server, if running.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// Gather returns the collector's current metric families, for callers
// (tests, a debug endpoint outside the usual /metrics path) that need the
// raw samples rather than the HTTP exposition. Returns nil, nil if metrics
// are disabled.
func (c *Collector) Gather() ([]*dto.MetricFamily, error) {
	if !c.config.Enabled {
		return nil, nil
	}
	return c.registry.Gather()
}

// RecordOperation records one completed VFS operation.
func (c *Collector) RecordOperation(operation string, duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
}

// RecordQueueWait records how long an operation waited in the scheduler's
// queue before execution began.
func (c *Collector) RecordQueueWait(d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.queueWait.Observe(d.Seconds())
}

// SetInFlight reports the current number of queued-or-executing operations.
func (c *Collector) SetInFlight(n int) {
	if !c.config.Enabled {
		return
	}
	c.inFlight.Set(float64(n))
}

// SetCachedBytes reports the shadow tree's current in-memory byte usage.
func (c *Collector) SetCachedBytes(n int64) {
	if !c.config.Enabled {
		return
	}
	c.cachedBytes.Set(float64(n))
}

// RecordCommit records the outcome and contents of one commit, where
// trigger is "idle", "stale", or "explicit".
func (c *Collector) RecordCommit(trigger string, err error, stats CommitStats) {
	if !c.config.Enabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		c.commitFailures.Inc()
	}
	c.commitsTotal.With(prometheus.Labels{"trigger": trigger, "status": status}).Inc()

	c.commitDeletes.Add(float64(stats.Deletes))
	c.commitFoldersNew.Add(float64(stats.FoldersCreated))
	c.commitFilesWrite.Add(float64(stats.FilesWritten))
	c.commitSymlinksNew.Add(float64(stats.SymlinksCreated))
	c.commitMetaUpdates.Add(float64(stats.MetaUpdates))
	c.commitRedundant.Add(float64(stats.RedundantWrites))
}

// CommitStats mirrors internal/cache.CommitStats; metrics does not import
// cache to avoid a dependency cycle (the scheduler, which imports both,
// does the translation).
type CommitStats struct {
	Deletes         int
	FoldersCreated  int
	FilesWritten    int
	SymlinksCreated int
	MetaUpdates     int
	RedundantWrites int
}
