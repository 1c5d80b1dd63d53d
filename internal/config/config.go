// Package config defines the VFS's YAML-driven configuration: a root
// Configuration struct of nested, yaml-tagged sections, a NewDefault
// constructor, LoadFromFile / LoadFromEnv / SaveToFile, and a Validate
// pass.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete, top-level VFS configuration.
type Configuration struct {
	Global  GlobalConfig  `yaml:"global"`
	Commit  CommitConfig  `yaml:"commit"`
	Backend BackendConfig `yaml:"backend"`
	Network NetworkConfig `yaml:"network"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// CommitConfig controls the scheduler's automatic-commit timers and cache
// sizing.
type CommitConfig struct {
	// CacheCommitDelay is how long the scheduler waits, after the last
	// operation, before committing the idle cache.
	CacheCommitDelay time.Duration `yaml:"cache_commit_delay"`
	// AlwaysCommitCacheAfter forces a commit this long after the first
	// operation following the previous commit, regardless of idle activity.
	AlwaysCommitCacheAfter time.Duration `yaml:"always_commit_cache_after"`
	// MaxCachedBytes is a soft ceiling on bytes held in uncommitted file
	// data. Exceeding it only logs a warning and records a metric — every
	// mutation still eventually flushes, so there is no enforcement that
	// would drop data to stay under the limit. Zero disables the check.
	MaxCachedBytes int64 `yaml:"max_cached_bytes"`
}

// BackendConfig selects and configures the persistent backend.
type BackendConfig struct {
	Kind string   `yaml:"kind"` // "memory" or "s3"
	S3   S3Config `yaml:"s3"`
}

// S3Config configures the S3-backed backend.
type S3Config struct {
	Bucket             string `yaml:"bucket"`
	Region             string `yaml:"region"`
	Endpoint           string `yaml:"endpoint"` // non-empty for S3-compatible stores
	Prefix             string `yaml:"prefix"`
	CompressionEnabled bool   `yaml:"compression_enabled"`
	CompressionMinSize int64  `yaml:"compression_min_size"`
}

// NetworkConfig carries retry and circuit-breaker tuning for backend calls.
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig sets per-call timeouts.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// RetryConfig configures pkg/retry for backend calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig configures internal/circuit for backend calls.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns the configuration a fresh in-memory-only VFS starts
// with.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Commit: CommitConfig{
			CacheCommitDelay:       500 * time.Millisecond,
			AlwaysCommitCacheAfter: 5 * time.Second,
			MaxCachedBytes:         256 * 1024 * 1024,
		},
		Backend: BackendConfig{
			Kind: "memory",
			S3: S3Config{
				CompressionEnabled: false,
				CompressionMinSize: 64 * 1024,
			},
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
				Write:   60 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   200 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "shadowvfs",
		},
	}
}

// LoadFromFile reads and merges YAML configuration from filename over the
// receiver's current values.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", filename, err)
	}
	return nil
}

// LoadFromEnv overlays a handful of SHADOWVFS_* environment variables onto
// the receiver, for container-friendly overrides of file-based config.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("SHADOWVFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("SHADOWVFS_BACKEND"); val != "" {
		c.Backend.Kind = val
	}
	if val := os.Getenv("SHADOWVFS_S3_BUCKET"); val != "" {
		c.Backend.S3.Bucket = val
	}
	if val := os.Getenv("SHADOWVFS_S3_REGION"); val != "" {
		c.Backend.S3.Region = val
	}
	if val := os.Getenv("SHADOWVFS_S3_ENDPOINT"); val != "" {
		c.Backend.S3.Endpoint = val
	}
	if val := os.Getenv("SHADOWVFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = port
		}
	}
	if val := os.Getenv("SHADOWVFS_CACHE_COMMIT_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Commit.CacheCommitDelay = d
		}
	}
	return nil
}

// SaveToFile marshals the configuration to filename as YAML.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", filename, err)
	}
	return nil
}

// Validate checks the configuration for internally inconsistent or
// unusable values.
func (c *Configuration) Validate() error {
	if c.Commit.CacheCommitDelay <= 0 {
		return fmt.Errorf("config: cache_commit_delay must be greater than 0")
	}
	if c.Commit.AlwaysCommitCacheAfter < c.Commit.CacheCommitDelay {
		return fmt.Errorf("config: always_commit_cache_after must be >= cache_commit_delay")
	}

	switch c.Backend.Kind {
	case "memory":
	case "s3":
		if c.Backend.S3.Bucket == "" {
			return fmt.Errorf("config: backend.s3.bucket is required when backend.kind is \"s3\"")
		}
		if c.Backend.S3.Region == "" {
			return fmt.Errorf("config: backend.s3.region is required when backend.kind is \"s3\"")
		}
	default:
		return fmt.Errorf("config: invalid backend.kind: %s (must be \"memory\" or \"s3\")", c.Backend.Kind)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	valid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("config: invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Network.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: network.retry.max_attempts must be at least 1")
	}

	return nil
}
