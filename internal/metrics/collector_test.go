package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorDisabledIsNoOp(t *testing.T) {
	c, err := NewCollector(Config{Enabled: false})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		c.RecordOperation("write_file", time.Millisecond, true)
		c.RecordQueueWait(time.Millisecond)
		c.SetInFlight(3)
		c.RecordCommit("idle", nil, CommitStats{FilesWritten: 1})
	})
}

func TestNewCollectorEnabledRegisters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	c, err := NewCollector(cfg)
	require.NoError(t, err)
	require.NotNil(t, c.registry)

	c.RecordOperation("write_file", 5*time.Millisecond, true)
	c.RecordCommit("explicit", nil, CommitStats{
		Deletes: 1, FoldersCreated: 2, FilesWritten: 3, SymlinksCreated: 0, MetaUpdates: 1,
	})

	families, err := c.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestSetInFlightUpdatesGauge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	c, err := NewCollector(cfg)
	require.NoError(t, err)

	c.SetInFlight(4)

	families, err := c.registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "shadowvfs_scheduler_inflight_operations" {
			found = true
			require.Len(t, f.Metric, 1)
			assert.Equal(t, float64(4), f.Metric[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found, "expected scheduler_inflight_operations to be registered")
}
