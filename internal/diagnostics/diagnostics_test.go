package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollect(t *testing.T) {
	c := NewCollector(t.TempDir())

	snap := c.Collect()
	assert.False(t, snap.Timestamp.IsZero())
	assert.Positive(t, snap.CPUCores)
	assert.Positive(t, snap.Goroutines)
	assert.Positive(t, snap.MemTotalMB)
	assert.Positive(t, snap.DiskTotalGB)
}

func TestCollectWithoutDataDirSkipsDisk(t *testing.T) {
	c := NewCollector("")

	snap := c.Collect()
	assert.Zero(t, snap.DiskTotalGB)
	assert.Zero(t, snap.DiskPercent)
}
