// Package diagnostics collects best-effort host resource metrics for
// the status surface. Collection errors leave fields at zero rather
// than failing the snapshot.
package diagnostics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot holds system-wide resource usage at one point in time.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// CPU
	CPUCores   int     `json:"cpu_cores"`
	CPUPercent float64 `json:"cpu_percent"`

	// Memory (in MB)
	MemTotalMB float64 `json:"mem_total_mb"`
	MemUsedMB  float64 `json:"mem_used_mb"`
	MemPercent float64 `json:"mem_percent"`

	// Disk of the data directory (in GB)
	DiskTotalGB float64 `json:"disk_total_gb"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskPercent float64 `json:"disk_percent"`

	// Load average (Unix)
	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`

	// Process
	Goroutines int `json:"goroutines"`
}

// Collector gathers host metrics for the data directory's filesystem.
type Collector struct {
	mu      sync.Mutex
	dataDir string
}

// NewCollector creates a collector. dataDir selects the filesystem the
// disk figures describe; empty means skip disk.
func NewCollector(dataDir string) *Collector {
	return &Collector{dataDir: dataDir}
}

// Collect gathers current system statistics.
func (c *Collector) Collect() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Timestamp:  time.Now().UTC(),
		CPUCores:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemTotalMB = float64(vm.Total) / 1024 / 1024
		snap.MemUsedMB = float64(vm.Used) / 1024 / 1024
		snap.MemPercent = vm.UsedPercent
	}

	if c.dataDir != "" {
		if usage, err := disk.Usage(c.dataDir); err == nil {
			snap.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
			snap.DiskUsedGB = float64(usage.Used) / 1024 / 1024 / 1024
			snap.DiskPercent = usage.UsedPercent
		}
	}

	if avg, err := load.Avg(); err == nil {
		snap.LoadAvg1 = avg.Load1
		snap.LoadAvg5 = avg.Load5
		snap.LoadAvg15 = avg.Load15
	}

	return snap
}
