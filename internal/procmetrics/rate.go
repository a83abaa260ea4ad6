package procmetrics

import (
	"math"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUReport is the outcome of one collection cycle for the CPU instruments.
type CPUReport struct {
	UserTime   float64
	SystemTime float64

	// UserUtilization and SystemUtilization are NaN until two samples exist.
	UserUtilization   float64
	SystemUtilization float64
}

// RateComputer turns cumulative CPU time into windowed utilization. It owns
// the previous snapshot; Observe reads and replaces it under one lock.
type RateComputer struct {
	cpuCount float64

	mu      sync.Mutex
	prev    ResourceSnapshot
	hasPrev bool
}

// NewRateComputer returns a RateComputer dividing by cpuCount logical CPUs.
// The count is fixed for the life of the computer.
func NewRateComputer(cpuCount int) *RateComputer {
	if cpuCount < 1 {
		cpuCount = 1
	}
	return &RateComputer{cpuCount: float64(cpuCount)}
}

// CPUCount is the logical CPU count utilization is normalized by.
func (r *RateComputer) CPUCount() int {
	return int(r.cpuCount)
}

// Observe reports cur's cumulative CPU times and the utilization over the
// window since the previous call, then keeps cur as the new baseline.
func (r *RateComputer) Observe(cur ResourceSnapshot) CPUReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := CPUReport{
		UserTime:          cur.UserTime,
		SystemTime:        cur.SystemTime,
		UserUtilization:   math.NaN(),
		SystemUtilization: math.NaN(),
	}

	if r.hasPrev {
		// A clock that appears to run backwards must not flip the sign.
		elapsed := cur.ObservedAt.Sub(r.prev.ObservedAt).Seconds()
		if elapsed > 0 {
			report.UserUtilization = (cur.UserTime - r.prev.UserTime) / elapsed / r.cpuCount
			report.SystemUtilization = (cur.SystemTime - r.prev.SystemTime) / elapsed / r.cpuCount
		}
	}

	r.prev = cur
	r.hasPrev = true
	return report
}

// LogicalCPUCount returns the number of logical CPUs, read once at startup.
func LogicalCPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}
