// Package concurrency computes the effective dispatch concurrency for
// a batch from host load signals (spec §4.5). Admission is checked
// strictly at dispatch time: an earlier "peek next N queued" routine
// must never consult this package, to avoid a stale-count TOCTOU.
package concurrency

import "math"

// MemoryPressure is the coarse host memory-pressure signal. On
// platforms that expose only free-MB, the caller maps that into one of
// these three bands before calling Effective.
type MemoryPressure string

const (
	MemoryLow    MemoryPressure = "low"
	MemoryMedium MemoryPressure = "medium"
	MemoryHigh   MemoryPressure = "high"
)

// Sample is one admission check's snapshot of host load.
type Sample struct {
	LogicalCPUs       int
	CPUBusyPercent    float64 // one-minute actual busy %, or load-average/cores*100
	Memory            MemoryPressure
	TotalProcesses    int
	SupervisorOwnedPIDs int
}

// Effective computes the effective concurrency from a batch's base and
// cap given a host Sample, per the spec §4.5 band table. Per §9's open
// question decision, memory-pressure-wins-floor is checked first so the
// CPU/memory disagreement ordering is never ambiguous.
func Effective(sample Sample, base, cap int) int {
	if base <= 0 {
		base = 1
	}
	if cap <= 0 {
		cap = sample.LogicalCPUs
		if cap <= 0 {
			cap = base
		}
	}

	clamp := func(n int) int {
		if n > cap {
			return cap
		}
		if n < 1 {
			return 1
		}
		return n
	}

	// Memory pressure wins the floor check before CPU is even consulted.
	if sample.Memory == MemoryHigh {
		return clamp(1)
	}

	switch {
	case sample.CPUBusyPercent > 85:
		return clamp(1)
	case sample.CPUBusyPercent >= 70:
		return clamp(int(math.Ceil(float64(base) / 2)))
	case sample.CPUBusyPercent >= 40:
		return clamp(base)
	default:
		return clamp(2 * base)
	}
}

// HasRoom reports whether a fresh dispatch is admissible: the current
// count of supervisor-owned, non-terminal-status processes must be
// strictly below the effective concurrency. Callers must requery
// runningCount immediately before each dispatch decision (spec §4.6
// step 4's "fresh running-count query"), never reuse a count computed
// earlier in the pulse.
func HasRoom(sample Sample, base, cap, runningCount int) bool {
	return runningCount < Effective(sample, base, cap)
}
