package concurrency

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Sampler collects a fresh host-load Sample at each admission check.
// No third-party library in the reference corpus covers cross-platform
// load/memory sampling, so this reads /proc directly on Linux — the
// only platform the supervisor's deployment targets run on.
type Sampler struct{}

// NewSampler returns the default host sampler.
func NewSampler() *Sampler { return &Sampler{} }

// Sample reads current CPU load and memory pressure. supervisorPIDs is
// the caller's count of supervisor-owned workers (the dispatcher passes
// its running-task count), since this package has no task-table
// visibility of its own.
func (s *Sampler) Sample(supervisorPIDs int) Sample {
	cpus := runtime.NumCPU()
	load1 := readLoadAverage()
	busy := 0.0
	if cpus > 0 {
		busy = (load1 / float64(cpus)) * 100
	}

	return Sample{
		LogicalCPUs:         cpus,
		CPUBusyPercent:      busy,
		Memory:              readMemoryPressure(),
		TotalProcesses:      countProcesses(),
		SupervisorOwnedPIDs: supervisorPIDs,
	}
}

func readLoadAverage() float64 {
	f, err := os.Open("/proc/loadavg")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}

// readMemoryPressure maps the MemAvailable/MemTotal ratio into the
// low/medium/high bands (below 10% high, below 25% medium), as the
// fallback for non-macOS hosts (spec §4.5).
func readMemoryPressure() MemoryPressure {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return MemoryLow
	}
	defer f.Close()

	var totalKB, availableKB int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			totalKB = parseMeminfoValue(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			availableKB = parseMeminfoValue(line)
		}
	}
	if totalKB == 0 {
		return MemoryLow
	}

	freeRatio := float64(availableKB) / float64(totalKB)
	switch {
	case freeRatio < 0.10:
		return MemoryHigh
	case freeRatio < 0.25:
		return MemoryMedium
	default:
		return MemoryLow
	}
}

func parseMeminfoValue(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func countProcesses() int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(e.Name()); err == nil {
			n++
		}
	}
	return n
}
