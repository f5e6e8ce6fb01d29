package platform

import "runtime"

// OSMemoryProbe is the default MemoryProbe. It approximates host memory
// pressure from the Go runtime's own heap statistics rather than shelling
// out to /proc/meminfo, keeping the default dependency-free; a
// production deployment is expected to inject a MemoryProbe backed by the
// host's actual memory reporting (cgroup limits, /proc/meminfo, etc.) the
// same way LLMClient and KVStore are injected rather than hard-coded.
type OSMemoryProbe struct {
	// TotalGB is the assumed total addressable memory budget. Defaults to
	// 8 (matching the manager's MAX_MEMORY_GB default) when zero.
	TotalGB float64
}

// Snapshot implements MemoryProbe.
func (p OSMemoryProbe) Snapshot() (MemoryStats, error) {
	total := p.TotalGB
	if total <= 0 {
		total = 8.0
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	usedGB := float64(m.Sys) / (1024 * 1024 * 1024)
	if usedGB > total {
		usedGB = total
	}
	available := total - usedGB
	percent := 0.0
	if total > 0 {
		percent = (usedGB / total) * 100
	}

	return MemoryStats{
		TotalGB:     total,
		UsedGB:      usedGB,
		AvailableGB: available,
		Percent:     percent,
	}, nil
}

var _ MemoryProbe = OSMemoryProbe{}
