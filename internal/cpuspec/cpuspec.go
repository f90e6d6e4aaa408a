// Package cpuspec derives thread and worker counts from the host CPU.
package cpuspec

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	PhysicalCores    int
	LogicalCores     int
	PerformanceCores int // 0 when the CPU is not hybrid or the split is unknown
	HasAVX2          bool
}

// GetCPUSpec returns the specification of the host CPU.
func GetCPUSpec() CPUSpec {
	return newSpec(cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores,
		cpuid.CPU.Supports(cpuid.HYBRID_CPU), cpuid.CPU.Supports(cpuid.AVX2))
}

func newSpec(brand string, physical, logical int, hybrid, avx2 bool) CPUSpec {
	spec := CPUSpec{
		BrandName:     brand,
		PhysicalCores: physical,
		LogicalCores:  logical,
		HasAVX2:       avx2,
	}
	// On hybrid parts only the performance cores are hyperthreaded, so
	// logical = 2P + E and physical = P + E.
	if hybrid && logical > physical && physical > 0 {
		spec.PerformanceCores = logical - physical
	}
	return spec
}

// GetOptimalThreadCount returns the recommended number of inference threads:
// the performance cores on hybrid CPUs, otherwise the physical cores, capped
// by the CPUs available to the process.
func (c CPUSpec) GetOptimalThreadCount() int {
	available := runtime.NumCPU()

	threads := c.PhysicalCores
	if c.PerformanceCores > 0 {
		threads = c.PerformanceCores
	}
	if threads <= 0 {
		threads = c.LogicalCores
	}
	if threads <= 0 || threads > available {
		threads = available
	}
	return max(1, threads)
}

// InferenceThreads resolves a configured thread count. Zero or negative
// values select GetOptimalThreadCount.
func (c CPUSpec) InferenceThreads(configured int) int {
	if configured > 0 {
		return min(configured, runtime.NumCPU())
	}
	return c.GetOptimalThreadCount()
}

// WorkerCount resolves a configured worker count for CPU-bound batch jobs.
// Zero or negative values leave one logical CPU free.
func (c CPUSpec) WorkerCount(configured int) int {
	if configured > 0 {
		return configured
	}
	logical := c.LogicalCores
	if logical <= 0 {
		logical = runtime.NumCPU()
	}
	return max(1, logical-1)
}
