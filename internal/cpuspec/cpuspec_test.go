package cpuspec

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSpecHybridSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		physical, logical int
		hybrid            bool
		wantPerformance   int
	}{
		{"hybrid 8P+8E", 16, 24, true, 8},
		{"hybrid without smt", 10, 10, true, 0},
		{"classic smt", 8, 16, false, 0},
		{"unknown topology", 0, 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec := newSpec("test cpu", tt.physical, tt.logical, tt.hybrid, false)
			assert.Equal(t, tt.wantPerformance, spec.PerformanceCores)
		})
	}
}

func TestThreadCounts(t *testing.T) {
	t.Parallel()

	spec := newSpec("test cpu", 1, 2, false, true)
	assert.Equal(t, 1, spec.GetOptimalThreadCount())
	assert.Equal(t, 1, spec.InferenceThreads(1))
	assert.Equal(t, 1, spec.InferenceThreads(0))
	assert.LessOrEqual(t, spec.InferenceThreads(1<<20), runtime.NumCPU())

	assert.Equal(t, 3, spec.WorkerCount(3))
	assert.Equal(t, 1, spec.WorkerCount(0))

	empty := CPUSpec{}
	assert.GreaterOrEqual(t, empty.GetOptimalThreadCount(), 1)
	assert.GreaterOrEqual(t, empty.WorkerCount(0), 1)

	host := GetCPUSpec()
	assert.GreaterOrEqual(t, host.GetOptimalThreadCount(), 1)
}
