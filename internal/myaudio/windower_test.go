package myaudio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i + 1)
	}
	return s
}

func TestWindowerSegmentCount(t *testing.T) {
	t.Parallel()

	w, err := NewWindower(100, 0.5)
	require.NoError(t, err)
	require.Equal(t, 50, w.Length())

	tests := []struct {
		name    string
		samples int
		want    int
	}{
		{"empty", 0, 0},
		{"one sample", 1, 1},
		{"shorter than period", 49, 1},
		{"exact period", 50, 1},
		{"one over", 51, 2},
		{"exact multiple", 150, 3},
		{"partial tail", 173, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			samples := ramp(tt.samples)

			got := 0
			for seg := range w.Segments(samples) {
				assert.Len(t, seg.Samples, w.Length())
				assert.Equal(t, got, seg.Index)
				assert.Equal(t, got*w.Length(), seg.Start)
				got++
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, w.Count(tt.samples))
		})
	}
}

func TestWindowerZeroPadsFinalSegment(t *testing.T) {
	t.Parallel()

	w, err := NewWindower(4, 1)
	require.NoError(t, err)

	var segs []Segment
	for seg := range w.Segments(ramp(6)) {
		segs = append(segs, seg)
	}
	require.Len(t, segs, 2)

	assert.Equal(t, []float32{1, 2, 3, 4}, segs[0].Samples)
	assert.False(t, segs[0].Padded())
	assert.Equal(t, []float32{5, 6, 0, 0}, segs[1].Samples)
	assert.Equal(t, 2, segs[1].Valid)
	assert.True(t, segs[1].Padded())
}

func TestWindowerShortInputYieldsOnePaddedSegment(t *testing.T) {
	t.Parallel()

	w, err := NewWindower(32000, 5)
	require.NoError(t, err)

	var segs []Segment
	for seg := range w.Segments(ramp(1000)) {
		segs = append(segs, seg)
	}
	require.Len(t, segs, 1)
	assert.Len(t, segs[0].Samples, 160000)
	assert.Equal(t, 1000, segs[0].Valid)
	assert.Zero(t, segs[0].Samples[1000])
}

func TestWindowerIsRestartable(t *testing.T) {
	t.Parallel()

	w, err := NewWindower(10, 1)
	require.NoError(t, err)
	seq := w.Segments(ramp(35))

	collect := func() []int {
		var starts []int
		for seg := range seq {
			starts = append(starts, seg.Start)
		}
		return starts
	}
	first := collect()
	assert.Equal(t, []int{0, 10, 20, 30}, first)
	assert.Equal(t, first, collect())

	// early break must not affect later iterations
	for range seq {
		break
	}
	assert.Equal(t, first, collect())
}

func TestWindowerBatches(t *testing.T) {
	t.Parallel()

	w, err := NewWindower(10, 1)
	require.NoError(t, err)

	var sizes []int
	total := 0
	for batch := range w.Batches(ramp(75), 3) {
		sizes = append(sizes, len(batch))
		for _, seg := range batch {
			assert.Equal(t, total, seg.Index)
			total++
		}
	}
	assert.Equal(t, []int{3, 3, 2}, sizes)
	assert.Equal(t, w.Count(75), total)
}

func TestNewWindowerRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		rate   int
		period float64
	}{{0, 5}, {32000, 0}, {32000, -1}, {10, 0.01}} {
		_, err := NewWindower(tc.rate, tc.period)
		assert.Error(t, err, "rate %d period %g", tc.rate, tc.period)
	}
}
