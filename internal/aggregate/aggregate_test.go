package aggregate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/model"
	"github.com/tphakala/birdsed/internal/softlabel"
)

// constModel predicts the same value for every frame and class. Frame f of
// segment i additionally carries i in class 0 so ordering can be checked.
type constModel struct {
	value   float32
	frames  int
	classes int
	batches []int
	fail    bool
}

func (m *constModel) NumClasses() int { return m.classes }

func (m *constModel) Predict(batch [][]float32) (model.Output, error) {
	if m.fail {
		return model.Output{}, fmt.Errorf("boom")
	}
	m.batches = append(m.batches, len(batch))
	out := model.Output{Framewise: make([][][]float32, len(batch))}
	for i, wave := range batch {
		rows := make([][]float32, m.frames)
		for f := range rows {
			row := make([]float32, m.classes)
			for c := range row {
				row[c] = m.value
			}
			row[0] = wave[0] // segment marker
			rows[f] = row
		}
		out.Framewise[i] = rows
	}
	return out, nil
}

type memWriter map[string]*softlabel.Sequence

func (w memWriter) Save(clip string, seq *softlabel.Sequence) error {
	w[clip] = seq
	return nil
}

// markedClip returns n samples where every sample of segment i equals i.
func markedClip(n, segLen int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i / segLen)
	}
	return s
}

func TestTruncatedRows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		remaining float64
		want      int
	}{
		{"12.3 s clip", 12.3 - 10.0, 46},
		{"exact rows", 2.5, 50},
		{"tiny remainder", 0.001, 1},
		{"full period", 5.0, 100},
		{"beyond period", 7.0, 100},
		{"nothing left", 0, 0},
		{"negative", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, TruncatedRows(tt.remaining, 5.0, 100))
		})
	}
}

func TestAggregateTruncatesFinalSegment(t *testing.T) {
	t.Parallel()

	m := &constModel{value: 0.5, frames: 100, classes: 3}
	agg, err := New(Config{SampleRate: 100, Period: 5, BatchSize: 32}, m)
	require.NoError(t, err)

	seq, err := agg.Aggregate(markedClip(1230, 500), 12.3)
	require.NoError(t, err)

	assert.Equal(t, 246, seq.Rows)
	assert.Equal(t, 3, seq.Cols)
	// rows keep segment order
	assert.InDelta(t, 0, seq.At(0, 0), 0)
	assert.InDelta(t, 1, seq.At(100, 0), 0)
	assert.InDelta(t, 2, seq.At(245, 0), 0)
}

func TestAggregateAveragesEnsembleAcrossSubBatches(t *testing.T) {
	t.Parallel()

	a := &constModel{value: 0.2, frames: 10, classes: 2}
	b := &constModel{value: 0.6, frames: 10, classes: 2}
	agg, err := New(Config{SampleRate: 10, Period: 1, BatchSize: 2}, a, b)
	require.NoError(t, err)

	// 5 full segments
	seq, err := agg.Aggregate(markedClip(50, 10), 5)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, a.batches)
	assert.Equal(t, []int{2, 2, 1}, b.batches)
	assert.Equal(t, 50, seq.Rows)
	for r := range seq.Rows {
		assert.InDelta(t, 0.4, seq.At(r, 1), 1e-6)
	}
}

func TestAggregateDropsSegmentsPastDuration(t *testing.T) {
	t.Parallel()

	m := &constModel{value: 0.1, frames: 4, classes: 1}
	agg, err := New(Config{SampleRate: 4, Period: 1}, m)
	require.NoError(t, err)

	// 3 segments of audio but only 2 s declared: third block has no rows
	seq, err := agg.Aggregate(make([]float32, 12), 2)
	require.NoError(t, err)
	assert.Equal(t, 8, seq.Rows)
}

func TestAggregateRejectsEmptyClip(t *testing.T) {
	t.Parallel()

	agg, err := New(Config{SampleRate: 10, Period: 1}, &constModel{frames: 1, classes: 1})
	require.NoError(t, err)

	_, err = agg.Aggregate(nil, 3)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = agg.Aggregate(make([]float32, 10), 0)
	assert.Error(t, err)
}

func TestAggregateErrors(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SampleRate: 10, Period: 1})
	assert.Error(t, err)

	_, err = New(Config{SampleRate: 10, Period: 1},
		&constModel{frames: 1, classes: 2}, &constModel{frames: 1, classes: 3})
	assert.Error(t, err)

	agg, err := New(Config{SampleRate: 10, Period: 1},
		&constModel{frames: 2, classes: 1}, &constModel{frames: 3, classes: 1})
	require.NoError(t, err)
	_, err = agg.Aggregate(make([]float32, 10), 1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInference))

	agg, err = New(Config{SampleRate: 10, Period: 1}, &constModel{frames: 1, classes: 1, fail: true})
	require.NoError(t, err)
	_, err = agg.Aggregate(make([]float32, 10), 1)
	assert.Error(t, err)
}

func TestProcessSavesUnderClipName(t *testing.T) {
	t.Parallel()

	agg, err := New(Config{SampleRate: 10, Period: 1}, &constModel{value: 0.3, frames: 5, classes: 2})
	require.NoError(t, err)

	w := memWriter{}
	seq, err := agg.Process(w, "XC1.wav", make([]float32, 15), 1.5)
	require.NoError(t, err)
	assert.Equal(t, 5+3, seq.Rows) // 0.5 s at 0.2 s per row -> ceil(2.5) = 3
	assert.Same(t, seq, w["XC1.wav"])
}

func TestBlocksCarryStartAndFrameDuration(t *testing.T) {
	t.Parallel()

	m := &constModel{value: 0.5, frames: 100, classes: 3}
	agg, err := New(Config{SampleRate: 100, Period: 5, BatchSize: 2}, m)
	require.NoError(t, err)

	var starts []float64
	var rows []int
	for block, err := range agg.Blocks(markedClip(1230, 500), 12.3) {
		require.NoError(t, err)
		assert.InDelta(t, 0.05, block.FrameSec, 1e-12)
		starts = append(starts, block.Start)
		rows = append(rows, block.Rows.Rows)
	}
	assert.Equal(t, []float64{0, 5, 10}, starts)
	assert.Equal(t, []int{100, 100, 46}, rows)
}
