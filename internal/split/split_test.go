package split

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labels(counts map[string]int) []string {
	var out []string
	for _, k := range []string{"amecro", "blujay", "norcar"} {
		for range counts[k] {
			out = append(out, k)
		}
	}
	return out
}

func assertPartition(t *testing.T, n int, folds []Fold) {
	t.Helper()
	seen := make([]int, n)
	for _, f := range folds {
		assert.Len(t, f.Train, n-len(f.Valid))
		assert.True(t, slices.IsSorted(f.Valid))
		assert.True(t, slices.IsSorted(f.Train))
		for _, i := range f.Valid {
			seen[i]++
			assert.NotContains(t, f.Train, i)
		}
	}
	for i, c := range seen {
		assert.Equal(t, 1, c, "item %d validated once", i)
	}
}

func TestSplitters(t *testing.T) {
	t.Parallel()

	data := labels(map[string]int{"amecro": 10, "blujay": 5, "norcar": 7})
	tests := []struct {
		name string
		s    Splitter
	}{
		{"kfold", KFold{K: 5}},
		{"shuffled kfold", KFold{K: 5, Shuffle: true, Seed: 3}},
		{"stratified", StratifiedKFold{K: 5, Seed: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			folds, err := tt.s.Split(data)
			require.NoError(t, err)
			require.Len(t, folds, 5)
			assertPartition(t, len(data), folds)
			for _, f := range folds {
				assert.InDelta(t, len(data)/5, len(f.Valid), 1)
			}
		})
	}
}

func TestKFoldUnshuffledIsConsecutive(t *testing.T) {
	t.Parallel()

	folds, err := KFold{K: 3}.Split(make([]string, 7))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, folds[0].Valid)
	assert.Equal(t, []int{3, 4}, folds[1].Valid)
	assert.Equal(t, []int{5, 6}, folds[2].Valid)
}

func TestStratifiedKeepsLabelShare(t *testing.T) {
	t.Parallel()

	data := labels(map[string]int{"amecro": 10, "blujay": 5})
	folds, err := StratifiedKFold{K: 5, Seed: 9}.Split(data)
	require.NoError(t, err)
	for _, f := range folds {
		counts := map[string]int{}
		for _, i := range f.Valid {
			counts[data[i]]++
		}
		assert.Equal(t, 2, counts["amecro"])
		assert.Equal(t, 1, counts["blujay"])
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	t.Parallel()

	data := labels(map[string]int{"amecro": 6, "norcar": 6})
	a, err := StratifiedKFold{K: 3, Seed: 1}.Split(data)
	require.NoError(t, err)
	b, err := StratifiedKFold{K: 3, Seed: 1}.Split(data)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplitErrors(t *testing.T) {
	t.Parallel()

	_, err := KFold{K: 1}.Split(make([]string, 4))
	require.Error(t, err)
	_, err = StratifiedKFold{K: 5}.Split(make([]string, 4))
	require.Error(t, err)
}
