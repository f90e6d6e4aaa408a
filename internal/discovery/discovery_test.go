package discovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/catalog"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/metadata"
	"github.com/tphakala/birdsed/internal/softlabel"
)

type memLabels map[string]*softlabel.Sequence

func (m memLabels) Load(clip string) (*softlabel.Sequence, error) {
	seq, ok := m[clip]
	if !ok {
		return nil, errors.Newf("no soft labels for %s", clip).Category(errors.CategoryNotFound).Build()
	}
	return seq, nil
}

func loadCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load()
	require.NoError(t, err)
	return cat
}

func index(t *testing.T, cat *catalog.Catalog, code string) int {
	t.Helper()
	i, ok := cat.Index(code)
	require.True(t, ok, code)
	return i
}

func TestClip(t *testing.T) {
	t.Parallel()

	cat := loadCatalog(t)
	d := New(cat, 0.9, false)

	seq := softlabel.NewSequence(4, cat.Size())
	seq.Set(0, index(t, cat, "amecro"), 0.99)
	seq.Set(2, index(t, cat, "blujay"), 0.95)
	seq.Set(1, index(t, cat, "norcar"), 0.9) // not strictly above

	tests := []struct {
		name     string
		declared []string
		want     []string
		ok       bool
	}{
		{"single label finds undeclared species", []string{"amecro"}, []string{"blujay"}, true},
		{"declared species is not reported", []string{"blujay"}, []string{"amecro"}, true},
		{"two labels are skipped", []string{"amecro", "norcar"}, nil, false},
		{"no labels are skipped", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			codes, ok := d.Clip(catalog.NewLabelVector(cat, tt.declared...), seq)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, codes)
		})
	}
}

func TestNewThresholdFallback(t *testing.T) {
	t.Parallel()

	cat := loadCatalog(t)
	assert.InDelta(t, DefaultThreshold, New(cat, 0, false).Threshold(), 1e-12)
	assert.InDelta(t, 0.8, New(cat, 0.8, false).Threshold(), 1e-12)
}

func TestRun(t *testing.T) {
	t.Parallel()

	cat := loadCatalog(t)
	blujay := index(t, cat, "blujay")

	confident := softlabel.NewSequence(2, cat.Size())
	confident.Set(1, blujay, 0.95)

	records := []*metadata.ClipRecord{
		{Code: "amecro", Filename: "one.mp3", ResampledFilename: "one.wav"},
		{Code: "amecro", Filename: "two.wav", Secondary: []string{"norcar"}},
		{Code: "amecro", Filename: "quiet.wav"},
		{Code: "amecro", Filename: "gone.wav"},
	}
	labels := memLabels{
		"one.wav":   confident,
		"two.wav":   confident,
		"quiet.wav": softlabel.NewSequence(2, cat.Size()),
	}

	res, err := New(cat, 0.9, false).Run(context.Background(), records, labels)
	require.NoError(t, err)
	assert.Equal(t, metadata.AdditionalLabels{"one.wav": {"blujay"}}, res.Found)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Missing)
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	cat := loadCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(cat, 0.9, false).Run(ctx, []*metadata.ClipRecord{{Code: "amecro", Filename: "a.wav"}}, memLabels{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSaveMergesWithExistingFile(t *testing.T) {
	t.Parallel()

	cat := loadCatalog(t)
	path := filepath.Join(t.TempDir(), "labels", "additional.json")

	_, err := Save(path, metadata.AdditionalLabels{"a.wav": {"norcar"}}, cat)
	require.NoError(t, err)

	merged, err := Save(path, metadata.AdditionalLabels{
		"a.wav": {"blujay", "norcar"},
		"b.wav": {"amecro"},
	}, cat)
	require.NoError(t, err)

	want := []string{"blujay", "norcar"}
	if index(t, cat, "norcar") < index(t, cat, "blujay") {
		want = []string{"norcar", "blujay"}
	}
	assert.Equal(t, want, merged["a.wav"], "union sorted by catalog index")
	assert.Equal(t, []string{"amecro"}, merged["b.wav"])

	onDisk, err := metadata.LoadAdditionalLabels(path)
	require.NoError(t, err)
	assert.Equal(t, merged, onDisk)
}
