package train

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/model"
)

func newLinear(t *testing.T, seed uint64) *model.LinearSED {
	t.Helper()
	m, err := model.NewLinearSED(model.LinearConfig{SampleRate: 1000, FrameHop: 0.05, Bands: 4, NumClasses: 3, Seed: seed})
	require.NoError(t, err)
	return m
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	src := newLinear(t, 1)
	path := filepath.Join(t.TempDir(), "fold0", BestCheckpoint)
	require.NoError(t, SaveCheckpoint(path, NewCheckpoint(src, 3, 0.75, "run-1")))

	ck, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, model.ArchLinearSED, ck.Arch)
	assert.Equal(t, 3, ck.Epoch)
	assert.Equal(t, "run-1", ck.RunID)
	require.NotNil(t, ck.Metric)
	assert.InDelta(t, 0.75, *ck.Metric, 1e-12)

	dst := newLinear(t, 2)
	require.NoError(t, ck.Restore(dst))
	assert.Equal(t, src.StateDict(), dst.StateDict())
}

func TestCheckpointDropsNonFiniteMetric(t *testing.T) {
	t.Parallel()

	ck := NewCheckpoint(newLinear(t, 1), 1, math.Inf(-1), "")
	assert.Nil(t, ck.Metric)

	path := filepath.Join(t.TempDir(), EMACheckpoint)
	require.NoError(t, SaveCheckpoint(path, ck))
}

func TestLoadCheckpointMissing(t *testing.T) {
	t.Parallel()

	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.ckpt"))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRestoreRejectsOtherArch(t *testing.T) {
	t.Parallel()

	ck := &Checkpoint{Arch: "tflite"}
	err := ck.Restore(newLinear(t, 1))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCheckpoint))
}
