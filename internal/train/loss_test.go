package train

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/dataset"
	"github.com/tphakala/birdsed/internal/model"
)

func TestBCEValue(t *testing.T) {
	t.Parallel()

	out := model.Output{Clipwise: [][]float32{{0.5, 0.9}}}
	b := &dataset.Batch{Targets: [][]float32{{1, 0}}}
	loss, grad, err := BCE{}.Compute(out, b, true)
	require.NoError(t, err)
	assert.InDelta(t, (-math.Log(0.5)-math.Log(0.1))/2, loss, 1e-6)
	assert.InDelta(t, (0.5-1)/(0.25)/2, grad.Clipwise[0][0], 1e-5)
	assert.Nil(t, grad.Framewise)
}

func TestSEDBCEGradientMatchesFiniteDifference(t *testing.T) {
	t.Parallel()

	out := model.Output{
		Clipwise:  [][]float32{{0.3, 0.6}},
		Framewise: [][][]float32{{{0.2, 0.7}, {0.4, 0.5}}},
	}
	b := &dataset.Batch{
		Targets:   [][]float32{{1, 0}},
		Framewise: [][][]float32{{{0.9, 0.1}, {0.3, 0.0}}},
	}
	crit := SEDBCE{FramewiseWeight: 0.5}
	_, grad, err := crit.Compute(out, b, true)
	require.NoError(t, err)

	const h = 1e-3
	numeric := func(v *float32) float64 {
		orig := *v
		*v = orig + h
		up, _, err := crit.Compute(out, b, false)
		require.NoError(t, err)
		*v = orig - h
		down, _, err := crit.Compute(out, b, false)
		require.NoError(t, err)
		*v = orig
		return (up - down) / (2 * h)
	}
	assert.InDelta(t, numeric(&out.Clipwise[0][1]), grad.Clipwise[0][1], 1e-3)
	assert.InDelta(t, numeric(&out.Framewise[0][1][0]), grad.Framewise[0][1][0], 1e-3)
}

func TestSEDBCENeedsSoftTargets(t *testing.T) {
	t.Parallel()

	out := model.Output{Clipwise: [][]float32{{0.3}}, Framewise: [][][]float32{{{0.3}}}}
	_, _, err := SEDBCE{FramewiseWeight: 1}.Compute(out, &dataset.Batch{Targets: [][]float32{{1}}}, false)
	require.Error(t, err)
}

func TestBCEShapeMismatch(t *testing.T) {
	t.Parallel()

	out := model.Output{Clipwise: [][]float32{{0.3, 0.2}}}
	_, _, err := BCE{}.Compute(out, &dataset.Batch{Targets: [][]float32{{1}}}, false)
	require.Error(t, err)
}
