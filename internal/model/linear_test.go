package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() LinearConfig {
	return LinearConfig{SampleRate: 1000, FrameHop: 0.05, Bands: 4, NumClasses: 3, Seed: 7}
}

func noise(n int, seed float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3*math.Sin(seed*float64(i)) + 0.1*math.Cos(3.7*seed*float64(i*i%97)))
	}
	return out
}

func testBatch() [][]float32 {
	return [][]float32{noise(1000, 0.31), noise(1000, 1.7)}
}

func TestLinearSEDOutputShapes(t *testing.T) {
	t.Parallel()

	m, err := NewLinearSED(testConfig())
	require.NoError(t, err)
	m.SetTraining(false)

	out, err := m.Predict(testBatch())
	require.NoError(t, err)

	require.Len(t, out.Clipwise, 2)
	require.Len(t, out.Framewise, 2)
	assert.Len(t, out.Framewise[0], 20) // 1 s at 50 ms per frame
	assert.Equal(t, 20, testConfig().FramesFor(1))
	assert.Equal(t, 600, LinearConfig{SampleRate: 32000, FrameHop: 0.05}.FramesFor(30))

	for b := range out.Framewise {
		for c := range 3 {
			var mean float64
			for _, row := range out.Framewise[b] {
				assert.GreaterOrEqual(t, row[c], float32(0))
				assert.LessOrEqual(t, row[c], float32(1))
				mean += float64(row[c])
			}
			mean /= float64(len(out.Framewise[b]))
			assert.InDelta(t, mean, out.Clipwise[b][c], 1e-6)
		}
	}

	seg, err := out.Timewise(OutputSegmentwise)
	require.NoError(t, err)
	assert.Equal(t, out.Framewise, seg)
	_, err = out.Timewise("clipwise")
	assert.Error(t, err)
}

func TestLinearSEDRejectsBadInput(t *testing.T) {
	t.Parallel()

	m, err := NewLinearSED(testConfig())
	require.NoError(t, err)

	_, err = m.Predict(nil)
	assert.Error(t, err)
	_, err = m.Predict([][]float32{make([]float32, 10)})
	assert.Error(t, err)
	_, err = m.Predict([][]float32{make([]float32, 100), make([]float32, 200)})
	assert.Error(t, err)

	_, err = NewLinearSED(LinearConfig{SampleRate: 1000, FrameHop: 0.05, Bands: 0, NumClasses: 3})
	assert.Error(t, err)
}

func TestLinearSEDGradientMatchesFiniteDifference(t *testing.T) {
	t.Parallel()

	m, err := NewLinearSED(testConfig())
	require.NoError(t, err)
	m.SetTraining(false)
	batch := testBatch()

	// L = sum of clipwise outputs + sum of framewise outputs of item 0
	loss := func() float64 {
		out, err := m.Predict(batch)
		require.NoError(t, err)
		var l float64
		for b := range out.Clipwise {
			for _, v := range out.Clipwise[b] {
				l += float64(v)
			}
		}
		for _, row := range out.Framewise[0] {
			for _, v := range row {
				l += float64(v)
			}
		}
		return l
	}

	pass, err := m.Forward(batch)
	require.NoError(t, err)
	grad := OutputGrad{
		Clipwise:  [][]float64{{1, 1, 1}, {1, 1, 1}},
		Framewise: make([][][]float64, 2),
	}
	for b := range 2 {
		grad.Framewise[b] = make([][]float64, 20)
		for f := range 20 {
			grad.Framewise[b][f] = make([]float64, 3)
			if b == 0 {
				grad.Framewise[b][f] = []float64{1, 1, 1}
			}
		}
	}
	m.ZeroGrad()
	require.NoError(t, m.Backward(pass, grad))

	const h = 1e-3
	for _, p := range m.Parameters() {
		for i := range p.Value {
			orig := p.Value[i]
			p.Value[i] = orig + h
			up := loss()
			p.Value[i] = orig - h
			down := loss()
			p.Value[i] = orig
			numeric := (up - down) / (2 * h)
			assert.InDelta(t, numeric, p.Grad[i], 2e-3, "%s[%d]", p.Name, i)
		}
	}
}

func TestLinearSEDBackwardNeedsForward(t *testing.T) {
	t.Parallel()

	m, err := NewLinearSED(testConfig())
	require.NoError(t, err)
	assert.Error(t, m.Backward(&Pass{}, OutputGrad{}))
}

func TestLinearSEDCloneIsIndependent(t *testing.T) {
	t.Parallel()

	m, err := NewLinearSED(testConfig())
	require.NoError(t, err)
	c := m.Clone()

	for i, p := range c.Parameters() {
		assert.Equal(t, m.Parameters()[i].Value, p.Value)
		p.Value[0] += 1
		assert.NotEqual(t, m.Parameters()[i].Value[0], p.Value[0])
	}
	c.NormLayers()[0].RunningMean[0] = 42
	assert.NotEqual(t, 42.0, m.NormLayers()[0].RunningMean[0])
}

func TestLinearSEDStateDictRoundTrip(t *testing.T) {
	t.Parallel()

	a, err := NewLinearSED(testConfig())
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Seed = 99
	b, err := NewLinearSED(cfg)
	require.NoError(t, err)

	require.NoError(t, b.LoadStateDict(a.StateDict()))
	assert.Equal(t, a.StateDict(), b.StateDict())

	state := a.StateDict()
	delete(state, "fc.bias")
	assert.Error(t, b.LoadStateDict(state))

	state = a.StateDict()
	state["fc.weight"] = state["fc.weight"][:2]
	assert.Error(t, b.LoadStateDict(state))
}

func TestNormLayerTracking(t *testing.T) {
	t.Parallel()

	n := &NormLayer{RunningMean: make([]float64, 1), RunningVar: make([]float64, 1), Momentum: 0.1}
	n.ResetRunningStats()
	assert.Equal(t, []float64{1}, n.RunningVar)

	n.track([]float64{2}, []float64{4})
	assert.InDelta(t, 0.2, n.RunningMean[0], 1e-12)
	assert.InDelta(t, 1.3, n.RunningVar[0], 1e-12)

	n.ResetRunningStats()
	n.Cumulative = true
	n.track([]float64{2}, []float64{4})
	n.track([]float64{4}, []float64{2})
	assert.InDelta(t, 3, n.RunningMean[0], 1e-12)
	assert.InDelta(t, 3, n.RunningVar[0], 1e-12)
	assert.Equal(t, 2, n.NumBatchesTracked)
}

func TestLinearSEDTrainingModeUpdatesRunningStats(t *testing.T) {
	t.Parallel()

	m, err := NewLinearSED(testConfig())
	require.NoError(t, err)
	norm := m.NormLayers()[0]

	m.SetTraining(false)
	_, err = m.Predict(testBatch())
	require.NoError(t, err)
	assert.Zero(t, norm.NumBatchesTracked)

	m.SetTraining(true)
	_, err = m.Predict(testBatch())
	require.NoError(t, err)
	assert.Equal(t, 1, norm.NumBatchesTracked)
	assert.NotEqual(t, []float64{0, 0, 0, 0}, norm.RunningMean)
}
