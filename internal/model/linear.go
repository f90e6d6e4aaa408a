package model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
)

// ArchLinearSED is the registry tag of LinearSED.
const ArchLinearSED = "linear-sed"

// LinearConfig configures a LinearSED network.
type LinearConfig struct {
	SampleRate int
	FrameHop   float64 // seconds per output frame
	Bands      int
	NumClasses int
	Seed       uint64
}

// FramesFor returns the number of output frames for a waveform of the given
// duration.
func (c LinearConfig) FramesFor(seconds float64) int {
	hop := int(math.Round(c.FrameHop * float64(c.SampleRate)))
	if hop < 1 {
		return 0
	}
	return int(math.Round(seconds*float64(c.SampleRate))) / hop
}

// LinearSED is a small sound event detector: log band energies per frame,
// a normalization layer with running statistics, a per-frame linear
// classifier with sigmoid activation and mean pooling over frames for the
// clip-level output. Its segmentwise output equals the framewise output.
type LinearSED struct {
	cfg      LinearConfig
	features *bandEnergies
	norm     *NormLayer
	gamma    *Param // norm.weight, bands
	beta     *Param // norm.bias, bands
	weight   *Param // fc.weight, classes x bands
	bias     *Param // fc.bias, classes
	training bool
}

type linearCache struct {
	xhat [][][]float64 // batch x frames x bands
	z    [][][]float64
	prob [][][]float64
}

// NewLinearSED returns a randomly initialized network.
func NewLinearSED(cfg LinearConfig) (*LinearSED, error) {
	hop := int(math.Round(cfg.FrameHop * float64(cfg.SampleRate)))
	if hop < 2 || cfg.Bands < 1 || cfg.NumClasses < 1 {
		return nil, errors.Newf("invalid linear-sed config: hop %d samples, %d bands, %d classes", hop, cfg.Bands, cfg.NumClasses).
			Component("model").
			Category(errors.CategoryModelInit).
			Build()
	}

	m := &LinearSED{
		cfg:      cfg,
		features: newBandEnergies(hop, cfg.Bands),
		norm: &NormLayer{
			Name:        "norm",
			RunningMean: make([]float64, cfg.Bands),
			RunningVar:  make([]float64, cfg.Bands),
			Momentum:    0.1,
			Eps:         1e-5,
		},
		gamma:    newParam("norm.weight", cfg.Bands),
		beta:     newParam("norm.bias", cfg.Bands),
		weight:   newParam("fc.weight", cfg.NumClasses*cfg.Bands),
		bias:     newParam("fc.bias", cfg.NumClasses),
		training: true,
	}
	m.norm.ResetRunningStats()

	rng := rand.New(rand.NewPCG(cfg.Seed, 0x5ed))
	for i := range m.gamma.Value {
		m.gamma.Value[i] = 1
	}
	scale := 1 / math.Sqrt(float64(cfg.Bands))
	for i := range m.weight.Value {
		m.weight.Value[i] = rng.NormFloat64() * 0.1 * scale
	}
	for i := range m.bias.Value {
		m.bias.Value[i] = -2
	}

	GetLogger().Debug("initialized linear-sed",
		logger.Int("hop_samples", hop),
		logger.Int("bands", cfg.Bands),
		logger.Int("classes", cfg.NumClasses))
	return m, nil
}

func newParam(name string, n int) *Param {
	return &Param{Name: name, Value: make([]float64, n), Grad: make([]float64, n)}
}

// Config returns the network configuration.
func (m *LinearSED) Config() LinearConfig { return m.cfg }

func (m *LinearSED) Arch() string    { return ArchLinearSED }
func (m *LinearSED) NumClasses() int { return m.cfg.NumClasses }

func (m *LinearSED) Parameters() []*Param {
	return []*Param{m.gamma, m.beta, m.weight, m.bias}
}

func (m *LinearSED) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

func (m *LinearSED) NormLayers() []*NormLayer { return []*NormLayer{m.norm} }

func (m *LinearSED) SetTraining(training bool) { m.training = training }
func (m *LinearSED) Training() bool            { return m.training }

// Predict runs a forward pass without keeping activations. In training mode
// the batch statistics are used and folded into the running statistics.
func (m *LinearSED) Predict(batch [][]float32) (Output, error) {
	pass, err := m.forward(batch, false)
	if err != nil {
		return Output{}, err
	}
	return pass.Output, nil
}

// Forward runs a forward pass and keeps the activations for Backward.
func (m *LinearSED) Forward(batch [][]float32) (*Pass, error) {
	return m.forward(batch, true)
}

func (m *LinearSED) forward(batch [][]float32, keep bool) (*Pass, error) {
	if len(batch) == 0 {
		return nil, m.inferenceError(fmt.Errorf("empty batch"))
	}
	frames := m.features.frames(len(batch[0]))
	if frames == 0 {
		return nil, m.inferenceError(fmt.Errorf("waveform of %d samples is shorter than one frame", len(batch[0])))
	}

	x := make([][][]float64, len(batch))
	for b, wave := range batch {
		if len(wave) != len(batch[0]) {
			return nil, m.inferenceError(fmt.Errorf("batch item %d has %d samples, expected %d", b, len(wave), len(batch[0])))
		}
		x[b] = m.features.compute(wave)
	}

	bands := m.cfg.Bands
	mean, variance := m.norm.RunningMean, m.norm.RunningVar
	if m.training {
		mean, variance = batchMoments(x, bands)
		n := float64(len(batch) * frames)
		unbiased := slices.Clone(variance)
		if n > 1 {
			floats.Scale(n/(n-1), unbiased)
		}
		m.norm.track(mean, unbiased)
	}

	invStd := make([]float64, bands)
	for k := range bands {
		invStd[k] = 1 / math.Sqrt(variance[k]+m.norm.Eps)
	}

	classes := m.cfg.NumClasses
	cache := &linearCache{}
	out := Output{
		Clipwise:  make([][]float32, len(batch)),
		Framewise: make([][][]float32, len(batch)),
	}
	if keep {
		cache.xhat = make([][][]float64, len(batch))
		cache.z = make([][][]float64, len(batch))
		cache.prob = make([][][]float64, len(batch))
	}

	for b := range batch {
		clip := make([]float64, classes)
		out.Framewise[b] = make([][]float32, frames)
		if keep {
			cache.xhat[b] = make([][]float64, frames)
			cache.z[b] = make([][]float64, frames)
			cache.prob[b] = make([][]float64, frames)
		}
		for t := range frames {
			xhat := make([]float64, bands)
			z := make([]float64, bands)
			for k := range bands {
				xhat[k] = (x[b][t][k] - mean[k]) * invStd[k]
				z[k] = m.gamma.Value[k]*xhat[k] + m.beta.Value[k]
			}
			prob := make([]float64, classes)
			row := make([]float32, classes)
			for c := range classes {
				logit := floats.Dot(m.weight.Value[c*bands:(c+1)*bands], z) + m.bias.Value[c]
				prob[c] = sigmoid(logit)
				row[c] = float32(prob[c])
				clip[c] += prob[c]
			}
			out.Framewise[b][t] = row
			if keep {
				cache.xhat[b][t] = xhat
				cache.z[b][t] = z
				cache.prob[b][t] = prob
			}
		}
		out.Clipwise[b] = make([]float32, classes)
		for c := range classes {
			out.Clipwise[b][c] = float32(clip[c] / float64(frames))
		}
	}
	out.Segmentwise = out.Framewise

	return &Pass{Output: out, cache: cache}, nil
}

// Backward accumulates parameter gradients for the given output gradients.
// The normalization statistics are treated as constants.
func (m *LinearSED) Backward(pass *Pass, grad OutputGrad) error {
	cache, ok := pass.cache.(*linearCache)
	if !ok || cache.prob == nil {
		return errors.Newf("backward called without a training forward pass").
			Component("model").
			Category(errors.CategoryTraining).
			Build()
	}

	bands, classes := m.cfg.Bands, m.cfg.NumClasses
	dz := make([]float64, bands)
	for b := range cache.prob {
		frames := len(cache.prob[b])
		for t := range frames {
			clear(dz)
			for c := range classes {
				var dp float64
				if grad.Clipwise != nil {
					dp += grad.Clipwise[b][c] / float64(frames)
				}
				if grad.Framewise != nil {
					dp += grad.Framewise[b][t][c]
				}
				if dp == 0 {
					continue
				}
				p := cache.prob[b][t][c]
				dlogit := dp * p * (1 - p)

				w := m.weight.Value[c*bands : (c+1)*bands]
				floats.AddScaled(m.weight.Grad[c*bands:(c+1)*bands], dlogit, cache.z[b][t])
				m.bias.Grad[c] += dlogit
				floats.AddScaled(dz, dlogit, w)
			}
			for k := range bands {
				m.gamma.Grad[k] += dz[k] * cache.xhat[b][t][k]
				m.beta.Grad[k] += dz[k]
			}
		}
	}
	return nil
}

// Clone returns a deep copy sharing no buffers with m.
func (m *LinearSED) Clone() Trainable {
	c := &LinearSED{
		cfg:      m.cfg,
		features: newBandEnergies(m.features.hop, m.cfg.Bands),
		norm:     m.norm.clone(),
		gamma:    cloneParam(m.gamma),
		beta:     cloneParam(m.beta),
		weight:   cloneParam(m.weight),
		bias:     cloneParam(m.bias),
		training: m.training,
	}
	return c
}

func cloneParam(p *Param) *Param {
	return &Param{Name: p.Name, Value: slices.Clone(p.Value), Grad: make([]float64, len(p.Grad))}
}

// StateDict returns copies of the parameters and running statistics.
func (m *LinearSED) StateDict() map[string][]float64 {
	state := make(map[string][]float64, 6)
	for _, p := range m.Parameters() {
		state[p.Name] = slices.Clone(p.Value)
	}
	state["norm.running_mean"] = slices.Clone(m.norm.RunningMean)
	state["norm.running_var"] = slices.Clone(m.norm.RunningVar)
	return state
}

// LoadStateDict replaces parameters and running statistics. Every key must
// be present with the expected length.
func (m *LinearSED) LoadStateDict(state map[string][]float64) error {
	targets := map[string][]float64{
		"norm.running_mean": m.norm.RunningMean,
		"norm.running_var":  m.norm.RunningVar,
	}
	for _, p := range m.Parameters() {
		targets[p.Name] = p.Value
	}
	for name, dst := range targets {
		src, ok := state[name]
		if !ok {
			return m.stateError(fmt.Errorf("missing key %q", name))
		}
		if len(src) != len(dst) {
			return m.stateError(fmt.Errorf("key %q has %d values, expected %d", name, len(src), len(dst)))
		}
	}
	for name, dst := range targets {
		copy(dst, state[name])
	}
	return nil
}

func (m *LinearSED) inferenceError(err error) error {
	return errors.New(err).
		Component("model").
		Category(errors.CategoryInference).
		Context("arch", ArchLinearSED).
		Build()
}

func (m *LinearSED) stateError(err error) error {
	return errors.New(err).
		Component("model").
		Category(errors.CategoryCheckpoint).
		Context("arch", ArchLinearSED).
		Build()
}

// batchMoments returns the per-band mean and biased variance over all
// items and frames.
func batchMoments(x [][][]float64, bands int) (mean, variance []float64) {
	mean = make([]float64, bands)
	variance = make([]float64, bands)
	var n float64
	for _, item := range x {
		for _, row := range item {
			floats.Add(mean, row)
			n++
		}
	}
	floats.Scale(1/n, mean)
	for _, item := range x {
		for _, row := range item {
			for k, v := range row {
				d := v - mean[k]
				variance[k] += d * d
			}
		}
	}
	floats.Scale(1/n, variance)
	return mean, variance
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
