// Package model defines the interfaces the pipeline uses to run and train
// SED networks, plus a small trainable reference network.
package model

import (
	"fmt"
	"slices"
)

// Output keys selectable for soft-label generation.
const (
	OutputSegmentwise = "segmentwise"
	OutputFramewise   = "framewise"
)

// Output is the result of one forward pass over a batch of waveforms.
// Probabilities are in [0, 1].
type Output struct {
	Clipwise    [][]float32   // batch x classes
	Framewise   [][][]float32 // batch x frames x classes
	Segmentwise [][][]float32 // batch x segments x classes
}

// Timewise returns the time-resolved output selected by key.
func (o Output) Timewise(key string) ([][][]float32, error) {
	switch key {
	case OutputSegmentwise:
		if o.Segmentwise != nil {
			return o.Segmentwise, nil
		}
		return o.Framewise, nil
	case OutputFramewise:
		return o.Framewise, nil
	default:
		return nil, fmt.Errorf("unknown output key %q", key)
	}
}

// Model maps a batch of equally long waveforms to class probabilities.
type Model interface {
	Predict(batch [][]float32) (Output, error)
	NumClasses() int
}

// Closer is implemented by models holding native resources.
type Closer interface {
	Close() error
}

// Param is one learnable tensor, flattened.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() { clear(p.Grad) }

// NormLayer is a feature normalization layer with running statistics.
// With Cumulative set the running statistics are a plain average over all
// batches seen since the last reset; otherwise they are an exponential
// average with the given Momentum.
type NormLayer struct {
	Name              string
	RunningMean       []float64
	RunningVar        []float64
	Momentum          float64
	Cumulative        bool
	NumBatchesTracked int
	Eps               float64
}

// ResetRunningStats sets the running mean to zero and the variance to one.
func (n *NormLayer) ResetRunningStats() {
	for i := range n.RunningMean {
		n.RunningMean[i] = 0
		n.RunningVar[i] = 1
	}
	n.NumBatchesTracked = 0
}

// track folds one batch's statistics into the running estimates.
func (n *NormLayer) track(mean, variance []float64) {
	n.NumBatchesTracked++
	factor := n.Momentum
	if n.Cumulative {
		factor = 1 / float64(n.NumBatchesTracked)
	}
	for i := range n.RunningMean {
		n.RunningMean[i] = (1-factor)*n.RunningMean[i] + factor*mean[i]
		n.RunningVar[i] = (1-factor)*n.RunningVar[i] + factor*variance[i]
	}
}

func (n *NormLayer) clone() *NormLayer {
	c := *n
	c.RunningMean = slices.Clone(n.RunningMean)
	c.RunningVar = slices.Clone(n.RunningVar)
	return &c
}

// OutputGrad holds loss gradients with respect to the model outputs. Nil
// parts contribute nothing.
type OutputGrad struct {
	Clipwise  [][]float64   // batch x classes
	Framewise [][][]float64 // batch x frames x classes
}

// Pass carries the activations of a training forward pass to Backward.
type Pass struct {
	Output Output
	cache  any
}

// Trainable is a Model the trainer can optimize and the EMA shadow can
// average.
type Trainable interface {
	Model

	Arch() string
	Forward(batch [][]float32) (*Pass, error)
	Backward(pass *Pass, grad OutputGrad) error
	Parameters() []*Param
	ZeroGrad()
	NormLayers() []*NormLayer
	SetTraining(training bool)
	Training() bool
	Clone() Trainable
	StateDict() map[string][]float64
	LoadStateDict(state map[string][]float64) error
}
