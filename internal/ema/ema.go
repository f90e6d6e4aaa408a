// Package ema keeps an averaged copy of a model's weights during training.
package ema

import (
	"context"
	"fmt"
	"iter"

	"gonum.org/v1/gonum/floats"

	"github.com/tphakala/birdsed/internal/dataset"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/model"
)

// Averaging modes.
const (
	ModeMean        = "mean"
	ModeExponential = "exponential"
)

// Options configures a Shadow.
type Options struct {
	Mode  string  // ModeMean or ModeExponential, empty means ModeMean
	Decay float64 // weight of the shadow in exponential mode
}

// Shadow is a deep copy of a live model whose parameters follow a running
// average of the live parameters. It never shares buffers with the live
// model.
type Shadow struct {
	model     model.Trainable
	opts      Options
	nAveraged int
}

// New clones live into a fresh shadow.
func New(live model.Trainable, opts Options) (*Shadow, error) {
	switch opts.Mode {
	case "":
		opts.Mode = ModeMean
	case ModeMean:
	case ModeExponential:
		if opts.Decay < 0 || opts.Decay >= 1 {
			return nil, errors.Newf("ema decay must be in [0, 1), got %g", opts.Decay).
				Component("ema").
				Category(errors.CategoryConfiguration).
				Build()
		}
	default:
		return nil, errors.NotImplemented("ema averaging mode", opts.Mode)
	}
	return &Shadow{model: live.Clone(), opts: opts}, nil
}

// Model returns the averaged model.
func (s *Shadow) Model() model.Trainable { return s.model }

// NAveraged returns the number of updates applied so far.
func (s *Shadow) NAveraged() int { return s.nAveraged }

// Update folds the current live parameters into the shadow. The first
// update copies them exactly.
func (s *Shadow) Update(live model.Trainable) error {
	dst := s.model.Parameters()
	src := live.Parameters()
	if len(dst) != len(src) {
		return mismatch(fmt.Errorf("shadow has %d parameters, live model has %d", len(dst), len(src)))
	}
	for i, p := range dst {
		if len(p.Value) != len(src[i].Value) {
			return mismatch(fmt.Errorf("parameter %s has %d values, live model has %d", p.Name, len(p.Value), len(src[i].Value)))
		}
	}

	for i, p := range dst {
		live := src[i].Value
		switch {
		case s.nAveraged == 0:
			copy(p.Value, live)
		case s.opts.Mode == ModeExponential:
			floats.Scale(s.opts.Decay, p.Value)
			floats.AddScaled(p.Value, 1-s.opts.Decay, live)
		default:
			// p += (live - p) / (n + 1)
			w := 1 / float64(s.nAveraged+1)
			floats.Scale(1-w, p.Value)
			floats.AddScaled(p.Value, w, live)
		}
	}
	s.nAveraged++
	return nil
}

// Batches is a source of training batches.
type Batches interface {
	Batches(ctx context.Context) iter.Seq2[*dataset.Batch, error]
}

// RefreshNorm re-estimates the shadow's normalization statistics with one
// pass over loader. Running means restart at zero and variances at one,
// every batch counts equally, and the previous momentum and training mode
// are restored afterwards.
func (s *Shadow) RefreshNorm(ctx context.Context, loader Batches) error {
	return RefreshNorm(ctx, s.model, loader)
}

// RefreshNorm re-estimates the normalization statistics of m. Models
// without normalization layers are left untouched.
func RefreshNorm(ctx context.Context, m model.Trainable, loader Batches) error {
	layers := m.NormLayers()
	if len(layers) == 0 {
		return nil
	}

	type saved struct {
		momentum   float64
		cumulative bool
	}
	prev := make([]saved, len(layers))
	for i, l := range layers {
		prev[i] = saved{momentum: l.Momentum, cumulative: l.Cumulative}
		l.ResetRunningStats()
		l.Cumulative = true
	}
	wasTraining := m.Training()
	m.SetTraining(true)

	defer func() {
		for i, l := range layers {
			l.Momentum = prev[i].momentum
			l.Cumulative = prev[i].cumulative
		}
		m.SetTraining(wasTraining)
	}()

	batches := 0
	for b, err := range loader.Batches(ctx) {
		if err != nil {
			return err
		}
		if _, err := m.Predict(b.Waveforms); err != nil {
			return err
		}
		batches++
	}

	GetLogger().Debug("refreshed normalization statistics",
		logger.Int("layers", len(layers)),
		logger.Int("batches", batches))
	return nil
}

func mismatch(err error) error {
	return errors.New(err).
		Component("ema").
		Category(errors.CategoryTraining).
		Build()
}
