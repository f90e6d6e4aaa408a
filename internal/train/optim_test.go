package train

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/birdsed/internal/model"
)

func param(value, grad float64) *model.Param {
	return &model.Param{Name: "w", Value: []float64{value}, Grad: []float64{grad}}
}

func TestSGD(t *testing.T) {
	t.Parallel()

	t.Run("plain", func(t *testing.T) {
		t.Parallel()
		p := param(1, 0.5)
		NewSGD(SGDConfig{LR: 0.1}).Step([]*model.Param{p})
		assert.InDelta(t, 0.95, p.Value[0], 1e-12)
	})

	t.Run("momentum accumulates", func(t *testing.T) {
		t.Parallel()
		p := param(1, 1)
		o := NewSGD(SGDConfig{LR: 0.1, Momentum: 0.9})
		o.Step([]*model.Param{p}) // buf 1
		o.Step([]*model.Param{p}) // buf 1.9
		assert.InDelta(t, 1-0.1-0.19, p.Value[0], 1e-12)
	})

	t.Run("weight decay", func(t *testing.T) {
		t.Parallel()
		p := param(2, 0)
		NewSGD(SGDConfig{LR: 0.1, WeightDecay: 0.5}).Step([]*model.Param{p})
		assert.InDelta(t, 1.9, p.Value[0], 1e-12)
		assert.Zero(t, p.Grad[0], "gradient is not modified")
	})
}

func TestAdamFirstStepMovesByLR(t *testing.T) {
	t.Parallel()

	for _, g := range []float64{0.001, 3, -7} {
		p := param(0, g)
		NewAdam(AdamConfig{LR: 0.01}).Step([]*model.Param{p})
		assert.InDelta(t, -0.01*math.Copysign(1, g), p.Value[0], 1e-6)
	}
}

func TestSchedulers(t *testing.T) {
	t.Parallel()

	t.Run("cosine", func(t *testing.T) {
		t.Parallel()
		opt := NewSGD(SGDConfig{LR: 1})
		s := NewCosineAnnealing(opt, 4, 0)
		want := []float64{0.8535533906, 0.5, 0.1464466094, 0}
		for _, w := range want {
			s.Step()
			assert.InDelta(t, w, s.LR(), 1e-9)
		}
	})

	t.Run("step", func(t *testing.T) {
		t.Parallel()
		opt := NewAdam(AdamConfig{LR: 1})
		s := NewStepDecay(opt, 2, 0.1)
		var got []float64
		for range 4 {
			s.Step()
			got = append(got, s.LR())
		}
		assert.InDeltaSlice(t, []float64{1, 0.1, 0.1, 0.01}, got, 1e-12)
	})

	t.Run("constant", func(t *testing.T) {
		t.Parallel()
		opt := NewSGD(SGDConfig{LR: 0.3})
		s := NewConstant(opt)
		s.Step()
		assert.InDelta(t, 0.3, s.LR(), 1e-12)
	})
}
