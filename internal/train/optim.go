package train

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tphakala/birdsed/internal/model"
)

// Optimizer tags.
const (
	OptimizerSGD  = "sgd"
	OptimizerAdam = "adam"
)

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step(params []*model.Param)
	LR() float64
	SetLR(lr float64)
}

// SGDConfig configures SGD.
type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
}

// SGD is stochastic gradient descent with optional momentum and L2 weight
// decay.
type SGD struct {
	cfg      SGDConfig
	velocity map[*model.Param][]float64
}

// NewSGD returns an SGD optimizer.
func NewSGD(cfg SGDConfig) *SGD {
	return &SGD{cfg: cfg, velocity: make(map[*model.Param][]float64)}
}

func (o *SGD) LR() float64      { return o.cfg.LR }
func (o *SGD) SetLR(lr float64) { o.cfg.LR = lr }

// Step applies one update.
func (o *SGD) Step(params []*model.Param) {
	for _, p := range params {
		g := decayed(p, o.cfg.WeightDecay)
		if o.cfg.Momentum != 0 {
			buf, ok := o.velocity[p]
			if !ok {
				buf = append([]float64(nil), g...)
				o.velocity[p] = buf
			} else {
				floats.Scale(o.cfg.Momentum, buf)
				floats.Add(buf, g)
			}
			g = buf
		}
		floats.AddScaled(p.Value, -o.cfg.LR, g)
	}
}

// AdamConfig configures Adam.
type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
}

// Adam implements the Adam optimizer with bias correction.
type Adam struct {
	cfg   AdamConfig
	steps int
	m     map[*model.Param][]float64
	v     map[*model.Param][]float64
}

// NewAdam returns an Adam optimizer. Zero betas and eps take the usual
// defaults.
func NewAdam(cfg AdamConfig) *Adam {
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	return &Adam{cfg: cfg, m: make(map[*model.Param][]float64), v: make(map[*model.Param][]float64)}
}

func (o *Adam) LR() float64      { return o.cfg.LR }
func (o *Adam) SetLR(lr float64) { o.cfg.LR = lr }

// Step applies one update.
func (o *Adam) Step(params []*model.Param) {
	o.steps++
	c1 := 1 - math.Pow(o.cfg.Beta1, float64(o.steps))
	c2 := 1 - math.Pow(o.cfg.Beta2, float64(o.steps))

	for _, p := range params {
		g := decayed(p, o.cfg.WeightDecay)
		m, ok := o.m[p]
		if !ok {
			m = make([]float64, len(p.Value))
			o.m[p] = m
			o.v[p] = make([]float64, len(p.Value))
		}
		v := o.v[p]
		for i, gi := range g {
			m[i] = o.cfg.Beta1*m[i] + (1-o.cfg.Beta1)*gi
			v[i] = o.cfg.Beta2*v[i] + (1-o.cfg.Beta2)*gi*gi
			p.Value[i] -= o.cfg.LR * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.cfg.Eps)
		}
	}
}

// decayed returns the gradient with L2 weight decay applied.
func decayed(p *model.Param, wd float64) []float64 {
	if wd == 0 {
		return p.Grad
	}
	g := append([]float64(nil), p.Grad...)
	floats.AddScaled(g, wd, p.Value)
	return g
}
