package train

import "math"

// Scheduler tags.
const (
	SchedulerCosine = "cosine"
	SchedulerStep   = "step"
	SchedulerNone   = "none"
)

// Scheduler adjusts the optimizer learning rate once per epoch.
type Scheduler interface {
	Step()
	LR() float64
}

// CosineAnnealing follows lr = eta_min + (base - eta_min) * (1 + cos(pi * t / T)) / 2.
type CosineAnnealing struct {
	opt    Optimizer
	base   float64
	tMax   int
	etaMin float64
	epoch  int
}

// NewCosineAnnealing binds a cosine schedule to opt, starting from its
// current learning rate.
func NewCosineAnnealing(opt Optimizer, tMax int, etaMin float64) *CosineAnnealing {
	return &CosineAnnealing{opt: opt, base: opt.LR(), tMax: max(tMax, 1), etaMin: etaMin}
}

func (s *CosineAnnealing) Step() {
	s.epoch++
	lr := s.etaMin + (s.base-s.etaMin)*(1+math.Cos(math.Pi*float64(s.epoch)/float64(s.tMax)))/2
	s.opt.SetLR(lr)
}

func (s *CosineAnnealing) LR() float64 { return s.opt.LR() }

// StepDecay multiplies the learning rate by gamma every stepSize epochs.
type StepDecay struct {
	opt      Optimizer
	base     float64
	stepSize int
	gamma    float64
	epoch    int
}

// NewStepDecay binds a step schedule to opt.
func NewStepDecay(opt Optimizer, stepSize int, gamma float64) *StepDecay {
	return &StepDecay{opt: opt, base: opt.LR(), stepSize: max(stepSize, 1), gamma: gamma}
}

func (s *StepDecay) Step() {
	s.epoch++
	s.opt.SetLR(s.base * math.Pow(s.gamma, float64(s.epoch/s.stepSize)))
}

func (s *StepDecay) LR() float64 { return s.opt.LR() }

// Constant leaves the learning rate alone.
type Constant struct{ opt Optimizer }

// NewConstant returns a scheduler that never changes opt.
func NewConstant(opt Optimizer) *Constant { return &Constant{opt: opt} }

func (s *Constant) Step()       {}
func (s *Constant) LR() float64 { return s.opt.LR() }
