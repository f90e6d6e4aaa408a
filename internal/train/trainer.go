// Package train runs the per-fold training loop with an EMA shadow model,
// plus the criteria, optimizers, schedulers and scores it needs.
package train

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tphakala/birdsed/internal/dataset"
	"github.com/tphakala/birdsed/internal/ema"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/model"
)

// DefaultEMAInterval is the number of batches between shadow updates.
const DefaultEMAInterval = 10

// Config configures a Trainer.
type Config struct {
	Fold        int
	Epochs      int
	EMAInterval int
	MainMetric  string
	F1Threshold float64
	LogDir      string // fold directory for checkpoints
	RunID       string
}

// EpochReport describes one finished epoch.
type EpochReport struct {
	RunID      string
	Fold       int
	Epoch      int
	Train      Scores
	Valid      Scores
	EMA        Scores
	Metrics    map[string]float64 // validation keys plus EMA_ twins
	Best       bool
	BestMetric float64
	LR         float64
	EMAUpdates int
	Batches    int
	Elapsed    time.Duration
}

// Observer receives epoch reports. Observer errors are logged and do not
// stop training.
type Observer interface {
	EpochFinished(ctx context.Context, report *EpochReport) error
}

// Result summarizes a finished fold.
type Result struct {
	BestMetric float64
	BestEpoch  int
	Last       *EpochReport
}

// Trainer optimizes one model for one fold.
type Trainer struct {
	cfg       Config
	model     model.Trainable
	shadow    *ema.Shadow
	opt       Optimizer
	sched     Scheduler
	crit      Criterion
	observers []Observer
}

// New returns a trainer. The shadow must be a fresh copy of m.
func New(cfg Config, m model.Trainable, shadow *ema.Shadow, opt Optimizer, sched Scheduler, crit Criterion, observers ...Observer) (*Trainer, error) {
	if cfg.EMAInterval <= 0 {
		cfg.EMAInterval = DefaultEMAInterval
	}
	if cfg.F1Threshold <= 0 {
		cfg.F1Threshold = DefaultF1Threshold
	}
	if cfg.MainMetric == "" {
		cfg.MainMetric = MetricMAP
	}
	if !slices.Contains(MetricKeys(), cfg.MainMetric) {
		return nil, errors.Newf("unknown main metric %q", cfg.MainMetric).
			Component("train").
			Category(errors.CategoryConfiguration).
			Context("valid", MetricKeys()).
			Build()
	}
	if cfg.Epochs <= 0 {
		return nil, errors.Newf("epochs must be positive, got %d", cfg.Epochs).
			Component("train").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Trainer{cfg: cfg, model: m, shadow: shadow, opt: opt, sched: sched, crit: crit, observers: observers}, nil
}

// Shadow returns the EMA shadow.
func (t *Trainer) Shadow() *ema.Shadow { return t.shadow }

// Fit trains for the configured epochs. With a nil valid loader the train
// loader is used for validation. ctx is checked between batches.
func (t *Trainer) Fit(ctx context.Context, trainLoader, validLoader *dataset.Loader) (*Result, error) {
	if validLoader == nil {
		validLoader = trainLoader
	}
	log := GetLogger().With(logger.Int("fold", t.cfg.Fold))

	res := &Result{BestMetric: math.Inf(-1)}
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		start := time.Now()
		log.Info("epoch started", logger.Int("epoch", epoch), logger.Int("epochs", t.cfg.Epochs))

		trainScores, batches, err := t.trainEpoch(ctx, trainLoader)
		if err != nil {
			return res, err
		}
		valid, err := t.evaluate(ctx, t.model, validLoader)
		if err != nil {
			return res, err
		}
		emaScores, err := t.evaluate(ctx, t.shadow.Model(), validLoader)
		if err != nil {
			return res, err
		}

		metrics := valid.Map("")
		for k, v := range emaScores.Map(EMAPrefix) {
			metrics[k] = v
		}

		report := &EpochReport{
			RunID:      t.cfg.RunID,
			Fold:       t.cfg.Fold,
			Epoch:      epoch,
			Train:      trainScores,
			Valid:      valid,
			EMA:        emaScores,
			Metrics:    metrics,
			LR:         t.opt.LR(),
			EMAUpdates: t.shadow.NAveraged(),
			Batches:    batches,
		}

		if main := metrics[t.cfg.MainMetric]; main > res.BestMetric {
			if err := t.save(BestCheckpoint, t.model, epoch, main); err != nil {
				return res, err
			}
			res.BestMetric = main
			res.BestEpoch = epoch
			report.Best = true
		}
		if err := t.save(EMACheckpoint, t.shadow.Model(), epoch, metrics[EMAPrefix+strings.TrimPrefix(t.cfg.MainMetric, EMAPrefix)]); err != nil {
			return res, err
		}

		report.BestMetric = res.BestMetric
		report.Elapsed = time.Since(start)
		res.Last = report

		log.Info("epoch finished",
			logger.Int("epoch", epoch),
			logger.Float64("train_loss", trainScores.Loss),
			logger.Float64("train_mAP", trainScores.MAP),
			logger.Float64("loss", valid.Loss),
			logger.Float64("mAP", valid.MAP),
			logger.Float64("classwise_f1", valid.ClasswiseF1),
			logger.Float64("sample_f1", valid.SampleF1),
			logger.Float64("EMA_loss", emaScores.Loss),
			logger.Float64("EMA_mAP", emaScores.MAP),
			logger.Float64("EMA_classwise_f1", emaScores.ClasswiseF1),
			logger.Float64("EMA_sample_f1", emaScores.SampleF1),
			logger.Bool("best", report.Best),
			logger.Float64("lr", report.LR),
			logger.Duration("elapsed", report.Elapsed))

		for _, o := range t.observers {
			if err := o.EpochFinished(ctx, report); err != nil {
				log.Warn("epoch observer failed", logger.Error(err))
			}
		}
	}
	return res, nil
}

// trainEpoch runs one optimization pass, updates the shadow every
// EMAInterval batches, refreshes the shadow's normalization statistics and
// steps the scheduler.
func (t *Trainer) trainEpoch(ctx context.Context, loader *dataset.Loader) (Scores, int, error) {
	t.model.SetTraining(true)
	numBatches := float64(loader.Len())

	var avgLoss float64
	var preds, truth [][]float32
	cnt := t.cfg.EMAInterval
	batches := 0
	for b, err := range loader.Batches(ctx) {
		if err != nil {
			return Scores{}, batches, err
		}

		t.model.ZeroGrad()
		pass, err := t.model.Forward(b.Waveforms)
		if err != nil {
			return Scores{}, batches, err
		}
		loss, grad, err := t.crit.Compute(pass.Output, b, true)
		if err != nil {
			return Scores{}, batches, err
		}
		if err := t.model.Backward(pass, *grad); err != nil {
			return Scores{}, batches, err
		}
		t.opt.Step(t.model.Parameters())

		avgLoss += loss / numBatches
		batches++
		cnt--
		if cnt == 0 {
			if err := t.shadow.Update(t.model); err != nil {
				return Scores{}, batches, err
			}
			cnt = t.cfg.EMAInterval
		}

		preds = append(preds, pass.Output.Clipwise...)
		truth = append(truth, b.Targets...)
	}
	if batches == 0 {
		return Scores{}, 0, errors.Newf("training loader produced no batches").
			Component("train").
			Category(errors.CategoryDataset).
			Build()
	}

	if err := t.shadow.RefreshNorm(ctx, loader); err != nil {
		return Scores{}, batches, fmt.Errorf("refreshing shadow normalization: %w", err)
	}
	t.sched.Step()

	return Score(avgLoss, truth, preds, t.cfg.F1Threshold), batches, nil
}

// evaluate scores m on loader without touching its parameters.
func (t *Trainer) evaluate(ctx context.Context, m model.Trainable, loader *dataset.Loader) (Scores, error) {
	wasTraining := m.Training()
	m.SetTraining(false)
	defer m.SetTraining(wasTraining)

	numBatches := float64(loader.Len())
	var avgLoss float64
	var preds, truth [][]float32
	for b, err := range loader.Batches(ctx) {
		if err != nil {
			return Scores{}, err
		}
		out, err := m.Predict(b.Waveforms)
		if err != nil {
			return Scores{}, err
		}
		loss, _, err := t.crit.Compute(out, b, false)
		if err != nil {
			return Scores{}, err
		}
		avgLoss += loss / numBatches
		preds = append(preds, out.Clipwise...)
		truth = append(truth, b.Targets...)
	}
	return Score(avgLoss, truth, preds, t.cfg.F1Threshold), nil
}

func (t *Trainer) save(name string, m model.Trainable, epoch int, metric float64) error {
	path := filepath.Join(t.cfg.LogDir, name)
	if err := SaveCheckpoint(path, NewCheckpoint(m, epoch, metric, t.cfg.RunID)); err != nil {
		return err
	}
	GetLogger().Debug("saved checkpoint",
		logger.String("path", path),
		logger.Int("epoch", epoch),
		logger.Float64("metric", metric))
	return nil
}
