// Package experiment resolves configured component tags into constructors
// and runs the training, soft-label, discovery and detection pipelines.
package experiment

import (
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/birdsed/internal/catalog"
	"github.com/tphakala/birdsed/internal/conf"
	"github.com/tphakala/birdsed/internal/dataset"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/metadata"
	"github.com/tphakala/birdsed/internal/model"
	"github.com/tphakala/birdsed/internal/model/tflite"
	"github.com/tphakala/birdsed/internal/softlabel"
	"github.com/tphakala/birdsed/internal/split"
	"github.com/tphakala/birdsed/internal/train"
)

// modelEntry builds a network for a registered architecture. newTrainable
// is nil for inference-only architectures.
type modelEntry struct {
	newTrainable func(s *conf.Settings, classes int, seed uint64) (model.Trainable, error)
	load         func(s *conf.Settings, classes int, path string) (model.Model, error)
}

var models = map[string]modelEntry{
	model.ArchLinearSED: {newTrainable: newLinearSED, load: loadLinearSED},
	tflite.ArchTFLite:   {load: loadTFLite},
}

var criteria = map[string]func(s *conf.Settings) train.Criterion{
	train.CriterionBCE:    func(*conf.Settings) train.Criterion { return train.BCE{} },
	train.CriterionSEDBCE: func(s *conf.Settings) train.Criterion { return train.SEDBCE{FramewiseWeight: s.Criterion.FramewiseWeight} },
}

var optimizers = map[string]func(s *conf.Settings) train.Optimizer{
	train.OptimizerSGD: func(s *conf.Settings) train.Optimizer {
		return train.NewSGD(train.SGDConfig{
			LR:          s.Optimizer.LR,
			Momentum:    s.Optimizer.Momentum,
			WeightDecay: s.Optimizer.WeightDecay,
		})
	},
	train.OptimizerAdam: func(s *conf.Settings) train.Optimizer {
		return train.NewAdam(train.AdamConfig{
			LR:          s.Optimizer.LR,
			Beta1:       s.Optimizer.Beta1,
			Beta2:       s.Optimizer.Beta2,
			Eps:         s.Optimizer.Eps,
			WeightDecay: s.Optimizer.WeightDecay,
		})
	},
}

var schedulers = map[string]func(s *conf.Settings, opt train.Optimizer) train.Scheduler{
	train.SchedulerCosine: func(s *conf.Settings, opt train.Optimizer) train.Scheduler {
		return train.NewCosineAnnealing(opt, s.Scheduler.TMax, s.Scheduler.EtaMin)
	},
	train.SchedulerStep: func(s *conf.Settings, opt train.Optimizer) train.Scheduler {
		return train.NewStepDecay(opt, s.Scheduler.StepSize, s.Scheduler.Gamma)
	},
	train.SchedulerNone: func(_ *conf.Settings, opt train.Optimizer) train.Scheduler {
		return train.NewConstant(opt)
	},
}

// DatasetFactory builds a dataset over records for one fold.
type DatasetFactory func(records []*metadata.ClipRecord, seed uint64) (dataset.Dataset, error)

type datasetEntry func(s *conf.Settings, cat catalog.Resolver, labels dataset.SoftLabels, read dataset.AudioReader) DatasetFactory

var datasets = map[string]datasetEntry{
	dataset.NameLabelCorrection: func(s *conf.Settings, cat catalog.Resolver, labels dataset.SoftLabels, read dataset.AudioReader) DatasetFactory {
		return func(records []*metadata.ClipRecord, seed uint64) (dataset.Dataset, error) {
			return dataset.NewLabelCorrection(records, cat, labels, read, dataset.LabelCorrectionConfig{
				AudioRoot:         s.Audio.Root,
				SampleRate:        s.Audio.SampleRate,
				Period:            s.Dataset.Period,
				NSegments:         s.Dataset.NSegments,
				Threshold:         s.Dataset.Threshold,
				IncludeBackground: s.Data.IncludeBackground,
				Seed:              seed,
			})
		}
	},
	dataset.NameClip: func(s *conf.Settings, cat catalog.Resolver, _ dataset.SoftLabels, read dataset.AudioReader) DatasetFactory {
		return func(records []*metadata.ClipRecord, seed uint64) (dataset.Dataset, error) {
			return dataset.NewClip(records, cat, read, dataset.ClipConfig{
				AudioRoot:         s.Audio.Root,
				SampleRate:        s.Audio.SampleRate,
				Period:            s.Dataset.Period,
				IncludeBackground: s.Data.IncludeBackground,
				Seed:              seed,
			})
		}
	},
}

var splitters = map[string]func(s *conf.Settings) split.Splitter{
	split.NameKFold: func(s *conf.Settings) split.Splitter {
		return split.KFold{K: s.Split.NSplits, Shuffle: true, Seed: s.Main.Seed}
	},
	split.NameStratifiedKFold: func(s *conf.Settings) split.Splitter {
		return split.StratifiedKFold{K: s.Split.NSplits, Seed: s.Main.Seed}
	},
}

// Components holds the constructors selected by a configuration.
type Components struct {
	Settings *conf.Settings
	Catalog  catalog.Resolver
	Labels   *softlabel.Store
	Read     dataset.AudioReader

	model     modelEntry
	criterion train.Criterion
	optimizer func(s *conf.Settings) train.Optimizer
	scheduler func(s *conf.Settings, opt train.Optimizer) train.Scheduler
	dataset   DatasetFactory
	splitter  split.Splitter
}

// Resolve looks up every configured tag. Unknown tags are reported as
// not-implemented errors and incompatible combinations as configuration
// errors, before any audio or label file is touched.
func Resolve(s *conf.Settings, cat catalog.Resolver) (*Components, error) {
	m, ok := models[s.Model.Arch]
	if !ok {
		return nil, errors.NotImplemented("model", s.Model.Arch)
	}
	crit, ok := criteria[s.Criterion.Name]
	if !ok {
		return nil, errors.NotImplemented("criterion", s.Criterion.Name)
	}
	opt, ok := optimizers[s.Optimizer.Name]
	if !ok {
		return nil, errors.NotImplemented("optimizer", s.Optimizer.Name)
	}
	sched, ok := schedulers[s.Scheduler.Name]
	if !ok {
		return nil, errors.NotImplemented("scheduler", s.Scheduler.Name)
	}
	ds, ok := datasets[s.Dataset.Name]
	if !ok {
		return nil, errors.NotImplemented("dataset", s.Dataset.Name)
	}
	sp, ok := splitters[s.Split.Name]
	if !ok {
		return nil, errors.NotImplemented("splitter", s.Split.Name)
	}

	if s.Criterion.Name == train.CriterionSEDBCE && s.Dataset.Name != dataset.NameLabelCorrection {
		return nil, configError(fmt.Errorf("criterion %s needs framewise soft targets from the %s dataset",
			s.Criterion.Name, dataset.NameLabelCorrection))
	}
	if s.Criterion.Name == train.CriterionSEDBCE && s.Model.Arch == model.ArchLinearSED {
		frames := linearConfig(s, cat.Size(), 0).FramesFor(s.Dataset.Period)
		if frames != s.Dataset.NSegments {
			return nil, configError(fmt.Errorf("%s emits %d frames per %g s crop, dataset expects %d segments",
				model.ArchLinearSED, frames, s.Dataset.Period, s.Dataset.NSegments))
		}
	}

	labels := softlabel.NewStore(s.Data.SoftLabelDir, time.Duration(s.Dataset.CacheTTL)*time.Minute)
	read := dataset.ReadAudio

	return &Components{
		Settings:  s,
		Catalog:   cat,
		Labels:    labels,
		Read:      read,
		model:     m,
		criterion: crit(s),
		optimizer: opt,
		scheduler: sched,
		dataset:   ds(s, cat, labels, read),
		splitter:  sp(s),
	}, nil
}

// Registered lists the tags known for kind, sorted. Unknown kinds yield nil.
func Registered(kind string) []string {
	var keys []string
	switch kind {
	case "model":
		keys = mapKeys(models)
	case "criterion":
		keys = mapKeys(criteria)
	case "optimizer":
		keys = mapKeys(optimizers)
	case "scheduler":
		keys = mapKeys(schedulers)
	case "dataset":
		keys = mapKeys(datasets)
	case "splitter":
		keys = mapKeys(splitters)
	}
	slices.Sort(keys)
	return keys
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Trainable reports whether the configured architecture can be trained.
func (c *Components) Trainable() bool { return c.model.newTrainable != nil }

// NewModel returns a freshly initialized trainable network.
func (c *Components) NewModel(seed uint64) (model.Trainable, error) {
	if c.model.newTrainable == nil {
		return nil, configError(fmt.Errorf("architecture %s is inference only", c.Settings.Model.Arch))
	}
	return c.model.newTrainable(c.Settings, c.Catalog.Size(), seed)
}

// LoadModel loads one ensemble member from path.
func (c *Components) LoadModel(path string) (model.Model, error) {
	return c.model.load(c.Settings, c.Catalog.Size(), path)
}

// Criterion returns the configured loss.
func (c *Components) Criterion() train.Criterion { return c.criterion }

// NewOptimizer returns a fresh optimizer.
func (c *Components) NewOptimizer() train.Optimizer { return c.optimizer(c.Settings) }

// NewScheduler returns a fresh schedule driving opt.
func (c *Components) NewScheduler(opt train.Optimizer) train.Scheduler {
	return c.scheduler(c.Settings, opt)
}

// NewDataset builds the configured dataset over records.
func (c *Components) NewDataset(records []*metadata.ClipRecord, seed uint64) (dataset.Dataset, error) {
	return c.dataset(records, seed)
}

// Splitter returns the configured fold splitter.
func (c *Components) Splitter() split.Splitter { return c.splitter }

func linearConfig(s *conf.Settings, classes int, seed uint64) model.LinearConfig {
	return model.LinearConfig{
		SampleRate: s.Audio.SampleRate,
		FrameHop:   s.Model.FrameHop,
		Bands:      s.Model.Bands,
		NumClasses: classes,
		Seed:       seed,
	}
}

func newLinearSED(s *conf.Settings, classes int, seed uint64) (model.Trainable, error) {
	return model.NewLinearSED(linearConfig(s, classes, seed))
}

func loadLinearSED(s *conf.Settings, classes int, path string) (model.Model, error) {
	m, err := model.NewLinearSED(linearConfig(s, classes, 0))
	if err != nil {
		return nil, err
	}
	ck, err := train.LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := ck.Restore(m); err != nil {
		return nil, err
	}
	m.SetTraining(false)
	return m, nil
}

func loadTFLite(s *conf.Settings, classes int, path string) (model.Model, error) {
	m, err := tflite.New(tflite.Options{
		ModelPath:  path,
		Threads:    s.Model.Threads,
		UseXNNPACK: s.Model.UseXNNPACK,
	})
	if err != nil {
		return nil, err
	}
	want := int(float64(s.Audio.SampleRate) * s.Inference.Period)
	if m.NumClasses() != classes || m.InputSamples() != want {
		_ = m.Close()
		return nil, configError(fmt.Errorf("model %s takes %d samples and emits %d classes, expected %d and %d",
			path, m.InputSamples(), m.NumClasses(), want, classes))
	}
	return m, nil
}

func configError(err error) error {
	return errors.New(err).
		Component("experiment").
		Category(errors.CategoryConfiguration).
		Build()
}
