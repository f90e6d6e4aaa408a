package experiment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tphakala/birdsed/internal/aggregate"
	"github.com/tphakala/birdsed/internal/detection"
	"github.com/tphakala/birdsed/internal/discovery"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/metadata"
	"github.com/tphakala/birdsed/internal/model"
	"github.com/tphakala/birdsed/internal/model/tflite"
	"github.com/tphakala/birdsed/internal/observability/metrics"
)

// Command names used in logs, metrics and run records.
const (
	CommandTrain     = "train"
	CommandSoftLabel = "softlabel"
	CommandDiscover  = "discover"
	CommandDetect    = "detect"
	CommandPrepare   = "prepare"
)

// Ensemble is a set of loaded models sharing one class count.
type Ensemble []model.Model

// Close releases models holding native resources.
func (e Ensemble) Close() error {
	var errs []error
	for _, m := range e {
		if c, ok := m.(model.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// LoadEnsemble loads every configured inference checkpoint. A tflite
// configuration without checkpoints falls back to model.modelpath.
func LoadEnsemble(comps *Components) (Ensemble, error) {
	s := comps.Settings
	paths := s.Inference.Checkpoints
	if len(paths) == 0 && s.Model.Arch == tflite.ArchTFLite && s.Model.ModelPath != "" {
		paths = []string{s.Model.ModelPath}
	}
	if len(paths) == 0 {
		return nil, configError(fmt.Errorf("inference.checkpoints is empty"))
	}

	ens := make(Ensemble, 0, len(paths))
	for _, p := range paths {
		m, err := comps.LoadModel(p)
		if err != nil {
			_ = ens.Close()
			return nil, err
		}
		ens = append(ens, m)
	}
	GetLogger().Info("ensemble loaded",
		logger.String("arch", s.Model.Arch),
		logger.Int("members", len(ens)))
	return ens, nil
}

func newAggregator(comps *Components, ens Ensemble, output string) (*aggregate.Aggregator, error) {
	s := comps.Settings
	return aggregate.New(aggregate.Config{
		SampleRate: s.Audio.SampleRate,
		Period:     s.Inference.Period,
		BatchSize:  s.Inference.BatchSize,
		OutputKey:  output,
	}, ens...)
}

// clipDuration is the decoded length of the clip. The metadata column is
// rounded to whole seconds and is not rewritten by resampling, so it only
// serves as a consistency check.
func clipDuration(r *metadata.ClipRecord, samples []float32, sampleRate int) float64 {
	d := float64(len(samples)) / float64(sampleRate)
	if r.Duration > 0 && math.Abs(r.Duration-d) >= 1 {
		GetLogger().Debug("metadata duration differs from decoded audio",
			logger.String("clip", r.Key()),
			logger.Float64("metadata", r.Duration),
			logger.Float64("decoded", d))
	}
	return d
}

// SoftLabelSummary reports a soft-label generation run.
type SoftLabelSummary struct {
	Written   int
	Skipped   int
	Failed    int
	Discovery *discovery.Result
}

// SoftLabel runs the ensemble over every clip, persists the aggregated
// soft-label sequences and, when enabled, discovers missing labels from
// them.
func SoftLabel(ctx context.Context, env *Env) (*SoftLabelSummary, error) {
	s := env.Settings
	comps, err := Resolve(s, env.Catalog)
	if err != nil {
		return nil, err
	}
	records, err := env.LoadRecords()
	if err != nil {
		return nil, err
	}
	ens, err := LoadEnsemble(comps)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ens.Close() }()

	agg, err := newAggregator(comps, ens, s.Inference.Output)
	if err != nil {
		return nil, err
	}
	if err := env.StartRun(ctx, "", 0); err != nil {
		return nil, err
	}

	log := GetLogger().With(logger.String("run_id", env.RunID))
	sum := &SoftLabelSummary{}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		start := time.Now()
		samples, err := comps.Read(r.AudioPath(s.Audio.Root), s.Audio.SampleRate)
		if err != nil {
			sum.Failed++
			env.recordSkip(CommandSoftLabel, metrics.SkipLoadFailed)
			log.Warn("failed to read clip", logger.String("clip", r.Key()), logger.Error(err))
			continue
		}

		_, err = agg.Process(comps.Labels, r.Key(), samples, clipDuration(r, samples, s.Audio.SampleRate))
		env.recordClip(CommandSoftLabel, time.Since(start), err)
		switch {
		case errors.IsCategory(err, errors.CategoryValidation):
			sum.Skipped++
			env.recordSkip(CommandSoftLabel, metrics.SkipNoSegments)
			log.Warn("skipping clip without segments", logger.String("clip", r.Key()), logger.Error(err))
		case err != nil:
			return sum, err
		default:
			sum.Written++
			if env.Metrics != nil {
				env.Metrics.Inference.SoftLabelsWritten.Inc()
			}
		}
	}
	log.Info("soft labels written",
		logger.Int("written", sum.Written),
		logger.Int("skipped", sum.Skipped),
		logger.Int("failed", sum.Failed),
		logger.String("dir", comps.Labels.Dir()))

	if s.Discovery.Enabled {
		res, err := discover(ctx, env, comps, records)
		if err != nil {
			return sum, err
		}
		sum.Discovery = res
	}
	return sum, nil
}

// Discover runs missing-label discovery over persisted soft labels.
func Discover(ctx context.Context, env *Env) (*discovery.Result, error) {
	comps, err := Resolve(env.Settings, env.Catalog)
	if err != nil {
		return nil, err
	}
	records, err := env.LoadRecords()
	if err != nil {
		return nil, err
	}
	if err := env.StartRun(ctx, "", 0); err != nil {
		return nil, err
	}
	return discover(ctx, env, comps, records)
}

func discover(ctx context.Context, env *Env, comps *Components, records []*metadata.ClipRecord) (*discovery.Result, error) {
	s := env.Settings
	d := discovery.New(env.Catalog, s.Discovery.Threshold, s.Data.IncludeBackground)
	res, err := d.Run(ctx, records, comps.Labels)
	if err != nil {
		return res, err
	}

	if env.Metrics != nil {
		n := 0
		for _, codes := range res.Found {
			n += len(codes)
		}
		env.Metrics.Inference.Discoveries.Add(float64(n))
		env.Metrics.Inference.ClipsSkipped.WithLabelValues(CommandDiscover, metrics.SkipCardinality).Add(float64(res.Skipped))
		env.Metrics.Inference.ClipsSkipped.WithLabelValues(CommandDiscover, metrics.SkipNoSoftLabels).Add(float64(res.Missing))
	}

	if s.Discovery.Output == "" {
		return res, nil
	}
	merged, err := discovery.Save(s.Discovery.Output, res.Found, env.Catalog)
	if err != nil {
		return res, err
	}
	GetLogger().Info("additional labels saved",
		logger.String("path", s.Discovery.Output),
		logger.Int("new_clips", len(res.Found)),
		logger.Int("total_clips", len(merged)))
	return res, nil
}

// Detect extracts sound events from the framewise ensemble output of every
// clip, writes them as CSV and stores them with the run.
func Detect(ctx context.Context, env *Env) ([]detection.Event, error) {
	s := env.Settings
	comps, err := Resolve(s, env.Catalog)
	if err != nil {
		return nil, err
	}
	records, err := env.LoadRecords()
	if err != nil {
		return nil, err
	}
	ens, err := LoadEnsemble(comps)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ens.Close() }()

	agg, err := newAggregator(comps, ens, model.OutputFramewise)
	if err != nil {
		return nil, err
	}
	det := detection.New(agg, env.Catalog, detection.Config{
		Threshold:  s.Detection.Threshold,
		AllClasses: s.Detection.AllClasses,
	})
	if err := env.StartRun(ctx, "", 0); err != nil {
		return nil, err
	}

	log := GetLogger().With(logger.String("run_id", env.RunID))
	var events []detection.Event
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		start := time.Now()
		samples, err := comps.Read(r.AudioPath(s.Audio.Root), s.Audio.SampleRate)
		if err != nil {
			env.recordSkip(CommandDetect, metrics.SkipLoadFailed)
			log.Warn("failed to read clip", logger.String("clip", r.Key()), logger.Error(err))
			continue
		}
		declared := r.LabelVector(env.Catalog, s.Data.IncludeBackground)
		found, err := det.Clip(r.Key(), declared, samples, clipDuration(r, samples, s.Audio.SampleRate))
		env.recordClip(CommandDetect, time.Since(start), err)
		if errors.IsCategory(err, errors.CategoryValidation) {
			env.recordSkip(CommandDetect, metrics.SkipNoSegments)
			continue
		}
		if err != nil {
			return events, err
		}
		events = append(events, found...)
		if env.Metrics != nil {
			for _, e := range found {
				env.Metrics.Inference.RecordEvents(e.Code)
			}
		}
	}

	if s.Detection.Output != "" {
		if err := detection.WriteCSV(s.Detection.Output, events); err != nil {
			return events, err
		}
	}
	if env.Store != nil && env.Run != nil {
		if err := env.Store.SaveEvents(ctx, env.Run, events); err != nil {
			return events, err
		}
	}
	log.Info("event detection finished",
		logger.Int("clips", len(records)),
		logger.Int("events", len(events)),
		logger.String("output", s.Detection.Output))
	return events, nil
}

func (e *Env) recordClip(command string, elapsed time.Duration, err error) {
	if e.Metrics != nil {
		e.Metrics.Inference.RecordClip(command, elapsed.Seconds(), err)
	}
}

func (e *Env) recordSkip(command, reason string) {
	if e.Metrics != nil {
		e.Metrics.Inference.RecordSkip(command, reason)
	}
}
