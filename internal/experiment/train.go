package experiment

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/tphakala/birdsed/internal/dataset"
	"github.com/tphakala/birdsed/internal/ema"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/metadata"
	"github.com/tphakala/birdsed/internal/split"
	"github.com/tphakala/birdsed/internal/train"
)

// FoldResult is the outcome of one trained fold.
type FoldResult struct {
	Fold       int
	Dir        string
	BestMetric float64
	BestEpoch  int
	Last       *train.EpochReport
}

// FoldDir returns the checkpoint directory of fold i.
func FoldDir(logDir string, i int) string {
	return filepath.Join(logDir, fmt.Sprintf("fold%d", i))
}

// Train runs k-fold training with an EMA shadow. Folds run one after
// another; each gets a fresh model, optimizer, scheduler and shadow.
func Train(ctx context.Context, env *Env) ([]FoldResult, error) {
	s := env.Settings
	comps, err := Resolve(s, env.Catalog)
	if err != nil {
		return nil, err
	}
	if !comps.Trainable() {
		return nil, configError(fmt.Errorf("architecture %s cannot be trained", s.Model.Arch))
	}

	records, err := env.LoadRecords()
	if err != nil {
		return nil, err
	}
	folds, err := comps.Splitter().Split(primaryCodes(records))
	if err != nil {
		return nil, err
	}
	selected, err := selectFolds(s.Split.Folds, len(folds))
	if err != nil {
		return nil, err
	}

	configPath, err := env.SnapshotConfig()
	if err != nil {
		return nil, err
	}
	if err := env.StartRun(ctx, configPath, len(selected)); err != nil {
		return nil, err
	}

	log := GetLogger().With(logger.String("run_id", env.RunID))
	log.Info("training started",
		logger.Int("clips", len(records)),
		logger.Int("folds", len(selected)),
		logger.String("dataset", s.Dataset.Name),
		logger.String("model", s.Model.Arch),
		logger.String("criterion", s.Criterion.Name))

	results := make([]FoldResult, 0, len(selected))
	for _, i := range selected {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := trainFold(ctx, env, comps, records, folds[i], i)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
		log.Info("fold finished",
			logger.Int("fold", i),
			logger.Float64("best_metric", res.BestMetric),
			logger.Int("best_epoch", res.BestEpoch))
	}
	return results, nil
}

func trainFold(ctx context.Context, env *Env, comps *Components, records []*metadata.ClipRecord, fold split.Fold, i int) (*FoldResult, error) {
	s := env.Settings
	seed := s.Main.Seed + uint64(i) //nolint:gosec // fold index is small

	trainSet, err := comps.NewDataset(pick(records, fold.Train), seed)
	if err != nil {
		return nil, err
	}
	validSet, err := comps.NewDataset(pick(records, fold.Valid), seed+1)
	if err != nil {
		return nil, err
	}
	trainLoader, err := dataset.NewLoader(trainSet, dataset.LoaderOptions{
		BatchSize: s.Loader.BatchSize,
		Shuffle:   s.Loader.Shuffle,
		Prefetch:  s.Loader.Prefetch,
		Seed:      seed,
	})
	if err != nil {
		return nil, err
	}
	validLoader, err := dataset.NewLoader(validSet, dataset.LoaderOptions{
		BatchSize: s.Loader.BatchSize,
		Prefetch:  s.Loader.Prefetch,
	})
	if err != nil {
		return nil, err
	}
	if validSet.Len() == 0 {
		validLoader = nil
	}

	live, err := comps.NewModel(seed)
	if err != nil {
		return nil, err
	}
	shadow, err := ema.New(live, ema.Options{Mode: s.Train.EMAAverage, Decay: s.Train.EMADecay})
	if err != nil {
		return nil, err
	}
	opt := comps.NewOptimizer()
	sched := comps.NewScheduler(opt)

	dir := FoldDir(s.Main.LogDir, i)
	trainer, err := train.New(train.Config{
		Fold:        i,
		Epochs:      s.Train.Epochs,
		EMAInterval: s.Train.EMAInterval,
		MainMetric:  s.Train.MainMetric,
		LogDir:      dir,
		RunID:       env.RunID,
	}, live, shadow, opt, sched, comps.Criterion(), env.Observers()...)
	if err != nil {
		return nil, err
	}

	GetLogger().Info("fold started",
		logger.Int("fold", i),
		logger.Int("train_clips", trainSet.Len()),
		logger.Int("valid_clips", validSet.Len()),
		logger.String("dir", dir))

	res, err := trainer.Fit(ctx, trainLoader, validLoader)
	if err != nil {
		return nil, err
	}
	return &FoldResult{Fold: i, Dir: dir, BestMetric: res.BestMetric, BestEpoch: res.BestEpoch, Last: res.Last}, nil
}

func primaryCodes(records []*metadata.ClipRecord) []string {
	codes := make([]string, len(records))
	for i, r := range records {
		codes[i] = r.Code
	}
	return codes
}

func pick(records []*metadata.ClipRecord, idx []int) []*metadata.ClipRecord {
	out := make([]*metadata.ClipRecord, len(idx))
	for i, j := range idx {
		out[i] = records[j]
	}
	return out
}

// selectFolds returns the configured folds, or every fold when none are
// configured.
func selectFolds(configured []int, n int) ([]int, error) {
	if len(configured) == 0 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	out := slices.Clone(configured)
	slices.Sort(out)
	out = slices.Compact(out)
	for _, f := range out {
		if f < 0 || f >= n {
			return nil, configError(fmt.Errorf("fold %d out of range, have %d folds", f, n))
		}
	}
	return out, nil
}
