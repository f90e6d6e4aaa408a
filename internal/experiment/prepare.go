package experiment

import (
	"context"
	"path/filepath"
	"time"

	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/metadata"
	"github.com/tphakala/birdsed/internal/prepare"
)

// PreparedCSV is the metadata file written next to the resampled audio.
const PreparedCSV = "train.csv"

// Prepare resamples the training audio and writes the metadata with the
// resampled file names and rate to the output directory. The skip list is
// not applied on input so that earlier failures are retried.
func Prepare(ctx context.Context, env *Env) (prepare.Summary, error) {
	s := env.Settings
	records, err := metadata.Load(s.Data.TrainCSV, env.Catalog, metadata.Options{Countries: s.Data.Countries})
	if err != nil {
		return prepare.Summary{}, err
	}

	p, err := prepare.New(prepare.Config{
		InputDir:   s.Prepare.InputDir,
		OutputDir:  s.Prepare.OutputDir,
		SampleRate: s.Prepare.SampleRate,
		Workers:    s.Prepare.Workers,
		Splits:     s.Prepare.Splits,
		SkipList:   s.Data.SkipList,
	})
	if err != nil {
		return prepare.Summary{}, err
	}
	if env.Metrics != nil {
		p.OnClip = func(elapsed time.Duration, err error) {
			env.Metrics.Inference.RecordClip(CommandPrepare, elapsed.Seconds(), err)
		}
	}
	if err := env.StartRun(ctx, "", 0); err != nil {
		return prepare.Summary{}, err
	}

	summary, err := p.Run(ctx, records)
	if err != nil {
		return summary, err
	}

	out := filepath.Join(s.Prepare.OutputDir, PreparedCSV)
	if err := metadata.Save(out, records); err != nil {
		return summary, err
	}
	GetLogger().Info("prepared metadata written", logger.String("path", out))
	return summary, nil
}
