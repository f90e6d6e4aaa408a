package train

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdsed/internal/dataset"
	"github.com/tphakala/birdsed/internal/ema"
	"github.com/tphakala/birdsed/internal/metadata"
)

// toneDataset has a loud tone for class 0 on even items and quiet noise
// otherwise.
type toneDataset struct{ n int }

func (d toneDataset) Len() int                        { return d.n }
func (d toneDataset) Records() []*metadata.ClipRecord { return nil }

func (d toneDataset) Get(i int) (*dataset.Sample, error) {
	y := make([]float32, 1000)
	target := []float32{0, 0, 0}
	for j := range y {
		y[j] = float32(0.01 * math.Sin(float64(j*j%31)))
		if i%2 == 0 {
			y[j] += float32(0.8 * math.Sin(2*math.Pi*300*float64(j)/1000))
		}
	}
	if i%2 == 0 {
		target[0] = 1
	}
	return &dataset.Sample{Key: fmt.Sprint(i), Waveform: y, Targets: target, WeakTargets: target}, nil
}

type recorder struct{ reports []*EpochReport }

func (r *recorder) EpochFinished(_ context.Context, report *EpochReport) error {
	r.reports = append(r.reports, report)
	return nil
}

func newTrainer(t *testing.T, cfg Config, observers ...Observer) *Trainer {
	t.Helper()
	m := newLinear(t, 5)
	shadow, err := ema.New(m, ema.Options{})
	require.NoError(t, err)
	opt := NewAdam(AdamConfig{LR: 0.05})
	tr, err := New(cfg, m, shadow, opt, NewCosineAnnealing(opt, 10, 0), BCE{}, observers...)
	require.NoError(t, err)
	return tr
}

func TestFit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := &recorder{}
	tr := newTrainer(t, Config{Epochs: 3, EMAInterval: 3, MainMetric: MetricMAP, LogDir: dir, RunID: "r1"}, rec)

	loader, err := dataset.NewLoader(toneDataset{n: 8}, dataset.LoaderOptions{BatchSize: 2, Shuffle: true, Seed: 1})
	require.NoError(t, err)

	res, err := tr.Fit(context.Background(), loader, nil)
	require.NoError(t, err)

	require.Len(t, rec.reports, 3)
	first := rec.reports[0]
	assert.True(t, first.Best, "first epoch always beats -Inf")
	assert.Equal(t, 4, first.Batches)
	assert.Equal(t, 1, first.EMAUpdates, "the cadence counter restarts every epoch")
	assert.Equal(t, 3, tr.Shadow().NAveraged())
	assert.Len(t, first.Metrics, 8)
	assert.Contains(t, first.Metrics, "EMA_mAP")
	assert.Less(t, rec.reports[2].LR, 0.05, "scheduler stepped")

	assert.GreaterOrEqual(t, res.BestEpoch, 1)
	assert.False(t, math.IsInf(res.BestMetric, 0))

	for _, name := range []string{BestCheckpoint, EMACheckpoint} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}
	ck, err := LoadCheckpoint(filepath.Join(dir, EMACheckpoint))
	require.NoError(t, err)
	assert.Equal(t, 3, ck.Epoch, "ema checkpoint written every epoch")
	assert.Equal(t, res.BestEpoch, mustLoad(t, filepath.Join(dir, BestCheckpoint)).Epoch)
}

func mustLoad(t *testing.T, path string) *Checkpoint {
	t.Helper()
	ck, err := LoadCheckpoint(path)
	require.NoError(t, err)
	return ck
}

func TestFitReducesTrainingLoss(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	tr := newTrainer(t, Config{Epochs: 15, MainMetric: MetricLoss, LogDir: t.TempDir()}, rec)
	loader, err := dataset.NewLoader(toneDataset{n: 8}, dataset.LoaderOptions{BatchSize: 4})
	require.NoError(t, err)

	_, err = tr.Fit(context.Background(), loader, loader)
	require.NoError(t, err)
	assert.Less(t, rec.reports[14].Train.Loss, rec.reports[0].Train.Loss)
}

func TestNewRejectsUnknownMetric(t *testing.T) {
	t.Parallel()

	m := newLinear(t, 1)
	shadow, err := ema.New(m, ema.Options{})
	require.NoError(t, err)
	opt := NewSGD(SGDConfig{LR: 0.1})

	_, err = New(Config{Epochs: 1, MainMetric: "accuracy"}, m, shadow, opt, NewConstant(opt), BCE{})
	require.Error(t, err)
	_, err = New(Config{Epochs: 1, MainMetric: "EMA_sample_f1"}, m, shadow, opt, NewConstant(opt), BCE{})
	require.NoError(t, err)
}

func TestFitStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	tr := newTrainer(t, Config{Epochs: 2, LogDir: t.TempDir()})
	loader, err := dataset.NewLoader(toneDataset{n: 4}, dataset.LoaderOptions{BatchSize: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Fit(ctx, loader, nil)
	require.ErrorIs(t, err, context.Canceled)
}

// unlabeledDataset is toneDataset with every target cleared, so every class
// lacks positives and mAP stays 0 whatever the model predicts.
type unlabeledDataset struct{ toneDataset }

func (d unlabeledDataset) Get(i int) (*dataset.Sample, error) {
	s, err := d.toneDataset.Get(i)
	if err != nil {
		return nil, err
	}
	s.Targets = []float32{0, 0, 0}
	s.WeakTargets = s.Targets
	return s, nil
}

func TestFitKeepsBestOnEqualMetric(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := &recorder{}
	tr := newTrainer(t, Config{Epochs: 3, MainMetric: MetricMAP, LogDir: dir, RunID: "r1"}, rec)

	train, err := dataset.NewLoader(toneDataset{n: 4}, dataset.LoaderOptions{BatchSize: 2})
	require.NoError(t, err)
	valid, err := dataset.NewLoader(unlabeledDataset{toneDataset{n: 4}}, dataset.LoaderOptions{BatchSize: 2})
	require.NoError(t, err)

	res, err := tr.Fit(context.Background(), train, valid)
	require.NoError(t, err)

	require.Len(t, rec.reports, 3)
	assert.True(t, rec.reports[0].Best)
	for _, r := range rec.reports[1:] {
		assert.InDelta(t, 0.0, r.Metrics[MetricMAP], 1e-12)
		assert.False(t, r.Best, "epoch %d ties the best metric", r.Epoch)
	}
	assert.Equal(t, 1, res.BestEpoch)
	assert.Equal(t, 1, mustLoad(t, filepath.Join(dir, BestCheckpoint)).Epoch)
	assert.Equal(t, 3, mustLoad(t, filepath.Join(dir, EMACheckpoint)).Epoch)
}
