// Package aggregate turns per-segment ensemble predictions for a clip into
// one persisted soft-label sequence.
package aggregate

import (
	"fmt"
	"iter"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/model"
	"github.com/tphakala/birdsed/internal/myaudio"
	"github.com/tphakala/birdsed/internal/softlabel"
)

// DefaultBatchSize is the number of segments sent to the models at once.
const DefaultBatchSize = 32

// roundingAllowance absorbs binary floating point error in the remaining
// duration so that, for example, 12.3 s - 10 s at 0.05 s per row keeps 46
// rows rather than 47.
const roundingAllowance = 1e-9

// Writer persists soft-label sequences.
type Writer interface {
	Save(clip string, seq *softlabel.Sequence) error
}

// Config configures an Aggregator.
type Config struct {
	SampleRate int
	Period     float64 // segment length in seconds
	BatchSize  int     // segments per inference call
	OutputKey  string  // model.OutputSegmentwise or model.OutputFramewise
}

// Aggregator runs an ensemble over the segments of a clip and concatenates
// the averaged, tail-trimmed predictions.
type Aggregator struct {
	cfg      Config
	windower *myaudio.Windower
	models   []model.Model
	classes  int
}

// New returns an Aggregator for the given ensemble. All members must agree
// on the number of classes.
func New(cfg Config, models ...model.Model) (*Aggregator, error) {
	if len(models) == 0 {
		return nil, validationError(fmt.Errorf("ensemble has no models"))
	}
	classes := models[0].NumClasses()
	for i, m := range models[1:] {
		if m.NumClasses() != classes {
			return nil, validationError(fmt.Errorf("ensemble member %d has %d classes, expected %d", i+1, m.NumClasses(), classes))
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = model.OutputSegmentwise
	}

	windower, err := myaudio.NewWindower(cfg.SampleRate, cfg.Period)
	if err != nil {
		return nil, err
	}

	return &Aggregator{cfg: cfg, windower: windower, models: models, classes: classes}, nil
}

// Windower returns the windower used to cut clips.
func (a *Aggregator) Windower() *myaudio.Windower { return a.windower }

// Block is the averaged prediction for one segment of a clip.
type Block struct {
	Index    int
	Start    float64             // seconds from the clip start
	FrameSec float64             // seconds per row before trimming
	Rows     *softlabel.Sequence // trimmed to the real audio
}

// Blocks yields the averaged, tail-trimmed prediction of every segment that
// still covers real audio. Iteration stops after the first error.
func (a *Aggregator) Blocks(samples []float32, duration float64) iter.Seq2[Block, error] {
	return func(yield func(Block, error) bool) {
		if duration <= 0 || len(samples) == 0 {
			yield(Block{}, validationError(fmt.Errorf("clip has no valid segments (duration %gs, %d samples)", duration, len(samples))))
			return
		}

		globalTime := 0.0
		period := a.cfg.Period
		index := 0
		for batch := range a.windower.Batches(samples, a.cfg.BatchSize) {
			averaged, err := a.predict(batch)
			if err != nil {
				yield(Block{}, err)
				return
			}

			for _, rows := range averaged {
				frameSec := period / float64(max(rows.Rows, 1))
				if remaining := duration - globalTime; remaining < period {
					rows = rows.Head(TruncatedRows(remaining, period, rows.Rows))
				}
				if rows.Rows > 0 {
					if !yield(Block{Index: index, Start: globalTime, FrameSec: frameSec, Rows: rows}, nil) {
						return
					}
				}
				globalTime += period
				index++
			}
		}
	}
}

// Aggregate returns the soft-label sequence of a clip of the given duration
// in seconds. The final segment is trimmed to the rows that cover real
// audio.
func (a *Aggregator) Aggregate(samples []float32, duration float64) (*softlabel.Sequence, error) {
	result := &softlabel.Sequence{Cols: a.classes}
	for block, err := range a.Blocks(samples, duration) {
		if err != nil {
			return nil, err
		}
		if err := result.Append(block.Rows); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Process aggregates a clip and saves the sequence under the clip name.
func (a *Aggregator) Process(w Writer, clip string, samples []float32, duration float64) (*softlabel.Sequence, error) {
	seq, err := a.Aggregate(samples, duration)
	if err != nil {
		return nil, fmt.Errorf("aggregating %s: %w", clip, err)
	}
	if err := w.Save(clip, seq); err != nil {
		return nil, err
	}

	GetLogger().Debug("aggregated clip",
		logger.String("clip", clip),
		logger.Float64("duration", duration),
		logger.Int("segments", a.windower.Count(len(samples))),
		logger.Int("rows", seq.Rows))
	return seq, nil
}

// predict runs every ensemble member on one sub-batch and returns the
// elementwise mean per segment.
func (a *Aggregator) predict(batch []myaudio.Segment) ([]*softlabel.Sequence, error) {
	input := make([][]float32, len(batch))
	for i, seg := range batch {
		input[i] = seg.Samples
	}

	var (
		sums   [][]float64
		frames int
	)
	for k, m := range a.models {
		out, err := m.Predict(input)
		if err != nil {
			return nil, err
		}
		timewise, err := out.Timewise(a.cfg.OutputKey)
		if err != nil {
			return nil, validationError(err)
		}
		if len(timewise) != len(batch) {
			return nil, inferenceError(fmt.Errorf("model %d returned %d items for %d segments", k, len(timewise), len(batch)))
		}

		if k == 0 {
			frames = len(timewise[0])
			sums = make([][]float64, len(batch))
			for i := range sums {
				sums[i] = make([]float64, frames*a.classes)
			}
		}

		for i, item := range timewise {
			if len(item) != frames {
				return nil, inferenceError(fmt.Errorf("model %d returned %d frames, expected %d", k, len(item), frames))
			}
			for f, row := range item {
				dst := sums[i][f*a.classes : (f+1)*a.classes]
				for c, v := range row {
					dst[c] += float64(v)
				}
			}
		}
	}

	blocks := make([]*softlabel.Sequence, len(batch))
	for i, sum := range sums {
		floats.Scale(1/float64(len(a.models)), sum)
		block := softlabel.NewSequence(frames, a.classes)
		for j, v := range sum {
			block.Data[j] = float32(v)
		}
		blocks[i] = block
	}
	return blocks, nil
}

// TruncatedRows returns how many leading rows of a segment with the given
// number of rows cover remaining seconds of real audio.
func TruncatedRows(remaining, period float64, rows int) int {
	if remaining <= 0 || rows <= 0 {
		return 0
	}
	secPerRow := period / float64(rows)
	n := int(math.Ceil(remaining/secPerRow - roundingAllowance))
	return max(0, min(n, rows))
}

func validationError(err error) error {
	return errors.New(err).
		Component("aggregate").
		Category(errors.CategoryValidation).
		Build()
}

func inferenceError(err error) error {
	return errors.New(err).
		Component("aggregate").
		Category(errors.CategoryInference).
		Build()
}
