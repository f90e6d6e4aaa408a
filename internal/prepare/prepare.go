// Package prepare resamples the training audio to the pipeline sample rate
// and records files that fail to decode in the skip list.
package prepare

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/birdsed/internal/cpuspec"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/metadata"
	"github.com/tphakala/birdsed/internal/myaudio"
)

// Config controls a preprocessing run.
type Config struct {
	InputDir   string
	OutputDir  string
	SampleRate int
	Workers    int // 0 = derive from cpu
	Splits     int // number of work chunks, 0 = one per worker
	SkipList   string
	Overwrite  bool // re-encode files that already exist
}

// Summary reports what a run did.
type Summary struct {
	Total     int
	Converted int
	Existing  int
	Failed    int
	Elapsed   time.Duration
}

// Decoder reads a file as mono samples at rate.
type Decoder func(path string, rate int) ([]float32, error)

// Encoder writes mono samples at rate.
type Encoder func(path string, samples []float32, rate int) error

// Preparer converts clip audio files.
type Preparer struct {
	cfg    Config
	decode Decoder
	encode Encoder
	skip   *metadata.SkipListWriter

	// OnClip, when set, is called after every clip with its processing time
	// and error.
	OnClip func(elapsed time.Duration, err error)
}

// New returns a Preparer using the WAV/FLAC reader and the WAV writer.
func New(cfg Config) (*Preparer, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.Newf("sample rate must be positive, got %d", cfg.SampleRate).
			Component("prepare").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.InputDir == "" || cfg.OutputDir == "" {
		return nil, errors.Newf("input and output directories are required").
			Component("prepare").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if filepath.Clean(cfg.InputDir) == filepath.Clean(cfg.OutputDir) {
		return nil, errors.Newf("output directory must differ from input directory").
			Component("prepare").
			Category(errors.CategoryConfiguration).
			Context("dir", cfg.OutputDir).
			Build()
	}
	cfg.Workers = cpuspec.GetCPUSpec().WorkerCount(cfg.Workers)
	if cfg.Splits <= 0 {
		cfg.Splits = cfg.Workers
	}

	p := &Preparer{
		cfg: cfg,
		decode: func(path string, rate int) ([]float32, error) {
			samples, _, err := myaudio.ReadAudioFile(path, rate)
			return samples, err
		},
		encode: myaudio.WriteWAV,
	}
	if cfg.SkipList != "" {
		p.skip = metadata.NewSkipListWriter(cfg.SkipList)
	}
	return p, nil
}

// OutputName maps a source file name to the resampled WAV name.
func OutputName(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ".wav"
}

// Chunks splits n items into splits contiguous ranges of n/splits items;
// the last range takes the remainder.
func Chunks(n, splits int) [][2]int {
	if n == 0 {
		return nil
	}
	splits = max(1, min(splits, n))
	size := n / splits
	chunks := make([][2]int, 0, splits)
	for i := range splits {
		end := (i + 1) * size
		if i == splits-1 {
			end = n
		}
		chunks = append(chunks, [2]int{i * size, end})
	}
	return chunks
}

// Run converts every record's audio and sets its ResampledFilename and
// SampleRate. Per-file failures go to the skip list and do not stop the
// run; only cancellation or a skip-list write error does.
func (p *Preparer) Run(ctx context.Context, records []*metadata.ClipRecord) (Summary, error) {
	start := time.Now()
	log := GetLogger()

	var converted, existing, failed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	chunks := Chunks(len(records), p.cfg.Splits)
	log.Info("resampling audio",
		logger.Int("clips", len(records)),
		logger.Int("workers", p.cfg.Workers),
		logger.Int("chunks", len(chunks)),
		logger.Int("sample_rate", p.cfg.SampleRate))

	for _, c := range chunks {
		g.Go(func() error {
			for _, r := range records[c[0]:c[1]] {
				if err := ctx.Err(); err != nil {
					return err
				}
				done, err := p.convert(r)
				switch {
				case err != nil:
					failed.Add(1)
					log.Warn("failed to resample clip",
						logger.String("clip", r.Filename),
						logger.String("code", r.Code),
						logger.Error(err))
					if p.skip != nil {
						if werr := p.skip.Append(p.cfg.InputDir, r.Code, r.Filename); werr != nil {
							return werr
						}
					}
				case done:
					converted.Add(1)
				default:
					existing.Add(1)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	summary := Summary{
		Total:     len(records),
		Converted: int(converted.Load()),
		Existing:  int(existing.Load()),
		Failed:    int(failed.Load()),
		Elapsed:   time.Since(start),
	}
	log.Info("resampling finished",
		logger.Int("total", summary.Total),
		logger.Int("converted", summary.Converted),
		logger.Int("existing", summary.Existing),
		logger.Int("failed", summary.Failed),
		logger.Duration("elapsed", summary.Elapsed))
	return summary, err
}

// convert resamples one clip. It reports false without error when the
// output already exists.
func (p *Preparer) convert(r *metadata.ClipRecord) (converted bool, err error) {
	start := time.Now()
	defer func() {
		if p.OnClip != nil {
			p.OnClip(time.Since(start), err)
		}
	}()

	src := filepath.Join(p.cfg.InputDir, r.Code, r.Filename)
	name := OutputName(r.Filename)
	dst := filepath.Join(p.cfg.OutputDir, r.Code, name)

	if !p.cfg.Overwrite {
		if _, statErr := os.Stat(dst); statErr == nil {
			r.ResampledFilename = name
			r.SampleRate = metadata.Hertz(p.cfg.SampleRate)
			return false, nil
		}
	}

	samples, err := p.decode(src, p.cfg.SampleRate)
	if err != nil {
		return false, err
	}
	if err := p.encode(dst, samples, p.cfg.SampleRate); err != nil {
		return false, errors.New(fmt.Errorf("writing resampled clip: %w", err)).
			Component("prepare").
			Category(errors.CategoryFileIO).
			FileContext(dst).
			Build()
	}

	r.ResampledFilename = name
	r.SampleRate = metadata.Hertz(p.cfg.SampleRate)
	return true, nil
}
