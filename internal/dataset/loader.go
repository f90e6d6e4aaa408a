package dataset

import (
	"context"
	"iter"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
)

// Batch groups samples for one optimization step.
type Batch struct {
	Keys           []string
	Waveforms      [][]float32
	Targets        [][]float32
	WeakTargets    [][]float32
	WeakSumTargets [][]float32
	Framewise      [][][]float32 // nil unless every sample carries soft labels
}

// Size returns the number of samples.
func (b *Batch) Size() int { return len(b.Keys) }

func newBatch(samples []*Sample) *Batch {
	b := &Batch{
		Keys:           make([]string, len(samples)),
		Waveforms:      make([][]float32, len(samples)),
		Targets:        make([][]float32, len(samples)),
		WeakTargets:    make([][]float32, len(samples)),
		WeakSumTargets: make([][]float32, len(samples)),
	}
	framewise := true
	for i, s := range samples {
		b.Keys[i] = s.Key
		b.Waveforms[i] = s.Waveform
		b.Targets[i] = s.Targets
		b.WeakTargets[i] = s.WeakTargets
		b.WeakSumTargets[i] = s.WeakSumTargets
		framewise = framewise && s.Framewise != nil
	}
	if framewise {
		b.Framewise = make([][][]float32, len(samples))
		for i, s := range samples {
			rows := make([][]float32, s.Framewise.Rows)
			for r := range rows {
				rows[r] = s.Framewise.Row(r)
			}
			b.Framewise[i] = rows
		}
	}
	return b
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize int
	Shuffle   bool
	Prefetch  int // batches built ahead of the consumer, 0 builds inline
	Seed      uint64
}

// Loader iterates a Dataset in batches. The final batch may be short.
type Loader struct {
	ds   Dataset
	opts LoaderOptions
	rng  *rand.Rand
}

// NewLoader returns a loader over ds.
func NewLoader(ds Dataset, opts LoaderOptions) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.Newf("batch size must be positive, got %d", opts.BatchSize).
			Component("dataset").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Loader{ds: ds, opts: opts, rng: rand.New(rand.NewPCG(opts.Seed, 0x10ade7))}, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() Dataset { return l.ds }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.opts.BatchSize }

// Len returns the number of batches in one pass.
func (l *Loader) Len() int {
	return (l.ds.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

func (l *Loader) order() []int {
	idx := make([]int, l.ds.Len())
	for i := range idx {
		idx[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	return idx
}

func (l *Loader) build(indices []int) (*Batch, error) {
	samples := make([]*Sample, 0, len(indices))
	for _, i := range indices {
		s, err := l.ds.Get(i)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return newBatch(samples), nil
}

// Batches yields one pass over the dataset. Iteration stops after the first
// error. Breaking out of the loop stops the prefetch worker before Batches
// returns.
func (l *Loader) Batches(ctx context.Context) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		order := l.order()
		chunks := func(emit func([]int) bool) {
			for start := 0; start < len(order); start += l.opts.BatchSize {
				if !emit(order[start:min(start+l.opts.BatchSize, len(order))]) {
					return
				}
			}
		}

		if l.opts.Prefetch <= 0 {
			chunks(func(indices []int) bool {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return false
				}
				b, err := l.build(indices)
				if err != nil {
					yield(nil, err)
					return false
				}
				return yield(b, nil)
			})
			return
		}

		l.prefetch(ctx, chunks, yield)
	}
}

type built struct {
	batch *Batch
	err   error
}

func (l *Loader) prefetch(ctx context.Context, chunks func(func([]int) bool), yield func(*Batch, error) bool) {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	out := make(chan built, l.opts.Prefetch)

	g.Go(func() error {
		defer close(out)
		chunks(func(indices []int) bool {
			b, err := l.build(indices)
			select {
			case out <- built{batch: b, err: err}:
				return err == nil
			case <-gctx.Done():
				return false
			}
		})
		return nil
	})

	defer func() {
		cancel()
		// drain so the worker never blocks on a full channel
		for range out {
		}
		if err := g.Wait(); err != nil {
			GetLogger().Debug("prefetch worker stopped", logger.Error(err))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		select {
		case <-ctx.Done():
			yield(nil, ctx.Err())
			return
		case item, ok := <-out:
			if !ok {
				return
			}
			if !yield(item.batch, item.err) || item.err != nil {
				return
			}
		}
	}
}
