package myaudio

import (
	"iter"
	"math"

	"github.com/tphakala/birdsed/internal/errors"
)

// Segment is one fixed-length window of a clip.
type Segment struct {
	Index   int       // position in the clip, starting at 0
	Start   int       // first sample of the window in the clip
	Valid   int       // samples taken from the clip; the rest is zero padding
	Samples []float32 // always Windower.Length() samples
}

// Padded reports whether the segment carries trailing zero padding.
func (s Segment) Padded() bool {
	return s.Valid < len(s.Samples)
}

// Windower cuts waveforms into non-overlapping windows of sampleRate*period
// samples.
type Windower struct {
	sampleRate int
	period     float64
	length     int
}

// NewWindower returns a Windower for the given sample rate and period in
// seconds.
func NewWindower(sampleRate int, period float64) (*Windower, error) {
	length := int(math.Round(float64(sampleRate) * period))
	if sampleRate <= 0 || period <= 0 || length < 1 {
		return nil, errors.Newf("invalid window: sample rate %d, period %g s", sampleRate, period).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Build()
	}
	return &Windower{sampleRate: sampleRate, period: period, length: length}, nil
}

// Length returns the number of samples in every segment.
func (w *Windower) Length() int { return w.length }

// Period returns the segment duration in seconds.
func (w *Windower) Period() float64 { return w.period }

// SampleRate returns the sample rate the windower was built for.
func (w *Windower) SampleRate() int { return w.sampleRate }

// Count returns the number of segments Segments yields for n samples.
func (w *Windower) Count(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + w.length - 1) / w.length
}

// Segments returns the windows of samples in order. The sequence is lazy
// and can be ranged over any number of times. Full windows share memory with
// samples; the final partial window is copied into a zero-padded buffer.
func (w *Windower) Segments(samples []float32) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		index := 0
		for start := 0; start < len(samples); start += w.length {
			end := start + w.length
			seg := Segment{Index: index, Start: start}
			if end <= len(samples) {
				seg.Samples = samples[start:end:end]
				seg.Valid = w.length
			} else {
				seg.Samples = make([]float32, w.length)
				seg.Valid = copy(seg.Samples, samples[start:])
			}
			if !yield(seg) {
				return
			}
			index++
		}
	}
}

// Batches groups the windows of samples into slices of at most size
// segments.
func (w *Windower) Batches(samples []float32, size int) iter.Seq[[]Segment] {
	if size < 1 {
		size = 1
	}
	return func(yield func([]Segment) bool) {
		batch := make([]Segment, 0, size)
		for seg := range w.Segments(samples) {
			batch = append(batch, seg)
			if len(batch) == size {
				if !yield(batch) {
					return
				}
				batch = make([]Segment, 0, size)
			}
		}
		if len(batch) > 0 {
			yield(batch)
		}
	}
}
