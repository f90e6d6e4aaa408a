package dataset

import (
	"fmt"
	"math/rand/v2"

	"github.com/tphakala/birdsed/internal/catalog"
	"github.com/tphakala/birdsed/internal/metadata"
)

// NameClip is the registry tag of Clip.
const NameClip = "clip"

// ClipConfig configures a Clip dataset.
type ClipConfig struct {
	AudioRoot         string
	SampleRate        int
	Period            float64
	IncludeBackground bool
	Seed              uint64
}

// Clip yields random fixed-length crops with the clip's weak label as
// target. Crops are not aligned to any grid.
type Clip struct {
	cfg     ClipConfig
	records []*metadata.ClipRecord
	cat     catalog.Resolver
	read    AudioReader
	rng     *rand.Rand
	length  int
}

// NewClip builds the dataset.
func NewClip(records []*metadata.ClipRecord, cat catalog.Resolver, read AudioReader, cfg ClipConfig) (*Clip, error) {
	length := int(float64(cfg.SampleRate) * cfg.Period)
	if length < 1 {
		return nil, configError(fmt.Errorf("invalid crop: %d Hz, %g s", cfg.SampleRate, cfg.Period))
	}
	if read == nil {
		read = ReadAudio
	}
	return &Clip{cfg: cfg, records: records, cat: cat, read: read, rng: newRand(cfg.Seed), length: length}, nil
}

func (d *Clip) Len() int                        { return len(d.records) }
func (d *Clip) Records() []*metadata.ClipRecord { return d.records }

// Crop returns a crop of the configured length at a random offset.
func (d *Clip) Crop(y []float32) []float32 {
	crop := make([]float32, d.length)
	switch {
	case len(y) < d.length:
		copy(crop[d.rng.IntN(d.length-len(y)):], y)
	case len(y) > d.length:
		start := d.rng.IntN(len(y) - d.length)
		copy(crop, y[start:])
	default:
		copy(crop, y)
	}
	return crop
}

// Get loads clip i and returns a freshly cropped sample.
func (d *Clip) Get(i int) (*Sample, error) {
	r := d.records[i]
	y, err := d.read(r.AudioPath(d.cfg.AudioRoot), d.cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	target := []float32(r.LabelVector(d.cat, d.cfg.IncludeBackground))
	return &Sample{
		Key:         r.Key(),
		Waveform:    d.Crop(y),
		Targets:     target,
		WeakTargets: target,
	}, nil
}
