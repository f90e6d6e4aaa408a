package dataset

import (
	"fmt"
	"math/rand/v2"

	"github.com/tphakala/birdsed/internal/catalog"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/metadata"
	"github.com/tphakala/birdsed/internal/softlabel"
)

// NameLabelCorrection is the registry tag of LabelCorrection.
const NameLabelCorrection = "label-correction"

// Branch tells how a clip was fitted into the crop.
type Branch int

const (
	// BranchShort places a clip shorter than the crop inside a zero crop.
	BranchShort Branch = iota
	// BranchLong cuts the crop out of a longer clip.
	BranchLong
	// BranchEqual uses a clip of exactly crop length as is.
	BranchEqual
)

func (b Branch) String() string {
	switch b {
	case BranchShort:
		return "short"
	case BranchLong:
		return "long"
	default:
		return "equal"
	}
}

// CropPlan places one clip on the soft-label grid. Start is always
// OffsetID*Step.
type CropPlan struct {
	Branch   Branch
	OffsetID int // offset in soft-label rows
	Start    int // offset in samples
	Step     int // samples per soft-label row
}

// LabelCorrectionConfig configures a LabelCorrection dataset.
type LabelCorrectionConfig struct {
	AudioRoot         string
	SampleRate        int
	Period            float64 // crop length in seconds
	NSegments         int     // soft-label rows per crop
	Threshold         float64 // max-over-time level confirming a declared class
	IncludeBackground bool
	Seed              uint64
}

// LabelCorrection yields crops aligned to the persisted soft-label grid
// together with framewise soft targets and corrected weak targets.
type LabelCorrection struct {
	cfg     LabelCorrectionConfig
	records []*metadata.ClipRecord
	cat     catalog.Resolver
	labels  SoftLabels
	read    AudioReader
	rng     *rand.Rand
	step    int
	length  int
}

// NewLabelCorrection builds the dataset. Records without a persisted
// soft-label sequence are left out.
func NewLabelCorrection(records []*metadata.ClipRecord, cat catalog.Resolver, labels SoftLabels, read AudioReader, cfg LabelCorrectionConfig) (*LabelCorrection, error) {
	if cfg.SampleRate <= 0 || cfg.Period <= 0 || cfg.NSegments <= 0 {
		return nil, configError(fmt.Errorf("invalid crop: %d Hz, %g s, %d segments", cfg.SampleRate, cfg.Period, cfg.NSegments))
	}
	step := StepPerSegment(cfg.SampleRate, cfg.Period, cfg.NSegments)
	if step < 1 {
		return nil, configError(fmt.Errorf("%d segments in %g s at %d Hz leaves less than one sample per segment", cfg.NSegments, cfg.Period, cfg.SampleRate))
	}
	if read == nil {
		read = ReadAudio
	}

	kept := make([]*metadata.ClipRecord, 0, len(records))
	for _, r := range records {
		if labels.Exists(r.Key()) {
			kept = append(kept, r)
		}
	}
	if missing := len(records) - len(kept); missing > 0 {
		GetLogger().Warn("clips without soft labels left out",
			logger.Int("missing", missing),
			logger.Int("kept", len(kept)))
	}

	return &LabelCorrection{
		cfg:     cfg,
		records: kept,
		cat:     cat,
		labels:  labels,
		read:    read,
		rng:     newRand(cfg.Seed),
		step:    step,
		length:  int(float64(cfg.SampleRate) * cfg.Period),
	}, nil
}

// StepPerSegment returns the whole number of samples covered by one
// soft-label row. A tiny allowance keeps exact ratios such as 0.05 s at
// 32 kHz from truncating to 1599.
func StepPerSegment(sampleRate int, period float64, nSegments int) int {
	secPerSegment := period / float64(nSegments)
	secPerSample := 1 / float64(sampleRate)
	return int(secPerSegment/secPerSample + 1e-9)
}

func (d *LabelCorrection) Len() int                        { return len(d.records) }
func (d *LabelCorrection) Records() []*metadata.ClipRecord { return d.records }

// Step returns the samples per soft-label row.
func (d *LabelCorrection) Step() int { return d.step }

// EffectiveLength returns the crop length in samples.
func (d *LabelCorrection) EffectiveLength() int { return d.length }

// Plan draws a segment-aligned placement for a clip of n samples.
func (d *LabelCorrection) Plan(n int) CropPlan {
	plan := CropPlan{Branch: BranchEqual, Step: d.step}
	switch {
	case n < d.length:
		plan.Branch = BranchShort
		plan.OffsetID = d.rng.IntN((d.length-n)/d.step + 1)
	case n > d.length:
		plan.Branch = BranchLong
		plan.OffsetID = d.rng.IntN((n-d.length)/d.step + 1)
	}
	plan.Start = plan.OffsetID * plan.Step
	return plan
}

// Crop applies plan to y and returns a crop of EffectiveLength samples.
func (d *LabelCorrection) Crop(y []float32, plan CropPlan) []float32 {
	crop := make([]float32, d.length)
	switch plan.Branch {
	case BranchShort:
		copy(crop[plan.Start:], y)
	case BranchLong:
		copy(crop, y[plan.Start:])
	default:
		copy(crop, y)
	}
	return crop
}

// SliceLabels cuts the nSegments rows matching plan out of seq. Missing rows
// are zero.
func SliceLabels(seq *softlabel.Sequence, plan CropPlan, nSegments int) *softlabel.Sequence {
	switch plan.Branch {
	case BranchShort:
		// soft rows start at row OffsetID of the crop
		return seq.Window(-plan.OffsetID, nSegments)
	case BranchLong:
		return seq.Window(plan.OffsetID, nSegments)
	default:
		return seq.Window(0, nSegments)
	}
}

// WeakTargets keeps a declared class only when its maximum over time in
// labels reaches threshold.
func WeakTargets(declared catalog.LabelVector, labels *softlabel.Sequence, threshold float64) []float32 {
	peak := labels.ColumnMax()
	weak := make([]float32, len(declared))
	for c, v := range declared {
		if v > 0 && c < len(peak) && float64(peak[c]) >= threshold {
			weak[c] = 1
		}
	}
	return weak
}

// Build assembles a sample from decoded audio and the clip's soft labels.
func (d *LabelCorrection) Build(key string, y []float32, seq *softlabel.Sequence, declared catalog.LabelVector) (*Sample, CropPlan) {
	plan := d.Plan(len(y))
	framewise := SliceLabels(seq, plan, d.cfg.NSegments)
	weak := WeakTargets(declared, framewise, d.cfg.Threshold)
	return &Sample{
		Key:            key,
		Waveform:       d.Crop(y, plan),
		Targets:        weak,
		WeakTargets:    weak,
		WeakSumTargets: framewise.ColumnSum(),
		Framewise:      framewise,
	}, plan
}

// Get loads clip i and returns a freshly cropped sample.
func (d *LabelCorrection) Get(i int) (*Sample, error) {
	r := d.records[i]
	y, err := d.read(r.AudioPath(d.cfg.AudioRoot), d.cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	seq, err := d.labels.Load(r.Key())
	if err != nil {
		return nil, err
	}
	if seq.Cols != d.cat.Size() {
		return nil, errors.Newf("soft labels have %d classes, catalog has %d", seq.Cols, d.cat.Size()).
			Component("dataset").
			Category(errors.CategoryDataset).
			Context("clip", r.Key()).
			Build()
	}

	sample, _ := d.Build(r.Key(), y, seq, r.LabelVector(d.cat, d.cfg.IncludeBackground))
	return sample, nil
}

func configError(err error) error {
	return errors.New(err).
		Component("dataset").
		Category(errors.CategoryConfiguration).
		Build()
}
