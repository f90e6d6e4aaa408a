// Package discovery finds confidently detected species that a clip's
// metadata does not declare.
package discovery

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tphakala/birdsed/internal/catalog"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/metadata"
	"github.com/tphakala/birdsed/internal/softlabel"
)

// DefaultThreshold is the level a class maximum must exceed.
const DefaultThreshold = 0.9

// SoftLabels provides persisted soft-label sequences by clip key.
type SoftLabels interface {
	Load(clip string) (*softlabel.Sequence, error)
}

// Result summarizes one discovery run.
type Result struct {
	Found   metadata.AdditionalLabels
	Scanned int // clips with exactly one declared label
	Skipped int // clips with zero or several declared labels
	Missing int // clips without a soft-label sequence
}

// Discoverer inspects single-label clips.
type Discoverer struct {
	cat               catalog.Resolver
	threshold         float64
	includeBackground bool
}

// New returns a Discoverer. A threshold outside (0, 1) falls back to
// DefaultThreshold.
func New(cat catalog.Resolver, threshold float64, includeBackground bool) *Discoverer {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	return &Discoverer{cat: cat, threshold: threshold, includeBackground: includeBackground}
}

// Threshold returns the effective threshold.
func (d *Discoverer) Threshold() float64 { return d.threshold }

// Clip returns the undeclared codes whose maximum over time in seq is
// strictly above the threshold. ok is false when the clip does not carry
// exactly one declared label.
func (d *Discoverer) Clip(declared catalog.LabelVector, seq *softlabel.Sequence) (codes []string, ok bool) {
	if declared.Cardinality() != 1 {
		return nil, false
	}
	for c, peak := range seq.ColumnMax() {
		if float64(peak) > d.threshold && !declared.Has(c) {
			codes = append(codes, d.cat.Code(c))
		}
	}
	return codes, true
}

// Run scans records and collects findings keyed by clip filename. Records
// without soft labels are counted as missing. ctx is checked between clips.
func (d *Discoverer) Run(ctx context.Context, records []*metadata.ClipRecord, labels SoftLabels) (*Result, error) {
	res := &Result{Found: metadata.AdditionalLabels{}}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		declared := r.LabelVector(d.cat, d.includeBackground)
		if declared.Cardinality() != 1 {
			res.Skipped++
			continue
		}

		seq, err := labels.Load(r.Key())
		if errors.IsNotFound(err) {
			res.Missing++
			continue
		}
		if err != nil {
			return res, err
		}

		codes, _ := d.Clip(declared, seq)
		res.Scanned++
		if len(codes) > 0 {
			res.Found[r.Key()] = codes
			GetLogger().Debug("undeclared species found",
				logger.String("clip", r.Key()),
				logger.String("declared", r.Code),
				logger.Any("found", codes))
		}
	}

	GetLogger().Info("missing-label discovery finished",
		logger.Int("scanned", res.Scanned),
		logger.Int("skipped", res.Skipped),
		logger.Int("missing", res.Missing),
		logger.Int("clips_with_findings", len(res.Found)),
		logger.Float64("threshold", d.threshold))
	return res, nil
}

// Merge unions found into existing. Codes per clip are sorted by catalog
// index.
func Merge(existing, found metadata.AdditionalLabels, cat catalog.Resolver) metadata.AdditionalLabels {
	out := make(metadata.AdditionalLabels, len(existing)+len(found))
	add := func(src metadata.AdditionalLabels) {
		for clip, codes := range src {
			out[clip] = append(out[clip], codes...)
		}
	}
	add(existing)
	add(found)

	for clip, codes := range out {
		slices.SortFunc(codes, func(a, b string) int {
			if d := indexOf(cat, a) - indexOf(cat, b); d != 0 {
				return d
			}
			return strings.Compare(a, b)
		})
		out[clip] = slices.Compact(codes)
	}
	return out
}

func indexOf(cat catalog.Resolver, code string) int {
	if i, ok := cat.Index(code); ok {
		return i
	}
	return cat.Size()
}

// Save merges found into the JSON file at path and writes it back.
// Metadata files are never modified.
func Save(path string, found metadata.AdditionalLabels, cat catalog.Resolver) (metadata.AdditionalLabels, error) {
	existing, err := metadata.LoadAdditionalLabels(path)
	if err != nil {
		return nil, err
	}
	merged := Merge(existing, found, cat)
	if err := metadata.SaveAdditionalLabels(path, merged); err != nil {
		return nil, errors.New(fmt.Errorf("saving discoveries: %w", err)).
			Component("discovery").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	GetLogger().Info("saved additional labels",
		logger.String("path", path),
		logger.Int("clips", len(merged)))
	return merged, nil
}
