// Package detection turns framewise ensemble output into timed sound events.
package detection

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/tphakala/birdsed/internal/aggregate"
	"github.com/tphakala/birdsed/internal/catalog"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/softlabel"
)

// DefaultThreshold is the frame probability at which a class counts as
// present.
const DefaultThreshold = 0.5

// Event is one contiguous run of frames above the threshold.
type Event struct {
	Filename string  `csv:"filename"`
	Code     string  `csv:"ebird_code"`
	Onset    float64 `csv:"onset"`
	Offset   float64 `csv:"offset"`
	Peak     float64 `csv:"-"`
}

// Config configures a Detector.
type Config struct {
	Threshold  float64
	AllClasses bool // search every catalog class instead of the declared ones
}

// Detector finds events in clips with an ensemble aggregator.
type Detector struct {
	agg *aggregate.Aggregator
	cat catalog.Resolver
	cfg Config
}

// New returns a Detector. The aggregator should produce framewise output.
func New(agg *aggregate.Aggregator, cat catalog.Resolver, cfg Config) *Detector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Detector{agg: agg, cat: cat, cfg: cfg}
}

// Clip returns the events of one clip. Only declared classes are searched
// unless the detector is configured for all classes.
func (d *Detector) Clip(filename string, declared catalog.LabelVector, samples []float32, duration float64) ([]Event, error) {
	classes := d.classes(declared)
	if len(classes) == 0 {
		return nil, nil
	}

	var events []Event
	for block, err := range d.agg.Blocks(samples, duration) {
		if err != nil {
			return nil, fmt.Errorf("detecting events in %s: %w", filename, err)
		}
		for _, c := range classes {
			for _, run := range Runs(block.Rows, c, d.cfg.Threshold) {
				events = append(events, Event{
					Filename: filename,
					Code:     d.cat.Code(c),
					Onset:    float64(run.Head)*block.FrameSec + block.Start,
					Offset:   float64(run.Tail)*block.FrameSec + block.Start,
					Peak:     run.Peak,
				})
			}
		}
	}

	GetLogger().Debug("detected events",
		logger.String("clip", filename),
		logger.Int("classes", len(classes)),
		logger.Int("events", len(events)))
	return events, nil
}

func (d *Detector) classes(declared catalog.LabelVector) []int {
	var out []int
	for c := range d.cat.Size() {
		if d.cfg.AllClasses || declared.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Run is a contiguous range of rows [Head, Tail] whose value reaches the
// threshold.
type Run struct {
	Head int
	Tail int
	Peak float64
}

// Runs returns the runs of column c in seq at or above threshold.
func Runs(seq *softlabel.Sequence, c int, threshold float64) []Run {
	var runs []Run
	open := false
	for r := range seq.Rows {
		v := float64(seq.At(r, c))
		if v < threshold {
			open = false
			continue
		}
		if !open {
			runs = append(runs, Run{Head: r, Tail: r, Peak: v})
			open = true
			continue
		}
		last := &runs[len(runs)-1]
		last.Tail = r
		last.Peak = max(last.Peak, v)
	}
	return runs
}

// WriteCSV writes events to path with a header row.
func WriteCSV(path string, events []Event) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return csvError(path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return csvError(path, err)
	}
	if err := writeEvents(f, events); err != nil {
		return csvError(path, err)
	}
	return nil
}

// writeEvents marshals events to w and closes it. The close error is
// returned since it can carry a failed flush.
func writeEvents(w io.WriteCloser, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	if err := gocsv.Marshal(&events, w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// ReadCSV reads events written by WriteCSV.
func ReadCSV(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, csvError(path, err)
	}
	defer f.Close()

	var events []Event
	if err := gocsv.UnmarshalFile(f, &events); err != nil {
		return nil, errors.New(err).
			Component("detection").
			Category(errors.CategoryFileParsing).
			FileContext(path).
			Build()
	}
	return events, nil
}

func csvError(path string, err error) error {
	return errors.New(err).
		Component("detection").
		Category(errors.CategoryFileIO).
		FileContext(path).
		Build()
}
