// Package metadata loads clip records and resolves their weak labels
// against the species catalog.
package metadata

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/gocarina/gocsv"

	"github.com/tphakala/birdsed/internal/catalog"
	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
)

// Names is a list of species names or codes stored as a JSON array in one
// CSV cell.
type Names []string

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (n *Names) UnmarshalCSV(cell string) error {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		*n = nil
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(cell), &names); err != nil {
		return fmt.Errorf("secondary labels must be a JSON array of strings: %w", err)
	}
	*n = names
	return nil
}

// MarshalCSV implements gocsv.TypeMarshaller.
func (n Names) MarshalCSV() (string, error) {
	if n == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(n))
	return string(b), err
}

// Hertz is a sample rate cell. Units after the number, as in "48000 (Hz)",
// are ignored.
type Hertz int

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (h *Hertz) UnmarshalCSV(cell string) error {
	cell = strings.TrimSpace(cell)
	end := strings.IndexFunc(cell, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(cell)
	}
	if end == 0 {
		if cell == "" {
			*h = 0
			return nil
		}
		return fmt.Errorf("invalid sample rate %q", cell)
	}
	v, err := strconv.Atoi(cell[:end])
	if err != nil {
		return fmt.Errorf("invalid sample rate %q: %w", cell, err)
	}
	*h = Hertz(v)
	return nil
}

// MarshalCSV implements gocsv.TypeMarshaller.
func (h Hertz) MarshalCSV() (string, error) { return strconv.Itoa(int(h)), nil }

// ClipRecord is one training recording.
type ClipRecord struct {
	Code              string  `csv:"ebird_code"`
	Filename          string  `csv:"filename"`
	ResampledFilename string  `csv:"resampled_filename"`
	SampleRate        Hertz   `csv:"sampling_rate"`
	Duration          float64 `csv:"duration"`
	SecondaryLabels   Names   `csv:"secondary_labels"`
	Background        string  `csv:"background"`
	Country           string  `csv:"country"`

	Secondary       []string `csv:"-"` // resolved secondary codes
	BackgroundCodes []string `csv:"-"` // resolved background codes
}

// Key returns the file name used for audio, soft labels and discovery
// output.
func (r *ClipRecord) Key() string {
	if r.ResampledFilename != "" {
		return r.ResampledFilename
	}
	return r.Filename
}

// AudioPath returns the location of the clip below root.
func (r *ClipRecord) AudioPath(root string) string {
	return filepath.Join(root, r.Code, r.Key())
}

// Codes returns the primary code followed by the resolved secondary codes
// and, when includeBackground is set, the background codes.
func (r *ClipRecord) Codes(includeBackground bool) []string {
	codes := append([]string{r.Code}, r.Secondary...)
	if includeBackground {
		codes = append(codes, r.BackgroundCodes...)
	}
	return codes
}

// LabelVector returns the clip's multi-hot weak label.
func (r *ClipRecord) LabelVector(cat catalog.Resolver, includeBackground bool) catalog.LabelVector {
	return catalog.NewLabelVector(cat, r.Codes(includeBackground)...)
}

// Options controls Load.
type Options struct {
	SkipList         string   // optional skip list path
	AdditionalLabels string   // optional discovery json
	Countries        []string // keep only these countries when non-empty
}

// Load reads clip records from a CSV file and resolves their labels.
// Records with an unknown primary code or a non-positive duration are
// dropped with a warning.
func Load(path string, cat catalog.Resolver, opts Options) ([]*ClipRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("opening metadata: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	defer f.Close()

	var records []*ClipRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, errors.New(fmt.Errorf("parsing metadata: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileParsing).
			FileContext(path).
			Build()
	}

	log := GetLogger()
	total := len(records)

	if opts.SkipList != "" {
		skip, err := ReadSkipList(opts.SkipList)
		if err != nil {
			return nil, err
		}
		records = FilterSkipped(records, skip)
	}

	if len(opts.Countries) > 0 {
		records = slices.DeleteFunc(records, func(r *ClipRecord) bool {
			return !slices.Contains(opts.Countries, r.Country)
		})
	}

	valid := records[:0]
	for _, r := range records {
		if err := Resolve(r, cat); err != nil {
			log.Warn("dropping clip record",
				logger.String("clip", r.Key()),
				logger.Error(err))
			continue
		}
		valid = append(valid, r)
	}
	records = valid

	if opts.AdditionalLabels != "" {
		extra, err := LoadAdditionalLabels(opts.AdditionalLabels)
		if err != nil {
			return nil, err
		}
		merged := MergeAdditionalLabels(records, extra, cat)
		log.Info("merged additional labels", logger.Int("clips", merged))
	}

	log.Info("loaded clip metadata",
		logger.String("path", path),
		logger.Int("rows", total),
		logger.Int("clips", len(records)))
	return records, nil
}

// Save writes records as CSV, the format Load reads.
func Save(path string, records []*ClipRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component("metadata").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.New(fmt.Errorf("creating metadata: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	if err := writeRecords(f, records); err != nil {
		return errors.New(fmt.Errorf("writing metadata: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	return nil
}

// writeRecords marshals records to w and closes it, reporting a failed
// close.
func writeRecords(w io.WriteCloser, records []*ClipRecord) error {
	if err := gocsv.Marshal(&records, w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Resolve validates the primary code and resolves secondary and background
// names to catalog codes. Unknown names are dropped.
func Resolve(r *ClipRecord, cat catalog.Resolver) error {
	if _, ok := cat.Index(r.Code); !ok {
		return errors.Newf("unknown primary species code %q", r.Code).
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("clip", r.Key()).
			Build()
	}
	if r.Duration <= 0 {
		return errors.Newf("non-positive duration %g", r.Duration).
			Component("metadata").
			Category(errors.CategoryValidation).
			Context("clip", r.Key()).
			Build()
	}

	r.Secondary = dedupe(catalog.ResolveNames(cat, r.SecondaryLabels), r.Code)
	r.BackgroundCodes = dedupe(catalog.BackgroundCodes(cat, r.Background), r.Code)

	if dropped := len(r.SecondaryLabels) - len(r.Secondary); dropped > 0 {
		GetLogger().Debug("dropped unresolvable secondary labels",
			logger.String("clip", r.Key()),
			logger.Int("dropped", dropped))
	}
	return nil
}

// dedupe removes exclude and repeated codes, keeping first occurrences.
func dedupe(codes []string, exclude string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c != exclude && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
