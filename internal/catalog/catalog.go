// Package catalog holds the fixed species enumeration used as the class axis
// of every label vector, soft label and model output.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/tphakala/birdsed/internal/errors"
)

//go:embed data/species.json
var speciesJSON []byte

// Species is one catalog entry.
type Species struct {
	Code           string `json:"code"`
	ScientificName string `json:"scientific_name"`
	CommonName     string `json:"common_name"`
}

// Label returns the "Scientific_Common" form used in annotation files.
func (s Species) Label() string {
	return s.ScientificName + "_" + s.CommonName
}

// Resolver is the read-only view of the catalog handed to components that
// only need lookups.
type Resolver interface {
	Size() int
	Index(code string) (int, bool)
	Code(index int) string
	ResolveName(name string) (string, bool)
	ResolveScientific(name string) (string, bool)
}

// Catalog is an immutable bijection between class indices, species codes,
// "Scientific_Common" labels and scientific names.
type Catalog struct {
	species []Species
	byCode  map[string]int
	byLabel map[string]int
	bySci   map[string]int
}

var _ Resolver = (*Catalog)(nil)

// backgroundNameRegex captures parenthesised scientific names in free-text
// background annotations, e.g. "Blue Jay (Cyanocitta cristata)".
var backgroundNameRegex = regexp.MustCompile(`\(([^()]+)\)`)

// lookupKey normalizes a name for case-insensitive lookups. A Caser keeps
// state, so a fresh one is used per call.
func lookupKey(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// Load builds the catalog from the embedded species table.
func Load() (*Catalog, error) {
	var entries []Species
	if err := json.Unmarshal(speciesJSON, &entries); err != nil {
		return nil, errors.New(err).
			Component("catalog").
			Category(errors.CategoryFileParsing).
			Context("operation", "load_embedded_catalog").
			Build()
	}
	return New(entries)
}

// New builds a catalog from entries. Entry order defines class indices.
func New(entries []Species) (*Catalog, error) {
	c := &Catalog{
		species: make([]Species, len(entries)),
		byCode:  make(map[string]int, len(entries)),
		byLabel: make(map[string]int, len(entries)),
		bySci:   make(map[string]int, len(entries)),
	}
	copy(c.species, entries)

	for i, s := range c.species {
		if s.Code == "" {
			return nil, errors.Newf("catalog entry %d has an empty code", i).
				Component("catalog").
				Category(errors.CategoryValidation).
				Build()
		}
		if _, dup := c.byCode[s.Code]; dup {
			return nil, errors.Newf("duplicate species code %q", s.Code).
				Component("catalog").
				Category(errors.CategoryValidation).
				Build()
		}
		c.byCode[s.Code] = i
		if s.ScientificName != "" {
			c.bySci[lookupKey(s.ScientificName)] = i
			if s.CommonName != "" {
				c.byLabel[lookupKey(s.Label())] = i
			}
		}
	}

	return c, nil
}

// Size returns the number of classes.
func (c *Catalog) Size() int {
	return len(c.species)
}

// Index returns the class index of a species code.
func (c *Catalog) Index(code string) (int, bool) {
	i, ok := c.byCode[code]
	return i, ok
}

// Code returns the species code at index, or "" when out of range.
func (c *Catalog) Code(index int) string {
	if index < 0 || index >= len(c.species) {
		return ""
	}
	return c.species[index].Code
}

// Species returns the entry for a code.
func (c *Catalog) Species(code string) (Species, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return Species{}, false
	}
	return c.species[i], true
}

// All returns a copy of every entry in index order.
func (c *Catalog) All() []Species {
	out := make([]Species, len(c.species))
	copy(out, c.species)
	return out
}

// ResolveName maps a secondary-label entry to a species code. The entry may
// be a species code, a "Scientific_Common" label or a bare scientific name.
func (c *Catalog) ResolveName(name string) (string, bool) {
	if _, ok := c.byCode[name]; ok {
		return name, true
	}
	key := lookupKey(name)
	if i, ok := c.byLabel[key]; ok {
		return c.species[i].Code, true
	}
	if i, ok := c.bySci[key]; ok {
		return c.species[i].Code, true
	}
	return "", false
}

// ResolveScientific maps a scientific name to a species code.
func (c *Catalog) ResolveScientific(name string) (string, bool) {
	i, ok := c.bySci[lookupKey(name)]
	if !ok {
		return "", false
	}
	return c.species[i].Code, true
}

// ResolveNames resolves every entry and silently drops unknown names.
func ResolveNames(r Resolver, names []string) []string {
	codes := make([]string, 0, len(names))
	for _, name := range names {
		if code, ok := r.ResolveName(name); ok {
			codes = append(codes, code)
		}
	}
	return codes
}

// BackgroundCodes extracts parenthesised scientific names from a free-text
// background annotation and resolves them, dropping unknown names.
func BackgroundCodes(r Resolver, background string) []string {
	matches := backgroundNameRegex.FindAllStringSubmatch(background, -1)
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		if code, ok := r.ResolveScientific(m[1]); ok {
			codes = append(codes, code)
		}
	}
	return codes
}

// LabelVector is a multi-hot vector over the catalog.
type LabelVector []float32

// NewLabelVector builds a multi-hot vector with ones at every known code.
// Unknown codes are ignored.
func NewLabelVector(r Resolver, codes ...string) LabelVector {
	v := make(LabelVector, r.Size())
	for _, code := range codes {
		if i, ok := r.Index(code); ok {
			v[i] = 1
		}
	}
	return v
}

// Cardinality returns the number of positive classes.
func (v LabelVector) Cardinality() int {
	n := 0
	for _, x := range v {
		if x > 0 {
			n++
		}
	}
	return n
}

// Has reports whether class i is positive.
func (v LabelVector) Has(i int) bool {
	return i >= 0 && i < len(v) && v[i] > 0
}

// Codes returns the codes of the positive classes in index order.
func (v LabelVector) Codes(r Resolver) []string {
	var codes []string
	for i, x := range v {
		if x > 0 {
			codes = append(codes, r.Code(i))
		}
	}
	return codes
}

// String renders the positive classes for log output.
func (v LabelVector) String() string {
	var b strings.Builder
	b.WriteByte('[')
	first := true
	for i, x := range v {
		if x <= 0 {
			continue
		}
		if !first {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", i)
		first = false
	}
	b.WriteByte(']')
	return b.String()
}
