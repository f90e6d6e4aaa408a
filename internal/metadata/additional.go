package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tphakala/birdsed/internal/catalog"
	"github.com/tphakala/birdsed/internal/errors"
)

// AdditionalLabels maps a clip key to species codes found by discovery.
type AdditionalLabels map[string][]string

// LoadAdditionalLabels reads a discovery file. A missing file yields an
// empty mapping.
func LoadAdditionalLabels(path string) (AdditionalLabels, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return AdditionalLabels{}, nil
	}
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading additional labels: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}

	labels := AdditionalLabels{}
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, errors.New(fmt.Errorf("parsing additional labels: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileParsing).
			FileContext(path).
			Build()
	}
	return labels, nil
}

// SaveAdditionalLabels writes labels as indented JSON, replacing path
// atomically.
func SaveAdditionalLabels(path string, labels AdditionalLabels) error {
	data, err := json.MarshalIndent(labels, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(fmt.Errorf("writing additional labels: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	return os.Rename(tmp, path)
}

// MergeAdditionalLabels adds discovered codes to the secondary labels of
// matching records and returns how many records changed. Codes are added to
// the existing secondary labels, never replacing them.
func MergeAdditionalLabels(records []*ClipRecord, extra AdditionalLabels, cat catalog.Resolver) int {
	if len(extra) == 0 {
		return 0
	}
	changed := 0
	for _, r := range records {
		codes, ok := extra[r.Key()]
		if !ok {
			continue
		}
		before := len(r.Secondary)
		r.Secondary = dedupe(append(r.Secondary, catalog.ResolveNames(cat, codes)...), r.Code)
		if len(r.Secondary) != before {
			changed++
		}
	}
	return changed
}
