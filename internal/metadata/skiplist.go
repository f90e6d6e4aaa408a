package metadata

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/tphakala/birdsed/internal/errors"
)

// SkipKey identifies a clip in the skip list by its species directory and
// file name.
func SkipKey(code, filename string) string {
	return code + "/" + filename
}

// ReadSkipList returns the set of skip keys in path. Lines have the form
// root/code/filename; only the last two elements are significant. A missing
// file yields an empty set.
func ReadSkipList(path string) (map[string]struct{}, error) {
	skip := make(map[string]struct{})
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return skip, nil
	}
	if err != nil {
		return nil, errors.New(fmt.Errorf("opening skip list: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(filepath.ToSlash(line), "/")
		if len(parts) < 2 {
			continue
		}
		skip[SkipKey(parts[len(parts)-2], parts[len(parts)-1])] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(fmt.Errorf("reading skip list: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	return skip, nil
}

// FilterSkipped removes records listed in skip. The original filename is
// matched, as written by preprocessing.
func FilterSkipped(records []*ClipRecord, skip map[string]struct{}) []*ClipRecord {
	if len(skip) == 0 {
		return records
	}
	return slices.DeleteFunc(records, func(r *ClipRecord) bool {
		_, ok := skip[SkipKey(r.Code, r.Filename)]
		return ok
	})
}

// SkipListWriter appends entries to a skip list. It is safe for concurrent
// use.
type SkipListWriter struct {
	mu   sync.Mutex
	path string
}

// NewSkipListWriter returns a writer appending to path.
func NewSkipListWriter(path string) *SkipListWriter {
	return &SkipListWriter{path: path}
}

// Append records one failed file as dir/code/filename.
func (w *SkipListWriter) Append(dir, code, filename string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.New(fmt.Errorf("opening skip list: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			FileContext(w.path).
			Build()
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%s/%s/%s\n", filepath.Base(dir), code, filename)
	return err
}
