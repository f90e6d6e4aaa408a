package softlabel

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
)

// Store reads and writes <clip>.npy artifacts in one directory. Reads go
// through an in-memory cache because the dataset loads the same sequence
// once per epoch.
type Store struct {
	dir   string
	cache *cache.Cache
}

// NewStore returns a store rooted at dir. A zero ttl keeps cached sequences
// until they are overwritten.
func NewStore(dir string, ttl time.Duration) *Store {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = 2 * ttl
	}
	return &Store{dir: dir, cache: cache.New(expiration, cleanup)}
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the artifact path for a clip filename.
func (s *Store) Path(clip string) string {
	return filepath.Join(s.dir, clip+".npy")
}

// Exists reports whether an artifact for clip is on disk.
func (s *Store) Exists(clip string) bool {
	_, err := os.Stat(s.Path(clip))
	return err == nil
}

// Save writes seq for clip, replacing any existing artifact.
func (s *Store) Save(clip string, seq *Sequence) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return s.ioError(clip, fmt.Errorf("creating soft-label directory: %w", err))
	}

	path := s.Path(clip)
	tmp, err := os.CreateTemp(s.dir, ".softlabel-*")
	if err != nil {
		return s.ioError(clip, err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteNPY(tmp, seq); err != nil {
		tmp.Close()
		return s.ioError(clip, fmt.Errorf("encoding soft labels: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return s.ioError(clip, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return s.ioError(clip, err)
	}

	s.cache.Delete(clip)
	GetLogger().Debug("saved soft labels",
		logger.String("clip", clip),
		logger.Int("rows", seq.Rows),
		logger.Int("classes", seq.Cols))
	return nil
}

// Load returns the stored sequence for clip. The returned value is shared
// with the cache and must not be modified.
func (s *Store) Load(clip string) (*Sequence, error) {
	if v, ok := s.cache.Get(clip); ok {
		return v.(*Sequence), nil
	}

	path := s.Path(clip)
	f, err := os.Open(path)
	if err != nil {
		category := errors.CategoryFileIO
		if os.IsNotExist(err) {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(fmt.Errorf("opening soft labels: %w", err)).
			Component("softlabel").
			Category(category).
			Context("clip", clip).
			Build()
	}
	defer f.Close()

	seq, err := ReadNPY(f)
	if err != nil {
		return nil, errors.New(err).
			Component("softlabel").
			Category(errors.CategoryFileParsing).
			Context("clip", clip).
			FileContext(path).
			Build()
	}

	s.cache.SetDefault(clip, seq)
	return seq, nil
}

// CachedCount returns the number of sequences held in memory.
func (s *Store) CachedCount() int { return s.cache.ItemCount() }

func (s *Store) ioError(clip string, err error) error {
	return errors.New(err).
		Component("softlabel").
		Category(errors.CategoryFileIO).
		Context("clip", clip).
		Build()
}
