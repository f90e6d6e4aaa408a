package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/birdsed/internal/errors"
	"github.com/tphakala/birdsed/internal/logger"
)

// slowQueryThreshold marks statements worth a warning.
const slowQueryThreshold = 500 * time.Millisecond

// Store is the run history database.
type Store struct {
	DB   *gorm.DB
	path string
}

// Open opens or creates the SQLite database at path and migrates the
// schema. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, dbError("open", fmt.Errorf("creating database directory: %w", err))
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold),
	})
	if err != nil {
		return nil, dbError("open", fmt.Errorf("failed to open SQLite database: %w", err))
	}

	s := &Store{DB: db, path: path}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	start := time.Now()
	if err := s.DB.AutoMigrate(&Run{}, &EpochRecord{}, &DetectedEvent{}); err != nil {
		return dbError("migrate", err)
	}
	GetLogger().Debug("database migration completed",
		logger.String("path", s.path),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return dbError("close", err)
	}
	return sqlDB.Close()
}

func dbError(op string, err error) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
