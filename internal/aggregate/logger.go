package aggregate

import (
	"sync"

	"github.com/tphakala/birdsed/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the aggregator logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("aggregate")
	})
	return serviceLogger
}
