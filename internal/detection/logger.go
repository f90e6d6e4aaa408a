package detection

import (
	"sync"

	"github.com/tphakala/birdsed/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the detection module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("detection")
	})
	return serviceLogger
}
