package monitor

import (
	"os"
	"path/filepath"

	"github.com/tphakala/birdsed/internal/conf"
)

// CriticalPaths returns the directories a run writes to. They are watched
// for disk usage in addition to any configured paths.
func CriticalPaths(settings *conf.Settings) []string {
	paths := []string{settings.Main.LogDir, settings.Data.SoftLabelDir}

	if settings.Datastore.Enabled && settings.Datastore.Path != "" {
		paths = append(paths, filepath.Dir(settings.Datastore.Path))
	}
	if settings.Prepare.OutputDir != "" {
		paths = append(paths, settings.Prepare.OutputDir)
	}

	return deduplicatePaths(paths)
}

// MonitoredPaths merges configured paths with CriticalPaths.
func MonitoredPaths(settings *conf.Settings) []string {
	all := append([]string{}, settings.Monitor.Paths...)
	return deduplicatePaths(append(all, CriticalPaths(settings)...))
}

// deduplicatePaths cleans paths, makes them absolute and removes repeats.
// Paths that do not exist yet are replaced by their closest existing parent
// so that a fresh run directory still resolves to a mount.
func deduplicatePaths(paths []string) []string {
	seen := make(map[string]bool)
	unique := make([]string, 0, len(paths))

	for _, path := range paths {
		if path == "" {
			continue
		}
		cleaned := filepath.Clean(os.ExpandEnv(path))
		if !filepath.IsAbs(cleaned) {
			if abs, err := filepath.Abs(cleaned); err == nil {
				cleaned = abs
			}
		}
		cleaned = existingParent(cleaned)

		if !seen[cleaned] {
			seen[cleaned] = true
			unique = append(unique, cleaned)
		}
	}

	return unique
}

func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
