package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tphakala/birdsed/internal/logger"
)

// MountGroup is a set of watched paths sharing one mount point.
type MountGroup struct {
	MountPoint string
	Device     string
	Fstype     string
	Paths      []string
}

// mountFor returns the partition with the longest mount point containing
// path. path must already be resolved.
func mountFor(path string, partitions []disk.PartitionStat) (disk.PartitionStat, bool) {
	var best disk.PartitionStat
	found := false
	for _, p := range partitions {
		mp := p.Mountpoint
		if path != mp && mp != "/" && !strings.HasPrefix(path, mp+"/") {
			continue
		}
		if !found || len(mp) > len(best.Mountpoint) {
			best, found = p, true
		}
	}
	return best, found
}

func resolve(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return "", fmt.Errorf("path does not exist: %s: %w", path, err)
	}
	return path, nil
}

// groupPathsByMountPoint groups paths by their underlying mount point.
func groupPathsByMountPoint(paths []string) ([]MountGroup, error) {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil, fmt.Errorf("failed to get partitions: %w", err)
	}

	resolved := make([]string, 0, len(paths))
	originals := make(map[string]string, len(paths))
	for _, p := range paths {
		r, err := resolve(p)
		if err != nil {
			GetLogger().Debug("skipping path for mount grouping",
				logger.String("path", p),
				logger.Error(err))
			continue
		}
		resolved = append(resolved, r)
		originals[r] = p
	}

	groups := groupPaths(resolved, partitions)
	for i := range groups {
		for j, r := range groups[i].Paths {
			groups[i].Paths[j] = originals[r]
		}
		slices.Sort(groups[i].Paths)
	}
	return groups, nil
}

// groupPaths groups resolved paths by partition, sorted by mount point.
// Paths outside every partition are dropped.
func groupPaths(paths []string, partitions []disk.PartitionStat) []MountGroup {
	byMount := make(map[string]*MountGroup)
	for _, path := range paths {
		p, ok := mountFor(path, partitions)
		if !ok {
			continue
		}
		g, exists := byMount[p.Mountpoint]
		if !exists {
			g = &MountGroup{MountPoint: p.Mountpoint, Device: p.Device, Fstype: p.Fstype}
			byMount[p.Mountpoint] = g
		}
		g.Paths = append(g.Paths, path)
	}

	result := make([]MountGroup, 0, len(byMount))
	for _, g := range byMount {
		slices.Sort(g.Paths)
		result = append(result, *g)
	}
	slices.SortFunc(result, func(a, b MountGroup) int {
		return strings.Compare(a.MountPoint, b.MountPoint)
	})
	return result
}
