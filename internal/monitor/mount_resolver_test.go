package monitor

import (
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakePartitions() []disk.PartitionStat {
	return []disk.PartitionStat{
		{Device: "/dev/nvme0n1p2", Mountpoint: "/", Fstype: "ext4"},
		{Device: "/dev/nvme0n1p3", Mountpoint: "/home", Fstype: "ext4"},
		{Device: "/dev/sdb1", Mountpoint: "/data", Fstype: "xfs"},
	}
}

func TestMountFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/home", "/home"},
		{"/home/alice/runs", "/home"},
		{"/homework", "/"},
		{"/data/softlabels", "/data"},
		{"/var/lib", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			p, ok := mountFor(tt.path, fakePartitions())
			require.True(t, ok)
			assert.Equal(t, tt.want, p.Mountpoint)
		})
	}

	_, ok := mountFor("/anything", nil)
	assert.False(t, ok)
}

func TestGroupPaths(t *testing.T) {
	t.Parallel()

	groups := groupPaths([]string{"/data/runs", "/var", "/home/alice", "/data/softlabels", "/etc"}, fakePartitions())

	require.Len(t, groups, 3)
	assert.Equal(t, MountGroup{MountPoint: "/", Device: "/dev/nvme0n1p2", Fstype: "ext4", Paths: []string{"/etc", "/var"}}, groups[0])
	assert.Equal(t, "/data", groups[1].MountPoint)
	assert.Equal(t, []string{"/data/runs", "/data/softlabels"}, groups[1].Paths)
	assert.Equal(t, "/home", groups[2].MountPoint)

	assert.Empty(t, groupPaths(nil, fakePartitions()))
}

func TestGroupPathsByMountPointSkipsMissing(t *testing.T) {
	t.Parallel()

	groups, err := groupPathsByMountPoint([]string{t.TempDir(), "/does/not/exist/birdsed"})
	require.NoError(t, err)

	total := 0
	for _, g := range groups {
		total += len(g.Paths)
	}
	assert.Equal(t, 1, total)
}
