// Package monitor checks host memory and disk usage while long training and
// inference runs are in progress.
package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tphakala/birdsed/internal/conf"
	"github.com/tphakala/birdsed/internal/logger"
	"github.com/tphakala/birdsed/internal/train"
)

// ResourceType names a monitored resource.
type ResourceType string

const (
	ResourceMemory ResourceType = "memory"
	ResourceDisk   ResourceType = "disk"
)

const defaultHysteresisPercent = 5.0

// DiskUsage is the usage of one mount.
type DiskUsage struct {
	MountPoint  string
	UsedPercent float64
	FreeBytes   uint64
}

// Snapshot is one reading of host and process resources.
type Snapshot struct {
	Time          time.Time
	CPUPercent    float64
	MemoryPercent float64
	ProcessRSS    uint64
	Disks         []DiskUsage
}

// AlertState tracks the alert level of one resource.
type AlertState struct {
	InWarning  bool
	InCritical bool
	LastValue  float64
	LastCheck  time.Time
}

// Thresholds are warning and critical usage levels in percent.
type Thresholds struct {
	Warning  float64
	Critical float64
}

// Monitor periodically samples resources and logs threshold crossings.
type Monitor struct {
	interval   time.Duration
	memory     Thresholds
	disk       Thresholds
	hysteresis float64
	paths      []string

	// OnSample, when set, receives every snapshot.
	OnSample func(Snapshot)

	mu          sync.Mutex
	alertStates map[string]*AlertState
	last        Snapshot
	proc        *process.Process

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    logger.Logger
}

// New returns a monitor configured from settings.
func New(settings *conf.Settings) *Monitor {
	hysteresis := settings.Monitor.Hysteresis
	if hysteresis <= 0 {
		hysteresis = defaultHysteresisPercent
	}
	interval := time.Duration(settings.Monitor.Interval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m := &Monitor{
		interval:    interval,
		memory:      Thresholds{settings.Monitor.MemoryWarning, settings.Monitor.MemoryCritical},
		disk:        Thresholds{settings.Monitor.DiskWarning, settings.Monitor.DiskCritical},
		hysteresis:  hysteresis,
		paths:       MonitoredPaths(settings),
		alertStates: make(map[string]*AlertState),
		log:         GetLogger(),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // pid fits in int32
		m.proc = proc
	}
	return m
}

// Start launches the sampling loop. It stops when ctx is done or Stop is
// called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.log.Info("starting resource monitor",
		logger.Duration("interval", m.interval),
		logger.Any("paths", m.paths))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Check(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Check samples once and evaluates thresholds.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	s := m.Sample(ctx)

	m.checkThresholds(string(ResourceMemory), ResourceMemory, s.MemoryPercent, m.memory)
	for _, d := range s.Disks {
		m.checkThresholds(string(ResourceDisk)+"|"+d.MountPoint, ResourceDisk, d.UsedPercent, m.disk)
	}

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()

	if m.OnSample != nil {
		m.OnSample(s)
	}
	return s
}

// Sample reads current resource usage. Failed readings are logged and left
// zero.
func (m *Monitor) Sample(ctx context.Context) Snapshot {
	s := Snapshot{Time: time.Now()}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		m.log.Debug("failed to read cpu usage", logger.Error(err))
	} else if len(pct) > 0 {
		s.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		m.log.Debug("failed to read memory usage", logger.Error(err))
	} else {
		s.MemoryPercent = vm.UsedPercent
	}

	if m.proc != nil {
		if info, err := m.proc.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSS = info.RSS
		}
	}

	groups, err := groupPathsByMountPoint(m.paths)
	if err != nil {
		m.log.Debug("failed to group monitored paths", logger.Error(err))
		return s
	}
	for _, g := range groups {
		usage, err := disk.UsageWithContext(ctx, g.MountPoint)
		if err != nil {
			m.log.Debug("failed to read disk usage",
				logger.String("mount", g.MountPoint),
				logger.Error(err))
			continue
		}
		s.Disks = append(s.Disks, DiskUsage{
			MountPoint:  g.MountPoint,
			UsedPercent: usage.UsedPercent,
			FreeBytes:   usage.Free,
		})
	}
	return s
}

// Last returns the most recent snapshot.
func (m *Monitor) Last() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// checkThresholds updates the alert state under key and logs transitions.
// A level clears only once usage drops hysteresis percent below it.
func (m *Monitor) checkThresholds(key string, resource ResourceType, current float64, th Thresholds) *AlertState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.alertStates[key]
	if !ok {
		state = &AlertState{}
		m.alertStates[key] = state
	}
	state.LastValue = current
	state.LastCheck = time.Now()

	fields := []logger.Field{
		logger.String("resource", string(resource)),
		logger.String("key", key),
		logger.String("current", fmt.Sprintf("%.1f%%", current)),
	}

	switch {
	case th.Critical > 0 && current >= th.Critical:
		if !state.InCritical {
			m.log.Error("critical resource threshold exceeded",
				append(fields, logger.Float64("threshold", th.Critical))...)
		}
		state.InCritical = true
		state.InWarning = true
	case th.Warning > 0 && current >= th.Warning:
		if !state.InWarning {
			m.log.Warn("resource warning threshold exceeded",
				append(fields, logger.Float64("threshold", th.Warning))...)
		}
		state.InWarning = true
		if state.InCritical && current < th.Critical-m.hysteresis {
			m.log.Info("resource recovered from critical", fields...)
			state.InCritical = false
		}
	default:
		if state.InWarning && current < th.Warning-m.hysteresis {
			m.log.Info("resource recovered", fields...)
			state.InWarning = false
			state.InCritical = false
		}
	}
	return state
}

// EpochFinished implements train.Observer by logging a fresh snapshot next
// to the epoch number.
func (m *Monitor) EpochFinished(ctx context.Context, r *train.EpochReport) error {
	s := m.Check(ctx)
	m.log.Info("resources after epoch",
		logger.Int("fold", r.Fold),
		logger.Int("epoch", r.Epoch),
		logger.Float64("cpu_percent", s.CPUPercent),
		logger.Float64("memory_percent", s.MemoryPercent),
		logger.Int64("process_rss_bytes", int64(s.ProcessRSS))) //nolint:gosec // rss fits
	return nil
}
