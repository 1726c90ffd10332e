// Package health watches the host a phxd server runs on: free space on
// the disk holding the file root and host memory.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/metrics"
	"github.com/phxd-project/phxd/internal/util"
)

const (
	diskCheckInterval   = 5 * time.Minute
	memoryCheckInterval = time.Minute
)

// Level is the severity of a usage reading.
type Level int

const (
	LevelOK Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	}
	return "ok"
}

// LevelFor maps a used percentage to an alert level: 80, 90, 95 and
// 100 percent.
func LevelFor(usedPercent float64) Level {
	switch {
	case usedPercent >= 100:
		return LevelCritical
	case usedPercent >= 95:
		return LevelError
	case usedPercent >= 90:
		return LevelWarning
	case usedPercent >= 80:
		return LevelInfo
	}
	return LevelOK
}

// Manager runs the periodic host checks.
type Manager struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  zerolog.Logger

	diskUsage   func(path string) (*util.DiskUsage, error)
	memoryUsage func() (*util.MemoryUsage, error)

	diskLevel Level
}

// NewManager creates a manager reporting into m.
func NewManager(cfg *config.Config, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:         cfg,
		metrics:     m,
		logger:      util.ComponentLogger("health"),
		diskUsage:   util.GetDiskUsage,
		memoryUsage: util.GetMemoryUsage,
	}
}

// Start runs every check immediately and then on its interval until ctx
// is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval time.Duration
		fn       func()
	}{
		{"disk_utilization", diskCheckInterval, m.checkDisk},
		{"memory", memoryCheckInterval, m.checkMemory},
	}

	done := make(chan struct{}, len(checks))
	for _, check := range checks {
		check := check
		go func() {
			defer func() { done <- struct{}{} }()
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			m.logger.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn()
				}
			}
		}()
	}

	m.logger.Info().Int("checks", len(checks)).Msg("health check manager started")
	for range checks {
		<-done
	}
	m.logger.Info().Msg("health check manager stopped")
}

// checkDisk logs when the file root's disk crosses into a new alert level.
func (m *Manager) checkDisk() {
	root := m.cfg.GetFiles().Root
	usage, err := m.diskUsage(root)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", root).Msg("disk utilization check failed")
		return
	}
	m.metrics.SetDiskUsed(usage.UsedPercent)

	level := LevelFor(usage.UsedPercent)
	prev := m.diskLevel
	m.diskLevel = level
	if level == prev {
		return
	}
	if level < prev {
		m.logger.Info().Float64("used_percent", usage.UsedPercent).Stringer("level", level).Msg("disk usage recovered")
		return
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d MB free of %d MB total)",
		usage.UsedPercent, usage.Free, usage.Total)
	m.logger.Warn().Str("path", root).Stringer("level", level).Msg(message)
}

func (m *Manager) checkMemory() {
	usage, err := m.memoryUsage()
	if err != nil {
		m.logger.Warn().Err(err).Msg("memory check failed")
		return
	}
	m.metrics.SetMemoryUsed(usage.UsedPercent)
	if LevelFor(usage.UsedPercent) >= LevelWarning {
		m.logger.Warn().
			Float64("used_percent", usage.UsedPercent).
			Uint64("available_mb", usage.Available).
			Msg("host memory is running low")
	}
}
