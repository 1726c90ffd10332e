package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/metrics"
	"github.com/phxd-project/phxd/internal/util"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		used float64
		want Level
	}{
		{0, LevelOK},
		{79.9, LevelOK},
		{80, LevelInfo},
		{90, LevelWarning},
		{96, LevelError},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.used); got != tt.want {
			t.Errorf("LevelFor(%v) = %s, want %s", tt.used, got, tt.want)
		}
	}
}

func TestCheckDiskTracksLevel(t *testing.T) {
	m := NewManager(config.DefaultConfig(), metrics.New())
	used := 50.0
	var gotPath string
	m.diskUsage = func(path string) (*util.DiskUsage, error) {
		gotPath = path
		return &util.DiskUsage{Total: 1000, Free: uint64(1000 - used*10), UsedPercent: used}, nil
	}

	m.checkDisk()
	if m.diskLevel != LevelOK {
		t.Fatalf("level = %s", m.diskLevel)
	}
	if gotPath != config.DefaultConfig().Files.Root {
		t.Errorf("checked %q, want the file root", gotPath)
	}

	used = 92
	m.checkDisk()
	if m.diskLevel != LevelWarning {
		t.Fatalf("level = %s, want warning", m.diskLevel)
	}

	used = 10
	m.checkDisk()
	if m.diskLevel != LevelOK {
		t.Fatalf("level = %s after recovery", m.diskLevel)
	}
}

func TestCheckDiskError(t *testing.T) {
	m := NewManager(config.DefaultConfig(), metrics.New())
	m.diskLevel = LevelWarning
	m.diskUsage = func(string) (*util.DiskUsage, error) {
		return nil, errors.New("no such volume")
	}
	m.checkDisk()
	if m.diskLevel != LevelWarning {
		t.Fatal("a failed reading must not change the level")
	}
}

func TestStartRunsChecksImmediately(t *testing.T) {
	m := NewManager(config.DefaultConfig(), metrics.New())
	ran := make(chan string, 2)
	m.diskUsage = func(string) (*util.DiskUsage, error) {
		ran <- "disk"
		return &util.DiskUsage{UsedPercent: 1}, nil
	}
	m.memoryUsage = func() (*util.MemoryUsage, error) {
		ran <- "memory"
		return &util.MemoryUsage{UsedPercent: 1}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case name := <-ran:
			seen[name] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("checks run: %v", seen)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
