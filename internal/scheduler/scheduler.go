// Package scheduler runs the periodic housekeeping of a phxd server:
// marking idle users away, sweeping stale transfers, pinging trackers,
// expiring bans and handing out the default icon.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/network"
	"github.com/phxd-project/phxd/internal/transfer"
	"github.com/phxd-project/phxd/internal/util"
)

const (
	idleCheckInterval = 5 * time.Second
	banPruneInterval  = time.Minute
	iconCheckInterval = time.Second
)

// Server is the part of the chat server the scheduler drives.
type Server interface {
	CheckIdle(now time.Time) int
	ApplyDefaultIcons(now time.Time) int
	PruneBans(now time.Time) (int, error)
	TrackerUpdate() network.TrackerUpdate
}

// Sweeper drops transfers that stopped making progress.
type Sweeper interface {
	Sweep(now time.Time) []transfer.Transfer
}

// Pinger announces the server to trackers.
type Pinger interface {
	Ping(ctx context.Context, u network.TrackerUpdate) error
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	server  Server
	sweeper Sweeper
	pinger  Pinger
	now     func() time.Time
	logger  zerolog.Logger
}

// NewScheduler creates a scheduler. A nil pinger disables tracker pings
// even when trackers are configured.
func NewScheduler(cfg *config.Config, server Server, sweeper Sweeper, pinger Pinger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		server:  server,
		sweeper: sweeper,
		pinger:  pinger,
		now:     time.Now,
		logger:  util.ComponentLogger("scheduler"),
	}
}

// Start runs every task until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	var wg sync.WaitGroup
	run := func(name string, interval time.Duration, task func(context.Context)) {
		if interval <= 0 {
			s.logger.Debug().Str("task", name).Msg("task disabled")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, name, interval, task)
		}()
	}

	run("idle", idleCheckInterval, s.checkIdle)
	run("sweep", s.cfg.SweepInterval(), s.sweepTransfers)
	run("bans", banPruneInterval, s.pruneBans)
	run("icons", iconCheckInterval, s.applyIcons)
	if s.cfg.GetTracker().Enabled && s.pinger != nil {
		s.pingTracker(ctx)
		run("tracker", s.cfg.TrackerInterval(), s.pingTracker)
	}

	<-ctx.Done()
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Debug().Str("task", name).Dur("interval", interval).Msg("task scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

func (s *Scheduler) checkIdle(context.Context) {
	if n := s.server.CheckIdle(s.now()); n > 0 {
		s.logger.Debug().Int("users", n).Msg("marked idle users away")
	}
}

func (s *Scheduler) sweepTransfers(context.Context) {
	if dead := s.sweeper.Sweep(s.now()); len(dead) > 0 {
		s.logger.Info().Int("transfers", len(dead)).Msg("swept stale transfers")
	}
}

func (s *Scheduler) pruneBans(context.Context) {
	n, err := s.server.PruneBans(s.now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to prune bans")
	}
	if n > 0 {
		s.logger.Info().Int("bans", n).Msg("expired bans removed")
	}
}

func (s *Scheduler) applyIcons(context.Context) {
	s.server.ApplyDefaultIcons(s.now())
}

func (s *Scheduler) pingTracker(ctx context.Context) {
	if err := s.pinger.Ping(ctx, s.server.TrackerUpdate()); err != nil {
		s.logger.Debug().Err(err).Msg("tracker ping incomplete")
	}
}
