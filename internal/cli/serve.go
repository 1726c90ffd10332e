package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/phxd-project/phxd/internal/api"
	"github.com/phxd-project/phxd/internal/archive"
	"github.com/phxd-project/phxd/internal/config"
	"github.com/phxd-project/phxd/internal/events"
	"github.com/phxd-project/phxd/internal/health"
	"github.com/phxd-project/phxd/internal/metrics"
	"github.com/phxd-project/phxd/internal/network"
	"github.com/phxd-project/phxd/internal/scheduler"
	"github.com/phxd-project/phxd/internal/server"
	"github.com/phxd-project/phxd/internal/telemetry"
	"github.com/phxd-project/phxd/internal/util"
)

const (
	bindRetries     = 5
	shutdownTimeout = 30 * time.Second
)

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Hotline server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), banner, opts.version)
			fmt.Fprintln(cmd.OutOrStdout())
			return serve(opts)
		},
	}
}

func serve(opts *options) error {
	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return err
	}

	lc := cfg.GetLogging()
	if err := util.InitLogger(util.LogConfig{
		Level:      lc.Level,
		Directory:  lc.Directory,
		MaxBackups: lc.MaxBackups,
		Console:    lc.Console,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	log.Info().
		Str("version", opts.version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting phxd")

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, run 'phxd init' or fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	store, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	m := metrics.New()
	srv := server.New(cfg, server.Options{Store: store, Bus: eventBus, Metrics: m})

	var pinger scheduler.Pinger
	if tc := cfg.GetTracker(); tc.Enabled && len(tc.Addresses) > 0 {
		pinger = network.NewTrackerPinger(tc.Addresses)
	}
	sched := scheduler.NewScheduler(cfg, srv, srv.Transfers(), pinger)
	healthMgr := health.NewManager(cfg, m)

	var apiServer *api.Server
	if cfg.GetAPI().Enabled {
		apiServer = api.NewServer(cfg, api.Options{
			Hotline: srv,
			Store:   store,
			Bus:     eventBus,
			Metrics: m,
			Version: opts.version,
		})
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetMQTT().Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, opts.version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var archiver *archive.Archiver
	if cfg.GetArchive().Enabled {
		archiver, err = archive.New(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize upload archive, archiving disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := startWithRetry(ctx, "hotline server", srv.Run, bindRetries); err != nil {
			errCh <- fmt.Errorf("hotline server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, bindRetries); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if archiver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			archiver.Start(ctx, eventBus)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("phxd stopped")
	return runErr
}

// startWithRetry runs startFn, retrying every 3 seconds while it fails.
// Sockets of a killed predecessor can take a moment to be released.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil || ctx.Err() != nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
