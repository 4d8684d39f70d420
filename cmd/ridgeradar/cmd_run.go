package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/interfaces/http"
	"github.com/sawpanic/ridgeradar/internal/scheduler"
)

// shutdownTimeout bounds how long a stopping daemon waits for in-flight
// monitor requests.
const shutdownTimeout = 30 * time.Second

var runJobsPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon with the embedded monitor server",
	Long: `Run starts the full pipeline: every configured job on its cadence, plus
the read-only monitor server (health, metrics, phase, decisions).

Requires exchange credentials and a reachable Postgres. Redis is optional
but recommended: without it the session cache and the rate limiter fall
back to process-local state.`,
	RunE: runRunCommand,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runJobsPath, "jobs", "", "scheduler config file (default config/scheduler.yaml)")
}

func runRunCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	gateway, err := a.gateway()
	if err != nil {
		return err
	}
	pipe, err := a.buildPipeline(gateway)
	if err != nil {
		return err
	}
	schedCfg, err := config.LoadSchedulerConfig(runJobsPath)
	if err != nil {
		return err
	}
	sched := scheduler.New(schedCfg, a.repos, pipe.gate, a.logger)
	if err := registerJobs(sched, pipe); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pin the active scoring parameters before the first scoring run so
	// every score row references a config version.
	if err := pipe.scoring.EnsureConfigVersion(ctx, appName); err != nil {
		return err
	}

	var pinger http.RedisPinger
	if a.redis != nil {
		pinger = a.redis
	}
	handlers := http.NewHandlers(a.db.Health(), pinger, gateway, pipe.gate, a.repos.Decisions, a.logger)
	serverCfg := http.FromSettings(a.settings.HTTP)
	server := http.NewServer(serverCfg, handlers, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info().
		Str("version", version).
		Str("monitor_addr", serverCfg.Addr).
		Int("jobs", len(sched.Jobs())).
		Msg("ridgeradar_running")

	return g.Wait()
}
