package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/interfaces/http"
	"github.com/sawpanic/ridgeradar/internal/shadow"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve the read-only monitor endpoints without the scheduler",
	Long: `Monitor serves /health, /metrics, /phase and /decisions over HTTP without
running any jobs. Useful next to a daemon on another host, or for poking at
a database. Exchange credentials are optional; without them /health reports
the exchange as disabled.`,
	RunE: runMonitorCommand,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitorCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	gateway, err := a.gateway()
	if err != nil {
		a.logger.Warn().Msg("exchange credentials not configured; /health will report the exchange as disabled")
	}

	shadowCfg, err := config.LoadShadowConfig("")
	if err != nil {
		return err
	}
	gate := shadow.NewGate(a.repos, shadowCfg, a.logger)

	var pinger http.RedisPinger
	if a.redis != nil {
		pinger = a.redis
	}
	handlers := http.NewHandlers(a.db.Health(), pinger, gateway, gate, a.repos.Decisions, a.logger)
	serverCfg := http.FromSettings(a.settings.HTTP)
	server := http.NewServer(serverCfg, handlers, a.logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info().Str("addr", serverCfg.Addr).Msg("monitor_listening")
	return g.Wait()
}
