package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/discovery"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover competitions and track upcoming markets once",
	Long: `Discover walks the exchange catalogue for the configured sports and
regions, upserts competitions and events, and marks tradeable markets for
snapshot tracking. Requires exchange credentials.`,
	RunE: runDiscoverCommand,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 5*time.Minute, "abort discovery after this long")
}

func runDiscoverCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	gateway, err := a.gateway()
	if err != nil {
		return err
	}
	cfg, err := config.LoadDiscoveryConfig("")
	if err != nil {
		return err
	}
	svc := discovery.NewService(gateway, a.repos, cfg, a.logger)

	ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
	defer cancel()

	stats, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	printStats("Discovery", stats)
	return nil
}
