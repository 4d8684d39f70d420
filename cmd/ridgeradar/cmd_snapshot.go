package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/ridgeradar/internal/snapshot"
)

var snapshotTimeout time.Duration

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture one order book snapshot sweep",
	Long: `Snapshot sweeps every tracked market that is due under its time-to-start
cadence, batching book requests under the shared rate limit, and stores one
depth snapshot per market. Requires exchange credentials.`,
	RunE: runSnapshotCommand,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 10*time.Minute, "abort the sweep after this long")
}

func runSnapshotCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	gateway, err := a.gateway()
	if err != nil {
		return err
	}
	svc := snapshot.NewService(gateway, a.repos, snapshot.DefaultConfig(), a.logger)

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	stats, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	printStats("Snapshot sweep", stats)
	return nil
}
