package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/ridgeradar/internal/profile"
)

var profileTimeout time.Duration

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Compute daily liquidity profiles from stored snapshots",
	Long: `Profile aggregates yesterday's snapshots into per-competition,
per-market-type, per-bucket liquidity profiles: the baselines scoring
compares each market against. Pure database work, no exchange calls.`,
	RunE: runProfileCommand,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.Flags().DurationVar(&profileTimeout, "timeout", 10*time.Minute, "abort profiling after this long")
}

func runProfileCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	svc := profile.NewService(a.repos, a.logger)

	ctx, cancel := context.WithTimeout(context.Background(), profileTimeout)
	defer cancel()

	stats, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	printStats("Profile build", stats)
	return nil
}
