package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/scoring"
)

var scoreTimeout time.Duration

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score unevaluated snapshots for exploitability",
	Long: `Score turns stored snapshots into bounded 0-100 exploitability scores
against their liquidity profiles, applying the hard guards that zero a
market out. Pure database work, no exchange calls.`,
	RunE: runScoreCommand,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().DurationVar(&scoreTimeout, "timeout", 10*time.Minute, "abort scoring after this long")
}

func runScoreCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, err := config.LoadScoringConfig("")
	if err != nil {
		return err
	}
	svc := scoring.NewService(a.repos, cfg, a.logger)

	ctx, cancel := context.WithTimeout(context.Background(), scoreTimeout)
	defer cancel()

	if err := svc.EnsureConfigVersion(ctx, appName); err != nil {
		return err
	}
	stats, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	printStats("Scoring", stats)
	return nil
}
