package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/shadow"
)

var settleTimeout time.Duration

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Capture closing prices and settle open shadow decisions",
	Long: `Settle runs the paper-trading back office once: closing prices and CLV
for decisions whose markets went off, then outcome resolution and
theoretical P&L for decisions with settled results.`,
	RunE: runSettleCommand,
}

func init() {
	rootCmd.AddCommand(settleCmd)
	settleCmd.Flags().DurationVar(&settleTimeout, "timeout", 10*time.Minute, "abort settlement after this long")
}

func runSettleCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	shadowCfg, err := config.LoadShadowConfig("")
	if err != nil {
		return err
	}
	settler := shadow.NewSettler(a.repos, shadowCfg, a.logger)

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	closingStats, err := settler.CaptureClosingPrices(ctx)
	if err != nil {
		return err
	}
	printStats("Closing price capture", closingStats)

	settleStats, err := settler.Settle(ctx)
	if err != nil {
		return err
	}
	printStats("Settlement", settleStats)

	fmt.Printf("\n%s\n", shadow.Disclaimer)
	return nil
}
