package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/ridgeradar/internal/shadow"
)

var (
	decideForce   bool
	decideTimeout time.Duration
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Run one shadow decision pass",
	Long: `Decide evaluates current scores against the enabled hypotheses and the
rule book, recording theoretical positions. Normally refused while the
system is still in phase 1; --force overrides for experimentation.

No order is ever placed: a decision is a database row.`,
	RunE: runDecideCommand,
}

func init() {
	rootCmd.AddCommand(decideCmd)
	decideCmd.Flags().BoolVar(&decideForce, "force", false, "record decisions even in phase 1")
	decideCmd.Flags().DurationVar(&decideTimeout, "timeout", 5*time.Minute, "abort the pass after this long")
}

func runDecideCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pipe, err := a.buildPipeline(nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), decideTimeout)
	defer cancel()

	inShadow, err := pipe.gate.InShadow(ctx)
	if err != nil {
		return err
	}
	if !inShadow && !decideForce {
		return fmt.Errorf("still in phase 1 (collecting evidence); pass --force to record decisions anyway")
	}

	engineStats, err := pipe.engine.Run(ctx)
	if err != nil {
		return err
	}
	printStats("Hypothesis decisions", engineStats)

	tradeStats, err := pipe.trader.Run(ctx)
	if err != nil {
		return err
	}
	printStats("Rule decisions", tradeStats)

	fmt.Printf("\n%s\n", shadow.Disclaimer)
	return nil
}
