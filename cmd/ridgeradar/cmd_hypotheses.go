package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/shadow"
)

var hypothesesJSON bool

var hypothesesCmd = &cobra.Command{
	Use:   "hypotheses",
	Short: "Manage the shadow trading hypothesis catalogue",
}

var hypothesesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the default hypothesis catalogue",
	Long: `Seed inserts the built-in hypotheses by name, skipping any that already
exist. Safe to run repeatedly; tuned rows are never overwritten.`,
	RunE: runHypothesesSeedCommand,
}

var hypothesesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hypotheses with their running results",
	RunE:  runHypothesesListCommand,
}

func init() {
	rootCmd.AddCommand(hypothesesCmd)
	hypothesesCmd.AddCommand(hypothesesSeedCmd)
	hypothesesCmd.AddCommand(hypothesesListCmd)

	hypothesesListCmd.Flags().BoolVar(&hypothesesJSON, "json", false, "output as JSON")
}

func runHypothesesSeedCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	shadowCfg, err := config.LoadShadowConfig("")
	if err != nil {
		return err
	}
	engine := shadow.NewEngine(a.repos, shadow.NewFinder(a.repos, a.logger), shadowCfg, a.logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	inserted, err := engine.Seed(ctx)
	if err != nil {
		return err
	}
	if inserted == 0 {
		fmt.Println("✅ Hypothesis catalogue already seeded")
		return nil
	}
	fmt.Printf("✅ Seeded %d hypotheses\n", inserted)
	return nil
}

func runHypothesesListCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	hypotheses, err := a.repos.Hypotheses.List(ctx)
	if err != nil {
		return err
	}

	if hypothesesJSON || !stdoutIsTTY() {
		return renderJSON(hypotheses)
	}
	if len(hypotheses) == 0 {
		fmt.Println("No hypotheses found. Run `ridgeradar hypotheses seed` first.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "NAME", "SIDE", "ENABLED", "DECISIONS", "W-L-V", "NET PNL", "AVG CLV"})
	for _, h := range hypotheses {
		clv := "-"
		if h.AvgCLV != nil {
			clv = strconv.FormatFloat(*h.AvgCLV, 'f', 4, 64)
		}
		table.Append([]string{
			strconv.FormatInt(h.ID, 10),
			h.Name,
			string(h.Side),
			strconv.FormatBool(h.Enabled),
			strconv.Itoa(h.TotalDecisions),
			fmt.Sprintf("%d-%d-%d", h.Wins, h.Losses, h.Voids),
			h.TotalPnl.StringFixed(2),
			clv,
		})
	}
	table.Render()

	fmt.Printf("\n%s\n", shadow.Disclaimer)
	return nil
}
