package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	rankingsDays       int
	rankingsMinMarkets int64
	rankingsJSON       bool
)

var rankingsCmd = &cobra.Command{
	Use:   "rankings",
	Short: "Rank competitions by mean exploitability score",
	Long: `Rankings shows the competition league table: mean and peak scores over a
trailing window, for competitions with enough scored markets to mean
anything.

Examples:
  ridgeradar rankings
  ridgeradar rankings --days 14 --min-markets 25`,
	RunE: runRankingsCommand,
}

func init() {
	rootCmd.AddCommand(rankingsCmd)
	rankingsCmd.Flags().IntVar(&rankingsDays, "days", 30, "trailing window in days")
	rankingsCmd.Flags().Int64Var(&rankingsMinMarkets, "min-markets", 10, "minimum scored markets to qualify")
	rankingsCmd.Flags().BoolVar(&rankingsJSON, "json", false, "output as JSON")
}

func runRankingsCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rankings, err := a.repos.Stats.ListRankings(ctx, rankingsMinMarkets, rankingsDays)
	if err != nil {
		return err
	}

	if rankingsJSON || !stdoutIsTTY() {
		return renderJSON(rankings)
	}
	if len(rankings) == 0 {
		fmt.Printf("No competitions with at least %d scored markets in the last %d days.\n",
			rankingsMinMarkets, rankingsDays)
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "COMPETITION", "REGION", "PHASE", "MARKETS", "AVG SCORE", "MAX SCORE", "DAYS"})
	for i, r := range rankings {
		table.Append([]string{
			strconv.Itoa(i + 1),
			r.CompetitionName,
			r.Region,
			string(r.Phase),
			strconv.FormatInt(r.MarketsScored, 10),
			strconv.FormatFloat(r.AvgScore, 'f', 1, 64),
			strconv.FormatFloat(r.MaxScore, 'f', 1, 64),
			strconv.FormatInt(r.DaysActive, 10),
		})
	}
	table.Render()
	return nil
}
