package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "ridgeradar"
	version = "v0.3.0"
)

var settingsPath string

var rootCmd = &cobra.Command{
	Use:     appName,
	Version: version,
	Short:   "Betting exchange order book radar and paper-trading observatory",
	Long: `RidgeRadar watches betting exchange order books. It discovers markets,
captures pre-off snapshots on a budgeted request cadence, profiles liquidity
by time-to-start bucket, scores market exploitability, and - once enough
settled evidence has accumulated - records theoretical shadow decisions.

No real money is ever at risk: a shadow decision is a database row, not an
order.

Examples:
  ridgeradar run                      # scheduler daemon with monitor server
  ridgeradar jobs list                # show the job table
  ridgeradar jobs run score_markets   # execute one job immediately
  ridgeradar rankings --days 14       # competition league table
  ridgeradar phase                    # where are we on the road to shadow mode`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "settings file (default config/defaults.yaml)")
}

func main() {
	// .env is a developer convenience; absence is not an error.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
