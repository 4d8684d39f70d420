package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sawpanic/ridgeradar/internal/config"
	"github.com/sawpanic/ridgeradar/internal/shadow"
)

var phaseJSON bool

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Show the trading phase and readiness signals",
	Long: `Phase reports whether the system is still collecting evidence (phase 1)
or recording shadow decisions (phase 2), with the signal counts that decide
promotion.`,
	RunE: runPhaseCommand,
}

func init() {
	rootCmd.AddCommand(phaseCmd)
	phaseCmd.Flags().BoolVar(&phaseJSON, "json", false, "output as JSON")
}

func runPhaseCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	shadowCfg, err := config.LoadShadowConfig("")
	if err != nil {
		return err
	}
	gate := shadow.NewGate(a.repos, shadowCfg, a.logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	status, err := gate.Evaluate(ctx)
	if err != nil {
		return err
	}

	if phaseJSON || !stdoutIsTTY() {
		return renderJSON(struct {
			*shadow.PhaseStatus
			Disclaimer string `json:"disclaimer"`
		}{status, shadow.Disclaimer})
	}

	fmt.Printf("📊 Trading phase: %s\n", status.Phase)
	if status.Ready {
		fmt.Println("   Ready for shadow mode: yes")
	} else {
		fmt.Println("   Ready for shadow mode: no")
	}
	if status.Reason != "" {
		fmt.Printf("   %s\n", status.Reason)
	}

	if len(status.Signals) > 0 {
		fmt.Println()
		names := make([]string, 0, len(status.Signals))
		for name := range status.Signals {
			names = append(names, name)
		}
		sort.Strings(names)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"SIGNAL", "CURRENT", "TARGET", "MET"})
		for _, name := range names {
			detail := status.Signals[name]
			table.Append([]string{
				name,
				strconv.Itoa(detail.Current),
				strconv.Itoa(detail.Target),
				strconv.FormatBool(detail.Met),
			})
		}
		table.Render()
	}

	fmt.Printf("\n%s\n", shadow.Disclaimer)
	return nil
}
