package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	healthJSON    bool
	healthTimeout time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check connectivity to every backing service",
	Long: `Health probes the database, the Redis cache and the exchange API directly
and reports per-component status. Exits non-zero when any configured
component is unreachable.

Examples:
  ridgeradar health
  ridgeradar health --json --timeout 10s`,
	RunE: runHealthCommand,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "output as JSON")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 30*time.Second, "probe timeout")
}

type healthLine struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

func runHealthCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	lines := make([]healthLine, 0, 3)

	dbCheck := a.db.Health().Health(ctx)
	dbLine := healthLine{Component: "database", Status: "healthy",
		Detail: fmt.Sprintf("%dms", dbCheck.ResponseTimeMS)}
	if !dbCheck.Healthy {
		dbLine.Status = "unhealthy"
		dbLine.Detail = strings.Join(dbCheck.Errors, "; ")
	}
	lines = append(lines, dbLine)

	cacheLine := healthLine{Component: "cache", Status: "disabled"}
	if a.redis != nil {
		cacheLine.Status = "healthy"
		cacheLine.Detail = a.settings.Redis.Addr
		if err := a.redis.Ping(ctx).Err(); err != nil {
			cacheLine.Status = "unhealthy"
			cacheLine.Detail = err.Error()
		}
	}
	lines = append(lines, cacheLine)

	exchangeLine := healthLine{Component: "exchange", Status: "not configured"}
	if gateway, err := a.gateway(); err == nil {
		if gateway.HealthCheck(ctx) {
			exchangeLine.Status = "healthy"
			exchangeLine.Detail = ""
		} else {
			exchangeLine.Status = "unhealthy"
			exchangeLine.Detail = "login or keep-alive probe failed"
		}
	}
	lines = append(lines, exchangeLine)

	if healthJSON || !stdoutIsTTY() {
		if err := renderJSON(lines); err != nil {
			return err
		}
	} else {
		for _, line := range lines {
			marker := "✅"
			switch line.Status {
			case "unhealthy":
				marker = "❌"
			case "disabled", "not configured":
				marker = "⚠️ "
			}
			if line.Detail != "" {
				fmt.Printf("%s %-10s %s (%s)\n", marker, line.Component, line.Status, line.Detail)
			} else {
				fmt.Printf("%s %-10s %s\n", marker, line.Component, line.Status)
			}
		}
	}

	for _, line := range lines {
		if line.Status == "unhealthy" {
			return fmt.Errorf("%s is unhealthy", line.Component)
		}
	}
	return nil
}
