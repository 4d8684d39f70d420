package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var migrateDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Migrate applies the numbered SQL files that have not run yet, in order,
recording each in the schema_migrations table. Already-applied files are
skipped, so running it on a current database is a no-op.`,
	RunE: runMigrateCommand,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migrateDir, "dir", "sql/postgres", "directory holding migration files")
}

func runMigrateCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	applied, err := a.db.Migrate(ctx, migrateDir)
	if err != nil {
		return err
	}
	if applied == 0 {
		fmt.Println("✅ Database schema is up to date")
		return nil
	}
	fmt.Printf("✅ Applied %d migrations\n", applied)
	return nil
}
