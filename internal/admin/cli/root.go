// Package cli implements the plenario admin command tree: warehouse
// snapshot transfer, data dictionary generation, catalog linting, and
// one-off queries against a warehouse file.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

const defaultDBPath = ".tmp/plenario/plenario.duckdb"

func Run() ExitCode {
	rootCmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin CLI for the plenario warehouse.",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	var dbPath string
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", envWithDefault("WAREHOUSE_DB", defaultDBPath), "path to the warehouse DuckDB file (env: WAREHOUSE_DB, default: "+defaultDBPath+")")

	rootCmd.AddCommand(
		NewSnapshotCmd().Command(),
		NewDictionaryCmd().Command(),
		NewCatalogCmd().Command(),
		NewQueryCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}

	return exitCodeSuccess
}

func envWithDefault(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	return defaultValue
}

func rootString(cmd *cobra.Command, name string) (string, error) {
	value, err := cmd.Root().PersistentFlags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to get %s flag: %w", name, err)
	}
	return value, nil
}

func rootVerbose(cmd *cobra.Command) (bool, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return false, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	return verbose, nil
}
