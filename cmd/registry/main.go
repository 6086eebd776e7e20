package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/registry/internal/config"
	"github.com/dukerupert/registry/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the configuration resolved by the root command.
type app struct {
	envFile string
	addr    string
	dbPath  string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "registry",
		Short:         "Social registry group membership service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			// flag > env > default
			if cmd.Flags().Changed("addr") {
				cfg.Addr = a.addr
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = a.dbPath
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)
			a.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Optional .env file to load")
	rootCmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides REGISTRY_DB_PATH)")

	rootCmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newRecomputeCmd(a),
		newBackupCmd(a),
		newHashTokenCmd(),
	)
	return rootCmd
}
