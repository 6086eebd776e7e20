package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/registry/internal/auth"
	"github.com/dukerupert/registry/internal/database"
	"github.com/dukerupert/registry/internal/server"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.Open(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			version, err := database.SchemaVersion(cmd.Context(), db)
			if err != nil {
				return err
			}
			slog.Info("database migrated", "db", a.cfg.DBPath, "version", version)
			return nil
		},
	}
}

// newRecomputeCmd recomputes indicators for every active group in the
// foreground, without starting the HTTP server.
func newRecomputeCmd(a *app) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute group indicators for all active groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.Open(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			srv := server.New(a.cfg, db, slog.Default())
			defer srv.Trigger().Dirty().Stop()

			batches, err := srv.Trigger().RecomputeAll(cmd.Context(), fields)
			if err != nil {
				return err
			}
			if err := srv.Queue().RunPending(cmd.Context()); err != nil {
				return fmt.Errorf("recompute: %w", err)
			}
			fmt.Fprintf(os.Stdout, "recomputed %d batch(es)\n", batches)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Indicator names to recompute (default all)")
	return cmd
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to use as REGISTRY_ADMIN_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		// no configuration needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashToken(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, hash)
			return nil
		},
	}
}
