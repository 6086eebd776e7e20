package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/registry/internal/backup"
	"github.com/dukerupert/registry/internal/database"
)

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage encrypted database backups",
	}
	cmd.AddCommand(
		newBackupRunCmd(a),
		newBackupListCmd(a),
		newBackupCleanupCmd(a),
		newBackupDecryptCmd(a),
	)
	return cmd
}

func (a *app) backupManager() (*backup.Manager, func(), error) {
	db, err := database.Open(a.cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	mgr := backup.NewManager(a.cfg.Backup, db, slog.Default())
	return mgr, func() { db.Close() }, nil
}

func newBackupRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Take a backup now and upload it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, closeDB, err := a.backupManager()
			if err != nil {
				return err
			}
			defer closeDB()

			record, err := mgr.RunNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "backup %d uploaded to %s (%d bytes)\n", record.ID, record.S3Key, record.SizeBytes)
			return nil
		},
	}
}

func newBackupListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, closeDB, err := a.backupManager()
			if err != nil {
				return err
			}
			defer closeDB()

			backups, err := mgr.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tSIZE\tCREATED\tTOOK\tKEY")
			for _, b := range backups {
				took := "-"
				if b.Finished() {
					took = b.Duration().Round(time.Second).String()
				}
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", b.ID, b.Status, b.SizeBytes, b.CreatedAt.Format("2006-01-02 15:04"), took, b.S3Key)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of backups to show")
	return cmd
}

func newBackupCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete backups older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, closeDB, err := a.backupManager()
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := mgr.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "removed %d backup(s)\n", n)
			return nil
		},
	}
}

func newBackupDecryptCmd(a *app) *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "decrypt <encrypted-file> <output-file>",
		Short: "Decrypt a downloaded backup into a SQLite database file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				passphrase = a.cfg.Backup.Passphrase
			}
			if passphrase == "" {
				return fmt.Errorf("passphrase required: pass --passphrase or set REGISTRY_BACKUP_PASSPHRASE")
			}
			if err := backup.DecryptFile(args[0], args[1], passphrase); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "decrypted %s to %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Backup passphrase (defaults to REGISTRY_BACKUP_PASSPHRASE)")
	return cmd
}
